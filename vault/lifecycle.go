// Copyright 2022 Piprate Limited
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/imagevault/imagevault/internal/metadb"
	"github.com/imagevault/imagevault/internal/vaultcrypto"
)

// Setup performs first-time initialization: generates a random master key
// and salt, derives the wrapping key from password, persists the check
// blob and salt to the root partition (plus an informational sidecar
// file), and transitions the vault to Unlocked with an empty tag index.
func (v *Vault) Setup(password string) error {
	needsSetup, err := v.NeedsSetup()
	if err != nil {
		return err
	}
	if !needsSetup {
		return errAlreadySetUp()
	}

	var masterKeyBytes [vaultcrypto.KeySize]byte
	if _, err := rand.Read(masterKeyBytes[:]); err != nil {
		return errIo(err)
	}
	var salt [vaultcrypto.SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return errIo(err)
	}

	wrappingKey := vaultcrypto.DeriveKey(password, salt)
	check, err := vaultcrypto.Encrypt(wrappingKey, masterKeyBytes[:], nil)
	if err != nil {
		return errCorruption("failed to produce master key check blob", err)
	}

	if err := v.store.PutRoot(metadb.KeyVaultSalt, salt[:]); err != nil {
		return errIo(err)
	}
	if err := v.store.PutRoot(metadb.KeyMasterKeyCheck, check); err != nil {
		return errIo(err)
	}
	if err := v.store.Flush(); err != nil {
		return errIo(err)
	}

	if v.saltPath != "" {
		if err := ensureDir(filepath.Dir(v.saltPath)); err != nil {
			log.Warn().Err(err).Msg("could not create directory for vault salt sidecar")
		} else if err := os.WriteFile(v.saltPath, salt[:], 0o600); err != nil {
			log.Warn().Err(err).Msg("could not write vault salt sidecar")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = &unlockedState{
		masterKey: vaultcrypto.NewSecret(masterKeyBytes),
		tagIndex:  map[string]map[uuid.UUID]struct{}{},
	}
	return nil
}

// loadSaltAndCheck reads the two root-partition values Unlock and
// VerifyPassword both need. Their absence means the vault was never set
// up, a lifecycle mismatch rather than a bad password.
func (v *Vault) loadSaltAndCheck() (salt [vaultcrypto.SaltSize]byte, check []byte, err error) {
	saltBytes, err := v.store.GetRoot(metadb.KeyVaultSalt)
	if err != nil {
		return salt, nil, errIo(err)
	}
	check, err = v.store.GetRoot(metadb.KeyMasterKeyCheck)
	if err != nil {
		return salt, nil, errIo(err)
	}
	if saltBytes == nil || check == nil {
		return salt, nil, errNeedsSetup()
	}
	copy(salt[:], saltBytes)
	return salt, check, nil
}

// Unlock derives the wrapping key from password, decrypts the master key
// check blob, rebuilds the tag index from every entry in the metadata
// store, and transitions to Unlocked. A wrong password or any decryption
// failure leaves the vault Locked and returns AuthFailed.
func (v *Vault) Unlock(password string) error {
	salt, check, err := v.loadSaltAndCheck()
	if err != nil {
		return err
	}

	wrappingKey := vaultcrypto.DeriveKey(password, salt)
	masterKeyBytes, err := vaultcrypto.Decrypt(wrappingKey, check, nil)
	if err != nil || len(masterKeyBytes) != vaultcrypto.KeySize {
		return errAuthFailed(err)
	}

	var fixedKey [vaultcrypto.KeySize]byte
	copy(fixedKey[:], masterKeyBytes)
	masterKey := vaultcrypto.NewSecret(fixedKey)

	tagIndex, err := v.buildTagIndex(fixedKey)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = &unlockedState{masterKey: masterKey, tagIndex: tagIndex}
	return nil
}

// VerifyPassword runs the same derivation+decryption as Unlock but never
// touches lock state. Used to re-prompt for the password on a sensitive
// action without re-keying the in-RAM state.
func (v *Vault) VerifyPassword(password string) error {
	salt, check, err := v.loadSaltAndCheck()
	if err != nil {
		return err
	}
	wrappingKey := vaultcrypto.DeriveKey(password, salt)
	if _, err := vaultcrypto.Decrypt(wrappingKey, check, nil); err != nil {
		return errAuthFailed(err)
	}
	return nil
}

// Lock drops the master key and tag index from RAM. It never touches
// disk.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != nil {
		v.state.masterKey.Zero()
		v.state = nil
	}
}

// Shutdown flushes the metadata store, then locks.
func (v *Vault) Shutdown() error {
	if err := v.store.Flush(); err != nil {
		return errIo(err)
	}
	v.Lock()
	return nil
}

func (v *Vault) buildTagIndex(masterKey [vaultcrypto.KeySize]byte) (map[string]map[uuid.UUID]struct{}, error) {
	index := map[string]map[uuid.UUID]struct{}{}
	err := v.store.ForEachEntry(func(id [16]byte, envelope []byte) error {
		entry, err := v.decryptEntry(masterKey, id, envelope)
		if err != nil {
			// corrupt or undecryptable records are unreachable anyway;
			// skip rather than fail the whole unlock.
			return nil
		}
		for _, tag := range entry.Tags {
			bucket, ok := index[tag]
			if !ok {
				bucket = map[uuid.UUID]struct{}{}
				index[tag] = bucket
			}
			bucket[uuid.UUID(id)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, errIo(err)
	}
	return index, nil
}
