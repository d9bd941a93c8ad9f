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
	"errors"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/metadb"
	"github.com/imagevault/imagevault/internal/vaultcrypto"
)

// withState runs fn with a read lock held over the unlocked state. It
// returns Locked if the vault has no unlocked state.
func (v *Vault) withState(fn func(*unlockedState) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state == nil {
		return errLocked()
	}
	return fn(v.state)
}

// withStateWrite is withState's write-locked counterpart, used by
// operations that mutate the tag index alongside a metadata-store write.
func (v *Vault) withStateWrite(fn func(*unlockedState) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == nil {
		return errLocked()
	}
	return fn(v.state)
}

// entryAAD is the associated data binding an entry's envelope to its id.
func entryAAD(id uuid.UUID) []byte {
	b := id[:]
	return b
}

// blobAAD is the associated data binding a variant's envelope to its
// (image id, variant stem) pair, preventing files from being swapped
// between images or between variants of the same image.
func blobAAD(id uuid.UUID, variant Variant) []byte {
	aad := make([]byte, 0, 16+len(variant))
	aad = append(aad, id[:]...)
	aad = append(aad, []byte(variant)...)
	return aad
}

func (v *Vault) decryptEntry(masterKey [vaultcrypto.KeySize]byte, id [16]byte, envelope []byte) (*ImageEntry, error) {
	plaintext, err := vaultcrypto.Decrypt(masterKey, envelope, entryAAD(uuid.UUID(id)))
	if err != nil {
		return nil, err
	}
	return decodeEntry(plaintext)
}

// getEntry loads and decrypts the entry for id from the metadata store.
// Only a genuinely absent record maps to NotFound; a storage-layer fault
// on the read surfaces as Io.
func (v *Vault) getEntry(s *unlockedState, id uuid.UUID) (*ImageEntry, error) {
	envelope, err := v.store.GetEntry(id)
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, errNotFound(id.String())
		}
		return nil, errIo(err)
	}
	key := s.masterKey.Bytes()
	plaintext, err := vaultcrypto.Decrypt(key, envelope, entryAAD(id))
	if err != nil {
		return nil, errCorruption("entry failed to decrypt", err)
	}
	entry, err := decodeEntry(plaintext)
	if err != nil {
		return nil, errCorruption("entry failed to deserialize", err)
	}
	return entry, nil
}

// saveEntry encrypts and persists entry, keyed by entry.ID.
func (v *Vault) saveEntry(s *unlockedState, entry *ImageEntry) error {
	plaintext, err := encodeEntry(entry)
	if err != nil {
		return errCorruption("entry failed to serialize", err)
	}
	key := s.masterKey.Bytes()
	envelope, err := vaultcrypto.Encrypt(key, plaintext, entryAAD(entry.ID))
	if err != nil {
		return errCorruption("entry failed to encrypt", err)
	}
	if err := v.store.PutEntry(entry.ID, envelope); err != nil {
		return errIo(err)
	}
	return nil
}
