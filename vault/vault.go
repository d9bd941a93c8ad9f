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

// Package vault is the encrypted storage engine: the key hierarchy, the
// authenticated-encryption envelope for every stored artifact, the
// lifecycle of the unlocked in-memory state, and the tag-based query
// engine that runs entirely over decrypted-in-RAM state.
//
// The lifecycle is a three-state machine (NeedsSetup, Locked, Unlocked);
// everything that only exists while Unlocked lives behind a single
// readers-writer lock in an optional state slot that Lock clears wholesale.
package vault

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/blobstore"
	"github.com/imagevault/imagevault/internal/metadb"
	"github.com/imagevault/imagevault/internal/vaultcrypto"
)

// CurrentVaultVersion is the only on-disk schema version this package
// understands. See the InvalidVersion error kind and the "schema
// migration" open question.
const CurrentVaultVersion = 1

// unlockedState is everything that only exists while the vault is
// Unlocked. It is held behind Vault.mu and replaced wholesale by Lock.
type unlockedState struct {
	masterKey *vaultcrypto.Secret
	tagIndex  map[string]map[uuid.UUID]struct{}
}

// Vault is the single entry point into the encrypted storage engine. One
// Vault instance owns one metadata store and one blob directory for the
// lifetime of the process.
type Vault struct {
	store    *metadb.Store
	blobs    *blobstore.Store
	saltPath string

	vaultVersion int
	createdAt    int64

	mu    sync.RWMutex
	state *unlockedState // nil ⇒ NeedsSetup or Locked
}

// Open opens (creating if necessary) the metadata store at dbPath and the
// blob directory at blobRoot, verifies the on-disk schema version, and
// returns a Vault in NeedsSetup or Locked state. saltPath is the
// informational sidecar copy of the salt written at setup time.
func Open(dbPath, blobRoot, saltPath string) (*Vault, error) {
	store, err := metadb.Open(dbPath)
	if err != nil {
		return nil, errIo(err)
	}

	blobs, err := blobstore.Open(blobRoot)
	if err != nil {
		_ = store.Close()
		return nil, errIo(err)
	}

	v := &Vault{store: store, blobs: blobs, saltPath: saltPath}
	if err := v.loadOrInitMetadata(); err != nil {
		_ = store.Close()
		return nil, err
	}

	return v, nil
}

func (v *Vault) loadOrInitMetadata() error {
	versionBytes, err := v.store.GetRoot(metadb.KeyVaultVersion)
	if err != nil {
		return errIo(err)
	}

	if versionBytes == nil {
		now := time.Now().Unix()
		if err := v.store.PutRoot(metadb.KeyVaultVersion, []byte(strconv.Itoa(CurrentVaultVersion))); err != nil {
			return errIo(err)
		}
		if err := v.store.PutRoot(metadb.KeyCreatedAt, []byte(strconv.FormatInt(now, 10))); err != nil {
			return errIo(err)
		}
		if err := v.store.Flush(); err != nil {
			return errIo(err)
		}
		v.vaultVersion = CurrentVaultVersion
		v.createdAt = now
		return nil
	}

	found, err := strconv.Atoi(string(versionBytes))
	if err != nil {
		return errCorruption("vault_version is not an integer", err)
	}
	if found != CurrentVaultVersion {
		return errInvalidVersion(CurrentVaultVersion, found)
	}

	createdAtBytes, err := v.store.GetRoot(metadb.KeyCreatedAt)
	if err != nil {
		return errIo(err)
	}
	if createdAtBytes == nil {
		return errCorruption("missing created_at", nil)
	}
	createdAt, err := strconv.ParseInt(string(createdAtBytes), 10, 64)
	if err != nil {
		return errCorruption("created_at is not an integer", err)
	}

	v.vaultVersion = found
	v.createdAt = createdAt
	return nil
}

// NeedsSetup reports whether the vault salt/check have never been written.
func (v *Vault) NeedsSetup() (bool, error) {
	salt, err := v.store.GetRoot(metadb.KeyVaultSalt)
	if err != nil {
		return false, errIo(err)
	}
	check, err := v.store.GetRoot(metadb.KeyMasterKeyCheck)
	if err != nil {
		return false, errIo(err)
	}
	return salt == nil || check == nil, nil
}

// IsUnlocked reports whether the vault currently holds a master key in RAM.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state != nil
}

// Close releases the underlying metadata store handle. It does not lock
// the vault or touch its content; callers should Shutdown first.
func (v *Vault) Close() error {
	return v.store.Close()
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}
	return nil
}
