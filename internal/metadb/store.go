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

// Package metadb is the vault's embedded ordered key-value store: a root
// partition holding vault-wide metadata keys, and an entries partition
// mapping image id to an encrypted metadata record. The bucket schema is
// installed once, when the database is opened.
package metadb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	rootBucket    = "root"
	entriesBucket = "entries"
)

// Reserved root-partition keys.
const (
	KeyVaultVersion   = "vault_version"
	KeyCreatedAt      = "created_at"
	KeyVaultSalt      = "vault_salt"
	KeyMasterKeyCheck = "master_key_check"
)

// ErrNotFound is returned when a requested entry key does not exist.
var ErrNotFound = errors.New("metadb: not found")

// Store wraps a bbolt database holding the root and entries partitions.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// root and entries buckets exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("metadb: creating directory %s: %w", dir, err)
			}
		}
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		log.Err(err).Str("path", path).Msg("failed to open metadata store")
		return nil, err
	}

	s := &Store{db: db}
	if err := s.installSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) installSchema() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(rootBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(entriesBucket)); err != nil {
			return err
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush forces the database file to be synced to disk. bbolt already syncs
// on every committed write transaction; Flush exists to give callers an
// explicit step for the "persist ... and flush" contract callers expect.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// GetRoot reads a key from the root partition. A missing key returns
// (nil, nil), not an error — callers distinguish "not set up yet" this way.
func (s *Store) GetRoot(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if v := b.Get([]byte(key)); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

// PutRoot writes a key in the root partition.
func (s *Store) PutRoot(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		return b.Put([]byte(key), value)
	})
}

// GetEntry reads the encrypted record for image id. Returns ErrNotFound if
// absent.
func (s *Store) GetEntry(id [16]byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		if v := b.Get(id[:]); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, ErrNotFound
	}
	return val, nil
}

// PutEntry writes the encrypted record for image id, overwriting any
// existing record.
func (s *Store) PutEntry(id [16]byte, envelope []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		return b.Put(id[:], envelope)
	})
}

// DeleteEntry removes the record for image id. Deleting an absent key is
// not an error (bbolt itself treats it as a no-op).
func (s *Store) DeleteEntry(id [16]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		return b.Delete(id[:])
	})
}

// ForEachEntry calls fn with the raw id bytes and the encrypted record for
// every entry in the store, in bbolt's key order. fn's error aborts the
// iteration and is returned as-is.
func (s *Store) ForEachEntry(fn func(id [16]byte, envelope []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 16 {
				return nil
			}
			var id [16]byte
			copy(id[:], k)
			return fn(id, v)
		})
	})
}
