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

// Package blobstore is the vault's content directory: one subdirectory per
// image id, each holding one encrypted file per stored variant
// (<data-root>/<image-id>/<variant-stem>.enc).
//
// The store only moves envelope bytes; encryption and decryption happen a
// layer up, so no plaintext ever passes through this package.
package blobstore

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a requested variant file does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Store roots the on-disk blob layout at a single directory.
type Store struct {
	root string
}

// Open ensures root exists and returns a Store rooted there.
func Open(root string) (*Store, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store is rooted at, for tools (e.g. the
// orphan sweep) that need to walk it directly.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) imageDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) variantPath(id, stem string) string {
	return filepath.Join(s.imageDir(id), stem+".enc")
}

// WriteVariant creates the image's subdirectory if needed and writes the
// envelope bytes for one variant.
func (s *Store) WriteVariant(id, stem string, envelope []byte) error {
	dir := s.imageDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := s.variantPath(id, stem)
	if err := os.WriteFile(path, envelope, 0o600); err != nil {
		return err
	}
	log.Debug().Str("path", path).Int("bytes", len(envelope)).Msg("wrote blob variant")
	return nil
}

// ReadVariant returns the raw envelope bytes for one variant. Returns
// ErrNotFound if the file is absent.
func (s *Store) ReadVariant(id, stem string) ([]byte, error) {
	b, err := os.ReadFile(s.variantPath(id, stem))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// RemoveImage deletes the image's entire subdirectory. A missing directory
// is not an error; any other I/O failure is.
func (s *Store) RemoveImage(id string) error {
	err := os.RemoveAll(s.imageDir(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HasEntries reports whether an id has at least one on-disk variant file,
// used by the orphan sweep tool to distinguish empty leftover directories.
func (s *Store) HasEntries(id string) bool {
	entries, err := os.ReadDir(s.imageDir(id))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// ListImageDirs returns the subdirectory names directly under root, each a
// candidate image id. Used by the orphan sweep tool.
func (s *Store) ListImageDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}
