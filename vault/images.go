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
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/vaultcrypto"
)

// VariantPayload pairs a variant tag with its plaintext bytes, the unit
// Store expects: the image processor is expected to have already produced
// these bytes (decoded, stripped, resized, re-encoded) before the core
// ever sees them.
type VariantPayload struct {
	Variant Variant
	Bytes   []byte
}

// Store creates a new image entry: a fresh id, one encrypted blob file per
// supplied variant, and an entries-partition record with an empty tag
// list. Requires Unlocked.
//
// Blob writes happen outside the state lock (snapshotting the master key
// first) so long blob I/O never blocks concurrent reads; the entry write
// that follows re-acquires the lock only long enough to persist the
// record, per the concurrency model's "release before I/O, reacquire to
// update metadata" shape.
func (v *Vault) Store(originalMime string, originalSize uint64, variants []VariantPayload) (*ImageEntry, error) {
	var key [vaultcrypto.KeySize]byte
	if err := v.withState(func(s *unlockedState) error {
		key = s.masterKey.Bytes()
		return nil
	}); err != nil {
		return nil, err
	}

	id := uuid.New()
	stored := make([]Variant, 0, len(variants))
	for _, vp := range variants {
		envelope, err := vaultcrypto.Encrypt(key, vp.Bytes, blobAAD(id, vp.Variant))
		if err != nil {
			return nil, errCorruption("failed to encrypt variant", err)
		}
		if err := v.blobs.WriteVariant(id.String(), string(vp.Variant), envelope); err != nil {
			return nil, errIo(err)
		}
		stored = append(stored, vp.Variant)
	}

	entry := &ImageEntry{
		ID:           id,
		OriginalMime: originalMime,
		OriginalSize: originalSize,
		CreatedAt:    time.Now().Unix(),
		Variants:     stored,
		Tags:         []string{},
	}

	if err := v.withState(func(s *unlockedState) error {
		return v.saveEntry(s, entry)
	}); err != nil {
		return nil, err
	}
	if err := v.store.Flush(); err != nil {
		return nil, errIo(err)
	}

	return entry, nil
}

// Retrieve loads the entry for id, confirms variant is among its stored
// variants, and returns the decrypted variant bytes plus the MIME type to
// report for it. Requires Unlocked.
func (v *Vault) Retrieve(id uuid.UUID, variant Variant) ([]byte, string, error) {
	var key [vaultcrypto.KeySize]byte
	var mime string

	if err := v.withState(func(s *unlockedState) error {
		entry, err := v.getEntry(s, id)
		if err != nil {
			return err
		}
		if !entry.HasVariant(variant) {
			return errNotFound("variant missing: " + id.String())
		}
		key = s.masterKey.Bytes()
		mime = variant.Mime(entry.OriginalMime)
		return nil
	}); err != nil {
		return nil, "", err
	}

	envelope, err := v.blobs.ReadVariant(id.String(), string(variant))
	if err != nil {
		return nil, "", errNotFound(id.String() + "/" + string(variant))
	}

	plaintext, err := vaultcrypto.Decrypt(key, envelope, blobAAD(id, variant))
	if err != nil {
		return nil, "", errCorruption("variant failed to decrypt", err)
	}

	return plaintext, mime, nil
}

// Delete removes id's entries-partition record and tag-index references,
// then best-effort removes its blob directory. A missing directory is not
// an error. Requires Unlocked.
func (v *Vault) Delete(id uuid.UUID) error {
	if err := v.withStateWrite(func(s *unlockedState) error {
		if entry, err := v.getEntry(s, id); err == nil {
			for _, tag := range entry.Tags {
				removeFromIndex(s.tagIndex, tag, id)
			}
		}
		if err := v.store.DeleteEntry(id); err != nil {
			return errIo(err)
		}
		return nil
	}); err != nil {
		return err
	}
	if err := v.store.Flush(); err != nil {
		return errIo(err)
	}
	if err := v.blobs.RemoveImage(id.String()); err != nil {
		return errIo(err)
	}
	return nil
}

func removeFromIndex(index map[string]map[uuid.UUID]struct{}, tag string, id uuid.UUID) {
	bucket, ok := index[tag]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(index, tag)
	}
}
