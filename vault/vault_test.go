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

package vault_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/imagevault/vault"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	dir := t.TempDir()
	v, err := vault.Open(
		filepath.Join(dir, "db", "vault.bolt"),
		filepath.Join(dir, "storage"),
		filepath.Join(dir, ".salt"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func setupAndUnlock(t *testing.T, v *vault.Vault, password string) {
	t.Helper()
	needs, err := v.NeedsSetup()
	require.NoError(t, err)
	require.True(t, needs)
	require.NoError(t, v.Setup(password))
}

func TestVault_FreshSetupAndUnlockCycle(t *testing.T) {
	v := newTestVault(t)

	setupAndUnlock(t, v, "pw-A")
	assert.True(t, v.IsUnlocked())

	images, err := v.ListImages()
	require.NoError(t, err)
	assert.Empty(t, images)

	v.Lock()
	assert.False(t, v.IsUnlocked())

	err = v.Unlock("pw-B")
	assert.Equal(t, vault.KindAuthFailed, vault.Kind(err))
	assert.False(t, v.IsUnlocked())

	require.NoError(t, v.Unlock("pw-A"))
	assert.True(t, v.IsUnlocked())
}

func TestVault_UnlockBeforeSetup(t *testing.T) {
	v := newTestVault(t)

	err := v.Unlock("pw-A")
	assert.Equal(t, vault.KindNeedsSetup, vault.Kind(err))
	assert.False(t, v.IsUnlocked())
}

func TestVault_SetupTwiceFails(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	err := v.Setup("pw-A")
	assert.Equal(t, vault.KindAlreadySetUp, vault.Kind(err))
}

func TestVault_OperationsRequireUnlocked(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")
	v.Lock()

	_, err := v.ListImages()
	assert.Equal(t, vault.KindLocked, vault.Kind(err))
}

func TestVault_StoreRetrieveRoundTrip(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	entry, err := v.Store("image/png", 4, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("ORIG")},
		{Variant: vault.VariantThumbnail, Bytes: []byte("TH")},
	})
	require.NoError(t, err)
	assert.Len(t, entry.Variants, 2)
	assert.Empty(t, entry.Tags)

	data, mime, err := v.Retrieve(entry.ID, vault.VariantOriginal)
	require.NoError(t, err)
	assert.Equal(t, []byte("ORIG"), data)
	assert.Equal(t, "image/png", mime)

	data, mime, err = v.Retrieve(entry.ID, vault.VariantThumbnail)
	require.NoError(t, err)
	assert.Equal(t, []byte("TH"), data)
	assert.Equal(t, "image/webp", mime)

	_, _, err = v.Retrieve(entry.ID, vault.VariantHigh)
	assert.Equal(t, vault.KindNotFound, vault.Kind(err))
}

func TestVault_DeleteRemovesEntryAndBlobs(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	entry, err := v.Store("image/png", 3, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("abc")},
	})
	require.NoError(t, err)

	require.NoError(t, v.Delete(entry.ID))

	_, _, err = v.Retrieve(entry.ID, vault.VariantOriginal)
	assert.Equal(t, vault.KindNotFound, vault.Kind(err))
}

func TestVault_TagUntagRoundTrip(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	entry, err := v.Store("image/png", 1, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("x")},
	})
	require.NoError(t, err)

	updated, err := v.Tag(entry.ID, "Sunset ")
	require.NoError(t, err)
	assert.Equal(t, []string{"sunset"}, updated.Tags)

	tags, err := v.ListTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"sunset"}, tags)

	// idempotent on duplicate add
	updated, err = v.Tag(entry.ID, "sunset")
	require.NoError(t, err)
	assert.Equal(t, []string{"sunset"}, updated.Tags)

	updated, err = v.Untag(entry.ID, "sunset")
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)

	tags, err = v.ListTags()
	require.NoError(t, err)
	assert.Empty(t, tags)

	// idempotent on absent tag
	updated, err = v.Untag(entry.ID, "sunset")
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
}

func TestVault_SearchByTags(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	storeTagged := func(tags ...string) uuid.UUID {
		entry, err := v.Store("image/png", 1, []vault.VariantPayload{
			{Variant: vault.VariantOriginal, Bytes: []byte("x")},
		})
		require.NoError(t, err)
		for _, tag := range tags {
			_, err := v.Tag(entry.ID, tag)
			require.NoError(t, err)
		}
		return entry.ID
	}

	idA := storeTagged("landscape", "sunset")
	idB := storeTagged("landscape", "blurry")
	// CreatedAt has one-second resolution and equal timestamps are ordered
	// by id, so C is stored in a later second than A to make it the newer.
	time.Sleep(time.Second)
	idC := storeTagged("sunset")

	results, err := v.SearchByTags([]string{"landscape", "sunset"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idA, results[0].ID)

	results, err = v.SearchByTags([]string{"landscape"}, []string{"blurry"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idA, results[0].ID)

	results, err = v.SearchByTags([]string{"sunset"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// newest first
	assert.Equal(t, idC, results[0].ID)
	assert.Equal(t, idA, results[1].ID)

	results, err = v.SearchByTags(nil, []string{"blurry"})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, idB, r.ID)
	}
}

func TestVault_RenameTag(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	entry, err := v.Store("image/png", 1, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("x")},
	})
	require.NoError(t, err)
	_, err = v.Tag(entry.ID, "sunset")
	require.NoError(t, err)

	count, err := v.RenameTag("sunset", "dusk")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tags, err := v.ListTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"dusk"}, tags)

	results, err := v.SearchByTags([]string{"sunset"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = v.SearchByTags([]string{"dusk"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].ID)
}

func TestVault_TamperedBlobFailsDecryption(t *testing.T) {
	dir := t.TempDir()
	v, err := vault.Open(
		filepath.Join(dir, "db", "vault.bolt"),
		filepath.Join(dir, "storage"),
		filepath.Join(dir, ".salt"),
	)
	require.NoError(t, err)
	defer v.Close()

	setupAndUnlock(t, v, "pw-A")
	entry, err := v.Store("image/png", 3, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("abc")},
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "storage", entry.ID.String(), "original.enc")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, _, err = v.Retrieve(entry.ID, vault.VariantOriginal)
	assert.Error(t, err)
}

func TestVault_SwappedBlobsFailDecryption(t *testing.T) {
	dir := t.TempDir()
	v, err := vault.Open(
		filepath.Join(dir, "db", "vault.bolt"),
		filepath.Join(dir, "storage"),
		filepath.Join(dir, ".salt"),
	)
	require.NoError(t, err)
	defer v.Close()

	setupAndUnlock(t, v, "pw-A")
	entryA, err := v.Store("image/png", 1, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("image-A")},
	})
	require.NoError(t, err)
	entryB, err := v.Store("image/png", 1, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("image-B")},
	})
	require.NoError(t, err)

	pathA := filepath.Join(dir, "storage", entryA.ID.String(), "original.enc")
	pathB := filepath.Join(dir, "storage", entryB.ID.String(), "original.enc")
	rawA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	rawB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pathA, rawB, 0o600))
	require.NoError(t, os.WriteFile(pathB, rawA, 0o600))

	// the envelopes are bound to their image id, so a swap can never
	// succeed returning the other image's bytes
	_, _, err = v.Retrieve(entryA.ID, vault.VariantOriginal)
	assert.Equal(t, vault.KindCorruption, vault.Kind(err))
	_, _, err = v.Retrieve(entryB.ID, vault.VariantOriginal)
	assert.Equal(t, vault.KindCorruption, vault.Kind(err))
}

func TestVault_InvalidTagRejected(t *testing.T) {
	v := newTestVault(t)
	setupAndUnlock(t, v, "pw-A")

	entry, err := v.Store("image/png", 1, []vault.VariantPayload{
		{Variant: vault.VariantOriginal, Bytes: []byte("x")},
	})
	require.NoError(t, err)

	_, err = v.Tag(entry.ID, "   ")
	assert.Equal(t, vault.KindInvalidTag, vault.Kind(err))

	_, err = v.Tag(entry.ID, "has a space and! bang")
	assert.Equal(t, vault.KindInvalidTag, vault.Kind(err))
}
