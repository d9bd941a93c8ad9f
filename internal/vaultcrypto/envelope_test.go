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

package vaultcrypto_test

import (
	"testing"

	"github.com/imagevault/imagevault/internal/vaultcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	var salt [vaultcrypto.SaltSize]byte
	copy(salt[:], []byte("0123456789abcdef"))

	k1 := vaultcrypto.DeriveKey("correct horse", salt)
	k2 := vaultcrypto.DeriveKey("correct horse", salt)
	assert.Equal(t, k1, k2)

	k3 := vaultcrypto.DeriveKey("wrong horse", salt)
	assert.NotEqual(t, k1, k3)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	var key [vaultcrypto.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	msg := []byte("plain test")
	aad := []byte("image-id||thumbnail")

	ciphertext, err := vaultcrypto.Encrypt(key, msg, aad)
	require.NoError(t, err)
	assert.NotEqual(t, msg, ciphertext)

	plaintext, err := vaultcrypto.Decrypt(key, ciphertext, aad)
	require.NoError(t, err)
	assert.Equal(t, msg, plaintext)
}

func TestDecrypt_WrongAAD(t *testing.T) {
	var key [vaultcrypto.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	ciphertext, err := vaultcrypto.Encrypt(key, []byte("hello"), []byte("id-a"))
	require.NoError(t, err)

	_, err = vaultcrypto.Decrypt(key, ciphertext, []byte("id-b"))
	assert.ErrorIs(t, err, vaultcrypto.ErrEncryption)
}

func TestDecrypt_TooShort(t *testing.T) {
	var key [vaultcrypto.KeySize]byte
	_, err := vaultcrypto.Decrypt(key, []byte("short"), nil)
	assert.ErrorIs(t, err, vaultcrypto.ErrCorruption)
}

func TestEncrypt_FreshNonce(t *testing.T) {
	var key [vaultcrypto.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	a, err := vaultcrypto.Encrypt(key, []byte("same message"), nil)
	require.NoError(t, err)
	b, err := vaultcrypto.Encrypt(key, []byte("same message"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "nonces must differ between calls")
}

func TestSecret_Zero(t *testing.T) {
	var key [vaultcrypto.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	s := vaultcrypto.NewSecret(key)
	s.Zero()
	for _, b := range s.Bytes() {
		if b != 0 {
			t.Fatal("non-zero byte after Zero()")
		}
	}
}
