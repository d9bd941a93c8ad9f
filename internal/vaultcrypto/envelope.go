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

// Package vaultcrypto implements the vault's key derivation and
// authenticated-encryption envelope. Every function here is stateless;
// the package holds no keys and no state of its own.
package vaultcrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the length in bytes of a derived wrapping key or a master key.
	KeySize = 32

	// SaltSize is the length in bytes of the password salt.
	SaltSize = 16

	// nonceSize is the length in bytes of the XChaCha20-Poly1305 nonce prefixed
	// to every envelope.
	nonceSize = chacha20poly1305.NonceSizeX

	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB, i.e. m=65536 per spec
	argonThreads = 4
)

var (
	// ErrEncryption is returned when an AEAD open fails authentication, or
	// when a key of the wrong size is supplied to the cipher.
	ErrEncryption = errors.New("vaultcrypto: decryption failed")

	// ErrCorruption is returned when an envelope is structurally too short
	// to contain a nonce.
	ErrCorruption = errors.New("vaultcrypto: envelope too short")
)

// DeriveKey derives a 32-byte wrapping key from a password and a 16-byte
// salt using Argon2id (version 0x13), with m=65536 KiB, t=3, p=4.
func DeriveKey(password string, salt [SaltSize]byte) [KeySize]byte {
	raw := argon2.IDKey([]byte(password), salt[:], argonTime, argonMemory, argonThreads, KeySize)
	var key [KeySize]byte
	copy(key[:], raw)
	return key
}

// Encrypt seals plaintext under key with XChaCha20-Poly1305, binding aad.
// The output is nonce(24) || ciphertext || tag(16). A fresh nonce is drawn
// from crypto/rand for every call.
func Encrypt(key [KeySize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrEncryption
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := aead.Seal(nonce, nonce, plaintext, aad)
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt. Envelopes shorter than the
// nonce size are rejected as ErrCorruption; any authentication failure is
// reported as ErrEncryption.
func Decrypt(key [KeySize]byte, envelope, aad []byte) ([]byte, error) {
	if len(envelope) < nonceSize {
		return nil, ErrCorruption
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrEncryption
	}

	nonce, ciphertext := envelope[:nonceSize], envelope[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
