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

package vaultcrypto

// Secret wraps the master key while it lives in RAM. It exists so the only
// two places a key's bytes are read are Bytes() (on the way into the AEAD)
// and Zero() (on the way out, when the vault locks).
type Secret struct {
	b [KeySize]byte
}

// NewSecret copies val into a new Secret. val is not modified.
func NewSecret(val [KeySize]byte) *Secret {
	return &Secret{b: val}
}

// Bytes returns the wrapped key. Callers must not retain the returned array
// beyond the critical section that needed it.
func (s *Secret) Bytes() [KeySize]byte {
	return s.b
}

// Zero overwrites the wrapped key with zeroes. After Zero, Bytes returns the
// all-zero key; callers must not use a zeroed Secret for encryption.
func (s *Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
}
