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

// Package api is the HTTP adapter: it translates requests into vault
// calls, maps vault error kinds to status codes, and owns everything the
// core doesn't need to know about (sessions, multipart parsing, the
// upload accept list, cache headers).
package api

import (
	"net/http"

	"github.com/imagevault/imagevault/vault"
)

// statusFor maps a vault error's Kind to its HTTP status. Corruption maps
// to 400 for every operation, including internal integrity failures such
// as a blob or entry that fails to decrypt; renderError applies no
// per-operation override.
func statusFor(err error) int {
	switch vault.Kind(err) {
	case vault.KindNeedsSetup:
		return http.StatusBadRequest
	case vault.KindAlreadySetUp:
		return http.StatusInternalServerError
	case vault.KindLocked:
		return http.StatusForbidden
	case vault.KindAuthFailed:
		return http.StatusUnauthorized
	case vault.KindNotFound:
		return http.StatusNotFound
	case vault.KindInvalidTag:
		return http.StatusBadRequest
	case vault.KindCorruption:
		return http.StatusBadRequest
	case vault.KindInvalidVersion:
		return http.StatusInternalServerError
	default: // KindIo and anything unrecognized
		return http.StatusInternalServerError
	}
}
