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
	"fmt"
)

// ErrorKind categorizes a vault error for the adapter layer, which maps it
// to a user-visible status code without string matching.
type ErrorKind int

const (
	KindNeedsSetup ErrorKind = iota
	KindAlreadySetUp
	KindLocked
	KindAuthFailed
	KindNotFound
	KindInvalidTag
	KindCorruption
	KindIo
	KindInvalidVersion
)

func (k ErrorKind) String() string {
	switch k {
	case KindNeedsSetup:
		return "NeedsSetup"
	case KindAlreadySetUp:
		return "AlreadySetUp"
	case KindLocked:
		return "Locked"
	case KindAuthFailed:
		return "AuthFailed"
	case KindNotFound:
		return "NotFound"
	case KindInvalidTag:
		return "InvalidTag"
	case KindCorruption:
		return "Corruption"
	case KindIo:
		return "Io"
	case KindInvalidVersion:
		return "InvalidVersion"
	default:
		return "Unknown"
	}
}

// Error is the single error type every vault operation returns. detail is
// logged; it is never meant to be echoed back to an end user for Corruption
// and Io kinds.
type Error struct {
	kind   ErrorKind
	detail string
	cause  error
}

func newError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{kind: kind, detail: detail, cause: cause}
}

func (e *Error) Kind() ErrorKind {
	return e.kind
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("vault: %s: %s: %v", e.kind, e.detail, e.cause)
	}
	if e.detail != "" {
		return fmt.Sprintf("vault: %s: %s", e.kind, e.detail)
	}
	return fmt.Sprintf("vault: %s", e.kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// UserMessage is the text an adapter may safely echo back to a caller.
// For Corruption and Io, that's just the kind name: the detail and any
// wrapped cause (file paths, decode errors) stay in the log, never the
// response body. Every other kind's detail is already caller-facing
// (e.g. "tag too long"), so it's included as-is.
func (e *Error) UserMessage() string {
	switch e.kind {
	case KindCorruption, KindIo:
		return e.kind.String()
	default:
		if e.detail != "" {
			return e.detail
		}
		return e.kind.String()
	}
}

// UserMessage extracts the safe-to-echo message from err, falling back to
// a generic "internal error" for anything that isn't a *Error.
func UserMessage(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.UserMessage()
	}
	return "internal error"
}

func errNeedsSetup() error      { return newError(KindNeedsSetup, "vault has not been set up", nil) }
func errAlreadySetUp() error    { return newError(KindAlreadySetUp, "vault already set up", nil) }
func errLocked() error          { return newError(KindLocked, "vault is locked", nil) }
func errAuthFailed(cause error) error {
	return newError(KindAuthFailed, "password verification failed", cause)
}
func errNotFound(detail string) error { return newError(KindNotFound, detail, nil) }
func errInvalidTag(detail string) error {
	return newError(KindInvalidTag, detail, nil)
}
func errCorruption(detail string, cause error) error {
	return newError(KindCorruption, detail, cause)
}
func errIo(cause error) error { return newError(KindIo, "storage failure", cause) }
func errInvalidVersion(expected, found int) error {
	return newError(KindInvalidVersion, fmt.Sprintf("expected %d, found %d", expected, found), nil)
}

// Kind extracts the ErrorKind from err, defaulting to KindIo for any error
// that didn't originate from this package (e.g. an unwrapped os error that
// escaped a lower layer).
func Kind(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.kind
	}
	return KindIo
}
