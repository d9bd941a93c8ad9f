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

package api

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// sessionCookieName is the cookie the adapter uses to track the
// "authenticated" bit: whether this browser has supplied the master
// password recently, independent of whether the vault itself is Unlocked.
const sessionCookieName = "imagevault_session"

// sessionTTL is the 30-minutes-of-inactivity session expiry.
const sessionTTL = 30 * time.Minute

// sessionStore is an in-memory, single-process session table: token →
// expiry, nothing more. The server is single-user and single-binary, so
// sessions never need to survive a restart or be shared across processes.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: map[string]time.Time{}}
}

func (s *sessionStore) create() string {
	token := randomToken()
	s.mu.Lock()
	s.sessions[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

// authenticated reports whether token names a live, unexpired session and
// slides its expiry forward (the "30 minutes of inactivity" contract).
func (s *sessionStore) authenticated(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, token)
		return false
	}
	s.sessions[token] = time.Now().Add(sessionTTL)
	return true
}

func (s *sessionStore) destroy(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// setSessionCookie issues the session cookie. Secure is left false since
// the vault is expected to sit behind a TLS-terminating proxy that
// forwards plain HTTP; httpOnly stays true regardless.
func setSessionCookie(c *gin.Context, token string) {
	c.SetCookie(sessionCookieName, token, int(sessionTTL.Seconds()), "/", "", false, true)
}
