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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const contextLoggerKey = "logger"

// contextLoggerHandler stamps every request with a logger carrying its
// client IP.
func contextLoggerHandler(c *gin.Context) {
	logger := log.Logger.With().Str("ip", c.ClientIP()).Logger()
	c.Set(contextLoggerKey, &logger)
	c.Next()
}

// CtxLogger retrieves the per-request logger stamped by
// contextLoggerHandler, falling back to the global logger outside a
// request (e.g. from a background task).
func CtxLogger(c *gin.Context) *zerolog.Logger {
	if res, ok := c.Get(contextLoggerKey); ok {
		return res.(*zerolog.Logger)
	}
	return &log.Logger
}

// requestLogger logs each completed request at a level keyed off its
// status code.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		entry := CtxLogger(c).With().
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Logger()

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error().Msg("request")
		case status >= http.StatusBadRequest:
			entry.Warn().Msg("request")
		default:
			entry.Info().Msg("request")
		}
	}
}

// requireSession is the first of the two auth gates: the caller must have
// supplied the master password for this session since it last expired.
func (s *Server) requireSession(c *gin.Context) {
	token, err := c.Cookie(sessionCookieName)
	if err != nil || !s.sessions.authenticated(token) {
		JSON(c, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		c.Abort()
		return
	}
	c.Next()
}

// requireUnlocked is the second gate: the vault must hold its master key
// in RAM, independent of the session's own validity.
func (s *Server) requireUnlocked(c *gin.Context) {
	if !s.vault.IsUnlocked() {
		JSON(c, http.StatusForbidden, errorResponse{Error: "vault is locked"})
		c.Abort()
		return
	}
	c.Next()
}
