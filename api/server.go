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
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/imagevault/imagevault/vault"
)

// Server owns the gin engine, the vault it fronts, and the session table
// gating access to everything but status/unlock/setup/lock/logout.
type Server struct {
	vault    *vault.Vault
	sessions *sessionStore
	engine   *gin.Engine
}

// NewServer wires the full route table documented in the adapter surface
// and returns a ready-to-run gin engine.
func NewServer(v *vault.Vault, allowedOrigins []string) *Server {
	s := &Server{vault: v, sessions: newSessionStore()}

	engine := gin.New()
	engine.Use(gin.Recovery(), contextLoggerHandler, requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	engine.Use(cors.New(corsConfig))

	engine.GET("/status", s.handleStatus)
	engine.POST("/setup", s.handleSetup)
	engine.POST("/unlock", s.handleUnlock)
	engine.POST("/logout", s.handleLogout)
	engine.POST("/lock", s.handleLock)

	protected := engine.Group("/")
	protected.Use(s.requireSession, s.requireUnlocked)
	{
		protected.GET("/images", s.handleListImages)
		protected.POST("/upload", s.handleUpload)
		protected.GET("/images/:id/:variant", s.handleGetImage)
		protected.DELETE("/images/:id", s.handleDeleteImage)
		protected.POST("/images/:id/tags", s.handleAddTag)
		protected.DELETE("/images/:id/tags", s.handleRemoveTag)
		protected.GET("/tags", s.handleListTags)
		protected.POST("/tags/rename", s.handleRenameTag)
	}

	s.engine = engine
	return s
}

// Engine exposes the underlying gin engine, e.g. for http.Server wiring
// or tests driven with httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// ReadHeaderTimeout and friends are left to the caller's http.Server; this
// constant exists only to document the value cmd/imagevaultd uses.
const DefaultReadHeaderTimeout = 5 * time.Second
