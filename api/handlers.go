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
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/imageproc"
	"github.com/imagevault/imagevault/vault"
)

// acceptedMimes is the upload whitelist: only these source formats are
// ever handed to the image processor.
var acceptedMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// maxUploadBytes is the adapter-level cap on a single upload.
const maxUploadBytes = 50 << 20 // 50 MiB

type statusResponse struct {
	Initialized   bool `json:"initialized"`
	Unlocked      bool `json:"unlocked"`
	Authenticated bool `json:"authenticated"`
}

func (s *Server) handleStatus(c *gin.Context) {
	needsSetup, err := s.vault.NeedsSetup()
	if err != nil {
		renderError(c, err)
		return
	}
	token, _ := c.Cookie(sessionCookieName)
	JSON(c, http.StatusOK, statusResponse{
		Initialized:   !needsSetup,
		Unlocked:      s.vault.IsUnlocked(),
		Authenticated: s.sessions.authenticated(token),
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleSetup(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.vault.Setup(req.Password); err != nil {
		renderError(c, err)
		return
	}

	token := s.sessions.create()
	setSessionCookie(c, token)
	JSON(c, http.StatusCreated, gin.H{"message": "vault initialized and unlocked"})
}

func (s *Server) handleUnlock(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	var err error
	if s.vault.IsUnlocked() {
		err = s.vault.VerifyPassword(req.Password)
	} else {
		err = s.vault.Unlock(req.Password)
	}
	if err != nil {
		renderError(c, err)
		return
	}

	token := s.sessions.create()
	setSessionCookie(c, token)
	JSON(c, http.StatusOK, gin.H{"message": "vault unlocked"})
}

func (s *Server) handleLogout(c *gin.Context) {
	token, _ := c.Cookie(sessionCookieName)
	s.sessions.destroy(token)
	JSON(c, http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleLock(c *gin.Context) {
	token, _ := c.Cookie(sessionCookieName)
	s.sessions.destroy(token)
	s.vault.Lock()
	JSON(c, http.StatusOK, gin.H{"message": "vault locked and logged out"})
}

// parseSearchQuery parses the search query grammar: whitespace-separated
// terms, a leading '-' marks an exclusion, empty terms and a bare '-' are
// ignored.
func parseSearchQuery(q string) (include, exclude []string) {
	for _, term := range strings.Fields(q) {
		if term == "-" {
			continue
		}
		if strings.HasPrefix(term, "-") {
			if tag := term[1:]; tag != "" {
				exclude = append(exclude, tag)
			}
			continue
		}
		include = append(include, term)
	}
	return include, exclude
}

func (s *Server) handleListImages(c *gin.Context) {
	q := c.Query("q")

	var (
		entries []*vault.ImageEntry
		err     error
	)
	if q == "" {
		entries, err = s.vault.ListImages()
	} else {
		include, exclude := parseSearchQuery(q)
		entries, err = s.vault.SearchByTags(include, exclude)
	}
	if err != nil {
		renderError(c, err)
		return
	}
	JSON(c, http.StatusOK, entries)
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "no file provided"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "failed to read upload"})
		return
	}

	mime := mimetype.Detect(raw).String()
	mime, _, _ = strings.Cut(mime, ";")
	mime = strings.TrimSpace(mime)
	if !acceptedMimes[mime] {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "unsupported file type"})
		return
	}

	processed, err := imageproc.Process(raw, mime)
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "failed to process image"})
		return
	}

	variants := make([]vault.VariantPayload, 0, len(processed.Variants))
	for _, v := range processed.Variants {
		variants = append(variants, vault.VariantPayload{
			Variant: vault.Variant(v.Variant),
			Bytes:   v.Bytes,
		})
	}

	entry, err := s.vault.Store(processed.OriginalMime, uint64(processed.OriginalSize), variants)
	if err != nil {
		renderError(c, err)
		return
	}

	JSON(c, http.StatusCreated, entry)
}

func (s *Server) handleGetImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid image id"})
		return
	}
	variant, ok := vault.ParseVariant(c.Param("variant"))
	if !ok {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid variant"})
		return
	}

	data, mime, err := s.vault.Retrieve(id, variant)
	if err != nil {
		renderError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=31536000, immutable")
	c.Data(http.StatusOK, mime, data)
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid image id"})
		return
	}
	if err := s.vault.Delete(id); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) handleAddTag(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid image id"})
		return
	}
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	entry, err := s.vault.Tag(id, req.Tag)
	if err != nil {
		renderError(c, err)
		return
	}
	JSON(c, http.StatusOK, entry)
}

func (s *Server) handleRemoveTag(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid image id"})
		return
	}
	tag := c.Query("tag")

	entry, err := s.vault.Untag(id, tag)
	if err != nil {
		renderError(c, err)
		return
	}
	JSON(c, http.StatusOK, entry)
}

func (s *Server) handleListTags(c *gin.Context) {
	tags, err := s.vault.ListTags()
	if err != nil {
		renderError(c, err)
		return
	}
	JSON(c, http.StatusOK, tags)
}

type renameTagRequest struct {
	OldTag string `json:"old_tag"`
	NewTag string `json:"new_tag"`
}

func (s *Server) handleRenameTag(c *gin.Context) {
	var req renameTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSON(c, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	count, err := s.vault.RenameTag(req.OldTag, req.NewTag)
	if err != nil {
		renderError(c, err)
		return
	}
	JSON(c, http.StatusOK, gin.H{"renamed": count})
}
