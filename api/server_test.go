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

package api_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/imagevault/api"
	"github.com/imagevault/imagevault/vault"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	dir := t.TempDir()
	v, err := vault.Open(
		filepath.Join(dir, "db", "vault.bolt"),
		filepath.Join(dir, "storage"),
		filepath.Join(dir, ".salt"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return api.NewServer(v, nil)
}

func doJSON(t *testing.T, s *api.Server, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestStatus_BeforeSetup(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Initialized   bool `json:"initialized"`
		Unlocked      bool `json:"unlocked"`
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Initialized)
	assert.False(t, body.Unlocked)
	assert.False(t, body.Authenticated)
}

func TestSetup_ThenProtectedRouteRequiresNothingMore(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/setup", map[string]string{"password": "pw-A"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = doJSON(t, s, http.MethodGet, "/images", nil, cookies)
	assert.Equal(t, http.StatusOK, rec.Code)
	var images []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	assert.Empty(t, images)
}

func TestProtectedRoute_RejectsWithoutSession(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/setup", map[string]string{"password": "pw-A"}, nil)

	rec := doJSON(t, s, http.MethodGet, "/images", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_RejectsWhenLocked(t *testing.T) {
	s := newTestServer(t)
	setupRec := doJSON(t, s, http.MethodPost, "/setup", map[string]string{"password": "pw-A"}, nil)
	cookies := setupRec.Result().Cookies()

	lockRec := doJSON(t, s, http.MethodPost, "/lock", nil, cookies)
	require.Equal(t, http.StatusOK, lockRec.Code)

	rec := doJSON(t, s, http.MethodGet, "/images", nil, cookies)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "lock also destroys the session, per handleLock")
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadMultipart(t *testing.T, s *api.Server, cookies []*http.Cookie, raw []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "test.png")
	require.NoError(t, err)
	_, err = part.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestUploadRetrieveTagFlow(t *testing.T) {
	s := newTestServer(t)
	setupRec := doJSON(t, s, http.MethodPost, "/setup", map[string]string{"password": "pw-A"}, nil)
	cookies := setupRec.Result().Cookies()

	raw := encodeTestPNG(t)
	uploadRec := uploadMultipart(t, s, cookies, raw)
	require.Equal(t, http.StatusCreated, uploadRec.Code)

	var entry struct {
		ID       string   `json:"id"`
		Variants []string `json:"variants"`
		Tags     []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(uploadRec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Len(t, entry.Variants, 4)

	getRec := doJSON(t, s, http.MethodGet, "/images/"+entry.ID+"/original", nil, cookies)
	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "private, max-age=31536000, immutable", getRec.Header().Get("Cache-Control"))

	tagRec := doJSON(t, s, http.MethodPost, "/images/"+entry.ID+"/tags", map[string]string{"tag": "sunset"}, cookies)
	require.Equal(t, http.StatusOK, tagRec.Code)

	listRec := doJSON(t, s, http.MethodGet, "/images?q=sunset", nil, cookies)
	require.Equal(t, http.StatusOK, listRec.Code)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/images/"+entry.ID, nil)
	for _, ck := range cookies {
		deleteReq.AddCookie(ck)
	}
	deleteRec := httptest.NewRecorder()
	s.Engine().ServeHTTP(deleteRec, deleteReq)
	assert.Equal(t, http.StatusNoContent, deleteRec.Code)
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	setupRec := doJSON(t, s, http.MethodPost, "/setup", map[string]string{"password": "pw-A"}, nil)
	cookies := setupRec.Result().Cookies()

	rec := uploadMultipart(t, s, cookies, []byte("not an image, just text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
