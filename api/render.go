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
	"github.com/gin-gonic/gin"

	"github.com/imagevault/imagevault/utils/jsonw"
	"github.com/imagevault/imagevault/vault"
)

var jsonContentType = []string{"application/json; charset=utf-8"}

// JSON replaces gin.Context.JSON with the sonic-backed streaming encoder
// from jsonw.
func JSON(c *gin.Context, code int, obj any) {
	c.Status(code)
	header := c.Writer.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = jsonContentType
	}
	if err := jsonw.Encode(obj, c.Writer); err != nil {
		panic(err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// renderError writes err at the status its vault.Kind maps to, logging the
// full error but echoing only vault.UserMessage(err) in the response body —
// Corruption/Io detail stays out per the error handling design's "internal
// detail NOT surfaced" rule.
func renderError(c *gin.Context, err error) {
	code := statusFor(err)
	CtxLogger(c).Debug().Err(err).Int("status", code).Msg("request failed")
	JSON(c, code, errorResponse{Error: vault.UserMessage(err)})
}
