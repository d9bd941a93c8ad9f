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
	"strings"

	"github.com/google/uuid"
)

// Variant is one resolution/encoding of a stored image.
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantHigh      Variant = "high"
	VariantLow       Variant = "low"
	VariantThumbnail Variant = "thumbnail"
)

// ParseVariant maps a URL path segment / file-name stem to a Variant.
func ParseVariant(name string) (Variant, bool) {
	switch Variant(name) {
	case VariantOriginal, VariantHigh, VariantLow, VariantThumbnail:
		return Variant(name), true
	default:
		return "", false
	}
}

// Mime returns the MIME type retrieve should report for this variant: the
// entry's own original MIME for Original, or image/webp for anything else.
func (v Variant) Mime(originalMime string) string {
	if v == VariantOriginal {
		return originalMime
	}
	return "image/webp"
}

const maxTagLength = 32

// normalizeTag lowercases and trims raw, then validates length and
// character set. The normalized form is canonical everywhere: storage,
// index, and query.
func normalizeTag(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))

	if normalized == "" {
		return "", errInvalidTag("tag cannot be empty")
	}
	if len(normalized) > maxTagLength {
		return "", errInvalidTag("tag too long")
	}
	for _, r := range normalized {
		if !isTagRune(r) {
			return "", errInvalidTag("invalid tag characters")
		}
	}
	return normalized, nil
}

func isTagRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

// ImageEntry is the metadata record for one stored image.
type ImageEntry struct {
	ID           uuid.UUID `json:"id"`
	OriginalMime string    `json:"original_mime"`
	OriginalSize uint64    `json:"original_size"`
	CreatedAt    int64     `json:"created_at"`
	Variants     []Variant `json:"variants"`
	// Tags decodes to empty for records written before tagging existed;
	// the record codec defaults absent fields to their zero value. The
	// json tags below shape API responses only, never the on-disk form.
	Tags []string `json:"tags"`
}

// HasVariant reports whether v is among the entry's stored variants.
func (e *ImageEntry) HasVariant(v Variant) bool {
	for _, existing := range e.Variants {
		if existing == v {
			return true
		}
	}
	return false
}

// HasTag reports whether the (already normalized) tag is present.
func (e *ImageEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
