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
	"encoding/binary"
	"errors"
	"fmt"
)

// Entry records are stored as a compact tag-length-value stream: one
// format version byte, then one (field tag, uvarint length, value) triple
// per field, repeated fields appearing once per element in order. The
// decoder skips unknown field tags and leaves absent fields at their zero
// value, so new optional fields can be added without breaking records
// written before they existed. Field tags are never reused or renumbered.
const entryCodecVersion = 1

const (
	fieldID           = 0x01
	fieldOriginalMime = 0x02
	fieldOriginalSize = 0x03
	fieldCreatedAt    = 0x04
	fieldVariant      = 0x05 // repeated, insertion order
	fieldTag          = 0x06 // repeated, insertion order
)

var errEntryTruncated = errors.New("truncated entry record")

func appendEntryField(buf []byte, tag byte, val []byte) []byte {
	buf = append(buf, tag)
	buf = binary.AppendUvarint(buf, uint64(len(val)))
	return append(buf, val...)
}

func encodeEntry(entry *ImageEntry) ([]byte, error) {
	buf := make([]byte, 0, 96)
	buf = append(buf, entryCodecVersion)
	buf = appendEntryField(buf, fieldID, entry.ID[:])
	buf = appendEntryField(buf, fieldOriginalMime, []byte(entry.OriginalMime))
	buf = appendEntryField(buf, fieldOriginalSize, binary.AppendUvarint(nil, entry.OriginalSize))
	buf = appendEntryField(buf, fieldCreatedAt, binary.AppendVarint(nil, entry.CreatedAt))
	for _, v := range entry.Variants {
		buf = appendEntryField(buf, fieldVariant, []byte(v))
	}
	for _, t := range entry.Tags {
		buf = appendEntryField(buf, fieldTag, []byte(t))
	}
	return buf, nil
}

func decodeEntry(data []byte) (*ImageEntry, error) {
	if len(data) == 0 {
		return nil, errEntryTruncated
	}
	if data[0] != entryCodecVersion {
		return nil, fmt.Errorf("unsupported entry record version %d", data[0])
	}

	entry := &ImageEntry{Tags: []string{}}
	rest := data[1:]
	for len(rest) > 0 {
		tag := rest[0]
		rest = rest[1:]

		length, consumed := binary.Uvarint(rest)
		if consumed <= 0 {
			return nil, errEntryTruncated
		}
		rest = rest[consumed:]
		if uint64(len(rest)) < length {
			return nil, errEntryTruncated
		}
		val := rest[:length]
		rest = rest[length:]

		switch tag {
		case fieldID:
			if len(val) != len(entry.ID) {
				return nil, fmt.Errorf("entry id field has %d bytes", len(val))
			}
			copy(entry.ID[:], val)
		case fieldOriginalMime:
			entry.OriginalMime = string(val)
		case fieldOriginalSize:
			size, n := binary.Uvarint(val)
			if n <= 0 {
				return nil, errEntryTruncated
			}
			entry.OriginalSize = size
		case fieldCreatedAt:
			ts, n := binary.Varint(val)
			if n <= 0 {
				return nil, errEntryTruncated
			}
			entry.CreatedAt = ts
		case fieldVariant:
			entry.Variants = append(entry.Variants, Variant(val))
		case fieldTag:
			entry.Tags = append(entry.Tags, string(val))
		default:
			// field from a newer writer; skip
		}
	}
	return entry, nil
}
