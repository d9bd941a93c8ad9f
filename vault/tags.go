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
	"sort"

	"github.com/google/uuid"
)

// Tag normalizes raw and, if not already present on id's entry, appends it
// and indexes it. Idempotent on duplicate add. Requires Unlocked.
func (v *Vault) Tag(id uuid.UUID, raw string) (*ImageEntry, error) {
	tag, err := normalizeTag(raw)
	if err != nil {
		return nil, err
	}

	var result *ImageEntry
	err = v.withStateWrite(func(s *unlockedState) error {
		entry, err := v.getEntry(s, id)
		if err != nil {
			return err
		}
		if !entry.HasTag(tag) {
			entry.Tags = append(entry.Tags, tag)
			if err := v.saveEntry(s, entry); err != nil {
				return err
			}
			bucket, ok := s.tagIndex[tag]
			if !ok {
				bucket = map[uuid.UUID]struct{}{}
				s.tagIndex[tag] = bucket
			}
			bucket[id] = struct{}{}
		}
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := v.store.Flush(); err != nil {
		return nil, errIo(err)
	}
	return result, nil
}

// Untag is Tag's symmetric counterpart: removes raw (normalized) from the
// entry's tags if present and prunes the index bucket, including dropping
// it entirely once empty. Idempotent on absent tag. Requires Unlocked.
func (v *Vault) Untag(id uuid.UUID, raw string) (*ImageEntry, error) {
	tag, err := normalizeTag(raw)
	if err != nil {
		return nil, err
	}

	var result *ImageEntry
	err = v.withStateWrite(func(s *unlockedState) error {
		entry, err := v.getEntry(s, id)
		if err != nil {
			return err
		}
		pos := -1
		for i, t := range entry.Tags {
			if t == tag {
				pos = i
				break
			}
		}
		if pos >= 0 {
			entry.Tags = append(entry.Tags[:pos], entry.Tags[pos+1:]...)
			if err := v.saveEntry(s, entry); err != nil {
				return err
			}
			removeFromIndex(s.tagIndex, tag, id)
		}
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := v.store.Flush(); err != nil {
		return nil, errIo(err)
	}
	return result, nil
}

// ListTags returns every indexed tag, ascending lexicographically.
// Requires Unlocked.
func (v *Vault) ListTags() ([]string, error) {
	var tags []string
	err := v.withState(func(s *unlockedState) error {
		tags = make([]string, 0, len(s.tagIndex))
		for tag := range s.tagIndex {
			tags = append(tags, tag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

// RenameTag normalizes both tags and, unless they're equal, rewrites every
// entry that carries old to carry new instead (appending new only if not
// already present), then folds old's index bucket into new's. Returns the
// number of entries actually rewritten. Requires Unlocked.
func (v *Vault) RenameTag(rawOld, rawNew string) (int, error) {
	oldTag, err := normalizeTag(rawOld)
	if err != nil {
		return 0, err
	}
	newTag, err := normalizeTag(rawNew)
	if err != nil {
		return 0, err
	}
	if oldTag == newTag {
		return 0, nil
	}

	var count int
	err = v.withStateWrite(func(s *unlockedState) error {
		bucket, ok := s.tagIndex[oldTag]
		if !ok || len(bucket) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(bucket))
		for id := range bucket {
			ids = append(ids, id)
		}

		for _, id := range ids {
			entry, err := v.getEntry(s, id)
			if err != nil {
				continue
			}
			pos := -1
			for i, t := range entry.Tags {
				if t == oldTag {
					pos = i
					break
				}
			}
			if pos < 0 {
				continue
			}
			entry.Tags = append(entry.Tags[:pos], entry.Tags[pos+1:]...)
			hasNew := false
			for _, t := range entry.Tags {
				if t == newTag {
					hasNew = true
					break
				}
			}
			if !hasNew {
				entry.Tags = append(entry.Tags, newTag)
			}
			if err := v.saveEntry(s, entry); err != nil {
				return err
			}
			count++
		}

		delete(s.tagIndex, oldTag)
		dst, ok := s.tagIndex[newTag]
		if !ok {
			dst = map[uuid.UUID]struct{}{}
			s.tagIndex[newTag] = dst
		}
		for _, id := range ids {
			dst[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := v.store.Flush(); err != nil {
		return 0, errIo(err)
	}
	return count, nil
}

// ListImages decrypts every entry in the store, skips corrupt records, and
// returns the rest sorted by creation time descending. Requires Unlocked.
func (v *Vault) ListImages() ([]*ImageEntry, error) {
	entries := make([]*ImageEntry, 0)
	err := v.withState(func(s *unlockedState) error {
		key := s.masterKey.Bytes()
		return v.store.ForEachEntry(func(id [16]byte, envelope []byte) error {
			entry, err := v.decryptEntry(key, id, envelope)
			if err != nil {
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEntriesByCreatedAtDesc(entries)
	return entries, nil
}

// SearchByTags returns every entry whose tags are a superset of include
// and disjoint from exclude, sorted by creation time descending. An empty
// include and exclude is equivalent to ListImages. Requires Unlocked.
func (v *Vault) SearchByTags(include, exclude []string) ([]*ImageEntry, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return v.ListImages()
	}

	normInclude, err := normalizeAll(include)
	if err != nil {
		return nil, err
	}
	normExclude, err := normalizeAll(exclude)
	if err != nil {
		return nil, err
	}

	entries := make([]*ImageEntry, 0)
	err = v.withState(func(s *unlockedState) error {
		var candidates map[uuid.UUID]struct{}

		if len(normInclude) == 0 {
			candidates = map[uuid.UUID]struct{}{}
			if err := v.store.ForEachEntry(func(id [16]byte, _ []byte) error {
				candidates[uuid.UUID(id)] = struct{}{}
				return nil
			}); err != nil {
				return errIo(err)
			}
		} else {
			buckets := make([]map[uuid.UUID]struct{}, len(normInclude))
			for i, tag := range normInclude {
				buckets[i] = s.tagIndex[tag]
			}
			sort.Slice(buckets, func(i, j int) bool { return len(buckets[i]) < len(buckets[j]) })
			if len(buckets[0]) == 0 {
				return nil
			}
			candidates = map[uuid.UUID]struct{}{}
			for id := range buckets[0] {
				candidates[id] = struct{}{}
			}
			for _, bucket := range buckets[1:] {
				for id := range candidates {
					if _, ok := bucket[id]; !ok {
						delete(candidates, id)
					}
				}
				if len(candidates) == 0 {
					return nil
				}
			}
		}

		for _, tag := range normExclude {
			bucket, ok := s.tagIndex[tag]
			if !ok {
				continue
			}
			for id := range bucket {
				delete(candidates, id)
			}
		}

		for id := range candidates {
			entry, err := v.getEntry(s, id)
			if err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntriesByCreatedAtDesc(entries)
	return entries, nil
}

func normalizeAll(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		normalized, err := normalizeTag(t)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}

func sortEntriesByCreatedAtDesc(entries []*ImageEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}
