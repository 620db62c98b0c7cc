// Copyright 2025 EngFlow Inc. All rights reserved.
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

// Package index maps C/C++ header paths to the Bazel targets owning them.
// The library manager of a project model consults it to find the project an
// included file belongs to. Indexes are exchanged as JSON.
package index

import (
	"cmp"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/bmatcuk/doublestar/v4"
)

type (
	// labelText is a label.Label parsable from JSON text.
	labelText label.Label

	// DependencyIndex maps header paths, relative to the workspace root, to
	// the targets owning them (more than one in case of ambiguity). A key
	// containing glob metacharacters is a doublestar pattern, e.g.
	// "third_party/zlib/**/*.h".
	DependencyIndex map[string][]label.Label
)

var (
	_ encoding.TextUnmarshaler = (*labelText)(nil)
	_ json.Marshaler           = (*DependencyIndex)(nil)
	_ json.Unmarshaler         = (*DependencyIndex)(nil)
)

func (l *labelText) UnmarshalText(data []byte) error {
	parsed, err := label.Parse(string(data))
	*l = labelText(parsed)
	return err
}

func (index DependencyIndex) MarshalJSON() ([]byte, error) {
	jsonDict := make(map[string][]string, len(index))
	for header, owners := range index {
		jsonDict[header] = collections.MapSlice(owners, label.Label.String)
	}
	return json.Marshal(jsonDict)
}

func (index *DependencyIndex) UnmarshalJSON(data []byte) error {
	var jsonDict map[string][]labelText
	if err := json.Unmarshal(data, &jsonDict); err != nil {
		return err
	}

	*index = make(DependencyIndex, len(jsonDict))
	for header, owners := range jsonDict {
		(*index)[header] = collections.MapSlice(owners, func(l labelText) label.Label { return label.Label(l) })
	}
	return index.Validate()
}

// Load reads an index from a JSON file.
func Load(path string) (DependencyIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var index DependencyIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", path, err)
	}
	return index, nil
}

// Add records owner as an owner of the header or pattern.
func (index DependencyIndex) Add(header string, owner label.Label) {
	if !slices.Contains(index[header], owner) {
		index[header] = append(index[header], owner)
	}
}

func isPattern(key string) bool {
	return strings.ContainsAny(key, "*?[{")
}

// Validate checks the syntax of every pattern key.
func (index DependencyIndex) Validate() error {
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(index)) {
		if isPattern(key) && !doublestar.ValidatePattern(key) {
			errs = append(errs, fmt.Errorf("invalid header pattern %q", key))
		}
	}
	return errors.Join(errs...)
}

// Owners returns the owners of a header path. An exact entry wins over
// patterns; among matching patterns the longest one wins.
func (index DependencyIndex) Owners(header string) []label.Label {
	if owners, ok := index[header]; ok {
		return owners
	}
	best := ""
	for key := range index {
		if !isPattern(key) || !doublestar.MatchUnvalidated(key, header) {
			continue
		}
		if best == "" || cmp.Or(cmp.Compare(len(key), len(best)), strings.Compare(best, key)) > 0 {
			best = key
		}
	}
	if best == "" {
		return nil
	}
	return index[best]
}

func (index DependencyIndex) splitByAmbiguity() (unique, ambiguous []string) {
	unique = make([]string, 0, len(index))
	ambiguous = make([]string, 0, len(index))
	for _, hdr := range slices.Sorted(maps.Keys(index)) {
		switch len(index[hdr]) {
		case 0:
			continue
		case 1:
			unique = append(unique, hdr)
		default:
			ambiguous = append(ambiguous, hdr)
		}
	}
	return
}

// Summary renders the index for trace logs.
func (index DependencyIndex) Summary() string {
	var sb strings.Builder
	unique, ambiguous := index.splitByAmbiguity()
	fmt.Fprintf(&sb, "Header owners: %d unique, %d ambiguous\n", len(unique), len(ambiguous))
	for _, hdr := range unique {
		fmt.Fprintf(&sb, "  %s: %s\n", hdr, index[hdr][0])
	}
	for _, hdr := range ambiguous {
		fmt.Fprintf(&sb, "  %s: %v (ambiguous)\n", hdr, index[hdr])
	}
	return sb.String()
}
