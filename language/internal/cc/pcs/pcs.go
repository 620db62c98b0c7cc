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

// Package pcs records the preprocessor condition state of a file: the byte
// ranges skipped because their enclosing conditional evaluated to false.
package pcs

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/internal/wire"
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start, End int
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

func (r Range) empty() bool { return r.End <= r.Start }

// State holds the dead blocks of a file, sorted and non-overlapping. The
// zero value is a file with no dead blocks. A State is immutable.
type State struct {
	dead []Range
	// True when the record is complete, i.e. built by a walk that reached
	// the end of the file.
	complete bool
}

// Empty is a complete state without dead blocks.
var Empty = State{complete: true}

// DeadBlocks returns the dead ranges in ascending order.
func (s State) DeadBlocks() []Range { return slices.Clone(s.dead) }

// HasDeadBlocks reports whether the record is complete and can replace a
// walk of the file.
func (s State) HasDeadBlocks() bool { return s.complete }

// IsAllIncluded reports whether no part of the file was skipped.
func (s State) IsAllIncluded() bool { return len(s.dead) == 0 }

// IsInActiveBlock reports whether [start, end) does not intersect any dead
// block.
func (s State) IsInActiveBlock(start, end int) bool {
	idx := s.firstEndingAfter(start)
	return idx == len(s.dead) || s.dead[idx].Start >= max(end, start+1)
}

// ActiveCoverage returns how many bytes of [start, end) are not dead.
func (s State) ActiveCoverage(start, end int) int {
	active := max(end-start, 0)
	for idx := s.firstEndingAfter(start); idx < len(s.dead) && s.dead[idx].Start < end; idx++ {
		active -= min(end, s.dead[idx].End) - max(start, s.dead[idx].Start)
	}
	return active
}

func (s State) firstEndingAfter(offset int) int {
	idx, _ := slices.BinarySearchFunc(s.dead, offset, func(r Range, offset int) int {
		if r.End <= offset {
			return -1
		}
		return 1
	})
	return idx
}

// Equal compares the dead blocks and completeness of both states.
func (s State) Equal(other State) bool {
	return s.complete == other.complete && slices.Equal(s.dead, other.dead)
}

func (s State) String() string {
	return "PCS{" + strings.Join(collections.MapSlice(s.dead, Range.String), " ") + "}"
}

// Builder accumulates dead blocks during a walk. Ranges may be added in any
// order and may overlap.
type Builder struct {
	file  string
	dead  []Range
	built bool
}

func NewBuilder(file string) *Builder {
	return &Builder{file: file}
}

func (b *Builder) File() string { return b.file }

// AddDeadBlock records [start, end) as skipped. Empty ranges are ignored.
func (b *Builder) AddDeadBlock(start, end int) {
	if r := (Range{Start: start, End: end}); !r.empty() {
		b.dead = append(b.dead, r)
	}
}

// Merge adds all the dead blocks of a state.
func (b *Builder) Merge(state State) {
	b.dead = append(b.dead, state.dead...)
}

// Build returns the complete state. The builder may be used afterwards, but
// building twice is usually an error of the caller and is reported.
func (b *Builder) Build() (State, error) {
	var err error
	if b.built {
		err = fmt.Errorf("dead blocks of %s were already built", b.file)
	}
	b.built = true
	return State{dead: normalize(b.dead), complete: true}, err
}

func normalize(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := slices.SortedFunc(slices.Values(ranges), func(a, b Range) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End))
	})
	result := sorted[:1]
	for _, r := range sorted[1:] {
		last := &result[len(result)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		result = append(result, r)
	}
	return result
}

// FromRanges creates a complete state, used when reading cached data.
func FromRanges(ranges ...Range) State {
	return State{dead: normalize(ranges), complete: true}
}

const (
	fieldRange    = 1
	fieldComplete = 2
	fieldStart    = 1
	fieldEnd      = 2
)

// Marshal encodes the state for a repository.
func (s State) Marshal() []byte {
	var e wire.Encoder
	for _, r := range s.dead {
		e.Message(fieldRange, func(e *wire.Encoder) {
			e.Int(fieldStart, r.Start)
			e.Int(fieldEnd, r.End)
		})
	}
	e.Bool(fieldComplete, s.complete)
	return e.Result()
}

// Unmarshal decodes a state written by Marshal.
func Unmarshal(data []byte) (State, error) {
	var s State
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case fieldRange:
			var r Range
			if err := wire.ReadFields(f.Data, func(f wire.Field) error {
				switch f.Num {
				case fieldStart:
					r.Start = f.Int()
				case fieldEnd:
					r.End = f.Int()
				}
				return nil
			}); err != nil {
				return err
			}
			s.dead = append(s.dead, r)
		case fieldComplete:
			s.complete = f.Bool()
		}
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("decoding dead blocks: %w", err)
	}
	s.dead = normalize(s.dead)
	return s, nil
}
