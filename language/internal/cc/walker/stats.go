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

package walker

import (
	"fmt"
	"sync/atomic"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
)

type counter int

const (
	lightWalks counter = iota
	fullWalks
	postIncludeHits
	visitedHits
	entryHits
	guardSkips
	onceSkips
	failedIncludes
	recursiveIncludes
	restores
	countersLen
)

// Stats counts the work done by walks. It is safe for concurrent use; a nil
// *Stats counts nothing.
type Stats struct {
	counters [countersLen]atomic.Int64
}

func (s *Stats) inc(c counter) {
	if s != nil {
		s.counters[c].Add(1)
	}
}

func (s *Stats) walk(mode parser.Mode) {
	if mode == parser.ModeFull {
		s.inc(fullWalks)
	} else {
		s.inc(lightWalks)
	}
}

// Counts is a snapshot of Stats.
type Counts struct {
	LightWalks        int64
	FullWalks         int64
	PostIncludeHits   int64
	VisitedHits       int64
	EntryHits         int64
	GuardSkips        int64
	OnceSkips         int64
	FailedIncludes    int64
	RecursiveIncludes int64
	Restores          int64
}

func (s *Stats) Counts() Counts {
	if s == nil {
		return Counts{}
	}
	return Counts{
		LightWalks:        s.counters[lightWalks].Load(),
		FullWalks:         s.counters[fullWalks].Load(),
		PostIncludeHits:   s.counters[postIncludeHits].Load(),
		VisitedHits:       s.counters[visitedHits].Load(),
		EntryHits:         s.counters[entryHits].Load(),
		GuardSkips:        s.counters[guardSkips].Load(),
		OnceSkips:         s.counters[onceSkips].Load(),
		FailedIncludes:    s.counters[failedIncludes].Load(),
		RecursiveIncludes: s.counters[recursiveIncludes].Load(),
		Restores:          s.counters[restores].Load(),
	}
}

// Reset sets every counter to zero.
func (s *Stats) Reset() {
	if s == nil {
		return
	}
	for i := range s.counters {
		s.counters[i].Store(0)
	}
}

func (c Counts) String() string {
	return fmt.Sprintf("walks(light=%d, full=%d) hits(post-include=%d, visited=%d, entry=%d) skips(guard=%d, once=%d) includes(failed=%d, recursive=%d) restores=%d",
		c.LightWalks, c.FullWalks, c.PostIncludeHits, c.VisitedHits, c.EntryHits, c.GuardSkips, c.OnceSkips, c.FailedIncludes, c.RecursiveIncludes, c.Restores)
}

// EvalCallback is notified of the outcome of directives during a walk.
type EvalCallback interface {
	// OnEval is called with the result of every evaluated conditional branch.
	OnEval(file string, branch parser.ConditionalBranch, result bool)
	OnError(file string, d parser.ErrorDirective)
	// OnPragmaOnce is called when an include is skipped because the file
	// has `#pragma once` and was already included.
	OnPragmaOnce(file, included string)
}

// NopCallback ignores every notification.
type NopCallback struct{}

func (NopCallback) OnEval(string, parser.ConditionalBranch, bool) {}
func (NopCallback) OnError(string, parser.ErrorDirective)         {}
func (NopCallback) OnPragmaOnce(string, string)                   {}
