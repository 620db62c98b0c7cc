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

// Package aptcache memoizes the outcome of walking a file under a given
// preprocessor state: per include directive post-include data, conditional
// results and the dead blocks of the file. Values evicted from memory are
// read back from a repository.
package aptcache

import (
	"fmt"
	"sync"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
)

// EntryKey identifies the walk of a file starting from a preprocessor state.
type EntryKey struct {
	File       string
	FileSystem string
	State      preproc.Key
	Mode       parser.Mode
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s:%s@%s/%s", k.FileSystem, k.File, k.State, k.Mode)
}

// PostIncludeData is what is known about an #include directive of a cached
// file once the included file was walked: the preprocessor state after the
// include and the dead blocks of the included file.
type PostIncludeData struct {
	State      preproc.State
	DeadBlocks pcs.State
	// The include could not be walked, e.g. it was not resolved.
	Failed bool
}

// HasPostIncludeState reports whether the state after the include is known.
func (d PostIncludeData) HasPostIncludeState() bool {
	return d.State.Valid()
}

// HasDeadBlocks reports whether the dead blocks of the included file are
// known.
func (d PostIncludeData) HasDeadBlocks() bool {
	return d.DeadBlocks.HasDeadBlocks()
}

// Complete reports whether the data can replace a walk of the included file.
func (d PostIncludeData) Complete() bool {
	return d.HasPostIncludeState() && d.HasDeadBlocks()
}

// Entry is the cache slot of a single EntryKey. Entries are safe for
// concurrent use; each piece of data is set once and read many times.
type Entry struct {
	key     EntryKey
	manager *Manager
	// Arena generation, guarded by the manager.
	generation uint64

	mu          sync.RWMutex
	postInclude map[int]PostIncludeData
	evals       map[int]bool
	result      *entryResult
	published   bool
}

type entryResult struct {
	post       preproc.State
	deadBlocks pcs.State
}

func newEntry(m *Manager, key EntryKey) *Entry {
	return &Entry{
		key:         key,
		manager:     m,
		postInclude: make(map[int]PostIncludeData),
		evals:       make(map[int]bool),
	}
}

func (e *Entry) Key() EntryKey { return e.key }

func (e *Entry) evict(generation uint64) { e.manager.evict(e, generation) }

// PostInclude returns the data recorded for the include directive with the
// given index.
func (e *Entry) PostInclude(index int) (PostIncludeData, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	data, ok := e.postInclude[index]
	return data, ok
}

// SetPostInclude records data of an include directive. Data already complete
// is kept.
func (e *Entry) SetPostInclude(index int, data PostIncludeData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.postInclude[index]; ok && existing.Complete() {
		return
	}
	e.postInclude[index] = data
}

// EvalResult returns the memoized result of the conditional branch starting
// at offset.
func (e *Entry) EvalResult(offset int) (result, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result, ok = e.evals[offset]
	return result, ok
}

func (e *Entry) SetEvalResult(offset int, result bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evals[offset] = result
}

// SetResult records the state after the whole file and its dead blocks.
func (e *Entry) SetResult(post preproc.State, deadBlocks pcs.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = &entryResult{post: post, deadBlocks: deadBlocks}
}

// Result returns what SetResult recorded.
func (e *Entry) Result() (post preproc.State, deadBlocks pcs.State, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.result == nil {
		return preproc.State{}, pcs.State{}, false
	}
	return e.result.post, e.result.deadBlocks, true
}

// Published reports whether the producer of the entry completed it.
func (e *Entry) Published() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published
}
