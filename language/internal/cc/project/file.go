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

package project

import (
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
)

// Kind tells sources from headers.
type Kind int

const (
	KindSource Kind = iota
	KindHeader
)

func (k Kind) String() string {
	if k == KindHeader {
		return "header"
	}
	return "source"
}

var (
	headerExtensions  = []string{".h", ".hh", ".hpp", ".hxx", ".inc", ".inl", ".ipp", ".tcc"}
	cExtensions       = []string{".c"}
	fortranExtensions = []string{".f", ".for", ".f77", ".f90", ".f95"}
)

func hasMatchingExtension(filename string, extensions []string) bool {
	ext := filepath.Ext(filename)
	return slices.ContainsFunc(extensions, func(validExt string) bool {
		return strings.EqualFold(ext, validExt)
	})
}

// CachedState is a state a file was walked from, stored when the walk was
// released, with the cache entry the walk filled.
type CachedState struct {
	State      preproc.State
	Entry      *aptcache.Entry
	DeadBlocks pcs.State
}

// File is a source or header of a project.
type File struct {
	project *Project
	path    string
	kind    Kind

	mu           sync.Mutex
	apts         map[parser.Mode]*parser.APT
	states       []CachedState
	postIncludes int
	disposed     bool
}

func newFile(p *Project, filePath string) *File {
	kind := KindSource
	if hasMatchingExtension(filePath, headerExtensions) {
		kind = KindHeader
	}
	return &File{project: p, path: filePath, kind: kind, apts: make(map[parser.Mode]*parser.APT)}
}

func (f *File) String() string         { return f.project.fs.ID() + ":" + f.path }
func (f *File) Path() string           { return f.path }
func (f *File) Project() *Project      { return f.project }
func (f *File) Kind() Kind             { return f.kind }
func (f *File) IsHeader() bool         { return f.kind == KindHeader }
func (f *File) FileSystem() FileSystem { return f.project.fs }

// Language returns the language the file is written in: "c", "fortran" or
// the project language.
func (f *File) Language() string {
	switch {
	case hasMatchingExtension(f.path, cExtensions):
		return "c"
	case hasMatchingExtension(f.path, fortranExtensions):
		return "fortran"
	}
	return f.project.config.Language
}

// Contents reads the file.
func (f *File) Contents() ([]byte, error) {
	return readFile(f.project.fs, f.path)
}

// APT returns the preprocessor tree of the file. A full tree also serves
// requests for a light one.
func (f *File) APT(mode parser.Mode) (*parser.APT, error) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil, fmt.Errorf("%v: file is disposed", f)
	}
	if apt, ok := f.apts[parser.ModeFull]; ok {
		f.mu.Unlock()
		return apt, nil
	}
	if apt, ok := f.apts[mode]; ok {
		f.mu.Unlock()
		return apt, nil
	}
	f.mu.Unlock()

	content, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading %v: %w", f, err)
	}
	apt := parser.ParseSource(f.path, content, mode)

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.apts[mode]; ok {
		return existing, nil
	}
	if !f.disposed {
		f.apts[mode] = apt
	}
	return apt, nil
}

// StoreState remembers the state a walk of the file started from. A state
// equal to a stored one replaces it.
func (f *File) StoreState(state preproc.State, entry *aptcache.Entry, deadBlocks pcs.State) {
	if f.project.config.CleanMacrosAfterParse {
		state = state.Clean()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return
	}
	cached := CachedState{State: state, Entry: entry, DeadBlocks: deadBlocks}
	for i, existing := range f.states {
		if existing.State.Equal(state) {
			f.states[i] = cached
			return
		}
	}
	f.states = append(f.states, cached)
	if f.project.config.TracePreprocState {
		log.Printf("%v: stored %v, %v", f, state, deadBlocks)
	}
}

// CachedStates returns the stored states, oldest first.
func (f *File) CachedStates() []CachedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.states)
}

// ContextState returns the stored state whose walk kept most of [start, end)
// active, stopping at the first one covering all of it. A single stored
// state is returned only when [start, end) is active in it.
func (f *File) ContextState(start, end int) (CachedState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch len(f.states) {
	case 0:
		return CachedState{}, false
	case 1:
		cached := f.states[0]
		dead := cachedDeadBlocks(cached)
		if dead.HasDeadBlocks() && dead.IsInActiveBlock(start, end) {
			return cached, true
		}
		return CachedState{}, false
	}
	best, bestCoverage := -1, -1
	for i, cached := range f.states {
		dead := cachedDeadBlocks(cached)
		if !dead.HasDeadBlocks() {
			continue
		}
		if coverage := dead.ActiveCoverage(start, end); coverage > bestCoverage {
			best, bestCoverage = i, coverage
			if coverage == end-start {
				break
			}
		}
	}
	if best < 0 {
		return CachedState{}, false
	}
	return f.states[best], true
}

// cachedDeadBlocks falls back to the result of the cache entry when the
// dead blocks were not known when the state was stored.
func cachedDeadBlocks(cached CachedState) pcs.State {
	if cached.DeadBlocks.HasDeadBlocks() || cached.Entry == nil {
		return cached.DeadBlocks
	}
	if _, dead, ok := cached.Entry.Result(); ok {
		return dead
	}
	return cached.DeadBlocks
}

// PostIncludeFile is called once the file was included from state, with the
// dead blocks of that inclusion. When trigger is set and headers are not
// parsed with their sources, the file is queued for parsing.
func (f *File) PostIncludeFile(state preproc.State, deadBlocks pcs.State, trigger bool) {
	f.mu.Lock()
	f.postIncludes++
	f.mu.Unlock()
	f.StoreState(state, nil, deadBlocks)
	if trigger && !f.project.config.ParseHeadersWithSources {
		f.project.QueueParse(f, state)
	}
}

// PostIncludeCount returns how many times the file was included.
func (f *File) PostIncludeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postIncludes
}

func (f *File) invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.apts)
	f.states = nil
}

func (f *File) dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	clear(f.apts)
	f.states = nil
}

// Disposed reports whether the file, or its project, went away.
func (f *File) Disposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed || f.project.Disposing()
}
