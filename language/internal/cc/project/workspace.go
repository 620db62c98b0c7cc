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

// Package project models the C/C++ projects of a Bazel workspace: their
// files, include search paths and macro definitions, the library manager
// deciding which project owns an included file, and the per-project caches
// of preprocessor work.
package project

import (
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/internal/index"
	"github.com/EngFlow/cc_tokenstream/internal/repository"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/config"
	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/bazelbuild/bazel-gazelle/pathtools"
)

// Workspace holds every project and acts as the library manager.
type Workspace struct {
	config *config.Configuration
	repo   repository.Repository
	arena  *aptcache.Arena

	mu       sync.RWMutex
	projects map[label.Label]*Project
	ordered  []*Project
	index    index.DependencyIndex
	// Include paths defined by strip_include_prefix and include_prefix.
	virtualIncludes map[string]virtualInclude
	// File system of system include directories, the project file system
	// when nil.
	systemFS FileSystem

	graphMu sync.Mutex
	// Files seen including each file.
	includers map[fileKey]collections.Set[fileKey]
}

type fileKey struct {
	fileSystem, path string
}

// NewWorkspace creates an empty workspace storing cached values in repo.
func NewWorkspace(conf *config.Configuration, repo repository.Repository) *Workspace {
	return &Workspace{
		config:   conf,
		repo:     repo,
		arena:    aptcache.NewArena(conf.CacheCapacity, conf.UseWeakMemoryCache),
		projects: make(map[label.Label]*Project),
		index:    index.DependencyIndex{},

		virtualIncludes: make(map[string]virtualInclude),
		includers:       make(map[fileKey]collections.Set[fileKey]),
	}
}

func (ws *Workspace) Config() *config.Configuration { return ws.config }

// Arena bounds the cached values held in memory.
func (ws *Workspace) Arena() *aptcache.Arena { return ws.arena }

// SetIndex replaces the header ownership index.
func (ws *Workspace) SetIndex(idx index.DependencyIndex) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.index = idx
	if ws.config.TraceCache {
		log.Print(idx.Summary())
	}
}

// SetSystemFileSystem sets the file system searched for system include
// directories.
func (ws *Workspace) SetSystemFileSystem(fsys FileSystem) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.systemFS = fsys
}

func (ws *Workspace) systemFileSystem() FileSystem {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.systemFS
}

type virtualInclude struct {
	fs   FileSystem
	path string
}

// AddVirtualInclude makes the file physical includable as name.
func (ws *Workspace) AddVirtualInclude(name string, fsys FileSystem, physical string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.virtualIncludes[name] = virtualInclude{fs: fsys, path: physical}
}

func (ws *Workspace) virtualInclude(name string) (virtualInclude, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	v, ok := ws.virtualIncludes[name]
	return v, ok
}

// FileSystem returns the file system with the given ID, searching the
// projects first and the system file system last.
func (ws *Workspace) FileSystem(id string) (FileSystem, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, p := range ws.ordered {
		if p.fs.ID() == id {
			return p.fs, true
		}
	}
	for _, v := range ws.virtualIncludes {
		if v.fs.ID() == id {
			return v.fs, true
		}
	}
	if ws.systemFS != nil && ws.systemFS.ID() == id {
		return ws.systemFS, true
	}
	return nil, false
}

// Project returns a registered project.
func (ws *Workspace) Project(l label.Label) (*Project, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	p, ok := ws.projects[l]
	return p, ok
}

// Projects returns every project in registration order.
func (ws *Workspace) Projects() []*Project {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return slices.Clone(ws.ordered)
}

// AddProject registers a project. Labels must be unique.
func (ws *Workspace) AddProject(spec Spec) (*Project, error) {
	if spec.FileSystem == nil {
		return nil, fmt.Errorf("project %v: no file system", spec.Label)
	}
	root, ok := cleanPath(spec.Root)
	if !ok {
		return nil, fmt.Errorf("project %v: invalid root %q", spec.Label, spec.Root)
	}
	if root == "." {
		root = ""
	}
	conf := spec.Config
	if conf == nil {
		conf = ws.config
	}

	p := newProject(ws, spec, root, conf)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, exists := ws.projects[spec.Label]; exists {
		return nil, fmt.Errorf("project %v already exists", spec.Label)
	}
	ws.projects[spec.Label] = p
	ws.ordered = append(ws.ordered, p)
	return p, nil
}

// FindOwner returns the project owning a file: the owner recorded in the
// ownership index, else a project declaring the file, else the project with
// the deepest root containing it. Only projects of the same file system are
// considered.
func (ws *Workspace) FindOwner(fsys FileSystem, path string) (*Project, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	for _, owner := range ws.index.Owners(path) {
		if p, ok := ws.projects[owner]; ok && p.fs.ID() == fsys.ID() {
			return p, true
		}
	}

	var best *Project
	for _, p := range ws.ordered {
		if p.fs.ID() != fsys.ID() {
			continue
		}
		if p.declares(path) {
			return p, true
		}
		if !pathtools.HasPrefix(path, p.root) {
			continue
		}
		if best == nil || len(p.root) > len(best.root) {
			best = p
		}
	}
	return best, best != nil
}

// RecordInclude remembers that from includes to. Invalidating to also drops
// what was cached about from.
func (ws *Workspace) RecordInclude(from, to *File) {
	fromKey := fileKey{from.FileSystem().ID(), from.Path()}
	toKey := fileKey{to.FileSystem().ID(), to.Path()}
	ws.graphMu.Lock()
	defer ws.graphMu.Unlock()
	if _, ok := ws.includers[toKey]; !ok {
		ws.includers[toKey] = make(collections.Set[fileKey])
	}
	ws.includers[toKey].Add(fromKey)
}

// dependents returns changed and every file including it, directly or not.
func (ws *Workspace) dependents(changed fileKey) []fileKey {
	ws.graphMu.Lock()
	defer ws.graphMu.Unlock()
	seen := collections.SetOf(changed)
	result := []fileKey{changed}
	for i := 0; i < len(result); i++ {
		for includer := range ws.includers[result[i]] {
			if !seen.Contains(includer) {
				seen.Add(includer)
				result = append(result, includer)
			}
		}
	}
	return result
}

// InvalidateFile drops everything cached about a modified file, and the
// cache entries and visited states of every file including it: their
// memoized conditionals and post-include states may depend on its content.
func (ws *Workspace) InvalidateFile(fsys FileSystem, path string) {
	changed := fileKey{fsys.ID(), path}
	dependents := ws.dependents(changed)
	for _, p := range ws.Projects() {
		for _, key := range dependents {
			if p.fs.ID() != key.fileSystem {
				continue
			}
			p.cache.Invalidate(key.path, key.fileSystem)
			p.visited.Invalidate(key.path, key.fileSystem)
		}
		if p.fs.ID() != changed.fileSystem {
			continue
		}
		if f, ok := p.lookupFile(path); ok {
			f.invalidate()
		}
	}
	if ws.config.TraceCache && len(dependents) > 1 {
		log.Printf("%s:%s changed, invalidated %d including files", changed.fileSystem, path, len(dependents)-1)
	}
}
