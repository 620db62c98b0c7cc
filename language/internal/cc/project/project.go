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
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/config"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/bazelbuild/bazel-gazelle/label"
)

// Spec describes a project to register in a workspace.
type Spec struct {
	Label      label.Label
	FileSystem FileSystem
	// Directory of the project relative to the file system root.
	Root string
	// Declared sources and headers, relative to the file system root.
	Srcs []string
	Hdrs []string
	// Include directories relative to the file system root.
	IncludeDirs       []string
	SystemIncludeDirs []string
	Defines           []cc.MacroDefinition
	Deps              []label.Label
	// Configuration of the project, the workspace configuration when nil.
	Config *config.Configuration
}

// Project is a unit of C/C++ code sharing include paths and macros, usually
// a single cc_library, cc_binary or cc_test target.
type Project struct {
	workspace *Workspace
	label     label.Label
	fs        FileSystem
	root      string
	config    *config.Configuration

	declared          collections.Set[string]
	includeDirs       []string
	systemIncludeDirs []string
	defines           []cc.MacroDefinition
	deps              []label.Label

	cache     *aptcache.Manager
	visited   *aptcache.VisitedStates
	disposing atomic.Bool

	mu         sync.Mutex
	files      map[string]*File
	parseQueue []ParseRequest
}

// ParseRequest asks for a file to be parsed from a given state.
type ParseRequest struct {
	File  *File
	State preproc.State
}

func newProject(ws *Workspace, spec Spec, root string, conf *config.Configuration) *Project {
	p := &Project{
		workspace:         ws,
		label:             spec.Label,
		fs:                spec.FileSystem,
		root:              root,
		config:            conf,
		declared:          make(collections.Set[string]),
		includeDirs:       cleanDirs(append(slices.Clone(spec.IncludeDirs), conf.IncludeDirs...)),
		systemIncludeDirs: cleanDirs(append(slices.Clone(spec.SystemIncludeDirs), conf.SystemIncludeDirs...)),
		defines:           append(slices.Clone(conf.Defines), spec.Defines...),
		deps:              slices.Clone(spec.Deps),
		cache:             aptcache.NewManager(ws.arena, conf.TraceCache),
		files:             make(map[string]*File),
	}
	for _, f := range append(slices.Clone(spec.Srcs), spec.Hdrs...) {
		if cleaned, ok := cleanPath(f); ok {
			p.declared.Add(cleaned)
		}
	}
	p.visited = aptcache.NewVisitedStates(ws.repo, ws.arena, p.Valid)
	return p
}

func cleanDirs(dirs []string) []string {
	var result []string
	for _, dir := range dirs {
		cleaned, ok := cleanPath(dir)
		if !ok {
			log.Printf("Ignoring include directory %q outside of the file system", dir)
			continue
		}
		if cleaned == "." {
			cleaned = ""
		}
		if !slices.Contains(result, cleaned) {
			result = append(result, cleaned)
		}
	}
	return result
}

func (p *Project) String() string                         { return p.label.String() }
func (p *Project) Label() label.Label                     { return p.label }
func (p *Project) FileSystem() FileSystem                 { return p.fs }
func (p *Project) Root() string                           { return p.root }
func (p *Project) Config() *config.Configuration          { return p.config }
func (p *Project) Workspace() *Workspace                  { return p.workspace }
func (p *Project) Deps() []label.Label                    { return p.deps }
func (p *Project) Cache() *aptcache.Manager               { return p.cache }
func (p *Project) VisitedStates() *aptcache.VisitedStates { return p.visited }

func (p *Project) declares(path string) bool {
	return p.declared.Contains(path)
}

// DeclaredFiles returns the sorted sources and headers of the project.
func (p *Project) DeclaredFiles() []string {
	return p.declared.SortedValues(strings.Compare)
}

// Dispose marks the project as going away. Walks stop descending into its
// files.
func (p *Project) Dispose() {
	if p.disposing.Swap(true) {
		return
	}
	p.mu.Lock()
	files := p.files
	p.files = make(map[string]*File)
	p.parseQueue = nil
	p.mu.Unlock()
	for _, f := range files {
		f.dispose()
	}
	p.visited.Clear()
}

func (p *Project) Disposing() bool { return p.disposing.Load() }

// Valid reports whether cached data owned by the project can be trusted.
func (p *Project) Valid() bool { return !p.Disposing() }

// File returns the file at path, which must exist in the project's file
// system.
func (p *Project) File(filePath string) (*File, error) {
	cleaned, ok := cleanPath(filePath)
	if !ok {
		return nil, fmt.Errorf("%v: invalid file path %q", p.label, filePath)
	}
	if p.Disposing() {
		return nil, fmt.Errorf("%v: project is disposing", p.label)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.files[cleaned]; ok {
		return f, nil
	}
	if !fileExists(p.fs, cleaned) {
		return nil, fmt.Errorf("%v: %s does not exist", p.label, cleaned)
	}
	f := newFile(p, cleaned)
	p.files[cleaned] = f
	return f, nil
}

func (p *Project) lookupFile(filePath string) (*File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[filePath]
	return f, ok
}

// StartEntry identifies file as the start of a walk in this project.
func (p *Project) StartEntry(f *File) preproc.StartEntry {
	return preproc.StartEntry{File: f.path, FileSystem: p.fs.ID(), Project: p.label}
}

// Macros returns the macros predefined for every file of the project: the
// platform macros, then configuration and project defines.
func (p *Project) Macros() []preproc.Macro {
	macros := preproc.MacrosFromEnvironment(p.config.Platform.Macros(), preproc.KindSystem)
	return append(macros, preproc.MacrosFromDefinitions(p.defines, preproc.KindUser)...)
}

// DefaultHandler returns a fresh handler for walking f from its start.
func (p *Project) DefaultHandler(f *File) *preproc.Handler {
	return preproc.NewHandler(p.StartEntry(f), p.Macros()...)
}

// SearchDir is an include search directory.
type SearchDir struct {
	FileSystem FileSystem
	Dir        string
	System     bool
}

// SearchPath returns the directories searched for includes, user directories
// first.
func (p *Project) SearchPath() []SearchDir {
	var result []SearchDir
	for _, dir := range p.includeDirs {
		result = append(result, SearchDir{FileSystem: p.fs, Dir: dir})
	}
	systemFS := p.workspace.systemFileSystem()
	if systemFS == nil {
		systemFS = p.fs
	}
	for _, dir := range p.systemIncludeDirs {
		result = append(result, SearchDir{FileSystem: systemFS, Dir: dir, System: true})
	}
	return result
}

// ResolvedInclude is the file an include directive refers to.
type ResolvedInclude struct {
	Path       string
	FileSystem FileSystem
	// Index into SearchPath of the directory the file was found in, -1 when
	// found relative to the including file.
	SearchIndex int
}

// ResolveInclude finds the file named by an include directive of the file
// fromPath. Quoted includes look next to the including file first. An
// #include_next continues after the directory fromSearchIndex.
func (p *Project) ResolveInclude(fromFS FileSystem, fromPath string, fromSearchIndex int, name string, isSystem, next bool) (ResolvedInclude, bool) {
	if name == "" {
		return ResolvedInclude{}, false
	}
	searchPath := p.SearchPath()
	start := 0
	if next {
		start = fromSearchIndex + 1
	} else if !isSystem && fromFS != nil {
		candidate := path.Join(path.Dir(fromPath), name)
		if fileExists(fromFS, candidate) {
			cleaned, _ := cleanPath(candidate)
			return ResolvedInclude{Path: cleaned, FileSystem: fromFS, SearchIndex: -1}, true
		}
	}
	for i := max(start, 0); i < len(searchPath); i++ {
		dir := searchPath[i]
		candidate := path.Join(dir.Dir, name)
		if fileExists(dir.FileSystem, candidate) {
			cleaned, _ := cleanPath(candidate)
			return ResolvedInclude{Path: cleaned, FileSystem: dir.FileSystem, SearchIndex: i}, true
		}
	}
	if next {
		return ResolvedInclude{}, false
	}
	if v, ok := p.workspace.virtualInclude(name); ok && fileExists(v.fs, v.path) {
		return ResolvedInclude{Path: v.path, FileSystem: v.fs, SearchIndex: len(searchPath)}, true
	}
	// Bazel puts the workspace root on the search path.
	if fileExists(p.fs, name) {
		cleaned, _ := cleanPath(name)
		return ResolvedInclude{Path: cleaned, FileSystem: p.fs, SearchIndex: len(searchPath)}, true
	}
	return ResolvedInclude{}, false
}

// QueueParse records a request to parse f starting from state.
func (p *Project) QueueParse(f *File, state preproc.State) {
	if p.Disposing() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.parseQueue {
		if req.File == f && req.State.Equal(state) {
			return
		}
	}
	p.parseQueue = append(p.parseQueue, ParseRequest{File: f, State: state})
}

// DrainParseQueue returns and clears the queued parse requests.
func (p *Project) DrainParseQueue() []ParseRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.parseQueue
	p.parseQueue = nil
	return queue
}
