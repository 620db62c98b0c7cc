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

package preproc

import (
	"maps"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/bazelbuild/bazel-gazelle/label"
)

// MaxIncludeDepth limits the nesting of #include directives.
const MaxIncludeDepth = 200

// IncludeState is the outcome of pushing a file onto the include stack.
type IncludeState int

const (
	IncludeSuccess IncludeState = iota
	// The file is already on the include stack
	IncludeRecursive
	// The include stack is too deep or the handler is not valid
	IncludeFail
)

func (s IncludeState) String() string {
	switch s {
	case IncludeSuccess:
		return "success"
	case IncludeRecursive:
		return "recursive"
	default:
		return "fail"
	}
}

// IncludeInfo is a frame of the include stack: the file that was entered and
// the directive of the including file that led there.
type IncludeInfo struct {
	Path       string
	FileSystem string
	// Index of the #include directive in the including file
	DirectiveIndex int
	// Offset and line of the #include directive in the including file
	Offset int
	Line   int
	// Position of the include directory the file was found in, -1 when it
	// was found relative to the including file. Used by #include_next.
	SearchIndex int
}

// StartEntry identifies the file a walk started from and the project owning
// it.
type StartEntry struct {
	File       string
	FileSystem string
	Project    label.Label
}

// Handler is the live preprocessor context. Handlers are not safe for
// concurrent use; Fork creates an independent handler sharing storage until
// either side is modified.
type Handler struct {
	macros     map[string]Macro
	ownsMacros bool
	once       collections.Set[string]
	ownsOnce   bool
	includes   []IncludeInfo
	start      StartEntry
	valid      bool
}

// NewHandler creates a valid handler with the given initial macros.
func NewHandler(start StartEntry, macros ...Macro) *Handler {
	h := &Handler{
		macros:     make(map[string]Macro, len(macros)),
		ownsMacros: true,
		once:       make(collections.Set[string]),
		ownsOnce:   true,
		start:      start,
		valid:      true,
	}
	for _, m := range macros {
		h.macros[m.Name] = m
	}
	return h
}

// FromState creates a handler continuing from a snapshot.
func FromState(state State) *Handler {
	h := &Handler{
		macros:     make(map[string]Macro, len(state.macros)),
		ownsMacros: true,
		once:       collections.ToSet(state.once),
		ownsOnce:   true,
		includes:   slices.Clone(state.includes),
		start:      state.start,
		valid:      state.valid,
	}
	for _, m := range state.macros {
		h.macros[m.Name] = m
	}
	return h
}

// Fork returns a handler with the same context. Later changes to either
// handler are not visible to the other one.
func (h *Handler) Fork() *Handler {
	h.ownsMacros = false
	h.ownsOnce = false
	return &Handler{
		macros:   h.macros,
		once:     h.once,
		includes: slices.Clone(h.includes),
		start:    h.start,
		valid:    h.valid,
	}
}

func (h *Handler) mutableMacros() map[string]Macro {
	if !h.ownsMacros {
		h.macros = maps.Clone(h.macros)
		h.ownsMacros = true
	}
	return h.macros
}

// Define binds the macro, replacing any previous definition.
func (h *Handler) Define(m Macro) {
	h.mutableMacros()[m.Name] = m
}

func (h *Handler) Undefine(name string) {
	if _, exists := h.macros[name]; exists {
		delete(h.mutableMacros(), name)
	}
}

func (h *Handler) Lookup(name string) (Macro, bool) {
	m, ok := h.macros[name]
	return m, ok
}

func (h *Handler) IsDefined(name string) bool {
	_, ok := h.macros[name]
	return ok
}

// MacroCount returns the number of bound macros.
func (h *Handler) MacroCount() int {
	return len(h.macros)
}

// PushInclude enters a file. Only IncludeSuccess changes the include stack.
func (h *Handler) PushInclude(info IncludeInfo) IncludeState {
	if !h.valid || len(h.includes) >= MaxIncludeDepth {
		return IncludeFail
	}
	if info.Path == h.start.File && info.FileSystem == h.start.FileSystem {
		return IncludeRecursive
	}
	for _, frame := range h.includes {
		if frame.Path == info.Path && frame.FileSystem == info.FileSystem {
			return IncludeRecursive
		}
	}
	h.includes = append(h.includes, info)
	return IncludeSuccess
}

// PopInclude leaves the innermost included file.
func (h *Handler) PopInclude() (IncludeInfo, bool) {
	if len(h.includes) == 0 {
		return IncludeInfo{}, false
	}
	last := h.includes[len(h.includes)-1]
	h.includes = h.includes[:len(h.includes)-1]
	return last, true
}

// IncludeStack returns a copy of the include stack, outermost frame first.
func (h *Handler) IncludeStack() []IncludeInfo {
	return slices.Clone(h.includes)
}

// CurrentFile returns the file on top of the include stack, or the start
// file.
func (h *Handler) CurrentFile() (path, fileSystem string) {
	if len(h.includes) == 0 {
		return h.start.File, h.start.FileSystem
	}
	top := h.includes[len(h.includes)-1]
	return top.Path, top.FileSystem
}

// MarkOnce records a file containing `#pragma once`.
func (h *Handler) MarkOnce(path string) {
	if !h.ownsOnce {
		h.once = maps.Clone(h.once)
		h.ownsOnce = true
	}
	h.once.Add(path)
}

// IsOnce reports whether the file contained `#pragma once` and was already
// included.
func (h *Handler) IsOnce(path string) bool {
	return h.once.Contains(path)
}

func (h *Handler) Start() StartEntry {
	return h.start
}

func (h *Handler) Valid() bool {
	return h.valid
}

// Invalidate marks the handler as not restored. An invalid handler refuses
// every include.
func (h *Handler) Invalidate() {
	h.valid = false
}

// State takes an immutable snapshot of the handler.
func (h *Handler) State() State {
	macros := slices.SortedFunc(maps.Values(h.macros), func(a, b Macro) int {
		return strings.Compare(a.Name, b.Name)
	})
	return newState(macros, slices.Clone(h.includes), h.once.SortedValues(strings.Compare), h.start, h.valid, false)
}
