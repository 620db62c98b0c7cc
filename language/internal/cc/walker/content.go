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
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
)

// MacroInfo is a #define found in a file.
type MacroInfo struct {
	Name         string
	FunctionLike bool
	Params       []string
	// Byte range of the definition, see DefineOffsets.
	Start, End int
	Valid      bool
}

// IncludeInfo is an #include found in a file.
type IncludeInfo struct {
	// Name as written, or as expanded for `#include MACRO`
	Name           string
	IsSystem       bool
	DirectiveIndex int
	// Offsets of the directive name
	Offset, End int
	Line        int
	// Resolved file, empty when the include could not be resolved.
	Path       string
	FileSystem string
	Recursive  bool
	Failed     bool
	// Skipped because the file has `#pragma once` and was included before.
	Once bool
}

// ErrorInfo is an #error or #warning found in a file.
type ErrorInfo struct {
	Message string
	Warning bool
	Offset  int
	Line    int
}

// FileContent collects the macros, includes and errors found while walking a
// single file. Directives of included files are not part of it.
type FileContent struct {
	File     string
	Macros   []MacroInfo
	Includes []IncludeInfo
	Errors   []ErrorInfo
}

func newFileContent(file string) *FileContent {
	return &FileContent{File: file}
}

// DefineOffsets returns the byte range highlighted for a macro definition:
// from the #define token to the end of the last body token. A macro with an
// empty body ends with its name, also when it has parameters.
func DefineOffsets(d parser.DefineDirective) (start, end int) {
	start = d.Token.Offset
	if len(d.Body) > 0 {
		return start, d.Body[len(d.Body)-1].EndOffset()
	}
	return start, d.NameToken.EndOffset()
}

func (c *FileContent) addMacro(d parser.DefineDirective) {
	start, end := DefineOffsets(d)
	c.Macros = append(c.Macros, MacroInfo{
		Name:         d.Name,
		FunctionLike: d.FunctionLike,
		Params:       d.Params,
		Start:        start,
		End:          end,
		Valid:        d.Valid,
	})
}

func (c *FileContent) addInclude(d parser.IncludeDirective, name string, state preproc.IncludeState, path, fileSystem string, failed bool) {
	c.Includes = append(c.Includes, IncludeInfo{
		Name:           name,
		IsSystem:       d.IsSystem,
		DirectiveIndex: d.Index,
		Offset:         d.Token.Offset,
		End:            d.Token.EndOffset(),
		Line:           d.LineNumber,
		Path:           path,
		FileSystem:     fileSystem,
		Recursive:      state == preproc.IncludeRecursive,
		Failed:         failed || state == preproc.IncludeFail,
	})
}

func (c *FileContent) addError(d parser.ErrorDirective) {
	c.Errors = append(c.Errors, ErrorInfo{
		Message: d.Message,
		Warning: d.Warning,
		Offset:  d.Token.Offset,
		Line:    d.Token.Location.Line,
	})
}

// Macro returns the last definition of a macro in the file.
func (c *FileContent) Macro(name string) (MacroInfo, bool) {
	for i := len(c.Macros) - 1; i >= 0; i-- {
		if c.Macros[i].Name == name {
			return c.Macros[i], true
		}
	}
	return MacroInfo{}, false
}

func (c *FileContent) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d macros, %d includes, %d errors\n", c.File, len(c.Macros), len(c.Includes), len(c.Errors))
	for _, inc := range c.Includes {
		status := "ok"
		switch {
		case inc.Once:
			status = "once"
		case inc.Recursive:
			status = "recursive"
		case inc.Failed:
			status = "failed"
		}
		fmt.Fprintf(&sb, "  #%d %s -> %s (%s)\n", inc.DirectiveIndex, inc.Name, inc.Path, status)
	}
	return sb.String()
}
