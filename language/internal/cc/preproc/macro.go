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

// Package preproc holds the live preprocessor context of a walk: the macro
// map, the stack of files being included and the set of `#pragma once`
// files. Handler is the mutable side, State an immutable snapshot of it.
package preproc

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
)

// MacroKind tells where a macro definition comes from.
type MacroKind int

const (
	// Predefined by the compiler for the target platform
	KindSystem MacroKind = iota
	// Passed on the command line of a project (-D)
	KindUser
	// Defined by a #define directive of a file
	KindFile
)

func (k MacroKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUser:
		return "user"
	default:
		return "file"
	}
}

// Macro is a single macro binding of the macro map. Body tokens are shared
// between snapshots and must not be modified.
type Macro struct {
	Name         string
	FunctionLike bool
	Params       []string
	Variadic     bool
	Body         []lexer.Token
	Kind         MacroKind
	// File defining the macro, empty for system and user macros
	File string
}

// MacroFromDirective converts a #define directive of the given file.
func MacroFromDirective(define parser.DefineDirective, file string) Macro {
	return Macro{
		Name:         define.Name,
		FunctionLike: define.FunctionLike,
		Params:       define.Params,
		Variadic:     define.Variadic,
		Body:         define.Body,
		Kind:         KindFile,
		File:         file,
	}
}

// ObjectMacro creates a macro whose body is the given text.
func ObjectMacro(name, body string, kind MacroKind) Macro {
	return Macro{Name: name, Body: lexer.SignificantTokens(body), Kind: kind}
}

// MacrosFromDefinitions converts -D style definitions of a project.
func MacrosFromDefinitions(definitions []cc.MacroDefinition, kind MacroKind) []Macro {
	var result []Macro
	for _, def := range definitions {
		apt := parser.ParseSource("<command-line>", []byte(def.Source()), parser.ModeLight)
		for _, directive := range apt.Directives {
			if define, ok := directive.(parser.DefineDirective); ok && define.Valid {
				macro := MacroFromDirective(define, "")
				macro.Kind = kind
				result = append(result, macro)
			}
		}
	}
	return result
}

// MacrosFromEnvironment converts integer valued macros, e.g. the predefined
// macros of a platform.
func MacrosFromEnvironment(env parser.Environment, kind MacroKind) []Macro {
	return collections.MapSlice(slices.Sorted(maps.Keys(env)), func(name string) Macro {
		return ObjectMacro(name, fmt.Sprint(env[name]), kind)
	})
}

// Equivalent reports whether both macros expand in the same way, regardless
// of where they were defined.
func (m Macro) Equivalent(other Macro) bool {
	if m.Name != other.Name || m.FunctionLike != other.FunctionLike || m.Variadic != other.Variadic {
		return false
	}
	if !slices.Equal(m.Params, other.Params) || len(m.Body) != len(other.Body) {
		return false
	}
	for i := range m.Body {
		if m.Body[i].Type != other.Body[i].Type || m.Body[i].Content != other.Body[i].Content {
			return false
		}
	}
	return true
}

// ParamIndex returns the position of a parameter or -1.
func (m Macro) ParamIndex(name string) int {
	if !m.FunctionLike {
		return -1
	}
	return slices.Index(m.Params, name)
}

func (m Macro) String() string {
	body := strings.Join(collections.MapSlice(m.Body, func(t lexer.Token) string { return t.Content }), " ")
	if !m.FunctionLike {
		return strings.TrimSpace(fmt.Sprintf("%s %s", m.Name, body))
	}
	return strings.TrimSpace(fmt.Sprintf("%s(%s) %s", m.Name, strings.Join(m.Params, ","), body))
}
