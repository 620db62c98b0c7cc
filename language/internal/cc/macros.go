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

package cc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
)

// MacroDefinition is a single macro passed on the command line, e.g.
// `-DFOO`, `-DVERSION=2` or `-DMAX(a,b)=((a)>(b)?(a):(b))`.
// Any definition without an explicit value is assumed to be equal 1.
type MacroDefinition struct {
	Name string
	// Parameter list including the parentheses, empty for object-like macros.
	Params string
	Value  string
}

// Source renders the definition as a `#define` line.
func (d MacroDefinition) Source() string {
	return strings.TrimSpace(fmt.Sprintf("#define %s%s %s", d.Name, d.Params, d.Value))
}

func (d MacroDefinition) String() string {
	if d.Value == "" {
		return d.Name + d.Params
	}
	return fmt.Sprintf("%s%s=%s", d.Name, d.Params, d.Value)
}

// ParseMacro parses a single -D style macro definition. The `-D` prefix is optional.
func ParseMacro(definition string) (MacroDefinition, error) {
	definition = strings.TrimPrefix(strings.TrimSpace(definition), "-D") // tolerate gcc/clang style
	head, value, hasValue := strings.Cut(definition, "=")
	if !hasValue {
		value = "1"
	}

	name, params := head, ""
	if idx := strings.IndexByte(head, '('); idx >= 0 {
		name, params = head[:idx], head[idx:]
		if !strings.HasSuffix(params, ")") {
			return MacroDefinition{}, fmt.Errorf("macro %s: unterminated parameter list", definition)
		}
	}
	if !parser.MacroIdentifierRegex.MatchString(name) {
		return MacroDefinition{}, fmt.Errorf("invalid macro name %q", name)
	}

	result := MacroDefinition{Name: name, Params: params, Value: strings.TrimSpace(value)}
	// Let the directive parser validate parameters and replacement list
	apt := parser.ParseSource("<command-line>", []byte(result.Source()), parser.ModeLight)
	if len(apt.Directives) != 1 {
		return MacroDefinition{}, fmt.Errorf("macro %s: not a valid definition", definition)
	}
	if define, ok := apt.Directives[0].(parser.DefineDirective); !ok || !define.Valid {
		return MacroDefinition{}, fmt.Errorf("macro %s: not a valid definition", definition)
	}
	return result, nil
}

// ParseMacros converts a slice of -D style macro definitions.
// Returns error if at least one definition failed to parse, the definitions
// that could be parsed are returned anyway.
func ParseMacros(definitions []string) ([]MacroDefinition, error) {
	var out []MacroDefinition
	var errs []error
	for _, def := range definitions {
		macro, err := ParseMacro(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, macro)
	}
	return out, errors.Join(errs...)
}

// IntValues returns the definitions whose value is an integer literal, in the
// form understood by the conditional-expression evaluator.
func IntValues(definitions []MacroDefinition) parser.Environment {
	env := parser.Environment{}
	for _, def := range definitions {
		if def.Params != "" || !parser.ParsableIntegerRegex.MatchString(def.Value) {
			continue
		}
		if value, err := parser.ParseIntLiteral(def.Value); err == nil {
			env[def.Name] = value
		}
	}
	return env
}
