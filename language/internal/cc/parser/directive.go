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

package parser

import (
	"fmt"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
)

// Mode selects how much of the source is retained in an APT.
type Mode int

const (
	// Directives only, plain code between them is dropped. Enough to gather
	// macros and includes.
	ModeLight Mode = iota
	// Directives and every significant token between them.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "light"
}

// APT (abstract preprocessor tree) of a single file: its directives in
// document order, with conditional blocks nested.
type APT struct {
	Path       string
	Mode       Mode
	Directives []Directive
	// Name of the include guard macro when the whole file is wrapped in
	// `#ifndef G / #define G / ... / #endif`, empty otherwise.
	GuardMacro string
	// Number of #include directives, including the ones in dead branches.
	IncludeCount int
	// Size of the source buffer in bytes.
	Size int
}

type (
	// Directive is a node of the APT. It is one of TokenRun, DefineDirective,
	// UndefineDirective, IncludeDirective, IfBlock, ErrorDirective or
	// PragmaDirective.
	Directive interface {
		fmt.Stringer
		// StartOffset is the byte offset at which the node begins.
		StartOffset() int
	}

	// TokenRun is a sequence of significant tokens between directives. Only
	// full APTs contain token runs.
	TokenRun struct {
		Tokens []lexer.Token
	}

	// IncludeDirective represents a `#include` or `#include_next` preprocessor directive.
	// If IsSystem is true, angle brackets were used (<...>), otherwise quotes ("...").
	IncludeDirective struct {
		Token    lexer.Token // The directive token itself
		Path     string      // Path of the included file, empty when Tokens must be macro-expanded first
		IsSystem bool        // True if system include (angle brackets), false if user include (quotes)
		Next     bool        // True for #include_next
		// Tokens following the directive name when the path is neither quoted
		// nor bracketed, e.g. `#include HEADER_NAME`.
		Tokens []lexer.Token
		// Position of the directive among all #include directives of the
		// file, in document order.
		Index      int
		LineNumber int
	}

	// DefineDirective represents a `#define` preprocessor directive, including
	// the macro name and any replacement tokens.
	DefineDirective struct {
		Token        lexer.Token   // The directive token itself
		NameToken    lexer.Token   // Token naming the macro
		Name         string        // Name of the macro
		FunctionLike bool          // True if the name is immediately followed by '('
		Params       []string      // Parameter names of a function-like macro, __VA_ARGS__ for '...'
		Variadic     bool          // True if the last parameter is variadic
		Body         []lexer.Token // Replacement list
		Valid        bool          // False for syntactically broken definitions
	}

	// UndefineDirective represents a `#undef` preprocessor directive i.e., the removal of a macro definition.
	UndefineDirective struct {
		Token lexer.Token
		Name  string // Name of the macro to undefine
	}

	// ErrorDirective represents `#error` or `#warning`.
	ErrorDirective struct {
		Token   lexer.Token
		Message string
		Warning bool
	}

	// PragmaDirective represents `#pragma name tokens...`.
	PragmaDirective struct {
		Token  lexer.Token
		Name   string
		Tokens []lexer.Token
	}

	// IfBlock represents a conditional compilation block such as #if/#ifdef/#ifndef, along with
	// any #elif and #else branches, and their nested directives.
	IfBlock struct {
		Branches  []ConditionalBranch // All branches of the conditional, in order
		EndOffset int                 // Offset right after the closing #endif line
	}

	// ConditionalBranch represents one branch in a conditional preprocessor block.
	ConditionalBranch struct {
		Kind  BranchKind  // The branch type (If, Elif, Else)
		Token lexer.Token // Directive token opening the branch, e.g. #ifdef
		// Tokens of the condition: a single identifier for #ifdef-like
		// branches, an expression for #if/#elif, nil for #else.
		Condition []lexer.Token
		Body      []Directive // Nested directives inside this branch
		// Byte range of the body, from the line after the branch directive to
		// the beginning of the next branch directive.
		BodyStart, BodyEnd int
	}

	// BranchKind identifies which kind of branch in a conditional preprocessor block.
	BranchKind int
)

const (
	IfBranch   BranchKind = iota // #if, #ifdef, #ifndef
	ElifBranch                   // #elif, #elifdef, #elifndef
	ElseBranch                   // #else
)

func (d TokenRun) StartOffset() int {
	if len(d.Tokens) == 0 {
		return 0
	}
	return d.Tokens[0].Offset
}
func (d IncludeDirective) StartOffset() int  { return d.Token.Offset }
func (d DefineDirective) StartOffset() int   { return d.Token.Offset }
func (d UndefineDirective) StartOffset() int { return d.Token.Offset }
func (d ErrorDirective) StartOffset() int    { return d.Token.Offset }
func (d PragmaDirective) StartOffset() int   { return d.Token.Offset }
func (d IfBlock) StartOffset() int {
	if len(d.Branches) == 0 {
		return 0
	}
	return d.Branches[0].Token.Offset
}

func joinContents(tokens []lexer.Token) string {
	return strings.Join(collections.MapSlice(tokens, func(token lexer.Token) string { return token.Content }), " ")
}

func (d TokenRun) String() string { return joinContents(d.Tokens) }

func (d IncludeDirective) String() string {
	name := "#include"
	if d.Next {
		name = "#include_next"
	}
	switch {
	case d.Path == "":
		return fmt.Sprintf("%s %s", name, joinContents(d.Tokens))
	case d.IsSystem:
		return fmt.Sprintf("%s <%s>", name, d.Path)
	default:
		return fmt.Sprintf("%s \"%s\"", name, d.Path)
	}
}

func (d DefineDirective) String() string {
	if !d.FunctionLike {
		return strings.TrimSpace(fmt.Sprintf("#define %s %s", d.Name, joinContents(d.Body)))
	}
	params := d.Params
	if d.Variadic && len(params) > 0 && params[len(params)-1] == VariadicParam {
		params = append(params[:len(params)-1:len(params)-1], "...")
	}
	return strings.TrimSpace(fmt.Sprintf("#define %s(%s) %s", d.Name, strings.Join(params, ", "), joinContents(d.Body)))
}

func (d UndefineDirective) String() string { return fmt.Sprintf("#undef %s", d.Name) }

func (d ErrorDirective) String() string {
	if d.Warning {
		return fmt.Sprintf("#warning %s", d.Message)
	}
	return fmt.Sprintf("#error %s", d.Message)
}

func (d PragmaDirective) String() string {
	return strings.TrimSpace(fmt.Sprintf("#pragma %s %s", d.Name, joinContents(d.Tokens)))
}

func (d IfBlock) String() string {
	var out string
	for _, br := range d.Branches {
		out += br.String()
	}
	out += "#endif\n"
	return out
}

func (b ConditionalBranch) String() string {
	var body string
	for _, d := range b.Body {
		body += d.String() + "\n"
	}
	if b.Kind == ElseBranch {
		return "#else\n" + body
	}
	return fmt.Sprintf("#%s %s\n%s", lexer.DirectiveName(b.Token), joinContents(b.Condition), body)
}

// Includes returns every #include directive of the APT, including the ones
// nested in conditional branches, in document order.
func (apt *APT) Includes() []IncludeDirective {
	var result []IncludeDirective
	var walk func([]Directive)
	walk = func(directives []Directive) {
		for _, d := range directives {
			switch v := d.(type) {
			case IncludeDirective:
				result = append(result, v)
			case IfBlock:
				for _, branch := range v.Branches {
					walk(branch.Body)
				}
			}
		}
	}
	walk(apt.Directives)
	return result
}
