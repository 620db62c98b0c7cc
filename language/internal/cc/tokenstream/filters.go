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

package tokenstream

import (
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
)

// Pragmas toggling the ldscope filter.
const (
	PragmaDisableLDScope = "disable_ldscope"
	PragmaEnableLDScope  = "enable_ldscope"
)

// LDScopeMarker creates the control token a walk emits in place of an
// ldscope pragma, so that the filter toggles exactly between the tokens
// preceding and following the pragma.
func LDScopeMarker(pragma string, at lexer.Token) lexer.Token {
	return lexer.Token{Type: lexer.TokenType_PreprocessorPragma, Location: at.Location, Offset: at.Offset, Content: pragma}
}

// IsLDScopeMarker reports whether the token was created by LDScopeMarker.
func IsLDScopeMarker(token lexer.Token) bool {
	return token.Type == lexer.TokenType_PreprocessorPragma &&
		(token.Content == PragmaDisableLDScope || token.Content == PragmaEnableLDScope)
}

// LDScopeFilter consumes ldscope markers and, while disabled, demotes
// linker scope specifiers (__symbolic, __global, __hidden) to identifiers.
type LDScopeFilter struct {
	source   TokenStream
	disabled bool
}

func NewLDScopeFilter(source TokenStream) *LDScopeFilter {
	return &LDScopeFilter{source: source}
}

func (f *LDScopeFilter) NextToken() lexer.Token {
	for {
		token := f.source.NextToken()
		switch {
		case IsLDScopeMarker(token):
			f.disabled = token.Content == PragmaDisableLDScope
			continue
		case f.disabled && token.Type == lexer.TokenType_LinkerScope:
			token.Type = lexer.TokenType_Identifier
		}
		return token
	}
}

// Disabled reports whether linker scope specifiers are currently demoted.
func (f *LDScopeFilter) Disabled() bool {
	return f.disabled
}

// Language selects the keyword set of the language filter.
type Language int

const (
	LanguageC Language = iota
	LanguageCPP
	LanguageFortran
)

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "c"
	case LanguageCPP:
		return "c++"
	default:
		return "fortran"
	}
}

// ParseLanguage accepts the names used in configuration directives.
func ParseLanguage(name string) (Language, bool) {
	switch strings.ToLower(name) {
	case "c":
		return LanguageC, true
	case "c++", "cpp", "cxx":
		return LanguageCPP, true
	case "fortran", "f", "f90":
		return LanguageFortran, true
	}
	return 0, false
}

var cKeywords = collections.SetOf(
	"auto", "break", "case", "char", "const", "continue", "default", "do", "double",
	"else", "enum", "extern", "float", "for", "goto", "if", "inline", "int", "long",
	"register", "restrict", "return", "short", "signed", "sizeof", "static", "struct",
	"switch", "typedef", "union", "unsigned", "void", "volatile", "while",
	"_Alignas", "_Alignof", "_Atomic", "_Bool", "_Complex", "_Generic", "_Imaginary",
	"_Noreturn", "_Static_assert", "_Thread_local",
)

var cppKeywords = collections.SetOf(
	"alignas", "alignof", "and", "and_eq", "asm", "bitand", "bitor", "bool", "catch",
	"char8_t", "char16_t", "char32_t", "class", "co_await", "co_return", "co_yield",
	"compl", "concept", "consteval", "constexpr", "constinit", "const_cast", "decltype",
	"delete", "dynamic_cast", "explicit", "export", "false", "friend", "mutable",
	"namespace", "new", "noexcept", "not", "not_eq", "nullptr", "operator", "or",
	"or_eq", "private", "protected", "public", "reinterpret_cast", "requires",
	"static_assert", "static_cast", "template", "this", "thread_local", "throw", "true",
	"try", "typeid", "typename", "using", "virtual", "wchar_t", "xor", "xor_eq",
).Join(cKeywords.Diff(collections.SetOf(
	"restrict", "_Alignas", "_Alignof", "_Atomic", "_Bool", "_Complex", "_Generic",
	"_Imaginary", "_Noreturn", "_Static_assert", "_Thread_local",
)))

// Fortran keywords are case insensitive, stored in lower case.
var fortranKeywords = collections.SetOf(
	"allocatable", "allocate", "call", "case", "character", "close", "common",
	"complex", "contains", "continue", "cycle", "data", "deallocate", "dimension", "do",
	"double", "else", "elseif", "end", "enddo", "endif", "exit", "function", "go",
	"goto", "if", "implicit", "in", "inout", "integer", "intent", "interface", "logical",
	"module", "none", "open", "out", "parameter", "pointer", "precision", "print",
	"private", "program", "public", "read", "real", "recursive", "result", "return",
	"save", "select", "stop", "subroutine", "target", "then", "type", "use", "where",
	"while", "write",
)

// IsKeyword reports whether the identifier is a reserved word of the
// language.
func (l Language) IsKeyword(identifier string) bool {
	switch l {
	case LanguageC:
		return cKeywords.Contains(identifier)
	case LanguageCPP:
		return cppKeywords.Contains(identifier)
	default:
		return fortranKeywords.Contains(strings.ToLower(identifier))
	}
}

// WithLanguage reclassifies identifiers that are keywords of the language.
func WithLanguage(source TokenStream, language Language) TokenStream {
	return &languageFilter{source: source, language: language}
}

type languageFilter struct {
	source   TokenStream
	language Language
}

func (f *languageFilter) NextToken() lexer.Token {
	token := f.source.NextToken()
	if token.Type == lexer.TokenType_Identifier && f.language.IsKeyword(token.Content) {
		token.Type = lexer.TokenType_Keyword
	}
	return token
}
