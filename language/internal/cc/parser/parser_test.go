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
	"strings"
	"testing"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directiveStrings(directives []Directive) []string {
	return collections.MapSlice(directives, func(d Directive) string { return strings.TrimSpace(d.String()) })
}

func TestParseIncludes(t *testing.T) {
	testCases := []struct {
		input    string
		expected []string
	}{
		{
			// Parses valid source code
			input: `
#include <stdio.h>
#include "myheader.h"
# include <math.h>
#include_next <sys/types.h>
`,
			expected: []string{
				"#include <stdio.h>",
				`#include "myheader.h"`,
				"#include <math.h>",
				"#include_next <sys/types.h>",
			},
		},
		{
			// Malformed includes are kept for macro expansion, unknown directives are skipped
			input: `
#include "valid.h"
#include HEADER
#include <other_valid>
#
# unknown_directive
`,
			expected: []string{
				`#include "valid.h"`,
				"#include HEADER",
				"#include <other_valid>",
			},
		},
		{
			// Directives are recognized only at the beginning of a line
			input: `
int x; #include "not_a_directive.h"
/* comment */ #include "after_comment.h"
`,
			expected: []string{
				`#include "after_comment.h"`,
			},
		},
	}

	for _, tc := range testCases {
		apt := ParseSource("test.c", []byte(tc.input), ModeLight)
		assert.Equal(t, tc.expected, directiveStrings(apt.Directives), "input: %q", tc.input)
	}
}

func TestIncludeIndexes(t *testing.T) {
	input := `
#include "a.h"
#if 0
#include "b.h"
#else
#include "c.h"
#endif
#include "d.h"
`
	apt := ParseSource("test.c", []byte(input), ModeLight)
	includes := apt.Includes()
	require.Len(t, includes, 4)
	assert.Equal(t, 4, apt.IncludeCount)
	for i, include := range includes {
		assert.Equal(t, i, include.Index)
	}
	assert.Equal(t, []string{"a.h", "b.h", "c.h", "d.h"}, collections.MapSlice(includes, func(d IncludeDirective) string { return d.Path }))
	assert.Equal(t, []int{2, 4, 6, 8}, collections.MapSlice(includes, func(d IncludeDirective) int { return d.LineNumber }))
}

func TestParseDefines(t *testing.T) {
	testCases := []struct {
		input        string
		name         string
		functionLike bool
		params       []string
		variadic     bool
		body         string
		valid        bool
	}{
		{input: "#define MACRO", name: "MACRO", valid: true},
		{input: "#define VALUE 42", name: "VALUE", body: "42", valid: true},
		{input: "#define SQUARE(x) ((x)*(x))", name: "SQUARE", functionLike: true, params: []string{"x"}, body: "( ( x ) * ( x ) )", valid: true},
		{input: "#define NOT_FUNC (x) x", name: "NOT_FUNC", body: "( x ) x", valid: true},
		{input: "#define EMPTY()", name: "EMPTY", functionLike: true, params: []string{}, valid: true},
		{input: "#define LOG(fmt, ...) printf(fmt, __VA_ARGS__)", name: "LOG", functionLike: true, params: []string{"fmt", VariadicParam}, variadic: true, body: "printf ( fmt , __VA_ARGS__ )", valid: true},
		{input: "#define GNU(args...) f(args)", name: "GNU", functionLike: true, params: []string{"args"}, variadic: true, body: "f ( args )", valid: true},
		{input: "#define STR(x) #x", name: "STR", functionLike: true, params: []string{"x"}, body: "# x", valid: true},
		{input: "#define CAT(a, b) a ## b", name: "CAT", functionLike: true, params: []string{"a", "b"}, body: "a ## b", valid: true},
		{input: "#define LINE \\\n  continued", name: "LINE", body: "continued", valid: true},
		{input: "#define /* comment */ COMMENTED 1 // trailing", name: "COMMENTED", body: "1", valid: true},
		{input: "#define BAD_STR(x) #y", name: "BAD_STR", functionLike: true, params: []string{"x"}, body: "# y", valid: false},
		{input: "#define BAD_PASTE ## x", name: "BAD_PASTE", body: "## x", valid: false},
		{input: "#define BAD_PARAMS(a,) a", name: "BAD_PARAMS", functionLike: true, valid: false},
		{input: "#define DUPLICATE(a, a) a", name: "DUPLICATE", functionLike: true, valid: false},
		{input: "#define UNCLOSED(a", name: "UNCLOSED", functionLike: true, valid: false},
		{input: "#define 123", name: "123", valid: false},
	}

	for _, tc := range testCases {
		apt := ParseSource("test.c", []byte(tc.input), ModeLight)
		require.Len(t, apt.Directives, 1, "input: %q", tc.input)
		define, ok := apt.Directives[0].(DefineDirective)
		require.True(t, ok, "input: %q", tc.input)

		assert.Equal(t, tc.name, define.Name, "input: %q", tc.input)
		assert.Equal(t, tc.functionLike, define.FunctionLike, "input: %q", tc.input)
		assert.Equal(t, tc.valid, define.Valid, "input: %q", tc.input)
		if tc.valid || tc.body != "" {
			assert.Equal(t, tc.params, define.Params, "input: %q", tc.input)
			assert.Equal(t, tc.variadic, define.Variadic, "input: %q", tc.input)
			assert.Equal(t, tc.body, joinContents(define.Body), "input: %q", tc.input)
		}
	}
}

func TestDefineTokenOffsets(t *testing.T) {
	input := "int a;\n#define FOO(x)\n"
	apt := ParseSource("test.c", []byte(input), ModeLight)
	define := apt.Directives[0].(DefineDirective)
	assert.Equal(t, 7, define.Token.Offset)
	assert.Equal(t, 15, define.NameToken.Offset)
	assert.Equal(t, 18, define.NameToken.EndOffset())
	assert.Empty(t, define.Body)
}

func TestParseConditionals(t *testing.T) {
	input := `#ifdef A
int a;
#elif defined(B) && C > 1
int b;
#else
int c;
#endif
int tail;
`
	apt := ParseSource("test.c", []byte(input), ModeFull)
	require.Len(t, apt.Directives, 2)

	block, ok := apt.Directives[0].(IfBlock)
	require.True(t, ok)
	require.Len(t, block.Branches, 3)

	assert.Equal(t, IfBranch, block.Branches[0].Kind)
	assert.Equal(t, lexer.TokenType_PreprocessorIfdef, block.Branches[0].Token.Type)
	assert.Equal(t, "A", joinContents(block.Branches[0].Condition))
	assert.Equal(t, []string{"int a ;"}, directiveStrings(block.Branches[0].Body))

	assert.Equal(t, ElifBranch, block.Branches[1].Kind)
	assert.Equal(t, "defined ( B ) && C > 1", joinContents(block.Branches[1].Condition))

	assert.Equal(t, ElseBranch, block.Branches[2].Kind)
	assert.Nil(t, block.Branches[2].Condition)
	assert.Equal(t, []string{"int c ;"}, directiveStrings(block.Branches[2].Body))

	// Body ranges cover exactly the lines between branch directives.
	for _, branch := range block.Branches {
		body := input[branch.BodyStart:branch.BodyEnd]
		assert.True(t, strings.HasPrefix(body, "int "), "body: %q", body)
		assert.True(t, strings.HasSuffix(body, ";\n"), "body: %q", body)
	}
	assert.Equal(t, strings.Index(input, "int tail"), block.EndOffset)

	assert.Equal(t, "int tail ;", apt.Directives[1].String())
}

func TestLightModeDropsTokenRuns(t *testing.T) {
	input := `int a;
#define X 1
int b;
#if X
int c;
#endif
`
	apt := ParseSource("test.c", []byte(input), ModeLight)
	assert.Equal(t, []string{"#define X 1", "#if X\n#endif"}, directiveStrings(apt.Directives))
}

func TestMalformedConditionals(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "unpaired endif and else are skipped",
			input:    "#endif\n#else\n#define A\n",
			expected: []string{"#define A"},
		},
		{
			name:     "unterminated block is closed at the end of input",
			input:    "#if 1\n#define A\n",
			expected: []string{"#if 1\n#define A\n#endif"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apt := ParseSource("test.c", []byte(tc.input), ModeLight)
			assert.Equal(t, tc.expected, directiveStrings(apt.Directives))
		})
	}
}

func TestUnterminatedBlockRange(t *testing.T) {
	input := "#if 0\nint x;\n"
	apt := ParseSource("test.c", []byte(input), ModeFull)
	block := apt.Directives[0].(IfBlock)
	assert.Equal(t, 6, block.Branches[0].BodyStart)
	assert.Equal(t, len(input), block.Branches[0].BodyEnd)
	assert.Equal(t, len(input), block.EndOffset)
}

func TestErrorAndPragmaDirectives(t *testing.T) {
	input := `#error  Unsupported platform
#warning deprecated header
#pragma once
#pragma disable_ldscope
#pragma GCC diagnostic push
`
	apt := ParseSource("test.c", []byte(input), ModeLight)
	require.Len(t, apt.Directives, 5)

	assert.Equal(t, ErrorDirective{Token: apt.Directives[0].(ErrorDirective).Token, Message: "Unsupported platform"}, apt.Directives[0])
	assert.True(t, apt.Directives[1].(ErrorDirective).Warning)
	assert.Equal(t, "deprecated header", apt.Directives[1].(ErrorDirective).Message)
	assert.Equal(t, "once", apt.Directives[2].(PragmaDirective).Name)
	assert.Equal(t, "disable_ldscope", apt.Directives[3].(PragmaDirective).Name)
	assert.Equal(t, "#pragma GCC diagnostic push", apt.Directives[4].String())
}

func TestUndefDirective(t *testing.T) {
	apt := ParseSource("test.c", []byte("#undef FOO\n#undef\n"), ModeLight)
	assert.Equal(t, []string{"#undef FOO"}, directiveStrings(apt.Directives))
}

func TestIncludeGuardDetection(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name: "ifndef guard",
			input: `// Copyright header
#ifndef FOO_H
#define FOO_H
int foo();
#endif // FOO_H
`,
			expected: "FOO_H",
		},
		{
			name: "if not defined guard",
			input: `#if !defined(BAR_H)
#define BAR_H
#endif
`,
			expected: "BAR_H",
		},
		{
			name: "code outside of the guard",
			input: `int x;
#ifndef FOO_H
#define FOO_H
#endif
`,
		},
		{
			name: "guard with else branch",
			input: `#ifndef FOO_H
#define FOO_H
#else
#endif
`,
		},
		{
			name: "define does not match",
			input: `#ifndef FOO_H
#define OTHER
#endif
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, mode := range []Mode{ModeLight, ModeFull} {
				apt := ParseSource("test.h", []byte(tc.input), mode)
				assert.Equal(t, tc.expected, apt.GuardMacro, "mode: %v", mode)
			}
		})
	}
}

func TestMidLineDirectiveInFullMode(t *testing.T) {
	apt := ParseSource("test.c", []byte("a #if b\n"), ModeFull)
	require.Len(t, apt.Directives, 1)
	run := apt.Directives[0].(TokenRun)
	assert.Equal(t, []lexer.TokenType{
		lexer.TokenType_Identifier,
		lexer.TokenType_Hash,
		lexer.TokenType_Identifier,
		lexer.TokenType_Identifier,
	}, collections.MapSlice(run.Tokens, func(token lexer.Token) lexer.TokenType { return token.Type }))
}
