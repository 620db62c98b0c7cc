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

package lexer

import (
	"bytes"
	"regexp"
)

type (
	// Abstraction over regexp.Regexp allows providing an alternative implementation.
	matcher interface {
		// Return the length of the match at the very beginning of content, or 0
		// if the content does not start with a match.
		MatchPrefix(content []byte) int
	}

	// Matcher for fixed strings. No need to use regexp.Regexp for such simple cases.
	fixedStringMatcher string

	// Matcher for regular expressions, implicitly anchored at the beginning
	// of the content.
	prefixRegexpMatcher struct {
		re *regexp.Regexp
	}

	// Matcher for C++11 raw string literals, R"delim( ... )delim". The end
	// delimiter depends on the opening one, which is beyond regular
	// expressions.
	rawStringMatcher struct{}

	// Represents a way of matching a specific token type.
	matchingRule struct {
		matchedType  TokenType
		matchingImpl matcher
	}
)

func (fs fixedStringMatcher) MatchPrefix(content []byte) int {
	if bytes.HasPrefix(content, []byte(fs)) {
		return len(fs)
	}
	return 0
}

func newPrefixRegexpMatcher(expr string) prefixRegexpMatcher {
	return prefixRegexpMatcher{re: regexp.MustCompile(`\A(?:` + expr + `)`)}
}

func (m prefixRegexpMatcher) MatchPrefix(content []byte) int {
	if loc := m.re.FindIndex(content); loc != nil {
		return loc[1]
	}
	return 0
}

var rawStringPrefix = regexp.MustCompile(`\A(?:u8|u|U|L)?R"`)

func (rawStringMatcher) MatchPrefix(content []byte) int {
	prefix := rawStringPrefix.FindIndex(content)
	if prefix == nil {
		return 0
	}
	open := bytes.IndexByte(content[prefix[1]:], '(')
	if open < 0 {
		return 0
	}
	open += prefix[1]
	customDelimiterName := content[prefix[1]:open]
	if bytes.ContainsAny(customDelimiterName, " \\\t\n)") {
		return 0
	}

	endDelimiter := make([]byte, 0, len(customDelimiterName)+len(`)"`))
	endDelimiter = append(endDelimiter, ')')
	endDelimiter = append(endDelimiter, customDelimiterName...)
	endDelimiter = append(endDelimiter, '"')

	endIndex := bytes.Index(content[open:], endDelimiter)
	if endIndex < 0 {
		// Unterminated, extends to the end of the input.
		return len(content)
	}
	return open + endIndex + len(endDelimiter)
}

func preprocessorMatcher(directiveName string) matcher {
	return newPrefixRegexpMatcher(`#[\t\v\f\r ]*` + directiveName + `\b`)
}

// The longest match wins. When two rules match the same length, the one listed
// first wins.
var matchingRules = []matchingRule{
	{matchedType: TokenType_Newline, matchingImpl: fixedStringMatcher("\n")},
	{matchedType: TokenType_Whitespace, matchingImpl: newPrefixRegexpMatcher(`[\t\v\f\r ]+`)},
	{matchedType: TokenType_ContinueLine, matchingImpl: newPrefixRegexpMatcher(`\\[\t\v\f\r ]*\n`)},
	{matchedType: TokenType_LinkerScope, matchingImpl: newPrefixRegexpMatcher(`(?:__symbolic|__global|__hidden)\b`)},
	{matchedType: TokenType_Identifier, matchingImpl: newPrefixRegexpMatcher(`[A-Za-z_][A-Za-z0-9_]*`)},
	{matchedType: TokenType_LiteralNumber, matchingImpl: newPrefixRegexpMatcher(`\.?[0-9](?:[eEpP][+-]|[0-9A-Za-z_.'])*`)},
	{matchedType: TokenType_LiteralString, matchingImpl: newPrefixRegexpMatcher(`(?:u8|u|U|L)?"(?:[^"\\\n]|\\(?:.|\n))*"?`)},
	{matchedType: TokenType_LiteralString, matchingImpl: rawStringMatcher{}},
	{matchedType: TokenType_LiteralChar, matchingImpl: newPrefixRegexpMatcher(`(?:u8|u|U|L)?'(?:[^'\\\n]|\\(?:.|\n))*'?`)},
	{matchedType: TokenType_CommentSingleLine, matchingImpl: newPrefixRegexpMatcher(`//[^\n]*`)},
	{matchedType: TokenType_CommentMultiLine, matchingImpl: newPrefixRegexpMatcher(`(?s)/\*.*?(?:\*/|\z)`)},
	{matchedType: TokenType_PreprocessorDefine, matchingImpl: preprocessorMatcher("define")},
	{matchedType: TokenType_PreprocessorElif, matchingImpl: preprocessorMatcher("elif")},
	{matchedType: TokenType_PreprocessorElifdef, matchingImpl: preprocessorMatcher("elifdef")},
	{matchedType: TokenType_PreprocessorElifndef, matchingImpl: preprocessorMatcher("elifndef")},
	{matchedType: TokenType_PreprocessorElse, matchingImpl: preprocessorMatcher("else")},
	{matchedType: TokenType_PreprocessorEndif, matchingImpl: preprocessorMatcher("endif")},
	{matchedType: TokenType_PreprocessorError, matchingImpl: preprocessorMatcher("error")},
	{matchedType: TokenType_PreprocessorIf, matchingImpl: preprocessorMatcher("if")},
	{matchedType: TokenType_PreprocessorIfdef, matchingImpl: preprocessorMatcher("ifdef")},
	{matchedType: TokenType_PreprocessorIfndef, matchingImpl: preprocessorMatcher("ifndef")},
	{matchedType: TokenType_PreprocessorInclude, matchingImpl: preprocessorMatcher("include")},
	{matchedType: TokenType_PreprocessorIncludeNext, matchingImpl: preprocessorMatcher("include_next")},
	{matchedType: TokenType_PreprocessorPragma, matchingImpl: preprocessorMatcher("pragma")},
	{matchedType: TokenType_PreprocessorUndef, matchingImpl: preprocessorMatcher("undef")},
	{matchedType: TokenType_PreprocessorWarning, matchingImpl: preprocessorMatcher("warning")},
	{matchedType: TokenType_HashHash, matchingImpl: fixedStringMatcher("##")},
	{matchedType: TokenType_Hash, matchingImpl: fixedStringMatcher("#")},
	{matchedType: TokenType_OperatorEqual, matchingImpl: fixedStringMatcher("==")},
	{matchedType: TokenType_OperatorGreater, matchingImpl: fixedStringMatcher(">")},
	{matchedType: TokenType_OperatorGreaterOrEqual, matchingImpl: fixedStringMatcher(">=")},
	{matchedType: TokenType_OperatorLess, matchingImpl: fixedStringMatcher("<")},
	{matchedType: TokenType_OperatorLessOrEqual, matchingImpl: fixedStringMatcher("<=")},
	{matchedType: TokenType_OperatorLogicalAnd, matchingImpl: fixedStringMatcher("&&")},
	{matchedType: TokenType_OperatorLogicalNot, matchingImpl: fixedStringMatcher("!")},
	{matchedType: TokenType_OperatorLogicalOr, matchingImpl: fixedStringMatcher("||")},
	{matchedType: TokenType_OperatorNotEqual, matchingImpl: fixedStringMatcher("!=")},
	{matchedType: TokenType_OperatorPlus, matchingImpl: fixedStringMatcher("+")},
	{matchedType: TokenType_OperatorMinus, matchingImpl: fixedStringMatcher("-")},
	{matchedType: TokenType_OperatorMultiply, matchingImpl: fixedStringMatcher("*")},
	{matchedType: TokenType_OperatorDivide, matchingImpl: fixedStringMatcher("/")},
	{matchedType: TokenType_OperatorModulo, matchingImpl: fixedStringMatcher("%")},
	{matchedType: TokenType_Operator, matchingImpl: newPrefixRegexpMatcher(`->\*?|\+\+|--|<<=?|>>=?|\.\.\.|::|\.\*|[-+*/%&|^=]=|[~?:.&|^=]`)},
	{matchedType: TokenType_BraceLeft, matchingImpl: fixedStringMatcher("{")},
	{matchedType: TokenType_BraceRight, matchingImpl: fixedStringMatcher("}")},
	{matchedType: TokenType_BracketLeft, matchingImpl: fixedStringMatcher("[")},
	{matchedType: TokenType_BracketRight, matchingImpl: fixedStringMatcher("]")},
	{matchedType: TokenType_Comma, matchingImpl: fixedStringMatcher(",")},
	{matchedType: TokenType_ParenthesisLeft, matchingImpl: fixedStringMatcher("(")},
	{matchedType: TokenType_ParenthesisRight, matchingImpl: fixedStringMatcher(")")},
	{matchedType: TokenType_Semicolon, matchingImpl: fixedStringMatcher(";")},
}
