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

// Package lexer breaks C/C++ source code into preprocessing tokens.
//
// The lexer never fails: bytes that do not start any known token become
// single-character TokenType_Unassigned tokens, and unterminated comments or
// literals extend to the end of the line (strings) or input (comments).
package lexer

import (
	"strings"
	"unicode/utf8"
)

// Lexer breaks the input C/C++ source code into a sequence of tokens.
type Lexer struct {
	source []byte
	offset int
	cursor Cursor
}

func NewLexer(sourceCode []byte) *Lexer {
	return &Lexer{source: sourceCode, cursor: CursorInit}
}

func (lx *Lexer) consume(content string) {
	lx.offset += len(content)
	lx.cursor = lx.cursor.AdvancedBy(content)
}

func (lx *Lexer) NextToken() Token {
	dataLeft := lx.source[lx.offset:]
	if len(dataLeft) == 0 {
		return TokenEOF
	}

	tokenType := TokenType_Unassigned
	tokenLength := 0
	for _, rule := range matchingRules {
		if length := rule.matchingImpl.MatchPrefix(dataLeft); length > tokenLength {
			tokenType = rule.matchedType
			tokenLength = length
		}
	}
	if tokenLength == 0 {
		// Nothing matched, emit a single character.
		_, tokenLength = utf8.DecodeRune(dataLeft)
	}

	result := Token{Type: tokenType, Location: lx.cursor, Offset: lx.offset, Content: string(dataLeft[:tokenLength])}
	lx.consume(result.Content)
	return result
}

func (lx *Lexer) Tokenize() []Token {
	var tokens []Token
	for lx.offset < len(lx.source) {
		tokens = append(tokens, lx.NextToken())
	}
	return tokens
}

// Tokenize is a shorthand for NewLexer([]byte(text)).Tokenize().
func Tokenize(text string) []Token {
	return NewLexer([]byte(text)).Tokenize()
}

// SignificantTokens tokenizes text dropping whitespace, newlines and line
// continuations.
func SignificantTokens(text string) []Token {
	var result []Token
	for _, token := range Tokenize(text) {
		if token.Type.IsSignificant() {
			result = append(result, token)
		}
	}
	return result
}

// SplitDirective converts a directive token found in the middle of a line,
// e.g. `#if` in a macro body, into a Hash token followed by an identifier.
func SplitDirective(token Token) []Token {
	if !token.Type.IsPreprocessorDirective() {
		return []Token{token}
	}
	hash := Token{Type: TokenType_Hash, Location: token.Location, Offset: token.Offset, Content: "#"}
	nameBegin := len(token.Content) - len(strings.TrimLeft(token.Content[1:], "\t\v\f\r "))
	nameContent := token.Content[nameBegin:]
	name := Token{
		Type:     TokenType_Identifier,
		Location: token.Location.AdvancedBy(token.Content[:nameBegin]),
		Offset:   token.Offset + nameBegin,
		Content:  nameContent,
	}
	return []Token{hash, name}
}

// DirectiveName returns the name of a directive token, e.g. "define" for
// "#  define".
func DirectiveName(token Token) string {
	return strings.TrimLeft(strings.TrimPrefix(token.Content, "#"), "\t\v\f\r ")
}
