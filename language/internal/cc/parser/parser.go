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

// Package parser builds abstract preprocessor trees (APTs) from C/C++ source
// code and parses `#if` conditions.
//
// Building an APT never fails. Malformed directives are either kept and
// marked invalid (#define) or skipped, unpaired #else/#elif/#endif are
// ignored and blocks left open at the end of the input are closed there.
package parser

import (
	"log"
	"os"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
)

// VariadicParam is the parameter name under which `...` arguments are bound.
const VariadicParam = "__VA_ARGS__"

const debug = false

// ParseSource builds the APT of the given source code.
func ParseSource(path string, input []byte, mode Mode) *APT {
	p := parser{source: input, mode: mode}
	for _, token := range lexer.NewLexer(input).Tokenize() {
		if token.Type != lexer.TokenType_Whitespace && token.Type != lexer.TokenType_ContinueLine {
			p.tokens = append(p.tokens, token)
		}
	}

	directives := p.parseDirectivesUntil(func(lexer.Token) bool { return false })
	apt := &APT{
		Path:         path,
		Mode:         mode,
		Directives:   directives,
		IncludeCount: p.includeCount,
		Size:         len(input),
	}
	if !p.codeOutsideBlocks {
		apt.GuardMacro = detectIncludeGuard(directives)
	}
	return apt
}

func ParseSourceFile(filename string, mode Mode) (*APT, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseSource(filename, content, mode), nil
}

type parser struct {
	source       []byte
	tokens       []lexer.Token // Tokens without whitespace and line continuations
	pos          int           // Index of the next token to be processed
	mode         Mode
	includeCount int
	depth        int // Nesting level of conditional blocks
	// Whether any code, other than comments and directives, appears outside
	// of conditional blocks. Tracked separately since light APTs drop code.
	codeOutsideBlocks bool
}

func (p *parser) eof() lexer.Token {
	return lexer.Token{Type: lexer.TokenType_EOF, Offset: len(p.source)}
}

func (p *parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.eof()
	}
	return p.tokens[p.pos]
}

func (p *parser) next() lexer.Token {
	token := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return token
}

// atLineStart reports whether the token at index i is the first token of its
// line, ignoring comments.
func (p *parser) atLineStart(i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch p.tokens[j].Type {
		case lexer.TokenType_Newline:
			return true
		case lexer.TokenType_CommentMultiLine:
			continue
		default:
			return false
		}
	}
	return true
}

func (p *parser) isDirectiveStart() bool {
	token := p.peek()
	return (token.Type.IsPreprocessorDirective() || token.Type == lexer.TokenType_Hash) && p.atLineStart(p.pos)
}

// readLine consumes the remaining tokens of the current line, including the
// terminating newline. Comments are dropped. Returns the tokens, the offset of
// the line end and the offset at which the next line begins.
func (p *parser) readLine() (tokens []lexer.Token, lineEnd, nextLineStart int) {
	for {
		token := p.next()
		switch token.Type {
		case lexer.TokenType_EOF:
			return tokens, token.Offset, token.Offset
		case lexer.TokenType_Newline:
			return tokens, token.Offset, token.EndOffset()
		case lexer.TokenType_CommentSingleLine, lexer.TokenType_CommentMultiLine:
			continue
		default:
			tokens = append(tokens, token)
		}
	}
}

func (p *parser) parseDirectivesUntil(shouldStop func(token lexer.Token) bool) []Directive {
	var directives []Directive
	var run []lexer.Token
	flushRun := func() {
		if len(run) > 0 {
			directives = append(directives, TokenRun{Tokens: run})
			run = nil
		}
	}

	for {
		token := p.peek()
		if token.Type == lexer.TokenType_EOF {
			break
		}
		if p.isDirectiveStart() {
			if shouldStop(token) {
				break
			}
			flushRun()
			if directive, ok := p.parseDirective(); ok {
				directives = append(directives, directive)
			}
			continue
		}

		p.next()
		if p.depth == 0 && token.Type != lexer.TokenType_Newline && !token.Type.IsComment() {
			p.codeOutsideBlocks = true
		}
		if p.mode == ModeFull && token.Type != lexer.TokenType_Newline {
			run = append(run, lexer.SplitDirective(token)...)
		}
	}

	flushRun()
	return directives
}

func isEndOfIfBranch(token lexer.Token) bool {
	switch token.Type {
	case lexer.TokenType_PreprocessorElif, lexer.TokenType_PreprocessorElifdef, lexer.TokenType_PreprocessorElifndef,
		lexer.TokenType_PreprocessorElse, lexer.TokenType_PreprocessorEndif:
		return true
	default:
		return false
	}
}

func (p *parser) parseDirective() (Directive, bool) {
	token := p.next()
	line, lineEnd, nextLineStart := p.readLine()

	switch token.Type {
	case lexer.TokenType_PreprocessorInclude, lexer.TokenType_PreprocessorIncludeNext:
		return p.parseIncludeDirective(token, line), true
	case lexer.TokenType_PreprocessorIf, lexer.TokenType_PreprocessorIfdef, lexer.TokenType_PreprocessorIfndef:
		return p.parseIfBlock(token, line, nextLineStart), true
	case lexer.TokenType_PreprocessorDefine:
		return parseDefineDirective(token, line), true
	case lexer.TokenType_PreprocessorUndef:
		if len(line) == 0 || !line[0].Type.IsIdentifierLike() {
			if debug {
				log.Printf("Malformed %v at %v, skipping", token.Content, token.Location)
			}
			return nil, false
		}
		return UndefineDirective{Token: token, Name: line[0].Content}, true
	case lexer.TokenType_PreprocessorError, lexer.TokenType_PreprocessorWarning:
		return ErrorDirective{
			Token:   token,
			Message: strings.TrimSpace(string(p.source[token.EndOffset():lineEnd])),
			Warning: token.Type == lexer.TokenType_PreprocessorWarning,
		}, true
	case lexer.TokenType_PreprocessorPragma:
		pragma := PragmaDirective{Token: token}
		if len(line) > 0 {
			pragma.Name = line[0].Content
			pragma.Tokens = line[1:]
		}
		return pragma, true
	default:
		// Unpaired #elif/#else/#endif, null directive or unknown directive
		// such as #line or #ident.
		if debug {
			log.Printf("Skipping directive %q at %v", token.Content, token.Location)
		}
		return nil, false
	}
}

func (p *parser) parseIncludeDirective(token lexer.Token, line []lexer.Token) IncludeDirective {
	include := IncludeDirective{
		Token:      token,
		Next:       token.Type == lexer.TokenType_PreprocessorIncludeNext,
		Index:      p.includeCount,
		LineNumber: token.Location.Line,
	}
	p.includeCount++

	switch {
	// Handle #include "local_include.h"
	case len(line) > 0 && line[0].Type == lexer.TokenType_LiteralString &&
		len(line[0].Content) >= 2 && strings.HasPrefix(line[0].Content, `"`) && strings.HasSuffix(line[0].Content, `"`):
		include.Path = line[0].Content[1 : len(line[0].Content)-1]
	// Handle #include <system_include.h>
	case len(line) > 0 && line[0].Type == lexer.TokenType_OperatorLess:
		for _, closing := range line[1:] {
			if closing.Type == lexer.TokenType_OperatorGreater {
				include.Path = string(p.source[line[0].EndOffset():closing.Offset])
				include.IsSystem = true
				return include
			}
		}
		include.Tokens = line
	default:
		include.Tokens = line
	}
	return include
}

func (p *parser) parseIfBlock(token lexer.Token, condition []lexer.Token, bodyStart int) IfBlock {
	var block IfBlock
	kind := IfBranch
	p.depth++
	defer func() { p.depth-- }()
	for {
		body := p.parseDirectivesUntil(isEndOfIfBranch)
		end := p.peek()
		block.Branches = append(block.Branches, ConditionalBranch{
			Kind:      kind,
			Token:     token,
			Condition: condition,
			Body:      body,
			BodyStart: bodyStart,
			BodyEnd:   end.Offset,
		})
		if end.Type == lexer.TokenType_EOF {
			if debug {
				log.Printf("Unterminated %v at %v", block.Branches[0].Token.Content, block.Branches[0].Token.Location)
			}
			block.EndOffset = end.Offset
			return block
		}

		p.next()
		line, _, nextLineStart := p.readLine()
		switch end.Type {
		case lexer.TokenType_PreprocessorEndif:
			block.EndOffset = nextLineStart
			return block
		case lexer.TokenType_PreprocessorElse:
			kind = ElseBranch
			condition = nil
		default:
			kind = ElifBranch
			condition = line
		}
		token = end
		bodyStart = nextLineStart
	}
}

func parseDefineDirective(token lexer.Token, line []lexer.Token) DefineDirective {
	define := DefineDirective{Token: token}
	if len(line) == 0 {
		return define
	}
	define.NameToken = line[0]
	define.Name = line[0].Content
	if !line[0].Type.IsIdentifierLike() {
		return define
	}

	rest := line[1:]
	if len(rest) > 0 && rest[0].Type == lexer.TokenType_ParenthesisLeft && rest[0].Offset == define.NameToken.EndOffset() {
		define.FunctionLike = true
		params, variadic, consumed, ok := parseMacroParams(rest[1:])
		if !ok {
			return define
		}
		define.Params = params
		define.Variadic = variadic
		rest = rest[1+consumed:]
	}

	for _, bodyToken := range rest {
		define.Body = append(define.Body, lexer.SplitDirective(bodyToken)...)
	}
	define.Valid = isValidReplacementList(define)
	return define
}

// parseMacroParams parses the parameter list of a function-like macro, the
// opening parenthesis already consumed. Returns the number of consumed tokens
// including the closing parenthesis.
func parseMacroParams(tokens []lexer.Token) (params []string, variadic bool, consumed int, ok bool) {
	params = []string{}
	expectParam := true
	for i, token := range tokens {
		switch {
		case token.Type == lexer.TokenType_ParenthesisRight:
			if expectParam && len(params) > 0 {
				return nil, false, 0, false // trailing comma
			}
			if len(collections.FindDuplicates(params)) > 0 {
				return nil, false, 0, false
			}
			return params, variadic, i + 1, true
		case expectParam && token.Type.IsIdentifierLike():
			params = append(params, token.Content)
			expectParam = false
		case expectParam && token.Content == "...":
			params = append(params, VariadicParam)
			variadic = true
			expectParam = false
		case !expectParam && !variadic && token.Content == "...":
			// GNU named variadic parameter, e.g. `args...`
			variadic = true
		case !expectParam && !variadic && token.Type == lexer.TokenType_Comma:
			expectParam = true
		default:
			return nil, false, 0, false
		}
	}
	return nil, false, 0, false
}

func isValidReplacementList(define DefineDirective) bool {
	body := define.Body
	if len(body) > 0 && (body[0].Type == lexer.TokenType_HashHash || body[len(body)-1].Type == lexer.TokenType_HashHash) {
		return false
	}
	if !define.FunctionLike {
		return true
	}
	params := collections.ToSet(define.Params)
	for i, token := range body {
		if token.Type != lexer.TokenType_Hash {
			continue
		}
		// Stringizing operator must be followed by a parameter.
		if i+1 >= len(body) || !params.Contains(body[i+1].Content) {
			return false
		}
	}
	return true
}

func isCommentsOnly(run TokenRun) bool {
	for _, token := range run.Tokens {
		if !token.Type.IsComment() {
			return false
		}
	}
	return true
}

// guardCandidate returns the macro tested by `#ifndef G` or `#if !defined(G)`.
func guardCandidate(branch ConditionalBranch) string {
	cond := branch.Condition
	switch branch.Token.Type {
	case lexer.TokenType_PreprocessorIfndef:
		if len(cond) == 1 && cond[0].Type.IsIdentifierLike() {
			return cond[0].Content
		}
	case lexer.TokenType_PreprocessorIf:
		if len(cond) == 3 && cond[0].Content == "!" && cond[1].Content == "defined" && cond[2].Type.IsIdentifierLike() {
			return cond[2].Content
		}
		if len(cond) == 5 && cond[0].Content == "!" && cond[1].Content == "defined" &&
			cond[2].Content == "(" && cond[3].Type.IsIdentifierLike() && cond[4].Content == ")" {
			return cond[3].Content
		}
	}
	return ""
}

func detectIncludeGuard(directives []Directive) string {
	var guarded *IfBlock
	for _, directive := range directives {
		switch d := directive.(type) {
		case TokenRun:
			if !isCommentsOnly(d) {
				return ""
			}
		case IfBlock:
			if guarded != nil {
				return ""
			}
			guarded = &d
		default:
			return ""
		}
	}
	if guarded == nil || len(guarded.Branches) != 1 {
		return ""
	}

	branch := guarded.Branches[0]
	guard := guardCandidate(branch)
	if guard == "" {
		return ""
	}
	for _, directive := range branch.Body {
		if run, ok := directive.(TokenRun); ok && isCommentsOnly(run) {
			continue
		}
		if define, ok := directive.(DefineDirective); ok && define.Valid && define.Name == guard && !define.FunctionLike {
			return guard
		}
		return ""
	}
	return ""
}
