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
	"fmt"
	"strings"
	"unicode/utf8"
)

type TokenType int

const (
	// Special token type indicating the end of the input stream.
	TokenType_EOF TokenType = iota

	// Every complete token that is not one of the other types, e.g. a stray
	// '$' or '@' character.
	TokenType_Unassigned

	// Single newline character '\n'. Newlines mark the end of a preprocessor
	// directive.
	TokenType_Newline

	// One or more whitespace characters, other than newlines.
	TokenType_Whitespace

	// Line continuation sequence, a backslash '\' followed by a newline
	// character '\n' (with optional whitespace characters between).
	TokenType_ContinueLine

	// Identifier, a letter or underscore followed by letters, digits or
	// underscores. Keywords are identifiers until a language filter
	// reclassifies them.
	TokenType_Identifier

	// Identifier reclassified by a language filter as a reserved word of the
	// target language.
	TokenType_Keyword

	// Linker scope specifiers: __symbolic, __global, __hidden. Demoted to
	// plain identifiers while the ldscope filter is disabled by a pragma.
	TokenType_LinkerScope

	// Preprocessing number, e.g. 123, 0x1A3F, 1.5e-3f, 10ULL.
	TokenType_LiteralNumber

	// String literal, enclosed in double quotes, e.g. "example".
	TokenType_LiteralString

	// Character literal, enclosed in single quotes, e.g. 'a'.
	TokenType_LiteralChar

	// Single-line comment, starting with // and ending at the end of the line.
	TokenType_CommentSingleLine

	// Multi-line comment, starting with /* and ending with */.
	TokenType_CommentMultiLine

	// Preprocessor directives, a hash '#' followed by the directive name (with
	// optional whitespace characters between).

	TokenType_PreprocessorDefine
	TokenType_PreprocessorElif
	TokenType_PreprocessorElifdef
	TokenType_PreprocessorElifndef
	TokenType_PreprocessorElse
	TokenType_PreprocessorEndif
	TokenType_PreprocessorError
	TokenType_PreprocessorIf
	TokenType_PreprocessorIfdef
	TokenType_PreprocessorIfndef
	TokenType_PreprocessorInclude
	TokenType_PreprocessorIncludeNext
	TokenType_PreprocessorPragma
	TokenType_PreprocessorUndef
	TokenType_PreprocessorWarning

	// Stringizing '#' and token pasting '##' operators. A '#' at the beginning
	// of a line not followed by a known directive name is also a Hash.

	TokenType_Hash
	TokenType_HashHash

	// Operators understood by #if expressions.

	TokenType_OperatorEqual
	TokenType_OperatorGreater
	TokenType_OperatorGreaterOrEqual
	TokenType_OperatorLess
	TokenType_OperatorLessOrEqual
	TokenType_OperatorLogicalAnd
	TokenType_OperatorLogicalNot
	TokenType_OperatorLogicalOr
	TokenType_OperatorNotEqual
	TokenType_OperatorPlus
	TokenType_OperatorMinus
	TokenType_OperatorMultiply
	TokenType_OperatorDivide
	TokenType_OperatorModulo

	// Every other punctuator, e.g. '->', '::', '+=', '...'.
	TokenType_Operator

	// Symbols separating subexpressions.

	TokenType_BraceLeft
	TokenType_BraceRight
	TokenType_BracketLeft
	TokenType_BracketRight
	TokenType_Comma
	TokenType_ParenthesisLeft
	TokenType_ParenthesisRight
	TokenType_Semicolon
)

var tokenTypeNames = map[TokenType]string{
	TokenType_EOF:                     "end of file",
	TokenType_Unassigned:              "unassigned",
	TokenType_Newline:                 "newline",
	TokenType_Whitespace:              "whitespace",
	TokenType_ContinueLine:            `line continuation backslash '\'`,
	TokenType_Identifier:              "identifier",
	TokenType_Keyword:                 "keyword",
	TokenType_LinkerScope:             "linker scope",
	TokenType_LiteralNumber:           "number literal",
	TokenType_LiteralString:           `"string literal"`,
	TokenType_LiteralChar:             "'char literal'",
	TokenType_CommentSingleLine:       "single-line comment",
	TokenType_CommentMultiLine:        "multi-line comment",
	TokenType_PreprocessorDefine:      "directive '#define'",
	TokenType_PreprocessorElif:        "directive '#elif'",
	TokenType_PreprocessorElifdef:     "directive '#elifdef'",
	TokenType_PreprocessorElifndef:    "directive '#elifndef'",
	TokenType_PreprocessorElse:        "directive '#else'",
	TokenType_PreprocessorEndif:       "directive '#endif'",
	TokenType_PreprocessorError:       "directive '#error'",
	TokenType_PreprocessorIf:          "directive '#if'",
	TokenType_PreprocessorIfdef:       "directive '#ifdef'",
	TokenType_PreprocessorIfndef:      "directive '#ifndef'",
	TokenType_PreprocessorInclude:     "directive '#include'",
	TokenType_PreprocessorIncludeNext: "directive '#include_next'",
	TokenType_PreprocessorPragma:      "directive '#pragma'",
	TokenType_PreprocessorUndef:       "directive '#undef'",
	TokenType_PreprocessorWarning:     "directive '#warning'",
	TokenType_Hash:                    "operator '#'",
	TokenType_HashHash:                "operator '##'",
	TokenType_OperatorEqual:           "operator '=='",
	TokenType_OperatorGreater:         "operator '>'",
	TokenType_OperatorGreaterOrEqual:  "operator '>='",
	TokenType_OperatorLess:            "operator '<'",
	TokenType_OperatorLessOrEqual:     "operator '<='",
	TokenType_OperatorLogicalAnd:      "operator '&&'",
	TokenType_OperatorLogicalNot:      "operator '!'",
	TokenType_OperatorLogicalOr:       "operator '||'",
	TokenType_OperatorNotEqual:        "operator '!='",
	TokenType_OperatorPlus:            "operator '+'",
	TokenType_OperatorMinus:           "operator '-'",
	TokenType_OperatorMultiply:        "operator '*'",
	TokenType_OperatorDivide:          "operator '/'",
	TokenType_OperatorModulo:          "operator '%'",
	TokenType_Operator:                "operator",
	TokenType_BraceLeft:               "symbol '{'",
	TokenType_BraceRight:              "symbol '}'",
	TokenType_BracketLeft:             "symbol '['",
	TokenType_BracketRight:            "symbol ']'",
	TokenType_Comma:                   "symbol ','",
	TokenType_ParenthesisLeft:         "symbol '('",
	TokenType_ParenthesisRight:        "symbol ')'",
	TokenType_Semicolon:               "symbol ';'",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return "unknown token"
}

func (t TokenType) IsPreprocessorDirective() bool {
	return t >= TokenType_PreprocessorDefine && t <= TokenType_PreprocessorWarning
}

func (t TokenType) IsComment() bool {
	return t == TokenType_CommentSingleLine || t == TokenType_CommentMultiLine
}

// IsSignificant reports whether tokens of this type are visible to the
// parser, i.e. they are neither whitespace nor line continuations.
func (t TokenType) IsSignificant() bool {
	switch t {
	case TokenType_Whitespace, TokenType_ContinueLine, TokenType_Newline:
		return false
	default:
		return true
	}
}

// IsIdentifierLike reports whether a token of this type can name a macro.
func (t TokenType) IsIdentifierLike() bool {
	return t == TokenType_Identifier || t == TokenType_Keyword || t == TokenType_LinkerScope
}

// Position in the source code. Line and Column are 1-based, which is natural for humans.
type Cursor struct {
	Line, Column int
}

var (
	// Initial cursor position, at the beginning of the file or string.
	CursorInit = Cursor{Line: 1, Column: 1}
	// Special cursor value indicating the end of the file or string.
	CursorEOF = Cursor{}
)

func (c Cursor) String() string {
	if c == CursorEOF {
		return "EOF"
	}
	return fmt.Sprintf("%d:%d", c.Line, c.Column)
}

// Return a new Cursor advanced by the given lookAhead string, assuming the
// current cursor points at its beginning.
func (c Cursor) AdvancedBy(lookAhead string) Cursor {
	newlinesCount := strings.Count(lookAhead, "\n")
	tailBegin := 1 + strings.LastIndex(lookAhead, "\n")
	tailLength := utf8.RuneCountInString(lookAhead[tailBegin:])

	if newlinesCount == 0 {
		c.Column += tailLength
	} else {
		c.Line += newlinesCount
		c.Column = 1 + tailLength
	}

	return c
}

type Token struct {
	Type     TokenType
	Location Cursor
	// Byte offset of the first character of Content in the source buffer.
	Offset  int
	Content string
}

var TokenEOF = Token{Type: TokenType_EOF}

// EndOffset is the byte offset right after the last character of the token.
func (t Token) EndOffset() int {
	return t.Offset + len(t.Content)
}

func (t Token) IsEOF() bool {
	return t.Type == TokenType_EOF
}

func (t Token) String() string {
	if t.Type == TokenType_EOF {
		return t.Type.String()
	}
	return fmt.Sprintf("%s %q at %v", t.Type, t.Content, t.Location)
}
