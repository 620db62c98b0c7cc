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
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
)

// MacroLookup resolves a name in the live macro map.
type MacroLookup func(name string) (preproc.Macro, bool)

// hideset is the sorted set of macro names a token must not be expanded by.
// Hidesets are never modified in place.
type hideset []string

func (h hideset) contains(name string) bool {
	_, found := slices.BinarySearch(h, name)
	return found
}

func (h hideset) with(name string) hideset {
	idx, found := slices.BinarySearch(h, name)
	if found {
		return h
	}
	return slices.Insert(slices.Clip(h), idx, name)
}

func (h hideset) union(other hideset) hideset {
	result := h
	for _, name := range other {
		result = result.with(name)
	}
	return result
}

func (h hideset) intersect(other hideset) hideset {
	var result hideset
	for _, name := range h {
		if other.contains(name) {
			result = append(result, name)
		}
	}
	return result
}

type expToken struct {
	lexer.Token
	hide hideset
	// Whitespace precedes the token, used when stringizing.
	space bool
}

// Expander replaces macro invocations of the source stream with their
// expansion. Expanded tokens take the location of the invocation. Macros are
// looked up at the time the invocation is read, so definitions made by a
// walk between tokens are honored.
type Expander struct {
	source     TokenStream
	lookup     MacroLookup
	pending    []expToken // pushed back tokens, last element is read first
	lastEnd    int
	expansions int
}

func NewExpander(source TokenStream, lookup MacroLookup) *Expander {
	return &Expander{source: source, lookup: lookup}
}

// ExpandTokens fully expands a token sequence, e.g. a #if condition.
func ExpandTokens(tokens []lexer.Token, lookup MacroLookup) []lexer.Token {
	return Collect(NewExpander(FromSlice(tokens), lookup))
}

// Expansions returns the number of macro invocations replaced so far.
func (x *Expander) Expansions() int {
	return x.expansions
}

func (x *Expander) NextToken() lexer.Token {
	return x.next().Token
}

func (x *Expander) read() expToken {
	if n := len(x.pending); n > 0 {
		token := x.pending[n-1]
		x.pending = x.pending[:n-1]
		return token
	}
	token := x.source.NextToken()
	result := expToken{Token: token, space: token.Offset > x.lastEnd}
	if !token.IsEOF() {
		x.lastEnd = token.EndOffset()
	}
	return result
}

func (x *Expander) unread(tokens ...expToken) {
	for i := len(tokens) - 1; i >= 0; i-- {
		x.pending = append(x.pending, tokens[i])
	}
}

func (x *Expander) next() expToken {
	for {
		token := x.read()
		if !token.Type.IsIdentifierLike() || token.hide.contains(token.Content) {
			return token
		}
		macro, defined := x.lookup(token.Content)
		if !defined {
			return token
		}
		if !macro.FunctionLike {
			x.expansions++
			x.unread(x.substitute(macro, nil, token.hide.with(macro.Name), token)...)
			continue
		}
		args, closing, consumed, ok := x.readArguments(macro)
		if !ok {
			// Not an invocation, e.g. a function-like macro name used alone
			x.unread(consumed...)
			return token
		}
		x.expansions++
		hide := token.hide.intersect(closing.hide).with(macro.Name)
		x.unread(x.substitute(macro, args, hide, token)...)
	}
}

func isPunct(token lexer.Token, content string) bool {
	return token.Content == content && !token.Type.IsComment()
}

// readArguments reads the parenthesized arguments of an invocation. On
// failure every consumed token is returned so it can be pushed back.
func (x *Expander) readArguments(macro preproc.Macro) (args [][]expToken, closing expToken, consumed []expToken, ok bool) {
	for {
		token := x.read()
		if token.IsEOF() {
			return nil, closing, consumed, false
		}
		consumed = append(consumed, token)
		if token.Type.IsComment() {
			continue
		}
		if !isPunct(token.Token, "(") {
			return nil, closing, consumed, false
		}
		break
	}

	args = [][]expToken{nil}
	depth := 0
	for {
		token := x.read()
		if token.IsEOF() {
			return nil, closing, consumed, false
		}
		consumed = append(consumed, token)
		switch {
		case token.Type.IsComment():
			continue
		case isPunct(token.Token, "("):
			depth++
		case isPunct(token.Token, ")"):
			if depth == 0 {
				args, ok = checkArity(macro, args)
				return args, token, consumed, ok
			}
			depth--
		case isPunct(token.Token, ",") && depth == 0:
			// Trailing commas belong to the variadic argument
			if !macro.Variadic || len(args) < len(macro.Params) {
				args = append(args, nil)
				continue
			}
		}
		args[len(args)-1] = append(args[len(args)-1], token)
	}
}

func checkArity(macro preproc.Macro, args [][]expToken) ([][]expToken, bool) {
	switch params := len(macro.Params); {
	case params == 0:
		return nil, len(args) == 1 && len(args[0]) == 0
	case len(args) == params:
		return args, true
	case macro.Variadic && len(args) == params-1:
		return append(args, nil), true
	}
	return nil, false
}

// substitute replaces parameters of the macro body by the arguments and
// handles the # and ## operators.
func (x *Expander) substitute(macro preproc.Macro, args [][]expToken, hide hideset, invocation expToken) []expToken {
	body := make([]expToken, len(macro.Body))
	for i, token := range macro.Body {
		body[i] = expToken{Token: token, space: i > 0 && token.Offset > macro.Body[i-1].EndOffset()}
	}
	param := func(token expToken) int {
		if !token.Type.IsIdentifierLike() {
			return -1
		}
		return macro.ParamIndex(token.Content)
	}
	followedByPaste := func(i int) bool {
		return i+1 < len(body) && body[i+1].Type == lexer.TokenType_HashHash
	}

	var out []expToken
	for i := 0; i < len(body); i++ {
		token := body[i]
		switch {
		case macro.FunctionLike && token.Type == lexer.TokenType_Hash && i+1 < len(body) && param(body[i+1]) >= 0:
			out = append(out, stringize(args[param(body[i+1])], token))
			i++

		case token.Type == lexer.TokenType_HashHash && i+1 < len(body):
			i++
			rhs := []expToken{body[i]}
			p := param(body[i])
			if p >= 0 {
				rhs = args[p]
			}
			gnuComma := len(out) > 0 && isPunct(out[len(out)-1].Token, ",") && macro.Variadic && p == len(macro.Params)-1
			switch {
			case gnuComma && len(rhs) == 0:
				out = out[:len(out)-1]
			case gnuComma, len(out) == 0:
				out = append(out, rhs...)
			case len(rhs) > 0:
				pasted := paste(out[len(out)-1], rhs[0])
				out = append(append(out[:len(out)-1], pasted...), rhs[1:]...)
			}

		case param(token) >= 0 && followedByPaste(i):
			raw := args[param(token)]
			if len(raw) == 0 {
				// Empty operand of ##, the other operand is kept as is
				i++
				if i+1 < len(body) {
					i++
					if p := param(body[i]); p >= 0 {
						out = append(out, args[p]...)
					} else {
						out = append(out, body[i])
					}
				}
				continue
			}
			out = append(out, raw...)

		case param(token) >= 0:
			expanded := x.expandArgument(args[param(token)])
			if len(expanded) > 0 {
				expanded[0].space = token.space
			}
			out = append(out, expanded...)

		default:
			out = append(out, token)
		}
	}

	for i := range out {
		out[i].hide = out[i].hide.union(hide)
		out[i].Location = invocation.Location
		out[i].Offset = invocation.Offset
		if i == 0 {
			out[i].space = invocation.space
		}
	}
	return out
}

func (x *Expander) expandArgument(arg []expToken) []expToken {
	nested := &Expander{source: FromSlice(nil), lookup: x.lookup}
	nested.unread(arg...)
	var result []expToken
	for token := nested.next(); !token.IsEOF(); token = nested.next() {
		result = append(result, token)
	}
	x.expansions += nested.expansions
	return result
}

func stringize(arg []expToken, at expToken) expToken {
	var sb strings.Builder
	sb.WriteByte('"')
	for i, token := range arg {
		if token.Type.IsComment() {
			continue
		}
		if i > 0 && token.space {
			sb.WriteByte(' ')
		}
		if token.Type == lexer.TokenType_LiteralString || token.Type == lexer.TokenType_LiteralChar {
			sb.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(token.Content))
		} else {
			sb.WriteString(token.Content)
		}
	}
	sb.WriteByte('"')
	return expToken{Token: lexer.Token{Type: lexer.TokenType_LiteralString, Location: at.Location, Offset: at.Offset, Content: sb.String()}, space: at.space}
}

// paste concatenates two tokens. A result that does not lex as a single
// token is kept as the tokens it lexes to.
func paste(lhs, rhs expToken) []expToken {
	tokens := lexer.Tokenize(lhs.Content + rhs.Content)
	hide := lhs.hide.intersect(rhs.hide)
	result := make([]expToken, 0, len(tokens))
	for _, token := range tokens {
		if !token.Type.IsSignificant() {
			continue
		}
		token.Location, token.Offset = lhs.Location, lhs.Offset
		result = append(result, expToken{Token: token, hide: hide, space: lhs.space && len(result) == 0})
	}
	return result
}
