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

// Package tokenstream provides pull-based token streams and the layers
// stacked on top of the raw tokens of a walk: macro expansion, comment
// filtering, ldscope reclassification and language keyword filtering.
package tokenstream

import (
	"iter"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
)

// TokenStream produces tokens one by one. After the last token it returns
// lexer.TokenEOF forever.
type TokenStream interface {
	NextToken() lexer.Token
}

// Collect drains the stream.
func Collect(stream TokenStream) []lexer.Token {
	var result []lexer.Token
	for token := stream.NextToken(); !token.IsEOF(); token = stream.NextToken() {
		result = append(result, token)
	}
	return result
}

// All returns the remaining tokens of the stream as a sequence.
func All(stream TokenStream) iter.Seq[lexer.Token] {
	return func(yield func(lexer.Token) bool) {
		for token := stream.NextToken(); !token.IsEOF(); token = stream.NextToken() {
			if !yield(token) {
				return
			}
		}
	}
}

type sliceStream struct {
	tokens []lexer.Token
}

// FromSlice creates a stream returning the given tokens.
func FromSlice(tokens []lexer.Token) TokenStream {
	return &sliceStream{tokens: tokens}
}

func (s *sliceStream) NextToken() lexer.Token {
	if len(s.tokens) == 0 {
		return lexer.TokenEOF
	}
	token := s.tokens[0]
	s.tokens = s.tokens[1:]
	return token
}

// SeqStream pulls tokens from a sequence lazily. Close must be called when
// the stream is abandoned before reaching its end.
type SeqStream struct {
	next func() (lexer.Token, bool)
	stop func()
}

func FromSeq(seq iter.Seq[lexer.Token]) *SeqStream {
	next, stop := iter.Pull(seq)
	return &SeqStream{next: next, stop: stop}
}

func (s *SeqStream) NextToken() lexer.Token {
	if s.next == nil {
		return lexer.TokenEOF
	}
	token, ok := s.next()
	if !ok {
		s.Close()
		return lexer.TokenEOF
	}
	return token
}

// Close stops the underlying sequence.
func (s *SeqStream) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.next, s.stop = nil, nil
}

// FilterFunc is a stream dropping the tokens for which keep returns false.
type FilterFunc struct {
	source TokenStream
	keep   func(lexer.Token) bool
}

func Filter(source TokenStream, keep func(lexer.Token) bool) *FilterFunc {
	return &FilterFunc{source: source, keep: keep}
}

func (f *FilterFunc) NextToken() lexer.Token {
	for {
		token := f.source.NextToken()
		if token.IsEOF() || f.keep(token) {
			return token
		}
	}
}

// WithoutComments drops single and multi line comments.
func WithoutComments(source TokenStream) TokenStream {
	return Filter(source, func(token lexer.Token) bool { return !token.Type.IsComment() })
}
