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
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
)

type (
	parseRule struct {
		precedence   precedence
		prefixParser prefixParseFn
		infixParser  infixParserFn
	}
	prefixParseFn func(p *exprParser, token string) (Expr, error)
	infixParserFn func(p *exprParser, token string, left Expr) (Expr, error)
	precedence    int
)

const (
	precedenceLowest   precedence = iota
	precedenceTernary             // ? :
	precedenceOr                  // ||
	precedenceAnd                 // &&
	precedenceBitOr               // |
	precedenceBitXor              // ^
	precedenceBitAnd              // &
	precedenceEquality            // ==, !=
	precedenceCompare             // <, <=, >, >=
	precedenceShift               // <<, >>
	precedenceSum                 // +, -
	precedenceProduct             // *, /, %
	precedencePrefix              // !, -, +, ~ (prefix)
	precedenceParens              // (
)

var exprKeywordsPrecedence map[string]parseRule

func init() {
	exprKeywordsPrecedence = map[string]parseRule{
		"!":       {precedence: precedencePrefix, prefixParser: parseUnaryBangOperator},
		"~":       {precedence: precedencePrefix, prefixParser: parseUnaryArithmeticOperator},
		"(":       {precedence: precedenceParens, prefixParser: parseUnaryOpenParenthesis, infixParser: parseBinaryApplyOperator},
		"defined": {precedence: precedenceLowest, prefixParser: parseDefinedExpr},
		"?":       {precedence: precedenceTernary, infixParser: parseTernaryOperator},
		"||":      {precedence: precedenceOr, infixParser: parseBinaryLogicOrOperator},
		"&&":      {precedence: precedenceAnd, infixParser: parseBinaryLogicAndOperator},
		"|":       {precedence: precedenceBitOr, infixParser: binaryArithmeticParser(precedenceBitOr)},
		"^":       {precedence: precedenceBitXor, infixParser: binaryArithmeticParser(precedenceBitXor)},
		"&":       {precedence: precedenceBitAnd, infixParser: binaryArithmeticParser(precedenceBitAnd)},
		"==":      {precedence: precedenceEquality, infixParser: binaryCompareParser(precedenceEquality)},
		"!=":      {precedence: precedenceEquality, infixParser: binaryCompareParser(precedenceEquality)},
		">":       {precedence: precedenceCompare, infixParser: binaryCompareParser(precedenceCompare)},
		">=":      {precedence: precedenceCompare, infixParser: binaryCompareParser(precedenceCompare)},
		"<":       {precedence: precedenceCompare, infixParser: binaryCompareParser(precedenceCompare)},
		"<=":      {precedence: precedenceCompare, infixParser: binaryCompareParser(precedenceCompare)},
		"<<":      {precedence: precedenceShift, infixParser: binaryArithmeticParser(precedenceShift)},
		">>":      {precedence: precedenceShift, infixParser: binaryArithmeticParser(precedenceShift)},
		"+":       {precedence: precedenceSum, prefixParser: parseUnaryArithmeticOperator, infixParser: binaryArithmeticParser(precedenceSum)},
		"-":       {precedence: precedenceSum, prefixParser: parseUnaryArithmeticOperator, infixParser: binaryArithmeticParser(precedenceSum)},
		"*":       {precedence: precedenceProduct, infixParser: binaryArithmeticParser(precedenceProduct)},
		"/":       {precedence: precedenceProduct, infixParser: binaryArithmeticParser(precedenceProduct)},
		"%":       {precedence: precedenceProduct, infixParser: binaryArithmeticParser(precedenceProduct)},
	}
}

type exprParser struct {
	tokensLeft []lexer.Token
}

// ParseExpr parses the condition of an #if or #elif directive. Comments are
// ignored. Every token must be consumed by the expression.
func ParseExpr(tokens []lexer.Token) (Expr, error) {
	p := exprParser{}
	for _, token := range tokens {
		if token.Type.IsSignificant() && !token.Type.IsComment() {
			p.tokensLeft = append(p.tokensLeft, token)
		}
	}
	if len(p.tokensLeft) == 0 {
		return nil, errors.New("empty expression")
	}

	expr, err := p.parseExprPrecedence(precedenceLowest)
	if err != nil {
		return nil, err
	}
	if len(p.tokensLeft) > 0 {
		return nil, fmt.Errorf("unexpected token %q after expression", p.tokensLeft[0].Content)
	}
	return expr, nil
}

func getPrefixParseFn(token string) prefixParseFn {
	if rule, exists := exprKeywordsPrecedence[token]; exists && rule.prefixParser != nil {
		return rule.prefixParser
	}
	// Fallback: treat as identifier or integer literal
	return func(p *exprParser, token string) (Expr, error) {
		return parseValue(token)
	}
}

func (p *exprParser) peek() lexer.Token {
	if len(p.tokensLeft) == 0 {
		return lexer.TokenEOF
	}
	return p.tokensLeft[0]
}

func (p *exprParser) next() lexer.Token {
	token := p.peek()
	if len(p.tokensLeft) > 0 {
		p.tokensLeft = p.tokensLeft[1:]
	}
	return token
}

func (p *exprParser) expectNext(expected string) error {
	token := p.next()
	if token.Type == lexer.TokenType_EOF {
		return fmt.Errorf("expected %q but reached end of input", expected)
	}
	if token.Content != expected {
		return fmt.Errorf("expected %q but found %q", expected, token.Content)
	}
	return nil
}

func (p *exprParser) nextContent() (string, error) {
	token := p.next()
	if token.Type == lexer.TokenType_EOF {
		return "", errors.New("expected token, found end of expression")
	}
	return token.Content, nil
}

func (p *exprParser) parseExprPrecedence(minPrecedence precedence) (Expr, error) {
	token, err := p.nextContent()
	if err != nil {
		return nil, err
	}

	result, err := getPrefixParseFn(token)(p, token)
	if err != nil {
		return nil, err
	}

	for {
		token := p.peek()
		if token.Type == lexer.TokenType_EOF {
			return result, nil // end of input
		}

		rule, exists := exprKeywordsPrecedence[token.Content]
		if !exists || rule.infixParser == nil || rule.precedence < minPrecedence {
			return result, nil // current operator binds less – stop and return
		}
		p.next()
		result, err = rule.infixParser(p, token.Content, result)
		if err != nil {
			return nil, err
		}
	}
}

func parseBinaryLogicOrOperator(p *exprParser, _ string, lhs Expr) (Expr, error) {
	rhs, err := p.parseExprPrecedence(precedenceOr + 1)
	if err != nil {
		return nil, err
	}
	return Or{lhs, rhs}, nil
}

func parseBinaryLogicAndOperator(p *exprParser, _ string, lhs Expr) (Expr, error) {
	rhs, err := p.parseExprPrecedence(precedenceAnd + 1)
	if err != nil {
		return nil, err
	}
	return And{lhs, rhs}, nil
}

func binaryCompareParser(prec precedence) infixParserFn {
	return func(p *exprParser, op string, lhs Expr) (Expr, error) {
		rhs, err := p.parseExprPrecedence(prec + 1)
		if err != nil {
			return nil, err
		}
		return Compare{lhs, op, rhs}, nil
	}
}

func binaryArithmeticParser(prec precedence) infixParserFn {
	return func(p *exprParser, op string, lhs Expr) (Expr, error) {
		rhs, err := p.parseExprPrecedence(prec + 1)
		if err != nil {
			return nil, err
		}
		return Arithmetic{lhs, op, rhs}, nil
	}
}

func parseTernaryOperator(p *exprParser, _ string, cond Expr) (Expr, error) {
	then, err := p.parseExprPrecedence(precedenceLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectNext(":"); err != nil {
		return nil, err
	}
	// Right associative: a ? b : c ? d : e
	otherwise, err := p.parseExprPrecedence(precedenceTernary)
	if err != nil {
		return nil, err
	}
	return Conditional{Cond: cond, Then: then, Else: otherwise}, nil
}

func parseBinaryApplyOperator(p *exprParser, _ string, lhs Expr) (Expr, error) {
	ident, ok := lhs.(Ident)
	if !ok {
		return nil, fmt.Errorf("expected identifier for apply operator, got %T", lhs)
	}

	args := []Expr{}
	for {
		token := p.peek()
		switch {
		case token.Type == lexer.TokenType_EOF:
			return nil, fmt.Errorf("unexpected end of input while parsing apply operator %q", ident)
		case token.Content == ",":
			p.next()
			continue
		case token.Content == ")":
			p.next()
			return Apply{Name: ident, Args: args}, nil
		default:
			arg, err := p.parseExprPrecedence(precedenceLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
	}
}

func parseUnaryBangOperator(p *exprParser, _ string) (Expr, error) {
	inner, err := p.parseExprPrecedence(precedencePrefix)
	if err != nil {
		return nil, err
	}
	return Not{inner}, nil
}

func parseUnaryArithmeticOperator(p *exprParser, op string) (Expr, error) {
	inner, err := p.parseExprPrecedence(precedencePrefix)
	if err != nil {
		return nil, err
	}
	return Unary{Op: op, X: inner}, nil
}

func parseUnaryOpenParenthesis(p *exprParser, _ string) (Expr, error) {
	expr, err := p.parseExprPrecedence(precedenceLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectNext(")"); err != nil {
		return nil, err
	}
	return expr, nil
}

func parseDefinedExpr(p *exprParser, _ string) (Expr, error) {
	parenthesized := p.peek().Content == "("
	if parenthesized {
		p.next()
	}
	name, err := p.nextContent()
	if err != nil {
		return nil, err
	}
	if !MacroIdentifierRegex.MatchString(name) {
		return nil, fmt.Errorf("expected macro name after 'defined', found %q", name)
	}
	if parenthesized {
		if err := p.expectNext(")"); err != nil {
			return nil, err
		}
	}
	return Defined{Name: Ident(name)}, nil
}

var MacroIdentifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var ParsableIntegerRegex = regexp.MustCompile(`^(?:0[xX][0-9a-fA-F]+|0[bB][01]+|0[0-7]*|[1-9][0-9]*)(?:[uU](?:ll?|LL?)?|ll?[uU]?|LL?[uU]?)?$`)

var charLiteralRegex = regexp.MustCompile(`^(?:u8|u|U|L)?'(.+)'$`)

func parseValue(token string) (Value, error) {
	if ParsableIntegerRegex.MatchString(token) {
		v, err := ParseIntLiteral(token)
		if err != nil {
			return nil, err
		}
		return ConstantInt(v), nil
	}
	if match := charLiteralRegex.FindStringSubmatch(token); match != nil {
		if value, _, _, err := strconv.UnquoteChar(match[1], '\''); err == nil {
			return ConstantInt(value), nil
		}
	}
	if MacroIdentifierRegex.MatchString(token) {
		return Ident(token), nil
	}
	return nil, fmt.Errorf("token %q is neither identifier nor integer literal", token)
}

// Value is a leaf of an expression: an identifier or a constant.
type Value interface {
	Expr
	isValue()
}

func (Ident) isValue()       {}
func (ConstantInt) isValue() {}

// ParseIntLiteral parses a C integer literal, including its base prefix and
// type suffix.
func ParseIntLiteral(tok string) (int, error) {
	tok = strings.TrimRightFunc(tok, func(r rune) bool {
		return r == 'u' || r == 'U' || r == 'l' || r == 'L'
	})
	if len(tok) > 2 && (tok[:2] == "0b" || tok[:2] == "0B") {
		v, err := strconv.ParseUint(tok[2:], 2, 64)
		return int(v), err
	}
	v, err := strconv.ParseUint(tok, 0, 64)
	return int(v), err
}
