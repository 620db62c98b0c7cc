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
	"log"
	"maps"
	"strings"
)

// Environment maps macro names to their integer values, as seen by #if
// expressions once every macro has been expanded.
type Environment map[string]int

func (e Environment) Clone() Environment {
	return maps.Clone(e)
}

type (
	// Expr represents an abstract syntax tree (AST) node for a C/C++ preprocessor #if condition.
	Expr interface {
		// Eval reports whether the expression evaluates to true (non-zero).
		Eval(env Environment) bool
		// Value computes the integer value of the expression. Identifiers
		// missing from env evaluate to 0.
		Value(env Environment) int
		String() string
	}

	// Defined represents the defined(X) operator in #if expressions,
	// checking if a macro identifier is defined.
	Defined struct {
		Name Ident
	}

	// Not represents logical negation of a condition: !X
	Not struct {
		X Expr
	}

	// And represents a logical AND (X && Y) in #if expressions.
	And struct {
		L, R Expr
	}

	// Or represents a logical OR (X || Y) in #if expressions.
	Or struct {
		L, R Expr
	}

	// Compare represents a comparison between two values, e.g. A == B, A < B.
	Compare struct {
		Left  Expr   // Left-hand side of the comparison
		Op    string // Comparison operator: "==", "!=", "<", "<=", ">", ">="
		Right Expr   // Right-hand side of the comparison
	}

	// Arithmetic represents a binary arithmetic or bitwise operation.
	Arithmetic struct {
		Left  Expr
		Op    string // One of "+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>"
		Right Expr
	}

	// Unary represents a prefix "-", "+" or "~" operator.
	Unary struct {
		Op string
		X  Expr
	}

	// Conditional represents the ternary operator: Cond ? Then : Else.
	Conditional struct {
		Cond, Then, Else Expr
	}

	// Apply represents a call of a function-like macro unknown at evaluation
	// time, e.g. __has_feature(x). It always evaluates to 0.
	Apply struct {
		Name Ident
		Args []Expr
	}

	// Ident is a macro identifier, such as _WIN32.
	Ident string
	// ConstantInt is an integer constant literal (e.g., 42).
	ConstantInt int
)

func (expr Defined) String() string { return fmt.Sprintf("defined(%s)", expr.Name) }
func (expr Compare) String() string {
	return fmt.Sprintf("%s %s %s", expr.Left, expr.Op, expr.Right)
}
func (expr Arithmetic) String() string {
	return fmt.Sprintf("(%s %s %s)", expr.Left, expr.Op, expr.Right)
}
func (expr Unary) String() string       { return expr.Op + expr.X.String() }
func (expr Not) String() string         { return "!(" + expr.X.String() + ")" }
func (expr And) String() string         { return expr.L.String() + " && " + expr.R.String() }
func (expr Or) String() string          { return expr.L.String() + " || " + expr.R.String() }
func (expr Ident) String() string       { return string(expr) }
func (expr ConstantInt) String() string { return fmt.Sprintf("%d", expr) }
func (expr Conditional) String() string {
	return fmt.Sprintf("%s ? %s : %s", expr.Cond, expr.Then, expr.Else)
}
func (expr Apply) String() string {
	args := make([]string, len(expr.Args))
	for i, arg := range expr.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", expr.Name, strings.Join(args, ", "))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (expr Defined) Value(env Environment) int {
	_, exists := env[string(expr.Name)]
	return boolToInt(exists)
}

func (expr Compare) Value(env Environment) int {
	lv := expr.Left.Value(env)
	rv := expr.Right.Value(env)
	switch expr.Op {
	case "==":
		return boolToInt(lv == rv)
	case "!=":
		return boolToInt(lv != rv)
	case "<":
		return boolToInt(lv < rv)
	case "<=":
		return boolToInt(lv <= rv)
	case ">":
		return boolToInt(lv > rv)
	case ">=":
		return boolToInt(lv >= rv)
	default:
		log.Panicf("Unknown compare operation type: %v", expr)
		return 0
	}
}

func (expr Arithmetic) Value(env Environment) int {
	lv := expr.Left.Value(env)
	rv := expr.Right.Value(env)
	switch expr.Op {
	case "+":
		return lv + rv
	case "-":
		return lv - rv
	case "*":
		return lv * rv
	case "/":
		if rv == 0 {
			return 0
		}
		return lv / rv
	case "%":
		if rv == 0 {
			return 0
		}
		return lv % rv
	case "&":
		return lv & rv
	case "|":
		return lv | rv
	case "^":
		return lv ^ rv
	case "<<":
		if rv < 0 || rv >= 64 {
			return 0
		}
		return lv << rv
	case ">>":
		if rv < 0 || rv >= 64 {
			return 0
		}
		return lv >> rv
	default:
		log.Panicf("Unknown arithmetic operation type: %v", expr)
		return 0
	}
}

func (expr Unary) Value(env Environment) int {
	switch expr.Op {
	case "-":
		return -expr.X.Value(env)
	case "~":
		return ^expr.X.Value(env)
	default:
		return expr.X.Value(env)
	}
}

func (expr Conditional) Value(env Environment) int {
	if expr.Cond.Eval(env) {
		return expr.Then.Value(env)
	}
	return expr.Else.Value(env)
}

func (expr Not) Value(env Environment) int   { return boolToInt(!expr.X.Eval(env)) }
func (expr And) Value(env Environment) int   { return boolToInt(expr.L.Eval(env) && expr.R.Eval(env)) }
func (expr Or) Value(env Environment) int    { return boolToInt(expr.L.Eval(env) || expr.R.Eval(env)) }
func (expr Apply) Value(Environment) int     { return 0 }
func (expr ConstantInt) Value(Environment) int { return int(expr) }
func (expr Ident) Value(env Environment) int {
	return env[string(expr)]
}

func (expr Defined) Eval(env Environment) bool     { return expr.Value(env) != 0 }
func (expr Compare) Eval(env Environment) bool     { return expr.Value(env) != 0 }
func (expr Arithmetic) Eval(env Environment) bool  { return expr.Value(env) != 0 }
func (expr Unary) Eval(env Environment) bool       { return expr.Value(env) != 0 }
func (expr Conditional) Eval(env Environment) bool { return expr.Value(env) != 0 }
func (expr Not) Eval(env Environment) bool         { return !expr.X.Eval(env) }
func (expr And) Eval(env Environment) bool         { return expr.L.Eval(env) && expr.R.Eval(env) }
func (expr Or) Eval(env Environment) bool          { return expr.L.Eval(env) || expr.R.Eval(env) }
func (expr Apply) Eval(Environment) bool           { return false }
func (expr ConstantInt) Eval(Environment) bool     { return expr != 0 }
func (expr Ident) Eval(env Environment) bool       { return expr.Value(env) != 0 }

func (expr Compare) Negate() Compare {
	var newOperator string
	switch expr.Op {
	case "==":
		newOperator = "!="
	case "!=":
		newOperator = "=="
	case "<":
		newOperator = ">="
	case "<=":
		newOperator = ">"
	case ">":
		newOperator = "<="
	case ">=":
		newOperator = "<"
	default:
		log.Panicf("Unknown compare operation type: %v", expr)
	}
	return Compare{Left: expr.Left, Op: newOperator, Right: expr.Right}
}
