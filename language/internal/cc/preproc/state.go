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

package preproc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/EngFlow/cc_tokenstream/internal/wire"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/bazelbuild/bazel-gazelle/label"
)

// Key identifies a State. Equal keys mean the states expand every file in
// the same way.
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:8])
}

// State is an immutable snapshot of a Handler. The zero value is an invalid,
// empty state.
type State struct {
	macros   []Macro // sorted by name
	includes []IncludeInfo
	once     []string // sorted
	start    StartEntry
	valid    bool
	cleaned  bool
	key      Key
}

func newState(macros []Macro, includes []IncludeInfo, once []string, start StartEntry, valid, cleaned bool) State {
	s := State{
		macros:   macros,
		includes: includes,
		once:     once,
		start:    start,
		valid:    valid,
		cleaned:  cleaned,
	}
	s.key = sha256.Sum256(s.encode(false))
	return s
}

func (s State) Key() Key { return s.key }

// Equal compares states by key.
func (s State) Equal(other State) bool { return s.key == other.key }

func (s State) Valid() bool { return s.valid }

// Cleaned reports whether the macro map was dropped, see Clean.
func (s State) Cleaned() bool { return s.cleaned }

func (s State) Start() StartEntry { return s.start }

// Macros returns the macro bindings sorted by name. The result must not be
// modified.
func (s State) Macros() []Macro { return s.macros }

func (s State) Lookup(name string) (Macro, bool) {
	idx, found := slices.BinarySearchFunc(s.macros, name, func(m Macro, name string) int {
		switch {
		case m.Name < name:
			return -1
		case m.Name > name:
			return 1
		}
		return 0
	})
	if !found {
		return Macro{}, false
	}
	return s.macros[idx], true
}

// IncludeStack returns a copy of the include stack, outermost frame first.
func (s State) IncludeStack() []IncludeInfo { return slices.Clone(s.includes) }

// Clean returns the state without its macro map. The include stack is kept so
// the state can still be restored by replaying the includes.
func (s State) Clean() State {
	if s.cleaned {
		return s
	}
	return newState(nil, s.includes, nil, s.start, s.valid, true)
}

// WithStart returns the state with another start entry.
func (s State) WithStart(start StartEntry) State {
	return newState(s.macros, s.includes, s.once, start, s.valid, s.cleaned)
}

func (s State) String() string {
	return fmt.Sprintf("State(%s, macros=%d, includes=%d, valid=%t, cleaned=%t)", s.key, len(s.macros), len(s.includes), s.valid, s.cleaned)
}

// Field numbers of the encoded State message.
const (
	stateMacro   = 1
	stateInclude = 2
	stateOnce    = 3
	stateStart   = 4
	stateValid   = 5
	stateCleaned = 6

	macroName         = 1
	macroFunctionLike = 2
	macroParam        = 3
	macroVariadic     = 4
	macroBody         = 5
	macroKind         = 6
	macroFile         = 7

	tokenType    = 1
	tokenContent = 2
	tokenOffset  = 3
	tokenLine    = 4
	tokenColumn  = 5

	includePath           = 1
	includeFileSystem     = 2
	includeDirectiveIndex = 3
	includeOffset         = 4
	includeLine           = 5
	includeSearchIndex    = 6

	startFile       = 1
	startFileSystem = 2
	startProject    = 3
)

// encode writes the state. With positions=false only the parts that affect
// expansion are written, which is what the key is computed from.
func (s State) encode(positions bool) []byte {
	var e wire.Encoder
	for _, m := range s.macros {
		e.Message(stateMacro, func(e *wire.Encoder) { encodeMacro(e, m, positions) })
	}
	for _, inc := range s.includes {
		e.Message(stateInclude, func(e *wire.Encoder) {
			e.String(includePath, inc.Path)
			e.String(includeFileSystem, inc.FileSystem)
			e.Int(includeDirectiveIndex, inc.DirectiveIndex)
			e.Int(includeSearchIndex, inc.SearchIndex)
			if positions {
				e.Int(includeOffset, inc.Offset)
				e.Int(includeLine, inc.Line)
			}
		})
	}
	for _, path := range s.once {
		e.String(stateOnce, path)
	}
	e.Message(stateStart, func(e *wire.Encoder) {
		e.String(startFile, s.start.File)
		e.String(startFileSystem, s.start.FileSystem)
		if s.start.Project != label.NoLabel {
			e.String(startProject, s.start.Project.String())
		}
	})
	e.Bool(stateValid, s.valid)
	e.Bool(stateCleaned, s.cleaned)
	return e.Result()
}

func encodeMacro(e *wire.Encoder, m Macro, positions bool) {
	e.String(macroName, m.Name)
	e.Bool(macroFunctionLike, m.FunctionLike)
	for _, param := range m.Params {
		e.String(macroParam, param)
	}
	e.Bool(macroVariadic, m.Variadic)
	for _, token := range m.Body {
		e.Message(macroBody, func(e *wire.Encoder) {
			e.Int(tokenType, int(token.Type))
			e.String(tokenContent, token.Content)
			if positions {
				e.Int(tokenOffset, token.Offset)
				e.Int(tokenLine, token.Location.Line)
				e.Int(tokenColumn, token.Location.Column)
			}
		})
	}
	if positions {
		e.Int(macroKind, int(m.Kind))
		e.String(macroFile, m.File)
	}
}

// Marshal encodes the state for a repository.
func (s State) Marshal() []byte {
	return s.encode(true)
}

// UnmarshalState decodes a state written by Marshal.
func UnmarshalState(data []byte) (State, error) {
	var (
		macros   []Macro
		includes []IncludeInfo
		once     []string
		start    StartEntry
		valid    bool
		cleaned  bool
	)
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case stateMacro:
			m, err := decodeMacro(f.Data)
			if err != nil {
				return err
			}
			macros = append(macros, m)
		case stateInclude:
			inc, err := decodeInclude(f.Data)
			if err != nil {
				return err
			}
			includes = append(includes, inc)
		case stateOnce:
			once = append(once, f.String())
		case stateStart:
			var err error
			if start, err = decodeStart(f.Data); err != nil {
				return err
			}
		case stateValid:
			valid = f.Bool()
		case stateCleaned:
			cleaned = f.Bool()
		}
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("decoding preprocessor state: %w", err)
	}
	return newState(macros, includes, once, start, valid, cleaned), nil
}

func decodeMacro(data []byte) (Macro, error) {
	var m Macro
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case macroName:
			m.Name = f.String()
		case macroFunctionLike:
			m.FunctionLike = f.Bool()
		case macroParam:
			m.Params = append(m.Params, f.String())
		case macroVariadic:
			m.Variadic = f.Bool()
		case macroBody:
			token, err := decodeToken(f.Data)
			if err != nil {
				return err
			}
			m.Body = append(m.Body, token)
		case macroKind:
			m.Kind = MacroKind(f.Int())
		case macroFile:
			m.File = f.String()
		}
		return nil
	})
	return m, err
}

func decodeToken(data []byte) (lexer.Token, error) {
	var token lexer.Token
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case tokenType:
			token.Type = lexer.TokenType(f.Int())
		case tokenContent:
			token.Content = f.String()
		case tokenOffset:
			token.Offset = f.Int()
		case tokenLine:
			token.Location.Line = f.Int()
		case tokenColumn:
			token.Location.Column = f.Int()
		}
		return nil
	})
	return token, err
}

func decodeInclude(data []byte) (IncludeInfo, error) {
	var inc IncludeInfo
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case includePath:
			inc.Path = f.String()
		case includeFileSystem:
			inc.FileSystem = f.String()
		case includeDirectiveIndex:
			inc.DirectiveIndex = f.Int()
		case includeOffset:
			inc.Offset = f.Int()
		case includeLine:
			inc.Line = f.Int()
		case includeSearchIndex:
			inc.SearchIndex = f.Int()
		}
		return nil
	})
	return inc, err
}

func decodeStart(data []byte) (StartEntry, error) {
	var start StartEntry
	err := wire.ReadFields(data, func(f wire.Field) error {
		switch f.Num {
		case startFile:
			start.File = f.String()
		case startFileSystem:
			start.FileSystem = f.String()
		case startProject:
			project, err := label.Parse(f.String())
			if err != nil {
				return fmt.Errorf("invalid project label %q: %w", f.String(), err)
			}
			start.Project = project
		}
		return nil
	})
	return start, err
}
