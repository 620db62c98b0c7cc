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

// Package walker walks abstract preprocessor trees. A single traversal
// engine is specialized by strategies: the parse strategy produces the token
// stream of a file and gathers macros and includes, the restore strategy
// replays an include stack to rebuild the preprocessor context of an
// included file.
package walker

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/tokenstream"
)

// Options configure a walk.
type Options struct {
	// Record the macros, includes and errors of the walked file.
	Gather bool
	// Queue included files for parsing, see project.File.PostIncludeFile.
	TriggerParsing bool
	Callback       EvalCallback
	Stats          *Stats
}

// strategy binds the hooks of a walk. Nil hooks are skipped.
type strategy struct {
	onDefine      func(w *Walker, d parser.DefineDirective)
	onUndef       func(w *Walker, d parser.UndefineDirective)
	onConditional func(w *Walker, branch parser.ConditionalBranch, result bool)
	onError       func(w *Walker, d parser.ErrorDirective)
	onPragma      func(w *Walker, d parser.PragmaDirective)
	// onInclude includes a resolved file whose frame was pushed on
	// step.Handler. It reports whether the include succeeded.
	onInclude           func(w *Walker, step *IncludeStep) bool
	onPopInclude        func(w *Walker, step *IncludeStep)
	onUnresolvedInclude func(w *Walker, d parser.IncludeDirective, name string, state preproc.IncludeState)
}

// Walker traverses the APT of one file. Included files are walked by child
// walkers sharing the root of the walk. A walk is not restartable.
type Walker struct {
	ctx  context.Context
	root *Walker

	file    *project.File
	owner   *project.Project // owner of file
	start   *project.Project // project the walk started from, resolves includes
	apt     *parser.APT
	handler *preproc.Handler
	pcs     *pcs.Builder
	entry   *aptcache.Entry
	opts    Options
	strat   *strategy
	content *FileContent
	depth   int

	// State before each successfully pushed include, by directive index.
	preInclude      map[int]preproc.State
	ldscopeDisabled bool
	started         bool

	// Fields below are only used on the root walker.
	yield     func(lexer.Token) bool
	active    *preproc.Handler
	stopped   bool
	cancelled bool
}

func newWalker(ctx context.Context, file *project.File, start *project.Project, apt *parser.APT, handler *preproc.Handler, entry *aptcache.Entry, opts Options, strat *strategy) *Walker {
	if opts.Callback == nil {
		opts.Callback = NopCallback{}
	}
	w := &Walker{
		ctx:        ctx,
		file:       file,
		owner:      file.Project(),
		start:      start,
		apt:        apt,
		handler:    handler,
		pcs:        pcs.NewBuilder(file.String()),
		entry:      entry,
		opts:       opts,
		strat:      strat,
		preInclude: make(map[int]preproc.State),
	}
	w.root = w
	w.active = handler
	if opts.Gather {
		w.content = newFileContent(file.Path())
	}
	return w
}

// child creates the walker of an included file. It shares the token sink of
// its parent when tokens is set.
func (w *Walker) child(step *IncludeStep, apt *parser.APT, entry *aptcache.Entry, tokens bool) *Walker {
	opts := w.opts
	opts.Gather = false
	c := newWalker(w.ctx, step.File, w.start, apt, step.Handler, entry, opts, w.strat)
	c.root = w.root
	c.depth = w.depth + 1
	if tokens {
		c.yield = w.yield
	}
	return c
}

func (w *Walker) File() *project.File            { return w.file }
func (w *Walker) APT() *parser.APT               { return w.apt }
func (w *Walker) Handler() *preproc.Handler      { return w.handler }
func (w *Walker) Entry() *aptcache.Entry         { return w.entry }
func (w *Walker) Content() *FileContent          { return w.content }
func (w *Walker) StartProject() *project.Project { return w.start }

// Cancelled reports whether the walk stopped because its context was done.
func (w *Walker) Cancelled() bool { return w.root.cancelled }

func (w *Walker) setHandler(h *preproc.Handler) {
	w.handler = h
	w.root.active = h
}

func (w *Walker) stop() {
	w.root.stopped = true
}

func (w *Walker) emit(token lexer.Token) {
	if w.yield == nil || w.root.stopped {
		return
	}
	if !w.yield(token) {
		w.stop()
	}
}

func (w *Walker) trace(format string, args ...any) {
	if w.owner.Config().TracePreprocState {
		log.Printf("walker: %v: %s", w.file, fmt.Sprintf(format, args...))
	}
}

// run walks the whole tree once.
func (w *Walker) run() {
	if w.started {
		return
	}
	w.started = true
	w.root.active = w.handler
	w.opts.Stats.walk(w.apt.Mode)
	w.walk(w.apt.Directives)
	if w.ldscopeDisabled {
		eof := lexer.Token{Offset: w.apt.Size}
		w.emit(tokenstream.LDScopeMarker(tokenstream.PragmaEnableLDScope, eof))
		w.ldscopeDisabled = false
	}
}

func (w *Walker) walk(directives []parser.Directive) {
	for _, directive := range directives {
		if w.root.stopped {
			return
		}
		switch d := directive.(type) {
		case parser.TokenRun:
			for _, token := range d.Tokens {
				w.emit(token)
			}
		case parser.DefineDirective:
			w.onDefine(d)
		case parser.UndefineDirective:
			w.handler.Undefine(d.Name)
			if w.strat.onUndef != nil {
				w.strat.onUndef(w, d)
			}
		case parser.IfBlock:
			w.onIfBlock(d)
		case parser.IncludeDirective:
			w.onInclude(d)
		case parser.ErrorDirective:
			w.opts.Callback.OnError(w.file.Path(), d)
			if w.strat.onError != nil {
				w.strat.onError(w, d)
			}
		case parser.PragmaDirective:
			w.onPragma(d)
		}
	}
}

// onDefine binds valid macros. Invalid definitions still reach the hook.
func (w *Walker) onDefine(d parser.DefineDirective) {
	if d.Valid {
		w.handler.Define(preproc.MacroFromDirective(d, w.file.Path()))
	}
	if w.strat.onDefine != nil {
		w.strat.onDefine(w, d)
	}
}

func (w *Walker) onPragma(d parser.PragmaDirective) {
	switch d.Name {
	case "once":
		w.handler.MarkOnce(onceKey(w.file.FileSystem().ID(), w.file.Path()))
	case tokenstream.PragmaDisableLDScope, tokenstream.PragmaEnableLDScope:
		w.ldscopeDisabled = d.Name == tokenstream.PragmaDisableLDScope
		w.emit(tokenstream.LDScopeMarker(d.Name, d.Token))
	}
	if w.strat.onPragma != nil {
		w.strat.onPragma(w, d)
	}
}

func onceKey(fileSystem, path string) string {
	return fileSystem + ":" + path
}

// onIfBlock walks the first branch whose condition holds. The bodies of the
// other branches are recorded as dead blocks.
func (w *Walker) onIfBlock(block parser.IfBlock) {
	taken := -1
	for i, branch := range block.Branches {
		if taken >= 0 {
			w.pcs.AddDeadBlock(branch.BodyStart, branch.BodyEnd)
			continue
		}
		result := w.evaluate(branch)
		if branch.Kind != parser.ElseBranch {
			w.opts.Callback.OnEval(w.file.Path(), branch, result)
		}
		if w.strat.onConditional != nil {
			w.strat.onConditional(w, branch, result)
		}
		if result {
			taken = i
		} else {
			w.pcs.AddDeadBlock(branch.BodyStart, branch.BodyEnd)
		}
	}
	if taken >= 0 {
		w.walk(block.Branches[taken].Body)
	}
}

func (w *Walker) evaluate(branch parser.ConditionalBranch) bool {
	if branch.Kind == parser.ElseBranch {
		return true
	}
	offset := branch.Token.Offset
	if w.entry != nil {
		if result, ok := w.entry.EvalResult(offset); ok {
			return result
		}
	}
	result := evalCondition(branch, w.handler)
	if w.entry != nil {
		w.entry.SetEvalResult(offset, result)
	}
	return result
}

func evalCondition(branch parser.ConditionalBranch, h *preproc.Handler) bool {
	var condition []lexer.Token
	for _, token := range branch.Condition {
		if token.Type.IsSignificant() && !token.Type.IsComment() {
			condition = append(condition, token)
		}
	}
	switch branch.Token.Type {
	case lexer.TokenType_PreprocessorIfdef, lexer.TokenType_PreprocessorElifdef:
		return len(condition) > 0 && h.IsDefined(condition[0].Content)
	case lexer.TokenType_PreprocessorIfndef, lexer.TokenType_PreprocessorElifndef:
		return len(condition) > 0 && !h.IsDefined(condition[0].Content)
	}
	tokens := replaceDefined(condition, h.IsDefined)
	tokens = tokenstream.ExpandTokens(tokens, h.Lookup)
	// Expansions may produce `defined` operators too.
	tokens = replaceDefined(tokens, h.IsDefined)
	expr, err := parser.ParseExpr(tokens)
	if err != nil {
		return false
	}
	// Identifiers left after expansion evaluate to 0.
	return expr.Eval(nil)
}

// replaceDefined replaces `defined X` and `defined(X)` with 1 or 0.
func replaceDefined(tokens []lexer.Token, isDefined func(string) bool) []lexer.Token {
	result := make([]lexer.Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if token.Type != lexer.TokenType_Identifier || token.Content != "defined" {
			result = append(result, token)
			continue
		}
		var name lexer.Token
		switch {
		case i+1 < len(tokens) && tokens[i+1].Type.IsIdentifierLike():
			name = tokens[i+1]
			i++
		case i+3 < len(tokens) && tokens[i+1].Type == lexer.TokenType_ParenthesisLeft &&
			tokens[i+2].Type.IsIdentifierLike() && tokens[i+3].Type == lexer.TokenType_ParenthesisRight:
			name = tokens[i+2]
			i += 3
		default:
			// Malformed, left for the expression parser to reject.
			result = append(result, token)
			continue
		}
		value := "0"
		if isDefined(name.Content) {
			value = "1"
		}
		result = append(result, lexer.Token{Type: lexer.TokenType_LiteralNumber, Location: token.Location, Offset: token.Offset, Content: value})
	}
	return result
}

// IncludeStep is the inclusion of a resolved file by an #include directive.
type IncludeStep struct {
	Directive parser.IncludeDirective
	Name      string
	Resolved  project.ResolvedInclude
	Info      preproc.IncludeInfo
	PushState preproc.IncludeState
	// State entering the included file, with its frame pushed.
	Incoming preproc.State
	// Handler used for the included file. It becomes the handler of the
	// including file once the include succeeded.
	Handler *preproc.Handler
	popped  bool

	// Owner and file of the included file, nil when the include failed
	// before they were known.
	Owner       *project.Project
	File        *project.File
	PostInclude aptcache.PostIncludeData

	// Outcome: state after the include with the frame popped, dead blocks of
	// the included file.
	OK         bool
	Post       preproc.State
	DeadBlocks pcs.State
	// The outcome came from a cache, nothing was walked.
	Cached bool
	// The included or the start project is going away.
	Disposing bool

	childEntry *aptcache.Entry
	ownership  aptcache.Ownership
}

// RestoreFrom continues after the include from a known post-include state.
func (s *IncludeStep) RestoreFrom(post preproc.State) {
	s.Handler = preproc.FromState(post)
	s.popped = true
}

func (w *Walker) searchIndex() int {
	stack := w.handler.IncludeStack()
	if len(stack) == 0 {
		return -1
	}
	return stack[len(stack)-1].SearchIndex
}

// includeName returns the path named by an include directive, expanding
// `#include MACRO` forms.
func (w *Walker) includeName(d parser.IncludeDirective) (name string, isSystem bool, ok bool) {
	if d.Path != "" {
		return d.Path, d.IsSystem, true
	}
	var tokens []lexer.Token
	for _, token := range tokenstream.ExpandTokens(d.Tokens, w.handler.Lookup) {
		if !token.Type.IsComment() {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return "", false, false
	}
	if tokens[0].Type == lexer.TokenType_LiteralString {
		content := tokens[0].Content
		if len(content) >= 2 && strings.HasPrefix(content, `"`) && strings.HasSuffix(content, `"`) {
			return content[1 : len(content)-1], false, true
		}
		return "", false, false
	}
	if tokens[0].Content != "<" {
		return "", false, false
	}
	var sb strings.Builder
	for _, token := range tokens[1:] {
		if token.Content == ">" {
			return sb.String(), true, sb.Len() > 0
		}
		sb.WriteString(token.Content)
	}
	return "", false, false
}

func (w *Walker) onInclude(d parser.IncludeDirective) {
	if err := w.ctx.Err(); err != nil {
		w.root.cancelled = true
		w.stop()
		return
	}
	name, isSystem, ok := w.includeName(d)
	if !ok {
		w.unresolved(d, name, preproc.IncludeFail)
		return
	}
	resolved, found := w.start.ResolveInclude(w.file.FileSystem(), w.file.Path(), w.searchIndex(), name, isSystem, d.Next)
	if !found {
		w.trace("cannot resolve %s", d)
		w.unresolved(d, name, preproc.IncludeFail)
		return
	}
	fsID := resolved.FileSystem.ID()
	if w.handler.IsOnce(onceKey(fsID, resolved.Path)) {
		w.opts.Stats.inc(onceSkips)
		w.opts.Callback.OnPragmaOnce(w.file.Path(), resolved.Path)
		if w.content != nil {
			w.content.addInclude(d, name, preproc.IncludeSuccess, resolved.Path, fsID, false)
			w.content.Includes[len(w.content.Includes)-1].Once = true
		}
		return
	}

	info := preproc.IncludeInfo{
		Path:           resolved.Path,
		FileSystem:     fsID,
		DirectiveIndex: d.Index,
		Offset:         d.Token.Offset,
		Line:           d.LineNumber,
		SearchIndex:    resolved.SearchIndex,
	}
	handler := w.handler.Fork()
	step := &IncludeStep{
		Directive: d,
		Name:      name,
		Resolved:  resolved,
		Info:      info,
		PushState: handler.PushInclude(info),
		Handler:   handler,
	}
	if step.PushState != preproc.IncludeSuccess {
		w.trace("include of %s: %v", resolved.Path, step.PushState)
		w.unresolved(d, name, step.PushState)
		return
	}
	w.preInclude[d.Index] = w.handler.State()
	step.Incoming = handler.State()

	step.OK = w.include(step)
	if step.OK {
		if !step.popped {
			step.Handler.PopInclude()
			step.popped = true
		}
		w.setHandler(step.Handler)
		step.Post = w.handler.State()
	} else {
		// Everything the included file defined is dropped with its handler.
		w.root.active = w.handler
		if !step.Disposing && !w.root.stopped {
			w.opts.Stats.inc(failedIncludes)
		}
	}
	if w.strat.onPopInclude != nil {
		w.strat.onPopInclude(w, step)
	}
}

func (w *Walker) unresolved(d parser.IncludeDirective, name string, state preproc.IncludeState) {
	switch state {
	case preproc.IncludeRecursive:
		w.opts.Stats.inc(recursiveIncludes)
	default:
		w.opts.Stats.inc(failedIncludes)
	}
	if w.strat.onUnresolvedInclude != nil {
		w.strat.onUnresolvedInclude(w, d, name, state)
	}
}

// include finds the project owning the included file and hands the file to
// the strategy. Panics of the strategy fail the include only.
func (w *Walker) include(step *IncludeStep) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("walker: %v: include of %s failed: %v", w.file, step.Resolved.Path, r)
			ok = false
		}
	}()

	owner, found := w.start.Workspace().FindOwner(step.Resolved.FileSystem, step.Resolved.Path)
	if !found {
		if step.Resolved.FileSystem.ID() != w.owner.FileSystem().ID() {
			log.Printf("walker: %v: no project owns %s:%s", w.file, step.Resolved.FileSystem.ID(), step.Resolved.Path)
			return false
		}
		owner = w.owner
	}
	if owner.Disposing() || w.start.Disposing() {
		step.Disposing = true
		return false
	}
	file, err := owner.File(step.Resolved.Path)
	if err != nil {
		log.Printf("walker: %v: %v", w.file, err)
		return false
	}
	step.Owner, step.File = owner, file
	if w.entry != nil {
		step.PostInclude, _ = w.entry.PostInclude(step.Directive.Index)
	}
	// Disposal may have started while the file was looked up.
	if owner.Disposing() || w.start.Disposing() || file.Disposed() {
		step.Disposing = true
		return false
	}
	return w.strat.onInclude(w, step)
}

// PreIncludeState returns the state before the include directive with the
// given index, if the walk pushed that include.
func (w *Walker) PreIncludeState(index int) (preproc.State, bool) {
	state, ok := w.preInclude[index]
	return state, ok
}
