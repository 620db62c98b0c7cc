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

package walker

import (
	"context"
	"fmt"
	"iter"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/tokenstream"
)

// ParseWalker produces the token stream of a file and gathers its macros,
// includes and errors.
type ParseWalker struct {
	*Walker
	stream     *tokenstream.SeqStream
	finished   bool
	deadBlocks pcs.State
	buildErr   error
}

var parseStrategy = &strategy{
	onDefine: func(w *Walker, d parser.DefineDirective) {
		if w.content != nil {
			w.content.addMacro(d)
		}
	},
	onError: func(w *Walker, d parser.ErrorDirective) {
		if w.content != nil {
			w.content.addError(d)
		}
	},
	onInclude:    includeAction,
	onPopInclude: popInclude,
	onUnresolvedInclude: func(w *Walker, d parser.IncludeDirective, name string, state preproc.IncludeState) {
		if w.content != nil {
			w.content.addInclude(d, name, state, "", "", true)
		}
	},
}

// NewParseWalker creates the walker of file starting from handler. The
// entry, which may be nil, caches the work of the walk.
func NewParseWalker(ctx context.Context, file *project.File, start *project.Project, handler *preproc.Handler, entry *aptcache.Entry, opts Options) (*ParseWalker, error) {
	if file == nil || start == nil || handler == nil {
		return nil, fmt.Errorf("walker: missing file, start project or handler")
	}
	apt, err := file.APT(parser.ModeFull)
	if err != nil {
		return nil, err
	}
	return &ParseWalker{Walker: newWalker(ctx, file, start, apt, handler, entry, opts, parseStrategy)}, nil
}

// Tokens walks the file yielding its tokens, and the tokens of included
// files when headers are parsed with their sources. Macros are not expanded.
func (p *ParseWalker) Tokens() iter.Seq[lexer.Token] {
	return func(yield func(lexer.Token) bool) {
		if p.started {
			return
		}
		p.yield = yield
		p.run()
		p.finish()
	}
}

// Visit walks the file without producing tokens.
func (p *ParseWalker) Visit() {
	if p.started {
		return
	}
	p.run()
	p.finish()
}

func (p *ParseWalker) finish() {
	p.finished = !p.stopped
	p.deadBlocks, p.buildErr = p.pcs.Build()
}

// TokenStream returns the tokens of the file after macro expansion, without
// comments when filterComments is set, with ldscope specifiers demoted to
// identifiers where ldscope is disabled by pragmas.
func (p *ParseWalker) TokenStream(filterComments bool) tokenstream.TokenStream {
	if p.stream == nil {
		p.stream = tokenstream.FromSeq(p.Tokens())
	}
	var stream tokenstream.TokenStream = tokenstream.NewExpander(p.stream, p.lookup)
	if filterComments {
		stream = tokenstream.WithoutComments(stream)
	}
	return tokenstream.NewLDScopeFilter(stream)
}

// lookup resolves macros in the handler of the file currently walked.
func (p *ParseWalker) lookup(name string) (preproc.Macro, bool) {
	return p.active.Lookup(name)
}

// Close stops a walk abandoned before its end.
func (p *ParseWalker) Close() {
	if p.stream != nil {
		p.stream.Close()
	}
}

// Finished reports whether the whole file was walked.
func (p *ParseWalker) Finished() bool { return p.finished }

// DeadBlocks returns the dead blocks of a finished walk.
func (p *ParseWalker) DeadBlocks() (pcs.State, error) {
	if !p.finished {
		return pcs.State{}, fmt.Errorf("walker: walk of %v did not finish", p.file)
	}
	return p.deadBlocks, p.buildErr
}

// includeAction includes a file either with its tokens, merged into the
// stream of the including file, or by gathering its macros only.
func includeAction(w *Walker, step *IncludeStep) bool {
	if w.yield != nil && w.owner.Config().ParseHeadersWithSources {
		return includeWithTokens(w, step)
	}
	return includeWithoutTokens(w, step)
}

// includeWithTokens walks the full tree of the included file into the token
// stream. The cache entries are finished by popInclude.
func includeWithTokens(w *Walker, step *IncludeStep) bool {
	apt, err := step.File.APT(parser.ModeFull)
	if err != nil {
		w.trace("%v", err)
		return false
	}
	key := aptcache.EntryKey{File: step.File.Path(), FileSystem: step.Owner.FileSystem().ID(), State: step.Incoming.Key(), Mode: parser.ModeFull}
	step.childEntry, step.ownership = step.Owner.Cache().Acquire(key)
	child := w.child(step, apt, step.childEntry, true)
	child.run()
	step.Handler = child.handler
	if w.root.stopped {
		return false
	}
	step.DeadBlocks, err = child.pcs.Build()
	return err == nil
}

// includeWithoutTokens gathers the macros of the included file. A complete
// post-include record, a visited state or the published light entry of the
// file replaces the walk; otherwise the light tree of the file is walked.
func includeWithoutTokens(w *Walker, step *IncludeStep) bool {
	data := step.PostInclude
	if data.Failed && data.HasPostIncludeState() {
		return false
	}
	if data.Complete() {
		w.opts.Stats.inc(postIncludeHits)
		step.RestoreFrom(data.State)
		step.DeadBlocks = data.DeadBlocks
		step.Cached = true
		return true
	}
	fsID := step.Owner.FileSystem().ID()
	if w.depth == 0 && w.yield != nil {
		if visited, ok := step.Owner.VisitedStates().Get(step.File.Path(), fsID, step.Incoming.Key()); ok && visited.Post.Valid() {
			w.opts.Stats.inc(visitedHits)
			step.RestoreFrom(visited.Post)
			step.DeadBlocks = visited.DeadBlocks
			step.Cached = true
			return true
		}
	}

	apt, err := step.File.APT(parser.ModeLight)
	if err != nil {
		w.trace("%v", err)
		return false
	}
	if apt.GuardMacro != "" && step.Handler.IsDefined(apt.GuardMacro) {
		w.opts.Stats.inc(guardSkips)
		step.DeadBlocks = guardedBody(apt)
		return true
	}
	key := aptcache.EntryKey{File: step.File.Path(), FileSystem: fsID, State: step.Incoming.Key(), Mode: parser.ModeLight}
	if entry, ok := step.Owner.Cache().Lookup(key); ok {
		if post, deadBlocks, ok := entry.Result(); ok {
			w.opts.Stats.inc(entryHits)
			step.RestoreFrom(post)
			step.DeadBlocks = deadBlocks
			step.Cached = true
			return true
		}
	}
	step.childEntry, step.ownership = step.Owner.Cache().Acquire(key)
	child := w.child(step, apt, step.childEntry, false)
	child.run()
	step.Handler = child.handler
	if w.root.stopped {
		return false
	}
	step.DeadBlocks, err = child.pcs.Build()
	return err == nil
}

// guardedBody returns the dead blocks of a file whose include guard is
// defined: the whole body of the guard.
func guardedBody(apt *parser.APT) pcs.State {
	for _, directive := range apt.Directives {
		if block, ok := directive.(parser.IfBlock); ok {
			guard := block.Branches[0]
			return pcs.FromRanges(pcs.Range{Start: guard.BodyStart, End: guard.BodyEnd})
		}
	}
	return pcs.Empty
}

// popInclude records the outcome of an include in the caches and the
// content of the including file.
func popInclude(w *Walker, step *IncludeStep) {
	if step.File != nil {
		w.start.Workspace().RecordInclude(w.file, step.File)
	}
	if w.content != nil {
		w.content.addInclude(step.Directive, step.Name, step.PushState, step.Info.Path, step.Info.FileSystem, !step.OK)
	}
	if step.childEntry != nil && step.ownership == aptcache.Exclusive {
		if step.OK {
			step.childEntry.SetResult(step.Post, step.DeadBlocks)
			step.Owner.Cache().Publish(step.childEntry)
		} else {
			step.Owner.Cache().Abandon(step.childEntry)
		}
	}
	if !step.OK {
		if pre, ok := w.PreIncludeState(step.Directive.Index); ok && w.entry != nil && !step.Disposing && !w.root.stopped {
			w.entry.SetPostInclude(step.Directive.Index, aptcache.PostIncludeData{State: pre, Failed: true})
		}
		return
	}
	if w.entry != nil {
		w.entry.SetPostInclude(step.Directive.Index, aptcache.PostIncludeData{State: step.Post, DeadBlocks: step.DeadBlocks})
	}
	if !step.Cached {
		step.Owner.VisitedStates().Put(step.File.Path(), step.Owner.FileSystem().ID(), step.Incoming.Key(), aptcache.VisitedEntry{Post: step.Post, DeadBlocks: step.DeadBlocks})
	}
	step.File.PostIncludeFile(step.Incoming, step.DeadBlocks, w.opts.TriggerParsing)
}
