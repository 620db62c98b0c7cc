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

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
)

// restorer replays an include stack: a walker entered through frames[:i]
// enters the include matching frames[i], every other include only gathers
// macros. Walkers of other includes never match a frame, even when they
// include the same file at the same directive.
type restorer struct {
	frames []preproc.IncludeInfo
	onPath map[*Walker]bool
	result *preproc.Handler
}

func sameFrame(a, b preproc.IncludeInfo) bool {
	return a.Path == b.Path && a.FileSystem == b.FileSystem && a.DirectiveIndex == b.DirectiveIndex
}

func (r *restorer) matches(w *Walker, step *IncludeStep) bool {
	return r.onPath[w] && w.depth < len(r.frames) && sameFrame(r.frames[w.depth], step.Info)
}

func (r *restorer) onInclude(w *Walker, step *IncludeStep) bool {
	if !r.matches(w, step) {
		return includeWithoutTokens(w, step)
	}
	if w.depth == len(r.frames)-1 {
		r.result = step.Handler.Fork()
		w.stop()
		return false
	}
	apt, err := step.File.APT(parser.ModeLight)
	if err != nil {
		w.trace("%v", err)
		return false
	}
	child := w.child(step, apt, nil, false)
	r.onPath[child] = true
	child.run()
	step.Handler = child.handler
	return !w.root.stopped
}

func (r *restorer) onPopInclude(w *Walker, step *IncludeStep) {
	if r.matches(w, step) {
		return
	}
	popInclude(w, step)
}

// Restore rebuilds the context in which the innermost frame of stack was
// included. The walk starts from the default handler of startFile in project
// start and enters the files of stack in order. The returned handler has the
// innermost frame pushed; it is invalid when the stack could not be replayed,
// e.g. because the walk was cancelled or the files changed since the stack was
// recorded.
func Restore(ctx context.Context, start *project.Project, startFile *project.File, stack []preproc.IncludeInfo, opts Options) (*preproc.Handler, error) {
	opts.Stats.inc(restores)
	opts.Gather = false
	handler := start.DefaultHandler(startFile)
	fail := func(err error) (*preproc.Handler, error) {
		handler.Invalidate()
		return handler, err
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if len(stack) == 0 {
		return handler, nil
	}
	apt, err := startFile.APT(parser.ModeLight)
	if err != nil {
		return fail(err)
	}

	r := &restorer{frames: stack, onPath: make(map[*Walker]bool)}
	strat := &strategy{
		onInclude:    r.onInclude,
		onPopInclude: r.onPopInclude,
	}
	w := newWalker(ctx, startFile, start, apt, handler, nil, opts, strat)
	r.onPath[w] = true
	w.run()
	switch {
	case w.Cancelled():
		return fail(ctx.Err())
	case r.result == nil:
		return fail(fmt.Errorf("walker: %v does not include %s:%s at directive %d", startFile, stack[len(stack)-1].FileSystem, stack[len(stack)-1].Path, stack[len(stack)-1].DirectiveIndex))
	}
	return r.result, nil
}
