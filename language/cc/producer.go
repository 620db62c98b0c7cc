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

// Package cc produces the token streams a C/C++ parser consumes: the tokens
// of a file after preprocessing, under the preprocessor context the file is
// compiled in.
//
// A TokenStreamProducer walks one file once. Its stream is lazy, so callers
// drain it and then call Release, which builds the dead blocks of the walk and
// stores the walked state on the file when the stream was requested for
// caching.
package cc

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/tokenstream"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/walker"
)

var (
	ErrStreamRequested = errors.New("token stream already requested")
	ErrNotStarted      = errors.New("token stream not requested")
	ErrReleased        = errors.New("producer already released")
	ErrUnfinished      = errors.New("token stream was not fully consumed")
)

// Options configure a TokenStreamProducer.
type Options struct {
	// Record the macros, includes and errors of the file, see FileContent.
	Gather bool
	// Queue the headers included by the file for parsing.
	TriggerParsing bool
	Callback       walker.EvalCallback
	Stats          *walker.Stats
}

func (o Options) walkerOptions() walker.Options {
	return walker.Options{
		Gather:         o.Gather,
		TriggerParsing: o.TriggerParsing,
		Callback:       o.Callback,
		Stats:          o.Stats,
	}
}

// TokenStreamProducer produces the token stream of a file under a
// preprocessor context.
type TokenStreamProducer struct {
	ctx     context.Context
	file    *project.File
	start   *project.Project
	handler *preproc.Handler
	// State the walk starts from.
	state preproc.State
	opts  Options

	walker     *walker.ParseWalker
	entry      *aptcache.Entry
	ownership  aptcache.Ownership
	cacheable  bool
	released   bool
	deadBlocks pcs.State
}

// NewTokenStreamProducer creates the producer of file. A nil handler stands
// for the default context of the file in its own project. The walk resolves
// includes in the project the handler was started from.
func NewTokenStreamProducer(ctx context.Context, file *project.File, handler *preproc.Handler, opts Options) (*TokenStreamProducer, error) {
	if file == nil {
		return nil, fmt.Errorf("token stream producer: missing file")
	}
	if file.Disposed() {
		return nil, fmt.Errorf("token stream producer: %v was removed", file)
	}
	if handler == nil {
		handler = file.Project().DefaultHandler(file)
	}
	return &TokenStreamProducer{
		ctx:     ctx,
		file:    file,
		start:   startProject(file, handler.Start()),
		handler: handler,
		state:   handler.State(),
		opts:    opts,
	}, nil
}

// startProject returns the project a walk from start resolves includes in,
// the project of file when the start project is unknown.
func startProject(file *project.File, start preproc.StartEntry) *project.Project {
	if p, ok := file.Project().Workspace().Project(start.Project); ok {
		return p
	}
	if file.Project().Config().TracePreprocState {
		log.Printf("%v: unknown start project %v, using %v", file, start.Project, file.Project())
	}
	return file.Project()
}

func (p *TokenStreamProducer) File() *project.File { return p.file }

// StartProject is the project includes are resolved in.
func (p *TokenStreamProducer) StartProject() *project.Project { return p.start }

// StartState returns the state the walk starts from.
func (p *TokenStreamProducer) StartState() preproc.State { return p.state }

// GetTokenStreamForParsing returns the tokens without comments, with the
// keywords of lang classified. An empty lang stands for the language of the
// file. Nothing is stored on Release.
func (p *TokenStreamProducer) GetTokenStreamForParsing(lang string) (tokenstream.TokenStream, error) {
	return p.tokenStream(lang, false, true)
}

// GetTokenStreamForCaching returns every token including comments, without
// language filtering. The walked state is stored on Release.
func (p *TokenStreamProducer) GetTokenStreamForCaching() (tokenstream.TokenStream, error) {
	return p.tokenStream("", true, false)
}

// GetTokenStreamForParsingAndCaching returns the tokens of
// GetTokenStreamForParsing and stores the walked state on Release.
func (p *TokenStreamProducer) GetTokenStreamForParsingAndCaching(lang string) (tokenstream.TokenStream, error) {
	return p.tokenStream(lang, true, true)
}

func (p *TokenStreamProducer) tokenStream(lang string, cache, parsing bool) (tokenstream.TokenStream, error) {
	switch {
	case p.released:
		return nil, ErrReleased
	case p.walker != nil:
		return nil, ErrStreamRequested
	}
	var language tokenstream.Language
	if parsing {
		if lang == "" {
			lang = p.file.Language()
		}
		var ok bool
		if language, ok = tokenstream.ParseLanguage(lang); !ok {
			return nil, fmt.Errorf("token stream producer: unknown language %q", lang)
		}
	}

	key := aptcache.EntryKey{
		File:       p.file.Path(),
		FileSystem: p.file.FileSystem().ID(),
		State:      p.state.Key(),
		Mode:       parser.ModeFull,
	}
	entry, ownership := p.file.Project().Cache().Acquire(key)
	w, err := walker.NewParseWalker(p.ctx, p.file, p.start, p.handler, entry, p.opts.walkerOptions())
	if err != nil {
		if ownership == aptcache.Exclusive {
			p.file.Project().Cache().Abandon(entry)
		}
		return nil, err
	}
	p.walker, p.entry, p.ownership, p.cacheable = w, entry, ownership, cache

	stream := w.TokenStream(parsing)
	if parsing {
		return tokenstream.WithLanguage(stream, language), nil
	}
	return stream, nil
}

// Release finishes the walk and returns its dead blocks. The stream must
// have been drained; a partial or cancelled walk is discarded and reported
// with ErrUnfinished. When the stream was requested for caching, the start
// state is stored on the file, with the cache entry of the walk once that
// entry is published.
func (p *TokenStreamProducer) Release() (pcs.State, error) {
	switch {
	case p.released:
		return p.deadBlocks, nil
	case p.walker == nil:
		return pcs.State{}, ErrNotStarted
	}
	p.released = true
	p.walker.Close()
	cache := p.file.Project().Cache()

	deadBlocks, err := p.walker.DeadBlocks()
	if err != nil {
		if p.ownership == aptcache.Exclusive {
			cache.Abandon(p.entry)
		}
		if !p.walker.Finished() {
			return pcs.State{}, fmt.Errorf("%v: %w", p.file, ErrUnfinished)
		}
		return pcs.State{}, err
	}
	p.deadBlocks = deadBlocks
	if p.ownership == aptcache.Exclusive {
		p.entry.SetResult(p.walker.Handler().State(), deadBlocks)
		cache.Publish(p.entry)
	}
	if p.cacheable {
		entry := p.entry
		if !entry.Published() {
			// Shared with a walk that has not finished yet.
			entry = nil
		}
		p.file.StoreState(p.state, entry, deadBlocks)
	}
	return deadBlocks, nil
}

// Close abandons a stream that will not be drained. Closing a released
// producer does nothing.
func (p *TokenStreamProducer) Close() {
	if p.released || p.walker == nil {
		return
	}
	p.released = true
	p.walker.Close()
	if p.ownership == aptcache.Exclusive {
		p.file.Project().Cache().Abandon(p.entry)
	}
}

// FileContent returns the macros, includes and errors found by the walk,
// nil unless the producer gathers them. It is complete once the stream was
// drained.
func (p *TokenStreamProducer) FileContent() *walker.FileContent {
	if p.walker == nil {
		return nil
	}
	return p.walker.Content()
}

// Handler returns the preprocessor context reached by the walk so far.
func (p *TokenStreamProducer) Handler() *preproc.Handler {
	if p.walker == nil {
		return p.handler
	}
	return p.walker.Handler()
}
