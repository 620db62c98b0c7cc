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

package cc

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/tokenstream"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/walker"
)

// RestoredFile describes a successful restoration, remembered when
// Configuration.RememberRestoredFiles is set.
type RestoredFile struct {
	Path       string
	FileSystem string
	Duration   time.Duration
	// Number of frames replayed.
	Depth int
	Kind  project.Kind
}

var restored struct {
	sync.Mutex
	files []RestoredFile
}

// RestoredFiles returns the remembered restorations, oldest first.
func RestoredFiles() []RestoredFile {
	restored.Lock()
	defer restored.Unlock()
	return slices.Clone(restored.files)
}

// ResetRestoredFiles forgets the remembered restorations.
func ResetRestoredFiles() {
	restored.Lock()
	defer restored.Unlock()
	restored.files = nil
}

func rememberRestored(file RestoredFile) {
	restored.Lock()
	defer restored.Unlock()
	restored.files = append(restored.files, file)
}

// GetTokenStreamOfInclude returns the tokens of the file included by
// include, an include gathered from includer, for parsing in lang. The
// context is rebuilt from the stored state of includer under which the
// directive was most active. Without such a state the included file is
// walked in its default context.
func GetTokenStreamOfInclude(ctx context.Context, includer *project.File, include walker.IncludeInfo, lang string, opts Options) (*TokenStreamProducer, tokenstream.TokenStream, error) {
	if include.Path == "" {
		return nil, nil, fmt.Errorf("%v: include %q at line %d was not resolved", includer, include.Name, include.Line)
	}
	ws := includer.Project().Workspace()
	info := preproc.IncludeInfo{
		Path:           include.Path,
		FileSystem:     include.FileSystem,
		DirectiveIndex: include.DirectiveIndex,
		Offset:         include.Offset,
		Line:           include.Line,
	}
	if cached, ok := includer.ContextState(include.Offset, include.End); ok {
		return GetTokenStreamOfIncludedFile(ctx, ws, cached.State, info, lang, opts)
	}
	owner, file, err := includedFile(ws, info)
	if err != nil {
		return nil, nil, err
	}
	if includer.Project().Config().TracePreprocState {
		log.Printf("%v: no stored state includes %s at line %d, using the default context", includer, include.Path, include.Line)
	}
	return parsingStream(ctx, file, owner.DefaultHandler(file), lang, opts)
}

// GetTokenStreamOfIncludedFile returns the tokens of the file included by
// include from a file walked in ownerState, for parsing in lang.
//
// The context of the included file is rebuilt by replaying the include stack
// of ownerState followed by include from the start file of ownerState. When
// that fails, e.g. because the start file changed since ownerState was
// recorded or ctx is done, the default context of the included file in its
// own project is used instead. The caller drains the stream and releases or
// closes the returned producer.
func GetTokenStreamOfIncludedFile(ctx context.Context, ws *project.Workspace, ownerState preproc.State, include preproc.IncludeInfo, lang string, opts Options) (*TokenStreamProducer, tokenstream.TokenStream, error) {
	owner, file, err := includedFile(ws, include)
	if err != nil {
		return nil, nil, err
	}
	handler, err := restoreHandler(ctx, ws, ownerState, include, file, opts)
	if err != nil {
		log.Printf("%v: restoring the context of %s failed, using the default context: %v", file, include.Path, err)
		handler = owner.DefaultHandler(file)
	}
	return parsingStream(ctx, file, handler, lang, opts)
}

func includedFile(ws *project.Workspace, include preproc.IncludeInfo) (*project.Project, *project.File, error) {
	fsys, ok := ws.FileSystem(include.FileSystem)
	if !ok {
		return nil, nil, fmt.Errorf("included file %s: unknown file system %q", include.Path, include.FileSystem)
	}
	owner, ok := ws.FindOwner(fsys, include.Path)
	if !ok {
		return nil, nil, fmt.Errorf("included file %s:%s: no owning project", include.FileSystem, include.Path)
	}
	file, err := owner.File(include.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("included file: %w", err)
	}
	return owner, file, nil
}

func parsingStream(ctx context.Context, file *project.File, handler *preproc.Handler, lang string, opts Options) (*TokenStreamProducer, tokenstream.TokenStream, error) {
	producer, err := NewTokenStreamProducer(ctx, file, handler, opts)
	if err != nil {
		return nil, nil, err
	}
	stream, err := producer.GetTokenStreamForParsing(lang)
	if err != nil {
		return nil, nil, err
	}
	return producer, stream, nil
}

func restoreHandler(ctx context.Context, ws *project.Workspace, ownerState preproc.State, include preproc.IncludeInfo, target *project.File, opts Options) (*preproc.Handler, error) {
	start := ownerState.Start()
	startProject, ok := ws.Project(start.Project)
	if !ok {
		return nil, fmt.Errorf("unknown start project %v", start.Project)
	}
	if startProject.FileSystem().ID() != start.FileSystem {
		return nil, fmt.Errorf("start file %s:%s is not in the file system of %v", start.FileSystem, start.File, startProject)
	}
	startFile, err := startProject.File(start.File)
	if err != nil {
		return nil, err
	}

	stack := append(ownerState.IncludeStack(), include)
	began := time.Now()
	handler, err := walker.Restore(ctx, startProject, startFile, stack, opts.walkerOptions())
	if err != nil {
		return nil, err
	}
	if !handler.Valid() {
		return nil, fmt.Errorf("restored context of %v is invalid", target)
	}
	if startProject.Config().RememberRestoredFiles {
		rememberRestored(RestoredFile{
			Path:       target.Path(),
			FileSystem: target.FileSystem().ID(),
			Duration:   time.Since(began),
			Depth:      len(stack),
			Kind:       target.Kind(),
		})
	}
	return handler, nil
}
