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
	"strings"
	"testing"
	"testing/fstest"

	"github.com/EngFlow/cc_tokenstream/internal/repository"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/aptcache"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/config"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/lexer"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/project"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/tokenstream"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/walker"
	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProject(t *testing.T, files map[string]string, configure func(*config.Configuration)) (*project.Workspace, *project.Project) {
	t.Helper()
	conf := config.New()
	if configure != nil {
		configure(conf)
	}
	mapFS := fstest.MapFS{}
	for name, content := range files {
		mapFS[name] = &fstest.MapFile{Data: []byte(content)}
	}
	ws := project.NewWorkspace(conf, repository.NewMemory())
	p, err := ws.AddProject(project.Spec{Label: label.New("", "", "main"), FileSystem: project.NewDirFS("ws", mapFS)})
	require.NoError(t, err)
	return ws, p
}

func mustFile(t *testing.T, p *project.Project, path string) *project.File {
	t.Helper()
	f, err := p.File(path)
	require.NoError(t, err)
	return f
}

func contents(tokens []lexer.Token) string {
	result := make([]string, len(tokens))
	for i, token := range tokens {
		result[i] = token.Content
	}
	return strings.Join(result, " ")
}

func TestTokenStreamKinds(t *testing.T) {
	source := "#define T int\nT x; // comment\n#if 0\nint dead;\n#endif\nreturn x;\n"
	testCases := []struct {
		name     string
		request  func(p *TokenStreamProducer) (tokenstream.TokenStream, error)
		expected string
		keywords bool
		stored   bool
	}{
		{
			name:     "parsing",
			request:  func(p *TokenStreamProducer) (tokenstream.TokenStream, error) { return p.GetTokenStreamForParsing("") },
			expected: "int x ; return x ;",
			keywords: true,
		},
		{
			name:     "caching",
			request:  (*TokenStreamProducer).GetTokenStreamForCaching,
			expected: "int x ; // comment return x ;",
			stored:   true,
		},
		{
			name:     "parsing and caching",
			request:  func(p *TokenStreamProducer) (tokenstream.TokenStream, error) { return p.GetTokenStreamForParsingAndCaching("c") },
			expected: "int x ; return x ;",
			keywords: true,
			stored:   true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, p := newTestProject(t, map[string]string{"main.cc": source}, nil)
			file := mustFile(t, p, "main.cc")
			producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{})
			require.NoError(t, err)

			stream, err := tc.request(producer)
			require.NoError(t, err)
			tokens := tokenstream.Collect(stream)
			if diff := cmp.Diff(tc.expected, contents(tokens)); diff != "" {
				t.Errorf("unexpected tokens (-want +got):\n%s", diff)
			}
			for _, token := range tokens {
				if token.Content == "return" {
					assert.Equal(t, tc.keywords, token.Type == lexer.TokenType_Keyword)
				}
			}

			deadBlocks, err := producer.Release()
			require.NoError(t, err)
			assert.Equal(t, []pcs.Range{{Start: 36, End: 46}}, deadBlocks.DeadBlocks())

			stored := file.CachedStates()
			if !tc.stored {
				assert.Empty(t, stored)
				return
			}
			require.Len(t, stored, 1)
			assert.Equal(t, producer.StartState().Key(), stored[0].State.Key())
			assert.True(t, stored[0].Entry.Published())
			assert.True(t, stored[0].DeadBlocks.Equal(deadBlocks))
		})
	}
}

func TestProducerMisuse(t *testing.T) {
	_, p := newTestProject(t, map[string]string{"main.c": "int x;\n"}, nil)
	file := mustFile(t, p, "main.c")

	producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{})
	require.NoError(t, err)
	_, err = producer.Release()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = producer.GetTokenStreamForParsing("cobol")
	assert.Error(t, err)

	stream, err := producer.GetTokenStreamForParsing("")
	require.NoError(t, err)
	_, err = producer.GetTokenStreamForCaching()
	assert.ErrorIs(t, err, ErrStreamRequested)
	tokenstream.Collect(stream)
	_, err = producer.Release()
	require.NoError(t, err)
	_, err = producer.GetTokenStreamForParsing("")
	assert.ErrorIs(t, err, ErrReleased)

	_, err = NewTokenStreamProducer(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
}

func TestReleaseOfPartialStream(t *testing.T) {
	_, p := newTestProject(t, map[string]string{"main.c": "int x;\nint y;\n"}, nil)
	file := mustFile(t, p, "main.c")
	producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{})
	require.NoError(t, err)

	stream, err := producer.GetTokenStreamForCaching()
	require.NoError(t, err)
	assert.Equal(t, "int", stream.NextToken().Content)
	_, err = producer.Release()
	assert.ErrorIs(t, err, ErrUnfinished)
	assert.Empty(t, file.CachedStates(), "partial walks are not stored")

	key := aptcache.EntryKey{File: "main.c", FileSystem: "ws", State: producer.StartState().Key(), Mode: parser.ModeFull}
	_, ownership := p.Cache().Acquire(key)
	assert.Equal(t, aptcache.Exclusive, ownership, "the pending entry was abandoned")
}

func TestReleaseWithPendingEntry(t *testing.T) {
	_, p := newTestProject(t, map[string]string{"main.c": "int x;\n"}, nil)
	file := mustFile(t, p, "main.c")
	producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{})
	require.NoError(t, err)

	// Another walk of the same state holds the entry.
	key := aptcache.EntryKey{File: "main.c", FileSystem: "ws", State: producer.StartState().Key(), Mode: parser.ModeFull}
	pending, ownership := p.Cache().Acquire(key)
	require.Equal(t, aptcache.Exclusive, ownership)
	defer p.Cache().Abandon(pending)

	stream, err := producer.GetTokenStreamForCaching()
	require.NoError(t, err)
	assert.Equal(t, "int x ;", contents(tokenstream.Collect(stream)))
	_, err = producer.Release()
	require.NoError(t, err)

	stored := file.CachedStates()
	require.Len(t, stored, 1)
	assert.Nil(t, stored[0].Entry, "an unpublished entry is not stored")
	assert.False(t, pending.Published())
}

func TestCloseAbandonsEntry(t *testing.T) {
	_, p := newTestProject(t, map[string]string{"main.c": "int x;\n"}, nil)
	file := mustFile(t, p, "main.c")
	producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{})
	require.NoError(t, err)
	_, err = producer.GetTokenStreamForParsingAndCaching("")
	require.NoError(t, err)
	producer.Close()
	producer.Close()

	assert.Zero(t, p.Cache().Len())
	assert.Empty(t, file.CachedStates())
}

func TestFileContent(t *testing.T) {
	_, p := newTestProject(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"missing.h\"\n#define TWICE(x) (2 * (x))\n#warning careful\n",
		"a.h":    "#define A 1\n",
	}, nil)
	file := mustFile(t, p, "main.c")
	producer, err := NewTokenStreamProducer(context.Background(), file, nil, Options{Gather: true})
	require.NoError(t, err)
	assert.Nil(t, producer.FileContent())

	stream, err := producer.GetTokenStreamForCaching()
	require.NoError(t, err)
	tokenstream.Collect(stream)
	_, err = producer.Release()
	require.NoError(t, err)

	content := producer.FileContent()
	require.NotNil(t, content)
	require.Len(t, content.Includes, 2)
	assert.False(t, content.Includes[0].Failed)
	assert.True(t, content.Includes[1].Failed)
	macro, ok := content.Macro("TWICE")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, macro.Params)
	require.Len(t, content.Errors, 1)
	assert.True(t, content.Errors[0].Warning)
	assert.True(t, producer.Handler().IsDefined("A"))

	header := mustFile(t, p, "a.h")
	assert.Equal(t, 1, header.PostIncludeCount())
}

func TestStartProjectResolvesIncludes(t *testing.T) {
	ws, app := newTestProject(t, map[string]string{
		"app/main.c":       "#include \"lib/lib.h\"\n",
		"lib/lib.h":        "#include <config.h>\nint lib = CONFIG;\n",
		"app/conf/config.h": "#define CONFIG 7\n",
	}, nil)
	fsys := app.FileSystem()
	_, err := ws.AddProject(project.Spec{Label: label.New("", "lib", "lib"), FileSystem: fsys, Root: "lib"})
	require.NoError(t, err)
	appProject, err := ws.AddProject(project.Spec{Label: label.New("", "app", "app"), FileSystem: fsys, Root: "app", IncludeDirs: []string{"app/conf"}})
	require.NoError(t, err)

	mainFile := mustFile(t, appProject, "app/main.c")
	producer, err := NewTokenStreamProducer(context.Background(), mainFile, nil, Options{})
	require.NoError(t, err)
	stream, err := producer.GetTokenStreamForParsing("c")
	require.NoError(t, err)
	assert.Equal(t, "int lib = 7 ;", contents(tokenstream.Collect(stream)))
	_, err = producer.Release()
	require.NoError(t, err)
	assert.Equal(t, appProject.Label(), producer.StartProject().Label())
}

func includedFileProject(t *testing.T) (*project.Workspace, *project.Project) {
	return newTestProject(t, map[string]string{
		"main.c": "#define MODE 2\n#include \"a.h\"\n",
		"a.h":    "#include \"x.h\"\n#include \"b.h\"\n",
		"x.h":    "#define X 1\n",
		"b.h":    "#if MODE == 2 && X\nint two;\n#else\nint other;\n#endif\n",
	}, func(c *config.Configuration) {
		c.RememberRestoredFiles = true
	})
}

// ownerState walks main.c and returns the state a.h was included in.
func ownerState(t *testing.T, p *project.Project) preproc.State {
	t.Helper()
	producer, err := NewTokenStreamProducer(context.Background(), mustFile(t, p, "main.c"), nil, Options{})
	require.NoError(t, err)
	stream, err := producer.GetTokenStreamForCaching()
	require.NoError(t, err)
	tokenstream.Collect(stream)
	_, err = producer.Release()
	require.NoError(t, err)

	states := mustFile(t, p, "a.h").CachedStates()
	require.Len(t, states, 1)
	return states[0].State
}

func TestGetTokenStreamOfIncludedFile(t *testing.T) {
	ResetRestoredFiles()
	defer ResetRestoredFiles()
	ws, p := includedFileProject(t)
	owner := ownerState(t, p)

	include := preproc.IncludeInfo{Path: "b.h", FileSystem: "ws", DirectiveIndex: 1}
	producer, stream, err := GetTokenStreamOfIncludedFile(context.Background(), ws, owner, include, "c", Options{})
	require.NoError(t, err)
	assert.Equal(t, "int two ;", contents(tokenstream.Collect(stream)))
	deadBlocks, err := producer.Release()
	require.NoError(t, err)
	assert.False(t, deadBlocks.IsAllIncluded())

	restoredFiles := RestoredFiles()
	require.Len(t, restoredFiles, 1)
	assert.Equal(t, "b.h", restoredFiles[0].Path)
	assert.Equal(t, 2, restoredFiles[0].Depth)
	assert.Equal(t, project.KindHeader, restoredFiles[0].Kind)
}

func TestGetTokenStreamOfIncludedFileFallback(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	testCases := []struct {
		name    string
		ctx     context.Context
		include preproc.IncludeInfo
	}{
		{"directive not found", context.Background(), preproc.IncludeInfo{Path: "b.h", FileSystem: "ws", DirectiveIndex: 7}},
		{"cancelled", cancelled, preproc.IncludeInfo{Path: "b.h", FileSystem: "ws", DirectiveIndex: 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ResetRestoredFiles()
			defer ResetRestoredFiles()
			ws, p := includedFileProject(t)
			owner := ownerState(t, p)

			producer, stream, err := GetTokenStreamOfIncludedFile(tc.ctx, ws, owner, tc.include, "c", Options{})
			require.NoError(t, err)
			defer producer.Close()
			assert.Equal(t, "int other ;", contents(tokenstream.Collect(stream)))
			assert.Empty(t, RestoredFiles())
		})
	}
}

func TestGetTokenStreamOfIncludedFileErrors(t *testing.T) {
	ws, p := includedFileProject(t)
	owner := ownerState(t, p)
	for _, include := range []preproc.IncludeInfo{
		{Path: "b.h", FileSystem: "elsewhere"},
		{Path: "missing.h", FileSystem: "ws"},
	} {
		_, _, err := GetTokenStreamOfIncludedFile(context.Background(), ws, owner, include, "c", Options{})
		assert.Error(t, err, "include: %v", include)
	}
}

// gatheredIncludes walks path in its default context and returns its
// includes.
func gatheredIncludes(t *testing.T, p *project.Project, path string) []walker.IncludeInfo {
	t.Helper()
	producer, err := NewTokenStreamProducer(context.Background(), mustFile(t, p, path), nil, Options{Gather: true})
	require.NoError(t, err)
	stream, err := producer.GetTokenStreamForParsing("c")
	require.NoError(t, err)
	tokenstream.Collect(stream)
	_, err = producer.Release()
	require.NoError(t, err)
	return producer.FileContent().Includes
}

func TestGetTokenStreamOfInclude(t *testing.T) {
	testCases := []struct {
		name     string
		walkMain bool
		expected string
		restored int
	}{
		{name: "stored state of the includer", walkMain: true, expected: "int two ;", restored: 1},
		{name: "default context", expected: "int other ;"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ResetRestoredFiles()
			defer ResetRestoredFiles()
			_, p := includedFileProject(t)
			if tc.walkMain {
				ownerState(t, p)
			}
			includes := gatheredIncludes(t, p, "a.h")
			require.Len(t, includes, 2)
			require.Equal(t, "b.h", includes[1].Path)

			producer, stream, err := GetTokenStreamOfInclude(context.Background(), mustFile(t, p, "a.h"), includes[1], "c", Options{})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, contents(tokenstream.Collect(stream)))
			_, err = producer.Release()
			require.NoError(t, err)
			assert.Len(t, RestoredFiles(), tc.restored)
		})
	}
}

func TestGetTokenStreamOfUnresolvedInclude(t *testing.T) {
	_, p := newTestProject(t, map[string]string{"main.c": "#include \"missing.h\"\n"}, nil)
	includes := gatheredIncludes(t, p, "main.c")
	require.Len(t, includes, 1)
	_, _, err := GetTokenStreamOfInclude(context.Background(), mustFile(t, p, "main.c"), includes[0], "c", Options{})
	assert.Error(t, err)
}
