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
	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t     *testing.T
	ws    *project.Workspace
	files fstest.MapFS
	fsys  project.FileSystem
	main  *project.Project
	stats *Stats
}

func newFixture(t *testing.T, files map[string]string, configure func(*config.Configuration)) *fixture {
	t.Helper()
	conf := config.New()
	if configure != nil {
		configure(conf)
	}
	mapFS := fstest.MapFS{}
	for name, content := range files {
		mapFS[name] = &fstest.MapFile{Data: []byte(content)}
	}
	fsys := project.NewDirFS("ws", mapFS)
	ws := project.NewWorkspace(conf, repository.NewMemory())
	p, err := ws.AddProject(project.Spec{
		Label:       label.New("", "", "main"),
		FileSystem:  fsys,
		IncludeDirs: []string{"include"},
	})
	require.NoError(t, err)
	return &fixture{t: t, ws: ws, files: mapFS, fsys: fsys, main: p, stats: &Stats{}}
}

func (f *fixture) file(path string) *project.File {
	f.t.Helper()
	file, err := f.main.File(path)
	require.NoError(f.t, err)
	return file
}

func (f *fixture) walker(path string, entry *aptcache.Entry) *ParseWalker {
	f.t.Helper()
	file := f.file(path)
	w, err := NewParseWalker(context.Background(), file, f.main, f.main.DefaultHandler(file), entry, Options{Gather: true, Stats: f.stats})
	require.NoError(f.t, err)
	return w
}

// walk returns the walker of path and its expanded tokens without comments.
func (f *fixture) walk(path string, entry *aptcache.Entry) (*ParseWalker, []lexer.Token) {
	f.t.Helper()
	w := f.walker(path, entry)
	defer w.Close()
	tokens := tokenstream.Collect(w.TokenStream(true))
	require.True(f.t, w.Finished())
	return w, tokens
}

func join(tokens []lexer.Token) string {
	contents := make([]string, len(tokens))
	for i, token := range tokens {
		contents[i] = token.Content
	}
	return strings.Join(contents, " ")
}

func TestTokenStreamExpandsMacros(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": `#define N 4
#define SQ(x) ((x) * (x))
int a[N] = { SQ(2) }; // comment
#undef N
int b = N;
`,
	}, nil)

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int a [ 4 ] = { ( ( 2 ) * ( 2 ) ) } ; int b = N ;", join(tokens))
	assert.False(t, w.Handler().IsDefined("N"))
	assert.True(t, w.Handler().IsDefined("SQ"))
	assert.Equal(t, int64(1), f.stats.Counts().FullWalks)
}

func TestWalkIsDeterministic(t *testing.T) {
	files := map[string]string{
		"main.c": "#include \"a.h\"\n#if V > 1\nint big;\n#else\nint small;\n#endif\n",
		"a.h":    "#define V 2\n#include \"b.h\"\n",
		"b.h":    "#pragma once\nint b;\n",
	}
	f := newFixture(t, files, nil)
	first, firstTokens := f.walk("main.c", nil)
	second, secondTokens := f.walk("main.c", nil)

	if diff := cmp.Diff(join(firstTokens), join(secondTokens)); diff != "" {
		t.Errorf("token streams differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, "int b ; int big ;", join(firstTokens))
	assert.Equal(t, first.Handler().State().Key(), second.Handler().State().Key())
	assert.Equal(t, first.Content(), second.Content())
}

func TestIncludeCycle(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"main.c\"\nint m;\n",
		"a.h":    "#include \"b.h\"\nint a;\n",
		"b.h":    "#include \"a.h\"\nint b;\n",
	}, nil)

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int b ; int a ; int m ;", join(tokens))
	counts := f.stats.Counts()
	assert.Equal(t, int64(2), counts.RecursiveIncludes)
	assert.Zero(t, counts.FailedIncludes)

	includes := w.Content().Includes
	require.Len(t, includes, 2)
	assert.Equal(t, "a.h", includes[0].Path)
	assert.False(t, includes[0].Failed)
	assert.True(t, includes[1].Recursive)
	assert.Empty(t, w.Handler().IncludeStack(), "frames are popped")
}

func TestMacroOffsets(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#define FOO(x)\n#define BAR(x) x + 1\n#define\n",
	}, nil)

	w := f.walker("main.c", nil)
	w.Visit()
	content := w.Content()

	foo, ok := content.Macro("FOO")
	require.True(t, ok)
	assert.Equal(t, MacroInfo{Name: "FOO", FunctionLike: true, Params: []string{"x"}, Start: 0, End: 11, Valid: true}, foo)
	bar, ok := content.Macro("BAR")
	require.True(t, ok)
	assert.Equal(t, 15, bar.Start)
	assert.Equal(t, 35, bar.End)

	require.Len(t, content.Macros, 3)
	assert.False(t, content.Macros[2].Valid)
}

func TestDefineOffsets(t *testing.T) {
	testCases := []struct {
		source     string
		start, end int
	}{
		{"#define A", 0, 9},
		{"#define A 1", 0, 11},
		{"#define F(a, b) a ## b", 0, 22},
		{"  #  define G()  ", 2, 13},
	}
	for _, tc := range testCases {
		apt := parser.ParseSource("test.h", []byte(tc.source), parser.ModeFull)
		require.Len(t, apt.Directives, 1, "source: %q", tc.source)
		d, ok := apt.Directives[0].(parser.DefineDirective)
		require.True(t, ok, "source: %q", tc.source)
		start, end := DefineOffsets(d)
		assert.Equal(t, tc.start, start, "source: %q", tc.source)
		assert.Equal(t, tc.end, end, "source: %q", tc.source)
	}
}

func linkerScopes(tokens []lexer.Token) []lexer.TokenType {
	var result []lexer.TokenType
	for _, token := range tokens {
		switch token.Content {
		case "__global", "__hidden", "__symbolic":
			result = append(result, token.Type)
		}
	}
	return result
}

func TestLDScopePragmas(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": `__global int a;
#pragma disable_ldscope
__global int b;
#pragma enable_ldscope
#include "h.h"
__hidden int c;
`,
		"h.h": "#pragma disable_ldscope\n__symbolic int h;\n",
	}, nil)

	_, tokens := f.walk("main.c", nil)
	assert.Equal(t, []lexer.TokenType{
		lexer.TokenType_LinkerScope,
		lexer.TokenType_Identifier,
		lexer.TokenType_Identifier,
		// h.h left ldscope disabled, it is enabled again at its end.
		lexer.TokenType_LinkerScope,
	}, linkerScopes(tokens))
	for _, token := range tokens {
		assert.False(t, tokenstream.IsLDScopeMarker(token), "marker %v leaked", token)
	}
}

func TestDeadBlocks(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#if 0\nint x;\n#endif\nint y;\n#ifdef MISSING\nint z;\n#elif 1\nint w;\n#else\nint v;\n#endif\n",
	}, nil)

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int y ; int w ;", join(tokens))
	dead, err := w.DeadBlocks()
	require.NoError(t, err)
	ranges := dead.DeadBlocks()
	require.Len(t, ranges, 3)
	assert.Equal(t, pcs.Range{Start: 6, End: 13}, ranges[0])
}

func TestDeadBlocksOfUnfinishedWalk(t *testing.T) {
	f := newFixture(t, map[string]string{"main.c": "int a; int b;\n"}, nil)
	w := f.walker("main.c", nil)
	stream := w.TokenStream(false)
	assert.Equal(t, "int", stream.NextToken().Content)
	w.Close()

	assert.False(t, w.Finished())
	_, err := w.DeadBlocks()
	assert.Error(t, err)
}

func TestPostIncludeStateReuse(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\nint x = A;\n",
		"a.h":    "#if 0\nint dead;\n#endif\n#define A 1\n",
	}, func(c *config.Configuration) {
		c.ParseHeadersWithSources = false
	})
	mainFile := f.file("main.c")
	key := aptcache.EntryKey{
		File:       "main.c",
		FileSystem: "ws",
		State:      f.main.DefaultHandler(mainFile).State().Key(),
		Mode:       parser.ModeFull,
	}

	entry, ownership := f.main.Cache().Acquire(key)
	require.Equal(t, aptcache.Exclusive, ownership)
	w, tokens := f.walk("main.c", entry)
	assert.Equal(t, "int x = 1 ;", join(tokens))
	assert.Equal(t, int64(1), f.stats.Counts().LightWalks)

	data, ok := entry.PostInclude(0)
	require.True(t, ok)
	assert.True(t, data.Complete())
	assert.Equal(t, []pcs.Range{{Start: 6, End: 16}}, data.DeadBlocks.DeadBlocks())
	_, defined := data.State.Lookup("A")
	assert.True(t, defined)

	dead, err := w.DeadBlocks()
	require.NoError(t, err)
	entry.SetResult(w.Handler().State(), dead)
	f.main.Cache().Publish(entry)

	f.stats.Reset()
	shared, ownership := f.main.Cache().Acquire(key)
	require.Equal(t, aptcache.Shared, ownership)
	require.Same(t, entry, shared)
	_, tokens = f.walk("main.c", shared)
	assert.Equal(t, "int x = 1 ;", join(tokens))
	counts := f.stats.Counts()
	assert.Equal(t, int64(1), counts.PostIncludeHits)
	assert.Zero(t, counts.LightWalks, "a.h is not walked again")
}

func TestVisitedStateReuse(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\nint x = A;\n",
		"a.h":    "#define A 1\n",
	}, func(c *config.Configuration) {
		c.ParseHeadersWithSources = false
	})

	_, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int x = 1 ;", join(tokens))
	assert.Equal(t, int64(1), f.stats.Counts().LightWalks)

	f.stats.Reset()
	_, tokens = f.walk("main.c", nil)
	assert.Equal(t, "int x = 1 ;", join(tokens))
	counts := f.stats.Counts()
	assert.Equal(t, int64(1), counts.VisitedHits)
	assert.Zero(t, counts.LightWalks)

	header := f.file("a.h")
	assert.Equal(t, 2, header.PostIncludeCount())
}

func TestPublishedEntryReuse(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\nint x = A;\n",
		"a.h":    "#if 0\nint dead;\n#endif\n#define A 1\n",
	}, func(c *config.Configuration) {
		c.ParseHeadersWithSources = false
	})

	f.walker("main.c", nil).Visit()
	assert.Equal(t, int64(1), f.stats.Counts().LightWalks)

	f.stats.Reset()
	w := f.walker("main.c", nil)
	w.Visit()
	counts := f.stats.Counts()
	assert.Equal(t, int64(1), counts.EntryHits)
	assert.Zero(t, counts.LightWalks, "the light entry of a.h replaces the walk")
	assert.True(t, w.Handler().IsDefined("A"))

	states := f.file("a.h").CachedStates()
	require.Len(t, states, 1)
	assert.Equal(t, []pcs.Range{{Start: 6, End: 16}}, states[0].DeadBlocks.DeadBlocks())
}

// walkCached walks path with the cache entry of its default state, publishing
// the entry when the walk produced it.
func (f *fixture) walkCached(path string) (string, aptcache.Ownership) {
	f.t.Helper()
	file := f.file(path)
	key := aptcache.EntryKey{
		File:       path,
		FileSystem: f.fsys.ID(),
		State:      f.main.DefaultHandler(file).State().Key(),
		Mode:       parser.ModeFull,
	}
	entry, ownership := f.main.Cache().Acquire(key)
	w, tokens := f.walk(path, entry)
	if ownership == aptcache.Exclusive {
		dead, err := w.DeadBlocks()
		require.NoError(f.t, err)
		entry.SetResult(w.Handler().State(), dead)
		f.main.Cache().Publish(entry)
	}
	return join(tokens), ownership
}

func TestChangedHeaderInvalidatesIncluders(t *testing.T) {
	for _, withSources := range []bool{true, false} {
		t.Run(fmt.Sprintf("headers with sources %v", withSources), func(t *testing.T) {
			f := newFixture(t, map[string]string{
				"main.c": "#include \"a.h\"\n#if X\nint yes;\n#else\nint no;\n#endif\nV\n",
				"a.h":    "#include \"b.h\"\n",
				"b.h":    "#define X 1\n#define V old\n",
			}, func(c *config.Configuration) {
				c.ParseHeadersWithSources = withSources
			})

			tokens, ownership := f.walkCached("main.c")
			assert.Equal(t, aptcache.Exclusive, ownership)
			assert.Equal(t, "int yes ; old", tokens)
			tokens, ownership = f.walkCached("main.c")
			assert.Equal(t, aptcache.Shared, ownership)
			assert.Equal(t, "int yes ; old", tokens)

			f.files["b.h"] = &fstest.MapFile{Data: []byte("#define X 0\n#define V new\n")}
			f.ws.InvalidateFile(f.fsys, "b.h")

			tokens, ownership = f.walkCached("main.c")
			assert.Equal(t, aptcache.Exclusive, ownership, "main.c includes b.h through a.h")
			assert.Equal(t, "int no ; new", tokens)
		})
	}
}

func TestIncludeGuardSkip(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"a.h\"\nint m;\n",
		"a.h":    "// guarded\n#ifndef A_H\n#define A_H\nint a;\n#endif\n",
	}, func(c *config.Configuration) {
		c.ParseHeadersWithSources = false
	})

	_, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int m ;", join(tokens))
	counts := f.stats.Counts()
	assert.Equal(t, int64(1), counts.LightWalks)
	assert.Equal(t, int64(1), counts.GuardSkips)

	states := f.file("a.h").CachedStates()
	require.Len(t, states, 2)
	assert.True(t, states[0].DeadBlocks.IsAllIncluded())
	guarded := []pcs.Range{{Start: 23, End: 42}}
	assert.Equal(t, guarded, states[1].DeadBlocks.DeadBlocks(), "the skipped include has its body dead")

	// Walking the header from the stored state gives the same dead blocks.
	header := f.file("a.h")
	w, err := NewParseWalker(context.Background(), header, f.main, preproc.FromState(states[1].State), nil, Options{})
	require.NoError(t, err)
	w.Visit()
	dead, err := w.DeadBlocks()
	require.NoError(t, err)
	assert.Equal(t, guarded, dead.DeadBlocks())
}

func TestPragmaOnce(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"a.h\"\nint m;\n",
		"a.h":    "#pragma once\nint a;\n",
	}, nil)

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int a ; int m ;", join(tokens))
	assert.Equal(t, int64(1), f.stats.Counts().OnceSkips)
	includes := w.Content().Includes
	require.Len(t, includes, 2)
	assert.False(t, includes[0].Once)
	assert.True(t, includes[1].Once)
	assert.Equal(t, "a.h", includes[1].Path)
}

func TestPreIncludeStates(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"main.c\"\n#define A\n#include \"a.h\"\n#include \"missing.h\"\n",
		"a.h":    "#define B\n",
	}, nil)
	w, _ := f.walk("main.c", nil)

	_, ok := w.PreIncludeState(0)
	assert.False(t, ok, "recursive include")
	pre, ok := w.PreIncludeState(1)
	require.True(t, ok)
	_, defined := pre.Lookup("A")
	assert.True(t, defined)
	_, defined = pre.Lookup("B")
	assert.False(t, defined, "state before the include")
	_, ok = w.PreIncludeState(2)
	assert.False(t, ok, "unresolved include")
}

func TestIncludeMacro(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c":          "#define HDR \"a.h\"\n#include HDR\n#define SYS <sys/x.h>\n#include SYS\n",
		"a.h":             "int a;\n",
		"include/sys/x.h": "int x;\n",
	}, nil)

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int a ; int x ;", join(tokens))
	includes := w.Content().Includes
	require.Len(t, includes, 2)
	assert.Equal(t, "a.h", includes[0].Name)
	assert.Equal(t, "include/sys/x.h", includes[1].Path)
}

func TestFailedIncludes(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"missing.h\"\n#include <stdio.h>\n#error boom\nint m;\n",
	}, func(c *config.Configuration) {
		c.SystemIncludeDirs = []string{"/usr/include"}
	})
	f.ws.SetSystemFileSystem(project.NewDirFS("sysroot", fstest.MapFS{
		"usr/include/stdio.h": &fstest.MapFile{Data: []byte("#define EOF (-1)\n")},
	}))

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int m ;", join(tokens), "#error does not stop the walk")
	assert.False(t, w.Handler().IsDefined("EOF"), "macros of a failed include are dropped")
	assert.Equal(t, int64(2), f.stats.Counts().FailedIncludes)

	content := w.Content()
	require.Len(t, content.Includes, 2)
	assert.True(t, content.Includes[0].Failed)
	assert.Empty(t, content.Includes[0].Path)
	assert.True(t, content.Includes[1].Failed)
	assert.Equal(t, "sysroot", content.Includes[1].FileSystem)
	require.Len(t, content.Errors, 1)
	assert.Equal(t, "boom", content.Errors[0].Message)
}

func TestIncludeOfDisposingProject(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c":  "#include \"lib/l.h\"\nint m;\n",
		"lib/l.h": "int l;\n",
	}, nil)
	lib, err := f.ws.AddProject(project.Spec{Label: label.New("", "lib", "lib"), FileSystem: f.fsys, Root: "lib"})
	require.NoError(t, err)
	lib.Dispose()

	w, tokens := f.walk("main.c", nil)
	assert.Equal(t, "int m ;", join(tokens))
	assert.Zero(t, f.stats.Counts().FailedIncludes)
	require.Len(t, w.Content().Includes, 1)
	assert.True(t, w.Content().Includes[0].Failed)
}

func TestCancelledWalk(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "int a;\n#include \"a.h\"\nint m;\n",
		"a.h":    "int h;\n",
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	file := f.file("main.c")
	w, err := NewParseWalker(ctx, file, f.main, f.main.DefaultHandler(file), nil, Options{})
	require.NoError(t, err)

	var tokens []lexer.Token
	for token := range w.Tokens() {
		tokens = append(tokens, token)
	}
	assert.Equal(t, "int a ;", join(tokens))
	assert.True(t, w.Cancelled())
	assert.False(t, w.Finished())
}

type recordingCallback struct {
	NopCallback
	evals []bool
	once  []string
}

func (c *recordingCallback) OnEval(_ string, _ parser.ConditionalBranch, result bool) {
	c.evals = append(c.evals, result)
}

func (c *recordingCallback) OnPragmaOnce(_ string, included string) {
	c.once = append(c.once, included)
}

func TestEvalCallback(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"a.h\"\n#if A\n#elif 1\n#else\n#endif\n",
		"a.h":    "#pragma once\n",
	}, nil)
	callback := &recordingCallback{}
	file := f.file("main.c")
	w, err := NewParseWalker(context.Background(), file, f.main, f.main.DefaultHandler(file), nil, Options{Callback: callback})
	require.NoError(t, err)
	w.Visit()

	assert.Equal(t, []bool{false, true}, callback.evals, "else branches are not reported")
	assert.Equal(t, []string{"a.h"}, callback.once)
}

func TestEvalCondition(t *testing.T) {
	handler := preproc.NewHandler(preproc.StartEntry{},
		preproc.ObjectMacro("A", "", preproc.KindUser),
		preproc.ObjectMacro("B", "2", preproc.KindUser),
		preproc.ObjectMacro("HAS_A", "defined(A)", preproc.KindUser),
		preproc.ObjectMacro("ZERO", "0", preproc.KindUser),
	)
	testCases := []struct {
		directive string
		expected  bool
	}{
		{"#if defined(A)", true},
		{"#if defined B && B == 2", true},
		{"#if !defined(C)", true},
		{"#if C", false},
		{"#if B * 2 == 4", true},
		{"#if HAS_A", true},
		{"#if ZERO || C", false},
		{"#if (B > 1) ? 1 : 0", true},
		{"#if 1 +", false},
		{"#ifdef A", true},
		{"#ifdef C", false},
		{"#ifndef C", true},
		{"#ifndef B /* comment */", false},
	}
	for _, tc := range testCases {
		apt := parser.ParseSource("cond.h", []byte(tc.directive+"\n#endif\n"), parser.ModeFull)
		require.Len(t, apt.Directives, 1, "directive: %q", tc.directive)
		block, ok := apt.Directives[0].(parser.IfBlock)
		require.True(t, ok, "directive: %q", tc.directive)
		assert.Equal(t, tc.expected, evalCondition(block.Branches[0], handler), "directive: %q", tc.directive)
	}
}

func TestEvalResultsAreMemoized(t *testing.T) {
	f := newFixture(t, map[string]string{"main.c": "#if 0\nint a;\n#endif\nint b;\n"}, nil)
	entry, _ := f.main.Cache().Acquire(aptcache.EntryKey{File: "main.c", FileSystem: "ws"})
	entry.SetEvalResult(0, true)

	_, tokens := f.walk("main.c", entry)
	assert.Equal(t, "int a ; int b ;", join(tokens))
}

func restoreFixture(t *testing.T) *fixture {
	return newFixture(t, map[string]string{
		"main.c": "#define M 1\n#include \"a.h\"\nint m;\n",
		"a.h":    "#include \"x.h\"\n#define A 2\n#include \"b.h\"\n",
		"b.h":    "int b;\n",
		"x.h":    "#define X 3\n",
	}, nil)
}

func TestRestore(t *testing.T) {
	f := restoreFixture(t)
	stack := []preproc.IncludeInfo{
		{Path: "a.h", FileSystem: "ws", DirectiveIndex: 0},
		{Path: "b.h", FileSystem: "ws", DirectiveIndex: 1},
	}

	handler, err := Restore(context.Background(), f.main, f.file("main.c"), stack, Options{Stats: f.stats})
	require.NoError(t, err)
	assert.True(t, handler.Valid())
	for _, name := range []string{"M", "A", "X"} {
		assert.True(t, handler.IsDefined(name), name)
	}
	path, fileSystem := handler.CurrentFile()
	assert.Equal(t, "b.h", path)
	assert.Equal(t, "ws", fileSystem)
	assert.Len(t, handler.IncludeStack(), 2)
	assert.Equal(t, int64(1), f.stats.Counts().Restores)
	assert.Zero(t, f.stats.Counts().FailedIncludes)
}

func TestRestoreFollowsIncludePath(t *testing.T) {
	f := newFixture(t, map[string]string{
		"main.c": "#include \"a.h\"\n#include \"b.h\"\n",
		"a.h":    "#include \"c.h\"\n",
		"b.h":    "#define FROM_B\n#include \"c.h\"\n",
		"c.h":    "#ifdef FROM_B\nint yes;\n#else\nint no;\n#endif\n",
	}, nil)
	stack := []preproc.IncludeInfo{
		{Path: "b.h", FileSystem: "ws", DirectiveIndex: 1},
		{Path: "c.h", FileSystem: "ws", DirectiveIndex: 0},
	}

	handler, err := Restore(context.Background(), f.main, f.file("main.c"), stack, Options{})
	require.NoError(t, err)
	assert.True(t, handler.IsDefined("FROM_B"), "c.h is entered through b.h, not a.h")
	var paths []string
	for _, frame := range handler.IncludeStack() {
		paths = append(paths, frame.Path)
	}
	assert.Equal(t, []string{"b.h", "c.h"}, paths)
}

func TestRestoreFailures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	testCases := []struct {
		name  string
		ctx   context.Context
		stack []preproc.IncludeInfo
	}{
		{"cancelled", cancelled, []preproc.IncludeInfo{{Path: "a.h", FileSystem: "ws"}}},
		{"directive moved", context.Background(), []preproc.IncludeInfo{{Path: "a.h", FileSystem: "ws", DirectiveIndex: 5}}},
		{"file not included", context.Background(), []preproc.IncludeInfo{{Path: "a.h", FileSystem: "ws"}, {Path: "x.h", FileSystem: "ws", DirectiveIndex: 1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := restoreFixture(t)
			handler, err := Restore(tc.ctx, f.main, f.file("main.c"), tc.stack, Options{})
			assert.Error(t, err)
			require.NotNil(t, handler)
			assert.False(t, handler.Valid())
		})
	}
}

func TestRestoreEmptyStack(t *testing.T) {
	f := restoreFixture(t)
	handler, err := Restore(context.Background(), f.main, f.file("main.c"), nil, Options{})
	require.NoError(t, err)
	assert.True(t, handler.Valid())
	assert.Empty(t, handler.IncludeStack())
	assert.False(t, handler.IsDefined("M"))
}
