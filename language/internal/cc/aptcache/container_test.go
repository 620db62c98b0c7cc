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

package aptcache

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"testing"

	"github.com/EngFlow/cc_tokenstream/internal/repository"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intCodec = CodecFuncs[int]{
	EncodeFunc: func(v int) []byte { return []byte(strconv.Itoa(v)) },
	DecodeFunc: func(data []byte) (int, error) { return strconv.Atoi(string(data)) },
}

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	writer, flags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(writer)
		log.SetFlags(flags)
	})
	return &buf
}

func TestContainerEvictionAndReload(t *testing.T) {
	repo := repository.NewMemory()
	arena := NewArena(2, true)
	containers := make([]*Container[int], 3)
	for i := range containers {
		containers[i] = NewContainer(fmt.Sprintf("c%d", i), repo, intCodec, arena, nil)
		require.NoError(t, containers[i].Put(i*10))
	}

	assert.Equal(t, 2, arena.Len())
	assert.Equal(t, 1, arena.Evictions())
	assert.False(t, containers[0].InMemory(), "least recently used value is evicted")
	assert.True(t, containers[2].InMemory())

	value, ok := containers[0].Get()
	require.True(t, ok)
	assert.Equal(t, 0, value)
	assert.True(t, containers[0].InMemory())
	assert.False(t, containers[1].InMemory())
}

func TestTouchProtectsFromEviction(t *testing.T) {
	repo := repository.NewMemory()
	arena := NewArena(2, true)
	a := NewContainer("a", repo, intCodec, arena, nil)
	b := NewContainer("b", repo, intCodec, arena, nil)
	c := NewContainer("c", repo, intCodec, arena, nil)
	require.NoError(t, a.Put(1))
	require.NoError(t, b.Put(2))
	_, _ = a.Get()
	require.NoError(t, c.Put(3))

	assert.True(t, a.InMemory())
	assert.False(t, b.InMemory())
}

func TestArenaQueueStaysBounded(t *testing.T) {
	arena := NewArena(100, true)
	hot := NewContainer("hot", repository.NewMemory(), intCodec, arena, nil)
	require.NoError(t, hot.Put(1))
	for range 10000 {
		_, ok := hot.Get()
		require.True(t, ok)
	}
	assert.Equal(t, 1, arena.Len())
	arena.mu.Lock()
	queued := arena.queue.Len()
	arena.mu.Unlock()
	assert.LessOrEqual(t, queued, 2*arena.Len()+compactionSlack)
	assert.True(t, hot.InMemory())
}

func TestDisabledArenaNeverEvicts(t *testing.T) {
	repo := repository.NewMemory()
	arena := NewArena(1, false)
	a := NewContainer("a", repo, intCodec, arena, nil)
	b := NewContainer("b", repo, intCodec, arena, nil)
	require.NoError(t, a.Put(1))
	require.NoError(t, b.Put(2))
	a.Clear()

	assert.True(t, a.InMemory())
	assert.True(t, b.InMemory())
	assert.Equal(t, 0, arena.Evictions())
}

func TestClearKeepsRepository(t *testing.T) {
	repo := repository.NewMemory()
	c := NewContainer("a", repo, intCodec, NewArena(8, true), nil)
	require.NoError(t, c.Put(42))
	c.Clear()
	assert.False(t, c.InMemory())

	value, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, value)
}

func TestMissingValueDiagnosticsAreLimited(t *testing.T) {
	logs := captureLog(t)
	c := NewContainer("gone", repository.NewMemory(), intCodec, NewArena(8, true), nil)
	for range 10 {
		_, ok := c.Get()
		assert.False(t, ok)
	}
	assert.Equal(t, LimitMultiplyDiagnosticExceptions, c.Diagnostics())
	assert.Equal(t, LimitMultiplyDiagnosticExceptions, strings.Count(logs.String(), "missing from the repository"))
}

func TestInvalidOwnerIsNotTrusted(t *testing.T) {
	captureLog(t)
	valid := true
	c := NewContainer("a", repository.NewMemory(), intCodec, NewArena(8, true), func() bool { return valid })
	require.NoError(t, c.Put(1))

	valid = false
	_, ok := c.Get()
	assert.False(t, ok, "in-memory value of an invalid owner")
	assert.Equal(t, 0, c.Diagnostics())
}

type flakyRepository struct {
	repository.Repository
	misses int
}

func (r *flakyRepository) Get(key string) ([]byte, bool, error) {
	if r.misses > 0 {
		r.misses--
		return nil, false, nil
	}
	return r.Repository.Get(key)
}

func TestDoubleCheckedLookup(t *testing.T) {
	captureLog(t)
	inner := repository.NewMemory()
	require.NoError(t, inner.Put("a", []byte("7")))
	repo := &flakyRepository{Repository: inner, misses: 1}

	c := NewContainer("a", repo, intCodec, NewArena(8, true), nil)
	value, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 7, value)
	assert.Equal(t, 0, c.Diagnostics())
}

type failingRepository struct{ repository.Repository }

func (failingRepository) Get(string) ([]byte, bool, error) { return nil, false, errors.New("disk on fire") }

func TestRepositoryErrorsAndCorruptedValues(t *testing.T) {
	logs := captureLog(t)
	c := NewContainer("a", failingRepository{repository.NewMemory()}, intCodec, NewArena(8, true), nil)
	_, ok := c.Get()
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "disk on fire")

	repo := repository.NewMemory()
	require.NoError(t, repo.Put("b", []byte("not a number")))
	corrupted := NewContainer("b", repo, intCodec, NewArena(8, true), nil)
	_, ok = corrupted.Get()
	assert.False(t, ok)
	assert.Equal(t, 1, corrupted.Diagnostics())
}

func TestVisitedStates(t *testing.T) {
	repo := repository.NewMemory()
	visited := NewVisitedStates(repo, NewArena(1, true), nil)
	pre := testState("A")
	entry := VisitedEntry{Post: testState("A", "B"), DeadBlocks: pcs.FromRanges(pcs.Range{Start: 3, End: 9})}

	_, ok := visited.Get("a.h", "local", pre.Key())
	assert.False(t, ok)

	visited.Put("a.h", "local", pre.Key(), entry)
	visited.Put("b.h", "local", pre.Key(), VisitedEntry{Post: pre, DeadBlocks: pcs.Empty})
	assert.Equal(t, 2, visited.Len())
	assert.Len(t, repo.Keys(), 2)

	// a.h was evicted by b.h and is decoded from the repository
	got, ok := visited.Get("a.h", "local", pre.Key())
	require.True(t, ok)
	assert.True(t, got.Post.Equal(entry.Post))
	assert.True(t, got.DeadBlocks.Equal(entry.DeadBlocks))

	visited.Invalidate("a.h", "local")
	_, ok = visited.Get("a.h", "local", pre.Key())
	assert.False(t, ok)
	assert.Len(t, repo.Keys(), 1)
}
