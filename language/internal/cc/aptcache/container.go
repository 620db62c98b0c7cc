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
	"fmt"
	"log"
	"sync"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/internal/repository"
)

// LimitMultiplyDiagnosticExceptions caps the diagnostics a single container
// logs about values missing from its repository.
const LimitMultiplyDiagnosticExceptions = 3

// Codec converts container values to and from their repository form.
type Codec[T any] interface {
	Encode(T) []byte
	Decode([]byte) (T, error)
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[T any] struct {
	EncodeFunc func(T) []byte
	DecodeFunc func([]byte) (T, error)
}

func (c CodecFuncs[T]) Encode(value T) []byte         { return c.EncodeFunc(value) }
func (c CodecFuncs[T]) Decode(data []byte) (T, error) { return c.DecodeFunc(data) }

type evictable interface {
	evict(generation uint64)
}

type arenaItem struct {
	generation uint64
	slot       evictable
}

func olderItem(a, b arenaItem) bool { return a.generation < b.generation }

// Queue items left behind by touched or forgotten values are dropped once
// they outnumber the live values by this much.
const compactionSlack = 64

// Arena bounds the number of container values and published cache entries
// held in memory. The least
// recently used values are evicted first. A disabled arena never evicts.
type Arena struct {
	mu        sync.Mutex
	capacity  int
	enabled   bool
	clock     uint64
	live      map[evictable]uint64
	queue     *collections.PriorityQueue[arenaItem]
	evictions int
}

// NewArena creates an arena holding at most capacity values. With enabled
// false values stay in memory until their container is dropped.
func NewArena(capacity int, enabled bool) *Arena {
	return &Arena{
		capacity: max(capacity, 1),
		enabled:  enabled,
		live:     make(map[evictable]uint64),
		queue:    collections.NewPriorityQueue(olderItem),
	}
}

// touch marks the slot as used and returns its new generation.
func (a *Arena) touch(slot evictable) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock++
	if a.enabled {
		a.live[slot] = a.clock
		a.queue.Push(arenaItem{generation: a.clock, slot: slot})
		if a.queue.Len() > 2*len(a.live)+compactionSlack {
			a.compact()
		}
	}
	return a.clock
}

// compact drops the queue items of values touched again or forgotten since
// they were queued.
func (a *Arena) compact() {
	var current []arenaItem
	for !a.queue.Empty() {
		item := a.queue.Pop()
		if generation, ok := a.live[item.slot]; ok && generation == item.generation {
			current = append(current, item)
		}
	}
	a.queue = collections.NewPriorityQueue(olderItem, current...)
}

func (a *Arena) forget(slot evictable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, slot)
}

// shrink evicts values above capacity. It must be called without holding
// any container lock.
func (a *Arena) shrink() {
	a.mu.Lock()
	var victims []arenaItem
	for len(a.live) > a.capacity && !a.queue.Empty() {
		item := a.queue.Pop()
		if generation, ok := a.live[item.slot]; !ok || generation != item.generation {
			continue // stale
		}
		delete(a.live, item.slot)
		victims = append(victims, item)
	}
	a.evictions += len(victims)
	a.mu.Unlock()

	for _, victim := range victims {
		victim.slot.evict(victim.generation)
	}
}

// Len returns the number of values held in memory.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Evictions returns the number of values evicted so far.
func (a *Arena) Evictions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evictions
}

// Container is a cache slot in front of a repository key. Its value may be
// evicted from memory by the arena and is then read back on demand.
type Container[T any] struct {
	key   string
	repo  repository.Repository
	codec Codec[T]
	arena *Arena
	// Reports whether the state owning the value is still valid. A value of
	// an invalid owner is never returned.
	ownerValid func() bool

	mu          sync.Mutex
	value       T
	loaded      bool
	generation  uint64
	diagnostics int
}

// NewContainer creates an empty container. ownerValid may be nil.
func NewContainer[T any](key string, repo repository.Repository, codec Codec[T], arena *Arena, ownerValid func() bool) *Container[T] {
	if ownerValid == nil {
		ownerValid = func() bool { return true }
	}
	return &Container[T]{key: key, repo: repo, codec: codec, arena: arena, ownerValid: ownerValid}
}

func (c *Container[T]) Key() string { return c.key }

// Put stores the value in the repository and keeps it in memory.
func (c *Container[T]) Put(value T) error {
	if err := c.repo.Put(c.key, c.codec.Encode(value)); err != nil {
		return fmt.Errorf("storing %s: %w", c.key, err)
	}
	c.mu.Lock()
	c.value, c.loaded = value, true
	c.generation = c.arena.touch(c)
	c.mu.Unlock()
	c.arena.shrink()
	return nil
}

// Get returns the value, reading it from the repository when it is not in
// memory.
func (c *Container[T]) Get() (T, bool) {
	value, ok := c.get()
	c.arena.shrink()
	return value, ok
}

func (c *Container[T]) get() (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ownerValid() {
		return zero, false
	}
	if c.loaded {
		c.generation = c.arena.touch(c)
		return c.value, true
	}

	data, found, err := c.repo.Get(c.key)
	if err == nil && !found {
		// The value may have been put concurrently, check again before
		// reporting it missing.
		data, found, err = c.repo.Get(c.key)
	}
	switch {
	case err != nil:
		c.diagnose("reading %s failed: %v", c.key, err)
		return zero, false
	case !found:
		if c.ownerValid() {
			c.diagnose("%s is missing from the repository", c.key)
		}
		return zero, false
	}

	value, err := c.codec.Decode(data)
	if err != nil {
		c.diagnose("decoding %s failed: %v", c.key, err)
		return zero, false
	}
	c.value, c.loaded = value, true
	c.generation = c.arena.touch(c)
	return value, true
}

func (c *Container[T]) diagnose(format string, args ...any) {
	if c.diagnostics >= LimitMultiplyDiagnosticExceptions {
		return
	}
	c.diagnostics++
	log.Printf("aptcache: "+format, args...)
}

// Diagnostics returns the number of diagnostics logged by the container.
func (c *Container[T]) Diagnostics() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnostics
}

// Clear drops the in-memory value when the arena may evict. The repository
// is left untouched.
func (c *Container[T]) Clear() {
	if !c.arena.enabled {
		return
	}
	c.mu.Lock()
	var zero T
	c.value, c.loaded = zero, false
	c.mu.Unlock()
	c.arena.forget(c)
}

// InMemory reports whether the value is held in memory.
func (c *Container[T]) InMemory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Container[T]) evict(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == generation {
		var zero T
		c.value, c.loaded = zero, false
	}
}
