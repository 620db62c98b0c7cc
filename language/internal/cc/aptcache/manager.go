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
	"log"
	"sync"
)

// Ownership tells a caller of Acquire whether it produces the entry.
type Ownership int

const (
	// The caller created the entry and must Publish or Abandon it.
	Exclusive Ownership = iota
	// The entry is owned by another producer or already published.
	Shared
)

func (o Ownership) String() string {
	if o == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Manager hands out cache entries. Published entries are held by an arena
// and dropped when it evicts them; the work they saved is then redone by the
// next Exclusive owner. Entries being produced are never evicted.
type Manager struct {
	arena *Arena
	trace bool

	mu        sync.Mutex
	entries   map[EntryKey]*Entry
	evictions int
}

// NewManager creates a manager whose published entries count against arena.
// With trace set every acquisition is logged.
func NewManager(arena *Arena, trace bool) *Manager {
	return &Manager{arena: arena, trace: trace, entries: make(map[EntryKey]*Entry)}
}

// Acquire returns the entry of the key, creating it when absent. Exactly one
// caller per created entry gets Exclusive ownership.
func (m *Manager) Acquire(key EntryKey) (*Entry, Ownership) {
	defer m.arena.shrink()
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok {
		if entry.Published() {
			entry.generation = m.arena.touch(entry)
		}
		if m.trace {
			log.Printf("aptcache: shared %v", key)
		}
		return entry, Shared
	}
	entry := newEntry(m, key)
	m.entries[key] = entry
	if m.trace {
		log.Printf("aptcache: exclusive %v", key)
	}
	return entry, Exclusive
}

// Lookup returns a published entry without creating one.
func (m *Manager) Lookup(key EntryKey) (*Entry, bool) {
	defer m.arena.shrink()
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || !entry.Published() {
		return nil, false
	}
	entry.generation = m.arena.touch(entry)
	return entry, true
}

// Publish marks the entry as complete. From now on the arena may evict it.
func (m *Manager) Publish(entry *Entry) {
	entry.mu.Lock()
	entry.published = true
	entry.mu.Unlock()

	m.mu.Lock()
	if m.entries[entry.key] == entry {
		entry.generation = m.arena.touch(entry)
	}
	m.mu.Unlock()
	if m.trace {
		log.Printf("aptcache: published %v", entry.key)
	}
	m.arena.shrink()
}

// Abandon drops an entry that was never published, e.g. after an
// interrupted walk. Published entries are kept.
func (m *Manager) Abandon(entry *Entry) {
	if entry.Published() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[entry.key] == entry {
		delete(m.entries, entry.key)
	}
}

// Invalidate drops every entry of a file, e.g. after it was modified.
func (m *Manager) Invalidate(file, fileSystem string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		if key.File == file && key.FileSystem == fileSystem {
			delete(m.entries, key)
			m.arena.forget(entry)
			removed++
		}
	}
	return removed
}

func (m *Manager) evict(entry *Entry, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[entry.key] == entry && entry.generation == generation {
		delete(m.entries, entry.key)
		m.evictions++
		if m.trace {
			log.Printf("aptcache: evicted %v", entry.key)
		}
	}
}

// Len returns the number of entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Evictions returns the number of published entries dropped by the arena.
func (m *Manager) Evictions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions
}
