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
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/EngFlow/cc_tokenstream/internal/repository"
	"github.com/EngFlow/cc_tokenstream/internal/wire"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/pcs"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/preproc"
)

// VisitedEntry is the outcome of walking a file from a given state.
type VisitedEntry struct {
	Post       preproc.State
	DeadBlocks pcs.State
}

const (
	visitedPost       = 1
	visitedDeadBlocks = 2
)

// VisitedCodec encodes visited entries in protobuf wire format.
var VisitedCodec Codec[VisitedEntry] = CodecFuncs[VisitedEntry]{
	EncodeFunc: func(entry VisitedEntry) []byte {
		var e wire.Encoder
		e.Bytes(visitedPost, entry.Post.Marshal())
		e.Bytes(visitedDeadBlocks, entry.DeadBlocks.Marshal())
		return e.Result()
	},
	DecodeFunc: func(data []byte) (VisitedEntry, error) {
		var entry VisitedEntry
		err := wire.ReadFields(data, func(f wire.Field) error {
			var err error
			switch f.Num {
			case visitedPost:
				entry.Post, err = preproc.UnmarshalState(f.Data)
			case visitedDeadBlocks:
				entry.DeadBlocks, err = pcs.Unmarshal(f.Data)
			}
			return err
		})
		return entry, err
	},
}

type visitedKey struct {
	file, fileSystem string
	state            preproc.Key
}

func (k visitedKey) String() string {
	return fmt.Sprintf("visited/%s:%s@%s", k.fileSystem, k.file, hex.EncodeToString(k.state[:]))
}

// VisitedStates remembers the outcome of walks per (file, incoming state).
// Writes are idempotent: storing an equivalent entry again is harmless.
type VisitedStates struct {
	repo       repository.Repository
	arena      *Arena
	ownerValid func() bool

	mu    sync.Mutex
	slots map[visitedKey]*Container[VisitedEntry]
}

func NewVisitedStates(repo repository.Repository, arena *Arena, ownerValid func() bool) *VisitedStates {
	return &VisitedStates{
		repo:       repo,
		arena:      arena,
		ownerValid: ownerValid,
		slots:      make(map[visitedKey]*Container[VisitedEntry]),
	}
}

func (v *VisitedStates) slot(key visitedKey, create bool) *Container[VisitedEntry] {
	v.mu.Lock()
	defer v.mu.Unlock()
	container, ok := v.slots[key]
	if !ok && create {
		container = NewContainer(key.String(), v.repo, VisitedCodec, v.arena, v.ownerValid)
		v.slots[key] = container
	}
	return container
}

// Get returns the entry stored for the file and incoming state.
func (v *VisitedStates) Get(file, fileSystem string, state preproc.Key) (VisitedEntry, bool) {
	container := v.slot(visitedKey{file: file, fileSystem: fileSystem, state: state}, false)
	if container == nil {
		return VisitedEntry{}, false
	}
	return container.Get()
}

// Put stores the entry. Failures are logged, the entry is then recomputed by
// later walks.
func (v *VisitedStates) Put(file, fileSystem string, state preproc.Key, entry VisitedEntry) {
	container := v.slot(visitedKey{file: file, fileSystem: fileSystem, state: state}, true)
	if err := container.Put(entry); err != nil {
		log.Printf("aptcache: %v", err)
	}
}

// Invalidate drops the entries of a file from memory and the repository.
func (v *VisitedStates) Invalidate(file, fileSystem string) {
	v.mu.Lock()
	var removed []*Container[VisitedEntry]
	for key, container := range v.slots {
		if key.file == file && key.fileSystem == fileSystem {
			removed = append(removed, container)
			delete(v.slots, key)
		}
	}
	v.mu.Unlock()

	for _, container := range removed {
		container.Clear()
		if err := v.repo.Remove(container.Key()); err != nil {
			log.Printf("aptcache: removing %s: %v", container.Key(), err)
		}
	}
}

// Clear drops every in-memory value, see Container.Clear.
func (v *VisitedStates) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, container := range v.slots {
		container.Clear()
	}
}

// Len returns the number of remembered (file, state) pairs.
func (v *VisitedStates) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.slots)
}
