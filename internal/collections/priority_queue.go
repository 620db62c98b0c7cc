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

package collections

import "container/heap"

// heapBase implements heap.Interface over a slice ordered by less.
type heapBase[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *heapBase[T]) Len() int           { return len(h.items) }
func (h *heapBase[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *heapBase[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *heapBase[T]) Push(x any)         { h.items = append(h.items, x.(T)) }
func (h *heapBase[T]) Pop() any {
	last := h.items[len(h.items)-1]
	var zero T
	h.items[len(h.items)-1] = zero
	h.items = h.items[:len(h.items)-1]
	return last
}

// PriorityQueue pops the least element first, as ordered by the function
// given to NewPriorityQueue. The cache arena uses it to find the least
// recently used values.
type PriorityQueue[T any] struct {
	base heapBase[T]
}

// NewPriorityQueue creates a queue of the initial elements ordered by less.
func NewPriorityQueue[T any](less func(a, b T) bool, init ...T) *PriorityQueue[T] {
	q := &PriorityQueue[T]{base: heapBase[T]{items: init, less: less}}
	heap.Init(&q.base)
	return q
}

func (q *PriorityQueue[T]) Len() int    { return q.base.Len() }
func (q *PriorityQueue[T]) Empty() bool { return q.base.Len() == 0 }

func (q *PriorityQueue[T]) Push(item T) {
	heap.Push(&q.base, item)
}

// Pop removes the least element. It panics on an empty queue.
func (q *PriorityQueue[T]) Pop() T {
	return heap.Pop(&q.base).(T)
}

// Peek returns the least element without removing it. It panics on an empty
// queue.
func (q *PriorityQueue[T]) Peek() T {
	return q.base.items[0]
}
