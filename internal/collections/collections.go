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

// Package collections holds the generic sequence, set and queue helpers
// shared by the token stream packages: keyword and parameter sets, label
// conversions and the eviction queue of the cache arena.
package collections

import (
	"iter"
	"slices"
)

// MapSeq lazily applies fn to every element of seq.
func MapSeq[T, V any](seq iter.Seq[T], fn func(T) V) iter.Seq[V] {
	return func(yield func(V) bool) {
		for t := range seq {
			if !yield(fn(t)) {
				return
			}
		}
	}
}

// MapSlice returns fn applied to every element of s, e.g.
//
//	MapSlice(owners, label.Label.String)
func MapSlice[TSlice ~[]T, T, V any](s TSlice, fn func(T) V) []V {
	return slices.AppendSeq(make([]V, 0, len(s)), MapSeq(slices.Values(s), fn))
}

// FilterSeq lazily keeps the elements of seq accepted by keep.
func FilterSeq[T any](seq iter.Seq[T], keep func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for elem := range seq {
			if keep(elem) && !yield(elem) {
				return
			}
		}
	}
}

// FilterSlice returns the elements of s accepted by keep, in order.
func FilterSlice[TSlice ~[]T, T any](s TSlice, keep func(T) bool) TSlice {
	return slices.AppendSeq(make(TSlice, 0, len(s)), FilterSeq(slices.Values(s), keep))
}
