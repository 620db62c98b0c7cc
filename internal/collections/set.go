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

import (
	"iter"
	"maps"
	"slices"
)

// Set of comparable values, e.g. the reserved words of a language or the
// files marked with `#pragma once`.
type Set[T comparable] map[T]struct{}

func SetOf[T comparable](elems ...T) Set[T] {
	return ToSet(elems)
}

func ToSet[T comparable](slice []T) Set[T] {
	s := make(Set[T], len(slice))
	for _, elem := range slice {
		s.Add(elem)
	}
	return s
}

// FindDuplicates returns the elements occurring more than once in slice, in
// the order of their second occurrence, e.g. repeated macro parameters.
func FindDuplicates[S ~[]T, T comparable](slice S) S {
	var result S
	seen := make(Set[T], len(slice))
	for _, elem := range slice {
		if seen.Contains(elem) {
			result = append(result, elem)
			continue
		}
		seen.Add(elem)
	}
	return result
}

// Add inserts elem and returns s.
func (s Set[T]) Add(elem T) Set[T] {
	s[elem] = struct{}{}
	return s
}

func (s Set[T]) Contains(elem T) bool {
	_, ok := s[elem]
	return ok
}

// Join adds the elements of other to s and returns s.
func (s Set[T]) Join(other Set[T]) Set[T] {
	for elem := range other {
		s.Add(elem)
	}
	return s
}

// Diff returns a new set of the elements of s missing from other.
func (s Set[T]) Diff(other Set[T]) Set[T] {
	return ToSet(slices.Collect(FilterSeq(s.All(), func(elem T) bool { return !other.Contains(elem) })))
}

// All returns the elements in unspecified order.
func (s Set[T]) All() iter.Seq[T] {
	return maps.Keys(s)
}

func (s Set[T]) SortedValues(cmp func(l, r T) int) []T {
	return slices.SortedFunc(s.All(), cmp)
}
