// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a small generic set, used to detect duplicate labels, arcs and names.
package sets

// Set of keys of type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set. The optional size reserves room for that many keys.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// Has reports whether key is in the set.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// InsertNew adds key and returns true. If key was already present the set is unchanged and it returns false.
func (s Set[T]) InsertNew(key T) bool {
	if s.Has(key) {
		return false
	}
	s[key] = struct{}{}
	return true
}
