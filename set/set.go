// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package set implements a generic set data structure, trimmed to the
// membership-tracking surface the system package actually calls: the
// known-id roster (system.System.known) only ever needs to be built,
// added to, and listed back out.
package set

import "golang.org/x/exp/maps"

// Set is a set of unique elements.
type Set[T comparable] map[T]struct{}

// Of returns a Set initialized with elts.
func Of[T comparable](elts ...T) Set[T] {
	s := make(Set[T], len(elts))
	s.Add(elts...)
	return s
}

// Add adds elements to the set.
func (s Set[T]) Add(elts ...T) {
	for _, elt := range elts {
		s[elt] = struct{}{}
	}
}

// List returns the elements of the set as a slice, in no particular order.
func (s Set[T]) List() []T {
	return maps.Keys(s)
}
