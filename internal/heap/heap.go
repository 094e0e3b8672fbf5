// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package heap implements a binary heap tuned for merging: the dominant
// operation replaces the top element and re-establishes heap order in a single
// downheap pass.
package heap

import "github.com/cockroachdb/mergeiter/internal/invariants"

// noWinner marks the root winner cache as unknown. Any value >= len(items)
// is treated the same way.
const noWinner = -1

// Heap is an array backed binary heap. Top returns the maximum element under
// the less relation supplied to Init.
//
// The heap remembers which child of the root won the last comparison made at
// the root. When the root is replaced and the children have not moved since,
// the comparison between the two children is skipped and only the new root is
// compared against the cached winner. A merge in which the same child keeps
// winning thus costs a single comparison per step.
//
// The zero value is an empty heap that must be initialized with Init.
type Heap[T any] struct {
	less  func(a, b T) bool
	items []T
	// rootWinner is the index (1 or 2) of the root's larger child, or noWinner.
	rootWinner int
	// comparisons counts calls to less.
	comparisons int
}

// Init sets the ordering and empties the heap. The backing storage is kept.
func (h *Heap[T]) Init(less func(a, b T) bool) {
	h.less = less
	h.Clear()
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// Empty returns true if the heap has no elements.
func (h *Heap[T]) Empty() bool {
	return len(h.items) == 0
}

// Clear empties the heap without releasing its storage.
func (h *Heap[T]) Clear() {
	clear(h.items)
	h.items = h.items[:0]
	h.rootWinner = noWinner
}

// Reserve ensures the heap can hold n elements without reallocating.
func (h *Heap[T]) Reserve(n int) {
	if cap(h.items) < n {
		items := make([]T, len(h.items), n)
		copy(items, h.items)
		h.items = items
	}
}

// Comparisons returns the number of comparisons made since the counter was
// last reset.
func (h *Heap[T]) Comparisons() int {
	return h.comparisons
}

// ResetComparisons zeroes the comparison counter.
func (h *Heap[T]) ResetComparisons() {
	h.comparisons = 0
}

// Push adds v to the heap.
func (h *Heap[T]) Push(v T) {
	h.items = append(h.items, v)
	h.up(len(h.items) - 1)
}

// Top returns the maximum element. It panics if the heap is empty.
func (h *Heap[T]) Top() T {
	return h.items[0]
}

// Pop removes and returns the maximum element. It panics if the heap is empty.
func (h *Heap[T]) Pop() T {
	top := h.items[0]
	n := len(h.items) - 1
	h.items[0] = h.items[n]
	var zero T
	h.items[n] = zero
	h.items = h.items[:n]
	if n > 0 {
		// The root's children are unchanged unless one of them was the element
		// moved to the root; the bounds check in down handles that case.
		h.down()
	} else {
		h.rootWinner = noWinner
	}
	return top
}

// ReplaceTop replaces the maximum element with v. This is equivalent to Pop
// followed by Push(v), done in a single downheap pass. It panics if the heap
// is empty.
func (h *Heap[T]) ReplaceTop(v T) {
	h.items[0] = v
	h.down()
}

// UpdateTop re-establishes heap order after the ordering of the top element
// changed in place. It panics if the heap is empty.
func (h *Heap[T]) UpdateTop() {
	h.down()
}

// Remove removes and returns the element at index i of Items.
func (h *Heap[T]) Remove(i int) T {
	if i == 0 {
		return h.Pop()
	}
	v := h.items[i]
	n := len(h.items) - 1
	h.items[i] = h.items[n]
	var zero T
	h.items[n] = zero
	h.items = h.items[:n]
	h.rootWinner = noWinner
	if i < n && !h.siftDown(i) {
		h.up(i)
	}
	return v
}

// Items returns the heap's elements in heap order. The slice must not be
// modified.
func (h *Heap[T]) Items() []T {
	return h.items
}

func (h *Heap[T]) cmp(a, b T) bool {
	h.comparisons++
	return h.less(a, b)
}

func (h *Heap[T]) up(i int) {
	v := h.items[i]
	for i > 0 {
		parent := (i - 1) / 2
		if !h.cmp(h.items[parent], v) {
			break
		}
		h.items[i] = h.items[parent]
		i = parent
	}
	h.items[i] = v
	h.rootWinner = noWinner
}

// siftDown sifts the element at i down without consulting the root winner
// cache. It returns true if the element moved.
func (h *Heap[T]) siftDown(i0 int) bool {
	n := len(h.items)
	i := i0
	v := h.items[i]
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		picked := left
		if right := left + 1; right < n && h.cmp(h.items[left], h.items[right]) {
			picked = right
		}
		if !h.cmp(v, h.items[picked]) {
			break
		}
		h.items[i] = h.items[picked]
		i = picked
	}
	h.items[i] = v
	return i > i0
}

// down sifts the root down.
func (h *Heap[T]) down() {
	n := len(h.items)
	v := h.items[0]
	i := 0
	picked := noWinner
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		right := left + 1
		picked = left
		if i == 0 && h.rootWinner > 0 && h.rootWinner < n {
			picked = h.rootWinner
			if invariants.Enabled && right < n {
				winner := left
				if h.less(h.items[left], h.items[right]) {
					winner = right
				}
				if h.less(h.items[winner], h.items[picked]) || h.less(h.items[picked], h.items[winner]) {
					panic("heap: root winner cache mismatch")
				}
			}
		} else if right < n && h.cmp(h.items[left], h.items[right]) {
			picked = right
		}
		if !h.cmp(v, h.items[picked]) {
			break
		}
		h.items[i] = h.items[picked]
		i = picked
	}
	if i == 0 {
		h.rootWinner = picked
	} else {
		h.rootWinner = noWinner
	}
	h.items[i] = v
}
