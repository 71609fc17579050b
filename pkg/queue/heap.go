// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package queue

import "container/heap"

// genericHeap adapts container/heap.Interface to a typed slice with an
// injected ordering, shared by the priority and delay queues — the only two
// variants whose ordering isn't plain FIFO.
type genericHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *genericHeap[T]) Len() int            { return len(h.items) }
func (h *genericHeap[T]) Less(i, j int) bool  { return h.less(h.items[i], h.items[j]) }
func (h *genericHeap[T]) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *genericHeap[T]) Push(x any)          { h.items = append(h.items, x.(T)) }
func (h *genericHeap[T]) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

func newGenericHeap[T any](less func(a, b T) bool) *genericHeap[T] {
	h := &genericHeap[T]{less: less}
	heap.Init(h)
	return h
}

func (h *genericHeap[T]) push(v T) { heap.Push(h, v) }

func (h *genericHeap[T]) pop() T { return heap.Pop(h).(T) }

func (h *genericHeap[T]) peek() (T, bool) {
	var zero T
	if len(h.items) == 0 {
		return zero, false
	}
	return h.items[0], true
}
