// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heap

import "golang.org/x/exp/constraints"

// Elem is an element with a weight.
type Elem[T any, W constraints.Ordered] struct {
	Value  T
	Weight W
	seq    uint64
}

// _heap is a min-heap of elements ordered by weight. Among equal weights the
// later element is smaller. It implements container/heap.Interface.
type _heap[T any, W constraints.Ordered] struct {
	elems []Elem[T, W]
}

func (h *_heap[T, W]) Len() int {
	return len(h.elems)
}

func (h *_heap[T, W]) Less(i, j int) bool {
	if h.elems[i].Weight == h.elems[j].Weight {
		return h.elems[i].seq > h.elems[j].seq
	}
	return h.elems[i].Weight < h.elems[j].Weight
}

func (h *_heap[T, W]) Swap(i, j int) {
	h.elems[i], h.elems[j] = h.elems[j], h.elems[i]
}

func (h *_heap[T, W]) Push(x any) {
	h.elems = append(h.elems, x.(Elem[T, W]))
}

func (h *_heap[T, W]) Pop() any {
	n := len(h.elems)
	elem := h.elems[n-1]
	h.elems = h.elems[:n-1]
	return elem
}
