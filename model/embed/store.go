// Copyright 2026 gorse Project Authors
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

package embed

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/common/nn"
	"github.com/juju/errors"
)

// EmbeddingStore owns a rows×dim embedding matrix. Rows change only through
// the optimizer after ApplyGradient has staged their gradients.
type EmbeddingStore struct {
	kind    string
	weight  *nn.Tensor
	trained *bitset.BitSet
}

func newEmbeddingStore(kind string, rows, dim int, rng base.RandomGenerator, mean, stdDev float32) *EmbeddingStore {
	s := &EmbeddingStore{kind: kind}
	s.init(rows, dim, rng, mean, stdDev)
	return s
}

func (s *EmbeddingStore) init(rows, dim int, rng base.RandomGenerator, mean, stdDev float32) {
	data := make([]float32, 0, rows*dim)
	for _, row := range rng.NormalMatrix(rows, dim, mean, stdDev) {
		data = append(data, row...)
	}
	s.weight = nn.NewTensor(data, rows, dim).RequireGrad()
	s.trained = bitset.New(uint(rows))
}

// Len returns the number of rows.
func (s *EmbeddingStore) Len() int {
	return s.weight.Shape()[0]
}

// Dim returns the width of a row.
func (s *EmbeddingStore) Dim() int {
	return s.weight.Shape()[1]
}

// Check returns an *IndexError for the first index outside [0, Len()).
func (s *EmbeddingStore) Check(indices ...int) error {
	n := s.Len()
	for _, index := range indices {
		if index < 0 || index >= n {
			return &IndexError{Kind: s.kind, Index: index, Bound: n}
		}
	}
	return nil
}

// Gather copies the rows at indices into a new len(indices)×dim tensor in the
// given order. Repeated indices yield repeated rows. The result tracks gradients.
func (s *EmbeddingStore) Gather(indices []int) (*nn.Tensor, error) {
	if err := s.Check(indices...); err != nil {
		return nil, err
	}
	dim := s.Dim()
	data := make([]float32, len(indices)*dim)
	for i, index := range indices {
		copy(data[i*dim:(i+1)*dim], s.weight.Row(index))
	}
	return nn.NewTensor(data, len(indices), dim).RequireGrad(), nil
}

// ApplyGradient hands the gradient of gathered rows to the optimizer. grads[i]
// belongs to indices[i]; gradients of a repeated index are summed so that each
// unique row receives one update at the next optimizer step.
func (s *EmbeddingStore) ApplyGradient(indices []int, grads *nn.Tensor) error {
	if err := s.Check(indices...); err != nil {
		return err
	}
	if grads == nil {
		return errors.Annotatef(ErrDimensionMismatch, "missing %v gradient", s.kind)
	}
	if shape := grads.Shape(); len(shape) != 2 || shape[0] != len(indices) || shape[1] != s.Dim() {
		return errors.Annotatef(ErrDimensionMismatch, "%v gradient of shape %v for %d rows of width %d", s.kind, shape, len(indices), s.Dim())
	}
	indexSet := mapset.NewThreadUnsafeSet[int]()
	rowGrads := make(map[int][]float32, len(indices))
	for i, index := range indices {
		if indexSet.Add(index) {
			rowGrads[index] = make([]float32, s.Dim())
		}
		floats.Add(rowGrads[index], grads.Row(i))
	}
	rows := indexSet.ToSlice()
	sort.Ints(rows)
	values := make([][]float32, len(rows))
	for i, row := range rows {
		values[i] = rowGrads[row]
		s.trained.Set(uint(row))
	}
	s.weight.SetRowGrad(rows, values)
	return nil
}

// Row returns a copy of a row.
func (s *EmbeddingStore) Row(index int) []float32 {
	return append([]float32(nil), s.weight.Row(index)...)
}

// SetRow overwrites a row.
func (s *EmbeddingStore) SetRow(index int, values []float32) {
	copy(s.weight.Row(index), values)
}

// IsTrained reports whether any committed step has touched the row.
func (s *EmbeddingStore) IsTrained(index int) bool {
	return s.trained.Test(uint(index))
}

// NumTrained returns the number of rows touched by committed steps.
func (s *EmbeddingStore) NumTrained() int {
	return int(s.trained.Count())
}
