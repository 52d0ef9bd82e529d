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
	"testing"

	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/common/nn"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingStore_Gather(t *testing.T) {
	s := newEmbeddingStore("user", 4, 3, base.NewRandomGenerator(0), 0, 0.1)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 3, s.Dim())

	x, err := s.Gather([]int{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, x.Shape())
	assert.Equal(t, s.Row(2), x.Row(0))
	assert.Equal(t, s.Row(0), x.Row(1))
	assert.Equal(t, s.Row(2), x.Row(2))

	// gathered rows are copies
	before := s.Row(2)
	x.Row(0)[0] += 1
	assert.Equal(t, before, s.Row(2))

	_, err = s.Gather([]int{1, 4})
	var indexErr *IndexError
	require.True(t, errors.As(err, &indexErr))
	assert.Equal(t, "user", indexErr.Kind)
	assert.Equal(t, 4, indexErr.Index)
	assert.Equal(t, 4, indexErr.Bound)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = s.Gather([]int{-1})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestEmbeddingStore_ApplyGradient(t *testing.T) {
	s := newEmbeddingStore("item", 4, 3, base.NewRandomGenerator(0), 0, 0.1)
	grads := nn.NewTensor([]float32{
		1, 1, 1,
		2, 2, 2,
		3, 3, 3,
	}, 3, 3)
	assert.NoError(t, s.ApplyGradient([]int{2, 0, 2}, grads))
	index, values := s.weight.RowGrad()
	assert.Equal(t, []int{0, 2}, index)
	assert.Equal(t, [][]float32{{2, 2, 2}, {4, 4, 4}}, values)
	assert.True(t, s.IsTrained(0))
	assert.False(t, s.IsTrained(1))
	assert.True(t, s.IsTrained(2))
	assert.Equal(t, 2, s.NumTrained())
}

func TestEmbeddingStore_ApplyGradientRejected(t *testing.T) {
	s := newEmbeddingStore("item", 4, 3, base.NewRandomGenerator(0), 0, 0.1)
	assert.ErrorIs(t, s.ApplyGradient([]int{0}, nil), ErrDimensionMismatch)
	assert.ErrorIs(t, s.ApplyGradient([]int{0}, nn.Zeros(1, 2)), ErrDimensionMismatch)
	assert.ErrorIs(t, s.ApplyGradient([]int{0, 1}, nn.Zeros(1, 3)), ErrDimensionMismatch)
	assert.ErrorIs(t, s.ApplyGradient([]int{0, 9}, nn.Zeros(2, 3)), ErrIndexOutOfRange)
	index, _ := s.weight.RowGrad()
	assert.Nil(t, index)
	assert.Zero(t, s.NumTrained())
}

func TestEmbeddingStore_SetRow(t *testing.T) {
	s := newEmbeddingStore("user", 2, 2, base.NewRandomGenerator(0), 0, 0.1)
	s.SetRow(1, []float32{3, 4})
	assert.Equal(t, []float32{3, 4}, s.Row(1))
	row := s.Row(1)
	row[0] = 0
	assert.Equal(t, []float32{3, 4}, s.Row(1))
	assert.False(t, s.IsTrained(1))
}

func TestEmbeddingStore_Init(t *testing.T) {
	a := newEmbeddingStore("user", 3, 2, base.NewRandomGenerator(5), 1, 0)
	for i := 0; i < 3; i++ {
		assert.Equal(t, []float32{1, 1}, a.Row(i))
	}
	b := newEmbeddingStore("user", 3, 2, base.NewRandomGenerator(5), 0, 0.1)
	c := newEmbeddingStore("user", 3, 2, base.NewRandomGenerator(5), 0, 0.1)
	assert.Equal(t, b.weight.Data(), c.weight.Data())
}
