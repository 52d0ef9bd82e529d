// Copyright 2024 gorse Project Authors
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

package nn

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const (
	eps  = 1e-3
	rtol = 1e-2
	atol = 5e-3
)

func randn(seed int64, shape ...int) *Tensor {
	return Normal(rand.New(rand.NewSource(seed)), 0, 1, shape...)
}

func numericalDiff(f func(*Tensor) *Tensor, x *Tensor) *Tensor {
	x0, x1 := x.clone(), x.clone()
	dx := make([]float32, len(x.data))
	for i, v := range x.data {
		x0.data[i] = v - eps
		x1.data[i] = v + eps
		y0 := f(x0)
		y1 := f(x1)
		for j := range y0.data {
			dx[i] += (y1.data[j] - y0.data[j]) / (2 * eps)
		}
		x0.data[i] = v
		x1.data[i] = v
	}
	return NewTensor(dx, x.shape...)
}

func allClose(t *testing.T, a, b *Tensor) {
	if !assert.Equal(t, a.shape, b.shape) {
		return
	}
	for i := range a.data {
		if math32.Abs(a.data[i]-b.data[i]) > atol+rtol*math32.Abs(b.data[i]) {
			t.Fatalf("a.data[%d] = %f, b.data[%d] = %f\n", i, a.data[i], i, b.data[i])
			return
		}
	}
}

func TestAdd(t *testing.T) {
	// (2,3) + (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11, 13}, z.data)

	// Test gradient
	x = randn(1, 2, 3).RequireGrad()
	y = randn(2, 2, 3).RequireGrad()
	z = Add(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Add(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Add(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) + (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3).RequireGrad()
	z = Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 6, 8, 10}, z.data)
	z.Backward()
	assert.Nil(t, x.grad)
	assert.Equal(t, []float32{2, 2, 2}, y.grad.data)
}

func TestMatMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	z := MatMul(x, y, false, false)
	assert.Equal(t, []int{2, 2}, z.shape)
	assert.Equal(t, []float32{22, 28, 49, 64}, z.data)

	// x x^T
	z = MatMul(x, x, false, true)
	assert.Equal(t, []float32{14, 32, 32, 77}, z.data)

	// Test gradient of every transpose combination
	for _, c := range []struct {
		transA, transB bool
		aShape, bShape []int
	}{
		{false, false, []int{2, 3}, []int{3, 4}},
		{false, true, []int{2, 3}, []int{4, 3}},
		{true, false, []int{3, 2}, []int{3, 4}},
		{true, true, []int{3, 2}, []int{4, 3}},
	} {
		a := randn(3, c.aShape...).RequireGrad()
		b := randn(4, c.bShape...).RequireGrad()
		z = MatMul(a, b, c.transA, c.transB)
		assert.Equal(t, []int{2, 4}, z.shape)
		z.Backward()
		da := numericalDiff(func(a *Tensor) *Tensor { return MatMul(a, b, c.transA, c.transB) }, a)
		allClose(t, a.grad, da)
		db := numericalDiff(func(b *Tensor) *Tensor { return MatMul(a, b, c.transA, c.transB) }, b)
		allClose(t, b.grad, db)
	}

	assert.Panics(t, func() { MatMul(x, x, false, false) })
}

func TestReLu(t *testing.T) {
	x := NewTensor([]float32{-1, 0.5, -0.5, 2}, 2, 2).RequireGrad()
	y := ReLu(x)
	assert.Equal(t, []float32{0, 0.5, 0, 2}, y.data)
	y.Backward()
	assert.Equal(t, []float32{0, 1, 0, 1}, x.grad.data)
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	// uniform logits
	x := Zeros(2, 2)
	y := SoftmaxCrossEntropy(x, []int{0, 1})
	assert.InDelta(t, math32.Log(2), y.data[0], 1e-6)

	// Test gradient
	x = NewTensor([]float32{0.2, -0.3, 0.7, 0.1, 0.5, -0.8, 0.4, 0.0, 0.9}, 3, 3).RequireGrad()
	labels := []int{0, 1, 2}
	y = SoftmaxCrossEntropy(x, labels)
	y.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return SoftmaxCrossEntropy(x, labels) }, x)
	allClose(t, x.grad, dx)
	// every row of the gradient sums to zero
	for i := 0; i < 3; i++ {
		var sum float32
		for _, g := range x.grad.Row(i) {
			sum += g
		}
		assert.InDelta(t, 0, sum, 1e-6)
	}

	// large logits stay finite
	x = NewTensor([]float32{1000, -1000, -1000, 1000}, 2, 2)
	y = SoftmaxCrossEntropy(x, []int{0, 1})
	assert.True(t, y.IsFinite())
	assert.InDelta(t, 0, y.data[0], 1e-6)

	// non-finite logits surface as a non-finite loss
	x = NewTensor([]float32{math32.Inf(1), 0, 0, 1}, 2, 2)
	y = SoftmaxCrossEntropy(x, []int{0, 1})
	assert.False(t, y.IsFinite())

	assert.Panics(t, func() { SoftmaxCrossEntropy(Zeros(2, 2), []int{0, 2}) })
	assert.Panics(t, func() { SoftmaxCrossEntropy(Zeros(2, 2), []int{0}) })
}

func TestBackwardAccumulates(t *testing.T) {
	// x contributes through both operands: d(x x^T)/dx = 2x
	x := NewTensor([]float32{1, 2}, 1, 2).RequireGrad()
	y := MatMul(x, x, false, true)
	assert.Equal(t, []float32{5}, y.data)
	y.Backward()
	assert.Equal(t, []float32{2, 4}, x.grad.data)

	// leaves without RequireGrad keep no gradient
	c := NewTensor([]float32{3, 4}, 2, 1)
	y = Add(MatMul(x, c, false, false), NewScalar(1))
	x.grad = nil
	y.Backward()
	assert.Nil(t, c.grad)
	assert.Equal(t, []float32{3, 4}, x.grad.data)
}

func TestNewTensor(t *testing.T) {
	assert.Panics(t, func() { NewTensor([]float32{1, 2, 3}, 2, 2) })
	m := FromMatrix([][]float32{{1, 2}, {3, 4}, {5, 6}})
	assert.Equal(t, []int{3, 2}, m.Shape())
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, []float32{3, 4}, m.Row(1))
	assert.Equal(t, "[1, 2, 3, 4, 5, 6]", m.String())
	assert.Equal(t, "7", NewScalar(7).String())
	assert.Panics(t, func() { FromMatrix([][]float32{{1, 2}, {3}}) })
}
