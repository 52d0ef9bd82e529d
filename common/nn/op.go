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
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/common/floats"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduce sums dy over the leading dimensions broadcast onto a tensor of the given shape.
func reduce(dy *Tensor, shape []int) *Tensor {
	gx := Zeros(shape...)
	wSize := len(gx.data)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i]
	}
	return gx
}

func checkBroadcast(x0, x1 *Tensor) {
	if len(x1.data) == 0 || len(x0.data)%len(x1.data) != 0 {
		panic(fmt.Sprintf("nn: cannot broadcast %v to %v", x1.shape, x0.shape))
	}
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone(), reduce(dy, a.inputs[1].shape)}
}

type matMul struct {
	base
	transA bool
	transB bool
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return matmul(inputs[0], inputs[1], m.transA, m.transB)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	a, b := m.inputs[0], m.inputs[1]
	switch {
	case !m.transA && !m.transB:
		// C = A B
		return []*Tensor{matmul(dy, b, false, true), matmul(a, dy, true, false)}
	case !m.transA && m.transB:
		// C = A B^T
		return []*Tensor{matmul(dy, b, false, false), matmul(dy, a, true, false)}
	case m.transA && !m.transB:
		// C = A^T B
		return []*Tensor{matmul(b, dy, false, true), matmul(a, dy, false, false)}
	default:
		// C = A^T B^T
		return []*Tensor{matmul(b, dy, true, true), matmul(dy, a, true, true)}
	}
}

// matmul computes op(a) op(b) for 2-D tensors.
func matmul(a, b *Tensor, transA, transB bool) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic(fmt.Sprintf("nn: matmul requires 2-D tensors, got %v and %v", a.shape, b.shape))
	}
	m, k := a.shape[0], a.shape[1]
	if transA {
		m, k = k, m
	}
	kb, n := b.shape[0], b.shape[1]
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		panic(fmt.Sprintf("nn: matmul shapes %v and %v do not match", a.shape, b.shape))
	}
	c := Zeros(m, n)
	floats.MM(transA, transB, m, n, k, a.data, a.shape[1], b.data, b.shape[1], c.data, n)
	return c
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		if y.data[i] < 0 {
			y.data[i] = 0
		}
	}
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		if r.inputs[0].data[i] <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

// softmaxCrossEntropy is the mean over rows of the cross entropy between
// softmax(logits[i]) and the one-hot label labels[i].
type softmaxCrossEntropy struct {
	base
	labels []int
	prob   *Tensor
}

func (s *softmaxCrossEntropy) String() string {
	return "SoftmaxCrossEntropy"
}

func (s *softmaxCrossEntropy) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	s.prob = Zeros(rows, cols)
	var loss float32
	for i := 0; i < rows; i++ {
		logits, prob := x.Row(i), s.prob.Row(i)
		// subtract the row maximum for stability
		maxLogit := logits[0]
		for _, v := range logits[1:] {
			maxLogit = math32.Max(maxLogit, v)
		}
		var total float32
		for j, v := range logits {
			prob[j] = math32.Exp(v - maxLogit)
			total += prob[j]
		}
		floats.MulConst(prob, 1/total)
		loss += math32.Log(total) + maxLogit - logits[s.labels[i]]
	}
	return NewScalar(loss / float32(rows))
}

func (s *softmaxCrossEntropy) backward(dy *Tensor) []*Tensor {
	dx := s.prob.clone()
	rows := dx.shape[0]
	for i := 0; i < rows; i++ {
		dx.Row(i)[s.labels[i]] -= 1
	}
	floats.MulConst(dx.data, dy.data[0]/float32(rows))
	return []*Tensor{dx}
}

// Add returns x0 + x1. x1 is broadcast over the leading dimensions of x0.
func Add(x0, x1 *Tensor) *Tensor {
	checkBroadcast(x0, x1)
	return apply(&add{}, x0, x1)
}

// MatMul returns op(x) op(y) where op transposes when the matching flag is set.
func MatMul(x, y *Tensor, transX, transY bool) *Tensor {
	return apply(&matMul{transA: transX, transB: transY}, x, y)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// SoftmaxCrossEntropy returns the mean softmax cross entropy of a 2-D logits
// tensor where labels[i] is the correct column of row i.
func SoftmaxCrossEntropy(logits *Tensor, labels []int) *Tensor {
	if len(logits.shape) != 2 || logits.shape[0] != len(labels) || logits.shape[1] == 0 {
		panic(fmt.Sprintf("nn: logits %v do not match %d labels", logits.shape, len(labels)))
	}
	for _, label := range labels {
		if label < 0 || label >= logits.shape[1] {
			panic(fmt.Sprintf("nn: label %d out of range [0, %d)", label, logits.shape[1]))
		}
	}
	return apply(&softmaxCrossEntropy{labels: labels}, logits)
}
