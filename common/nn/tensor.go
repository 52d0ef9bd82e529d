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
	"math/rand"
	"strings"

	"github.com/gorse-io/latent/common/floats"
)

// Tensor is a dense float32 n-dimensional array with an optional autograd history.
type Tensor struct {
	data        []float32
	shape       []int
	grad        *Tensor
	op          op
	requireGrad bool

	// row-sparse gradient of a 2-D tensor
	rowIndex []int
	rowGrad  [][]float32
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("nn: %d elements cannot form shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// FromMatrix copies a row-major matrix into a 2-D tensor.
func FromMatrix(rows [][]float32) *Tensor {
	if len(rows) == 0 {
		return Zeros(0, 0)
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for _, row := range rows {
		if len(row) != cols {
			panic("nn: ragged matrix")
		}
		data = append(data, row...)
	}
	return NewTensor(data, len(rows), cols)
}

// Normal creates a tensor filled with normal random numbers drawn from rng.
func Normal(rng *rand.Rand, mean, std float32, shape ...int) *Tensor {
	data := make([]float32, numel(shape))
	for i := range data {
		data[i] = float32(rng.NormFloat64())*std + mean
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	data := make([]float32, numel(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, numel(shape)),
		shape: shape,
	}
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// RequireGrad marks a leaf tensor as a parameter whose gradient is kept by Backward.
func (t *Tensor) RequireGrad() *Tensor {
	t.requireGrad = true
	return t
}

// NoGrad detaches a tensor from its history.
func (t *Tensor) NoGrad() *Tensor {
	t.op = nil
	t.requireGrad = false
	return t
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// Row returns the i-th row of a 2-D tensor. The slice aliases the tensor data.
func (t *Tensor) Row(i int) []float32 {
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

// Rows returns the number of rows of a 2-D tensor.
func (t *Tensor) Rows() int {
	return t.shape[0]
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetRowGrad attaches a row-sparse gradient. index must hold distinct rows and
// grads[i] is the gradient of row index[i]. A row-sparse gradient replaces any
// dense gradient during the next optimizer step.
func (t *Tensor) SetRowGrad(index []int, grads [][]float32) {
	if len(t.shape) != 2 {
		panic("nn: row gradient requires a 2-D tensor")
	}
	if len(index) != len(grads) {
		panic("nn: row gradient index and values do not match")
	}
	t.rowIndex = index
	t.rowGrad = grads
}

// RowGrad returns the row-sparse gradient set by SetRowGrad.
func (t *Tensor) RowGrad() ([]int, [][]float32) {
	return t.rowIndex, t.rowGrad
}

// IsFinite reports whether every element is neither NaN nor infinite.
func (t *Tensor) IsFinite() bool {
	return floats.IsFinite(t.data)
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of t with respect to every tensor in its history.
// Gradients of leaves accumulate until they are cleared by an optimizer.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	if t.op == nil {
		return
	}
	// sort operators topologically
	var (
		order   []op
		visited = make(map[op]struct{})
		visit   func(o op)
	)
	visit = func(o op) {
		if _, ok := visited[o]; ok {
			return
		}
		visited[o] = struct{}{}
		inputs, _ := o.inputsAndOutput()
		for _, x := range inputs {
			if x.op != nil {
				visit(x.op)
			}
		}
		order = append(order, o)
	}
	visit(t.op)
	for i := len(order) - 1; i >= 0; i-- {
		inputs, output := order[i].inputsAndOutput()
		if output.grad == nil {
			continue
		}
		grads := order[i].backward(output.grad)
		for j, x := range inputs {
			if x.op == nil && !x.requireGrad {
				continue
			}
			if x.grad == nil {
				x.grad = grads[j]
			} else {
				floats.Add(x.grad.data, grads[j].data)
			}
		}
	}
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: t.shape,
	}
}

// add adds other in place. other is broadcast over leading dimensions.
func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}
