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

	"github.com/chewxy/math32"
)

// Layer is a differentiable function with trainable parameters. Forward must not
// mutate the layer, so one layer may serve concurrent inference calls.
type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type Model Layer

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

// NewLinear creates a fully connected layer mapping in features to out features.
func NewLinear(in, out int, rng *rand.Rand) *LinearLayer {
	return &LinearLayer{
		W: Normal(rng, 0, 1.0/math32.Sqrt(float32(in)), in, out).RequireGrad(),
		B: Zeros(out).RequireGrad(),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W, false, false), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Parameters() []*Tensor {
	return nil
}

func (r *reluLayer) Forward(x *Tensor) *Tensor {
	return ReLu(x)
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

// NewMLP creates a multi-layer perceptron with ReLU between hidden layers and a
// linear output layer.
func NewMLP(in int, hidden []int, out int, rng *rand.Rand) *Sequential {
	var layers []Layer
	for _, h := range hidden {
		layers = append(layers, NewLinear(in, h, rng), NewReLU())
		in = h
	}
	layers = append(layers, NewLinear(in, out, rng))
	return NewSequential(layers...)
}

// NumParameters counts the elements of a parameter list.
func NumParameters(params []*Tensor) int {
	n := 0
	for _, p := range params {
		n += len(p.data)
	}
	return n
}
