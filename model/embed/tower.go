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
	"math/rand"

	"github.com/gorse-io/latent/common/nn"
)

// Mode selects how raw embeddings become scoring vectors.
type Mode string

const (
	// ShallowMode scores raw embeddings directly.
	ShallowMode Mode = "shallow"
	// DeepMode passes raw embeddings through a feed-forward tower.
	DeepMode Mode = "deep"
)

// Transform maps a batch of raw embedding rows to scoring vectors. Forward
// never mutates the transform, so concurrent readers may share one.
type Transform interface {
	Forward(x *nn.Tensor) *nn.Tensor
	Parameters() []*nn.Tensor
	OutputDim() int
}

// Identity is the shallow-mode transform.
type Identity struct {
	dim int
}

func NewIdentity(dim int) *Identity {
	return &Identity{dim: dim}
}

func (t *Identity) Forward(x *nn.Tensor) *nn.Tensor {
	return x
}

func (t *Identity) Parameters() []*nn.Tensor {
	return nil
}

func (t *Identity) OutputDim() int {
	return t.dim
}

// Tower is the deep-mode transform: linear layers with ReLU between hidden
// layers and no activation on the output.
type Tower struct {
	*nn.Sequential
	outputDim int
}

func NewTower(inputDim int, hidden []int, outputDim int, rng *rand.Rand) *Tower {
	return &Tower{
		Sequential: nn.NewMLP(inputDim, hidden, outputDim, rng),
		outputDim:  outputDim,
	}
}

func (t *Tower) OutputDim() int {
	return t.outputDim
}

// towerParameters counts the weights and biases of a tower without building it.
func towerParameters(inputDim int, hidden []int, outputDim int) (int64, bool) {
	var total int64
	in := int64(inputDim)
	for _, h := range append(append([]int(nil), hidden...), outputDim) {
		n, ok := mulInt64(in, int64(h))
		if !ok {
			return 0, false
		}
		if n, ok = addInt64(n, int64(h)); !ok {
			return 0, false
		}
		if total, ok = addInt64(total, n); !ok {
			return 0, false
		}
		in = int64(h)
	}
	return total, true
}
