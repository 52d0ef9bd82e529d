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

	"github.com/stretchr/testify/assert"
)

func blobs(rng *rand.Rand, n int) (*Tensor, []int) {
	x := Zeros(n, 2)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = i % 2
		center := float32(4*labels[i] - 2)
		x.data[2*i] = center + float32(rng.NormFloat64())*0.5
		x.data[2*i+1] = center + float32(rng.NormFloat64())*0.5
	}
	return x, labels
}

func TestNeuralNetwork(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	x, labels := blobs(rng, 100)
	model := NewMLP(2, []int{8}, 2, rng)
	optimizer := NewAdam(model.Parameters(), 0.05)

	var first, last float32
	for i := 0; i < 300; i++ {
		loss := SoftmaxCrossEntropy(model.Forward(x), labels)
		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
		if i == 0 {
			first = loss.data[0]
		}
		last = loss.data[0]
	}
	assert.Less(t, last, first)
	assert.Less(t, last, float32(0.1))

	// accuracy on the training points
	logits := model.Forward(x)
	correct := 0
	for i, label := range labels {
		row := logits.Row(i)
		if (row[1] > row[0]) == (label == 1) {
			correct++
		}
	}
	assert.GreaterOrEqual(t, correct, 95)
}

func TestMLP(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	model := NewMLP(4, []int{8, 6}, 3, rng)
	assert.Len(t, model.Layers, 5)
	assert.Equal(t, 4*8+8+8*6+6+6*3+3, NumParameters(model.Parameters()))

	// no hidden layers is a single linear map
	linear := NewMLP(4, nil, 3, rng)
	assert.Len(t, linear.Layers, 1)
	assert.Equal(t, 4*3+3, NumParameters(linear.Parameters()))
}

func TestForwardDoesNotMutate(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	model := NewMLP(3, []int{4}, 2, rng)
	before := make([][]float32, 0)
	for _, p := range model.Parameters() {
		before = append(before, append([]float32(nil), p.data...))
	}
	x := Normal(rng, 0, 1, 5, 3)
	y0 := model.Forward(x)
	y1 := model.Forward(x)
	assert.Equal(t, []int{5, 2}, y0.shape)
	assert.Equal(t, y0.data, y1.data)
	for i, p := range model.Parameters() {
		assert.Equal(t, before[i], p.data)
		assert.Nil(t, p.grad)
	}
}
