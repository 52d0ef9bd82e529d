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
	"github.com/chewxy/math32"
)

type baseOptimizer struct {
	params []*Tensor
	wd     float32
}

// ZeroGrad clears dense and row-sparse gradients of every parameter.
func (o *baseOptimizer) ZeroGrad() {
	for _, p := range o.params {
		p.grad = nil
		p.rowIndex = nil
		p.rowGrad = nil
	}
}

// SetWeightDecay adds wd times the weight to the gradient of every updated
// element. Rows without a gradient are not decayed.
func (o *baseOptimizer) SetWeightDecay(wd float32) {
	o.wd = wd
}

// Adam implements the Adam optimizer. Parameters carrying a row-sparse gradient
// are updated lazily: only the listed rows have their moments and values
// updated, while the bias correction always uses the global step counter.
type Adam struct {
	baseOptimizer
	alpha float32
	beta1 float32
	beta2 float32
	eps   float32
	ms    map[*Tensor]*Tensor
	vs    map[*Tensor]*Tensor
	t     float32
}

func NewAdam(params []*Tensor, alpha float32) *Adam {
	return &Adam{
		baseOptimizer: baseOptimizer{params: params},
		alpha:         alpha,
		beta1:         0.9,
		beta2:         0.999,
		eps:           1e-8,
		ms:            make(map[*Tensor]*Tensor),
		vs:            make(map[*Tensor]*Tensor),
	}
}

func (a *Adam) SetBetas(beta1, beta2 float32) {
	a.beta1, a.beta2 = beta1, beta2
}

func (a *Adam) SetEpsilon(eps float32) {
	a.eps = eps
}

// Steps returns the number of steps taken since creation or the last Reset.
func (a *Adam) Steps() int {
	return int(a.t)
}

// Reset discards moment estimates and the step counter.
func (a *Adam) Reset() {
	a.t = 0
	clear(a.ms)
	clear(a.vs)
}

func (a *Adam) Step() {
	a.t++

	fix1 := 1 - math32.Pow(a.beta1, a.t)
	fix2 := 1 - math32.Pow(a.beta2, a.t)
	lr := a.alpha * math32.Sqrt(fix2) / fix1

	for _, p := range a.params {
		if p.rowGrad == nil && p.grad == nil {
			continue
		}
		if _, ok := a.ms[p]; !ok {
			a.ms[p] = Zeros(p.shape...)
			a.vs[p] = Zeros(p.shape...)
		}
		m, v := a.ms[p], a.vs[p]
		if p.rowGrad != nil {
			for i, row := range p.rowIndex {
				a.update(lr, p.Row(row), p.rowGrad[i], m.Row(row), v.Row(row))
			}
		} else {
			a.update(lr, p.data, p.grad.data, m.data, v.data)
		}
	}
}

func (a *Adam) update(lr float32, w, grad, m, v []float32) {
	for i := range w {
		g := grad[i] + a.wd*w[i]
		// m += (1 - beta1) * (grad - m)
		m[i] += (1 - a.beta1) * (g - m[i])
		// v += (1 - beta2) * (grad * grad - v)
		v[i] += (1 - a.beta2) * (g*g - v[i])
		// param.data -= self.lr * m / (xp.sqrt(v) + eps)
		w[i] -= lr * m[i] / (math32.Sqrt(v[i]) + a.eps)
	}
}
