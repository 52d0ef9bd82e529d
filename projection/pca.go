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

// Package projection reduces embedding vectors to two dimensions for plotting.
package projection

import (
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Result holds a two-dimensional projection of a sample.
type Result struct {
	// Coordinates[i] is the projection of sample i onto the two principal axes.
	Coordinates [][2]float32
	// Variance is the sample variance along each axis.
	Variance [2]float64
	// ExplainedVariance is the share of the total variance along each axis.
	ExplainedVariance [2]float64
}

// PCA projects n samples of equal width d onto their two principal axes. The
// covariance is d×d, so the cost of the eigen-decomposition does not grow with n.
// Degenerate inputs (n < 2, zero variance, d = 1) yield zero coordinates on the
// affected axes instead of an error.
func PCA(samples [][]float32) Result {
	n := len(samples)
	result := Result{Coordinates: make([][2]float32, n)}
	if n < 2 {
		return result
	}
	d := len(samples[0])
	if d == 0 {
		return result
	}

	// center samples
	centered := mat.NewDense(n, d, nil)
	for i, sample := range samples {
		if len(sample) != d {
			panic("projection: samples have different widths")
		}
		for j, v := range sample {
			centered.Set(i, j, float64(v))
		}
	}
	column := make([]float64, n)
	for j := 0; j < d; j++ {
		mean := stat.Mean(mat.Col(column, j, centered), nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, column[i]-mean)
		}
	}

	// covariance = C^T C / (n - 1)
	cov := mat.NewSymDense(d, nil)
	cov.SymOuterK(1/float64(n-1), centered.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return result
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// descending eigenvalues, ties broken by column index
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	var total float64
	for _, v := range values {
		total += max(v, 0)
	}
	axes := mat.NewDense(d, 2, nil)
	for k := 0; k < 2 && k < d; k++ {
		col := order[k]
		// make the largest component positive
		sign, largest := 1.0, 0.0
		for i := 0; i < d; i++ {
			if v := vectors.At(i, col); v*v > largest*largest {
				largest = v
			}
		}
		if largest < 0 {
			sign = -1
		}
		for i := 0; i < d; i++ {
			axes.Set(i, k, sign*vectors.At(i, col))
		}
		result.Variance[k] = max(values[col], 0)
		if total > 0 {
			result.ExplainedVariance[k] = result.Variance[k] / total
		}
	}

	var coordinates mat.Dense
	coordinates.Mul(centered, axes)
	for i := 0; i < n; i++ {
		result.Coordinates[i] = [2]float32{float32(coordinates.At(i, 0)), float32(coordinates.At(i, 1))}
	}
	return result
}
