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
	"time"

	"github.com/gorse-io/latent/projection"
	"github.com/juju/errors"
	"modernc.org/mathutil"
)

// ProjectionResult holds a 2-D projection of sampled item vectors. Coordinates[i]
// belongs to item SampleIndices[i].
type ProjectionResult struct {
	Coordinates       [][2]float32
	SampleIndices     []int
	ExplainedVariance [2]float64
}

// Project samples min(sampleSize, NumItems()) items uniformly with replacement
// and projects their scoring vectors onto the top two principal axes.
func (m *Model) Project(sampleSize int) (*ProjectionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if sampleSize < 0 {
		return nil, errors.Annotatef(ErrInvalidArgument, "negative sample size %d", sampleSize)
	}
	n := mathutil.Min(sampleSize, m.numItems)
	return m.project(m.sampler.SampleWithReplacement(0, m.numItems, n))
}

// ProjectItems projects the scoring vectors of the given items.
func (m *Model) ProjectItems(itemIndices []int) (*ProjectionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if err := m.items.Check(itemIndices...); err != nil {
		return nil, err
	}
	return m.project(append([]int(nil), itemIndices...))
}

func (m *Model) project(indices []int) (*ProjectionResult, error) {
	start := time.Now()
	x, err := m.items.Gather(indices)
	if err != nil {
		return nil, err
	}
	vectors := m.itemTower.Forward(x)
	samples := make([][]float32, len(indices))
	for i := range samples {
		samples[i] = vectors.Row(i)
	}
	result := projection.PCA(samples)
	OperationSeconds.WithLabelValues("project").Observe(time.Since(start).Seconds())
	return &ProjectionResult{
		Coordinates:       result.Coordinates,
		SampleIndices:     indices,
		ExplainedVariance: result.ExplainedVariance,
	}, nil
}
