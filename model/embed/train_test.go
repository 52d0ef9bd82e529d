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
	"math"
	"testing"

	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceStep computes the in-batch softmax loss and the gradients of every
// gathered row in float64.
func referenceStep(users, items [][]float32) (loss float64, gu, gv [][]float64) {
	b := len(users)
	gu = make([][]float64, b)
	gv = make([][]float64, b)
	for i := range gu {
		gu[i] = make([]float64, len(users[i]))
		gv[i] = make([]float64, len(items[i]))
	}
	for i := 0; i < b; i++ {
		logits := make([]float64, b)
		maxLogit := math.Inf(-1)
		for j := 0; j < b; j++ {
			for k := range users[i] {
				logits[j] += float64(users[i][k]) * float64(items[j][k])
			}
			maxLogit = math.Max(maxLogit, logits[j])
		}
		var total float64
		for _, s := range logits {
			total += math.Exp(s - maxLogit)
		}
		loss += math.Log(total) + maxLogit - logits[i]
		for j := 0; j < b; j++ {
			p := math.Exp(logits[j]-maxLogit) / total
			if i == j {
				p -= 1
			}
			for k := range users[i] {
				gu[i][k] += p * float64(items[j][k]) / float64(b)
				gv[j][k] += p * float64(users[i][k]) / float64(b)
			}
		}
	}
	return loss / float64(b), gu, gv
}

func rows(t *testing.T, get func(int) ([]float32, error), indices []int) [][]float32 {
	return lo.Map(indices, func(index, _ int) []float32 {
		row, err := get(index)
		require.NoError(t, err)
		return row
	})
}

func TestModel_TrainStepGradient(t *testing.T) {
	const lr = 0.01
	m := newTestModel(t, 3, 4, model.Params{
		model.NFactors:    3,
		model.Lr:          lr,
		model.InitStdDev:  0.5,
		model.RandomState: 1,
	})
	userIndices := []int{0, 1, 0}
	itemIndices := []int{2, 1, 3}
	users := rows(t, m.UserEmbedding, userIndices)
	items := rows(t, m.ItemEmbedding, itemIndices)
	expectLoss, gu, gv := referenceStep(users, items)
	// a repeated user row receives the sum of its gradients
	floats64Add(gu[0], gu[2])

	userBefore := rows(t, m.UserEmbedding, []int{0, 1, 2})
	itemBefore := rows(t, m.ItemEmbedding, []int{0, 1, 2, 3})
	loss, err := m.TrainStep(userIndices, itemIndices)
	require.NoError(t, err)
	assert.InDelta(t, expectLoss, loss, 1e-5)
	assert.Equal(t, int64(1), m.Steps())

	// the first Adam step moves each coordinate by lr against the sign of its gradient
	checkStep := func(before, after []float32, grad []float64) {
		for k := range before {
			if math.Abs(grad[k]) < 1e-4 {
				continue
			}
			expect := float64(before[k]) - lr*sign(grad[k])
			assert.InDelta(t, expect, after[k], 1e-4)
		}
	}
	userAfter := rows(t, m.UserEmbedding, []int{0, 1, 2})
	itemAfter := rows(t, m.ItemEmbedding, []int{0, 1, 2, 3})
	checkStep(userBefore[0], userAfter[0], gu[0])
	checkStep(userBefore[1], userAfter[1], gu[1])
	checkStep(itemBefore[2], itemAfter[2], gv[0])
	checkStep(itemBefore[1], itemAfter[1], gv[1])
	checkStep(itemBefore[3], itemAfter[3], gv[2])

	// rows outside the batch are untouched
	assert.Equal(t, userBefore[2], userAfter[2])
	assert.Equal(t, itemBefore[0], itemAfter[0])
	trained, _ := m.IsUserTrained(2)
	assert.False(t, trained)
	trained, _ = m.IsItemTrained(3)
	assert.True(t, trained)
}

func floats64Add(dst, s []float64) {
	for i := range dst {
		dst[i] += s[i]
	}
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// diagonalMargin is the mean dot product of matching pairs minus the mean dot
// product of every other pair.
func diagonalMargin(t *testing.T, m *Model) float32 {
	var diag, off float32
	n := m.NumUsers()
	for u := 0; u < n; u++ {
		userEmbedding, err := m.UserEmbedding(u)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			itemEmbedding, err := m.ItemEmbedding(i)
			require.NoError(t, err)
			if u == i {
				diag += floats.Dot(userEmbedding, itemEmbedding)
			} else {
				off += floats.Dot(userEmbedding, itemEmbedding)
			}
		}
	}
	return diag/float32(n) - off/float32(n*(n-1))
}

func TestModel_TrainStepSubBatches(t *testing.T) {
	m := newTestModel(t, 5, 5, model.Params{
		model.NFactors:    2,
		model.Lr:          0.05,
		model.RandomState: 1,
	})
	rng := base.NewRandomGenerator(2)
	before := diagonalMargin(t, m)
	for i := 0; i < 300; i++ {
		batch := rng.Sample(0, 5, 2+rng.Intn(4))
		_, err := m.TrainStep(batch, batch)
		require.NoError(t, err)
	}
	after := diagonalMargin(t, m)
	assert.Greater(t, after, before)
	assert.Greater(t, after, float32(0))
	assert.Equal(t, int64(300), m.Steps())
}

func embeddingNorm(t *testing.T, m *Model) float32 {
	var norm float32
	for i := 0; i < m.NumUsers(); i++ {
		userEmbedding, err := m.UserEmbedding(i)
		require.NoError(t, err)
		itemEmbedding, err := m.ItemEmbedding(i)
		require.NoError(t, err)
		norm += floats.Dot(userEmbedding, userEmbedding) + floats.Dot(itemEmbedding, itemEmbedding)
	}
	return norm
}

func TestModel_TrainStepWeightDecay(t *testing.T) {
	params := model.Params{
		model.NFactors:    4,
		model.Lr:          0.05,
		model.RandomState: 3,
	}
	plain := newTestModel(t, 5, 5, params)
	decayed := newTestModel(t, 5, 5, params.Overwrite(model.Params{model.Reg: 1.0}))
	assert.Equal(t, embeddingNorm(t, plain), embeddingNorm(t, decayed))
	batch := lo.Range(5)
	for i := 0; i < 300; i++ {
		_, err := plain.TrainStep(batch, batch)
		require.NoError(t, err)
		_, err = decayed.TrainStep(batch, batch)
		require.NoError(t, err)
	}
	assert.Less(t, embeddingNorm(t, decayed), embeddingNorm(t, plain))
	assert.Greater(t, diagonalMargin(t, decayed), float32(0))
}

func TestModel_TrainStepLearnsPairs(t *testing.T) {
	m := newTestModel(t, 5, 5, model.Params{
		model.NFactors:    4,
		model.Lr:          0.05,
		model.RandomState: 0,
	})
	batch := lo.Range(5)
	var losses []float32
	for i := 0; i < 500; i++ {
		loss, err := m.TrainStep(batch, batch)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	assert.InDelta(t, math.Log(5), losses[0], 0.1)
	assert.Less(t, losses[len(losses)-1], float32(0.1))
	assert.Equal(t, int64(500), m.Steps())

	// every user ranks its own item first
	for user := 0; user < 5; user++ {
		scores, err := m.ScoreUser(user)
		require.NoError(t, err)
		assert.Equal(t, user, lo.IndexOf(scores, lo.Max(scores)))
		trained, err := m.IsUserTrained(user)
		require.NoError(t, err)
		assert.True(t, trained)
	}
}

func TestModel_TrainStepDeep(t *testing.T) {
	m := newTestModel(t, 6, 6, model.Params{
		model.NFactors:     4,
		model.Lr:           0.01,
		model.Mode:         "deep",
		model.HiddenLayers: []int{8},
		model.OutputDim:    4,
		model.RandomState:  0,
	})
	batch := lo.Range(6)
	var losses []float32
	for i := 0; i < 300; i++ {
		loss, err := m.TrainStep(batch, batch)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	assert.Less(t, lo.Mean(losses[290:]), lo.Mean(losses[:10]))
}

func TestModel_TrainStepRejected(t *testing.T) {
	m := newTestModel(t, 3, 3, model.Params{model.NFactors: 2})
	userBefore := rows(t, m.UserEmbedding, []int{0, 1, 2})
	itemBefore := rows(t, m.ItemEmbedding, []int{0, 1, 2})
	rejected := testutil.ToFloat64(RejectedStepsTotal.WithLabelValues("index"))

	_, err := m.TrainStep([]int{0, 3}, []int{0, 1})
	var indexErr *IndexError
	require.True(t, errors.As(err, &indexErr))
	assert.Equal(t, "user", indexErr.Kind)
	assert.Equal(t, 3, indexErr.Index)
	_, err = m.TrainStep([]int{0, 1}, []int{0, -1})
	require.True(t, errors.As(err, &indexErr))
	assert.Equal(t, "item", indexErr.Kind)
	assert.Equal(t, rejected+2, testutil.ToFloat64(RejectedStepsTotal.WithLabelValues("index")))

	_, err = m.TrainStep([]int{0}, []int{0})
	assert.ErrorIs(t, err, ErrDegenerateBatch)
	_, err = m.TrainStep(nil, nil)
	assert.ErrorIs(t, err, ErrDegenerateBatch)
	_, err = m.TrainStep([]int{0, 1}, []int{0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, userBefore, rows(t, m.UserEmbedding, []int{0, 1, 2}))
	assert.Equal(t, itemBefore, rows(t, m.ItemEmbedding, []int{0, 1, 2}))
	assert.Zero(t, m.Steps())
	for i := 0; i < 3; i++ {
		trained, _ := m.IsUserTrained(i)
		assert.False(t, trained)
		trained, _ = m.IsItemTrained(i)
		assert.False(t, trained)
	}
}

func TestModel_TrainStepDiverged(t *testing.T) {
	m := newTestModel(t, 2, 2, model.Params{model.NFactors: 2})
	require.NoError(t, m.SetUserEmbedding(0, []float32{1e20, 1e20}))
	require.NoError(t, m.SetItemEmbedding(0, []float32{1e20, 1e20}))
	require.NoError(t, m.SetItemEmbedding(1, []float32{-1e20, -1e20}))
	userBefore := rows(t, m.UserEmbedding, []int{0, 1})
	itemBefore := rows(t, m.ItemEmbedding, []int{0, 1})

	_, err := m.TrainStep([]int{0, 1}, []int{0, 1})
	assert.ErrorIs(t, err, ErrDiverged)
	assert.Zero(t, m.Steps())
	assert.Equal(t, userBefore, rows(t, m.UserEmbedding, []int{0, 1}))
	assert.Equal(t, itemBefore, rows(t, m.ItemEmbedding, []int{0, 1}))

	// the rejected step leaves no staged gradient behind
	require.NoError(t, m.SetUserEmbedding(0, []float32{0.1, 0.1}))
	require.NoError(t, m.SetItemEmbedding(0, []float32{0.1, -0.1}))
	require.NoError(t, m.SetItemEmbedding(1, []float32{-0.1, 0.1}))
	_, err = m.TrainStep([]int{0, 1}, []int{0, 1})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), m.Steps())
}

func TestModel_TrainStepMetrics(t *testing.T) {
	m := newTestModel(t, 2, 2, model.Params{model.NFactors: 2})
	steps := testutil.ToFloat64(TrainStepsTotal)
	loss, err := m.TrainStep([]int{0, 1}, []int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, steps+1, testutil.ToFloat64(TrainStepsTotal))
	assert.InDelta(t, float64(loss), testutil.ToFloat64(TrainLoss), 1e-6)
}
