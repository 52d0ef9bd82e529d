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
	"context"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const evalEpsilon = 0.00001

func TestNDCG(t *testing.T) {
	targetSet := mapset.NewSet(1, 3, 5, 7)
	rankList := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.6766372989, NDCG(targetSet, rankList), evalEpsilon)
	assert.Zero(t, NDCG(mapset.NewSet[int](), rankList))
}

func TestPrecision(t *testing.T) {
	targetSet := mapset.NewSet(1, 3, 5, 7)
	rankList := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.4, Precision(targetSet, rankList), evalEpsilon)
	assert.Zero(t, Precision(targetSet, nil))
}

func TestRecall(t *testing.T) {
	targetSet := mapset.NewSet(1, 3, 15, 17, 19)
	rankList := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.4, Recall(targetSet, rankList), evalEpsilon)
	assert.Zero(t, Recall(mapset.NewSet[int](), rankList))
}

func TestEvaluate(t *testing.T) {
	m := newTestModel(t, 3, 4, model.Params{model.NFactors: 2})
	require.NoError(t, m.SetUserEmbedding(0, []float32{1, 0}))
	require.NoError(t, m.SetUserEmbedding(1, []float32{-1, 0}))
	for i, v := range []float32{3, 2, 1, 0} {
		require.NoError(t, m.SetItemEmbedding(i, []float32{v, 0}))
	}
	trainSet := dataset.NewDataset(3, 4)
	testSet := dataset.NewDataset(3, 4)
	require.NoError(t, trainSet.AddFeedback(0, 0))
	require.NoError(t, testSet.AddFeedback(0, 1))
	require.NoError(t, trainSet.AddFeedback(1, 3))
	require.NoError(t, testSet.AddFeedback(1, 0))

	// user 0 ranks [1, 2] and hits, user 1 ranks [2, 1] and misses, user 2 has no test feedback
	score, err := Evaluate(context.Background(), m, testSet, trainSet, 2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score.NDCG, evalEpsilon)
	assert.InDelta(t, 0.25, score.Precision, evalEpsilon)
	assert.InDelta(t, 0.5, score.Recall, evalEpsilon)

	_, err = Evaluate(context.Background(), m, testSet, trainSet, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, m, testSet, trainSet, 2, 1)
	assert.ErrorIs(t, err, context.Canceled)

	m.Dispose()
	_, err = Evaluate(context.Background(), m, testSet, trainSet, 2, 1)
	assert.ErrorIs(t, err, ErrDisposed)
}
