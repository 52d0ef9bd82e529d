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

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/base/progress"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/common/parallel"
	"github.com/gorse-io/latent/dataset"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/gorse-io/latent/model/embed"

// Score holds top-k ranking metrics averaged over users with test feedback.
type Score struct {
	NDCG      float32
	Precision float32
	Recall    float32
}

// Metric scores a ranked list against the relevant items.
type Metric func(targetSet mapset.Set[int], rankList []int) float32

// Evaluate ranks the whole catalog for every user with test feedback, skipping
// the user's training items, and averages NDCG, Precision and Recall at topK.
func Evaluate(ctx context.Context, m *Model, testSet, trainSet *dataset.Dataset, topK, nJobs int) (Score, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Int("users", testSet.CountUsers()))
	if topK <= 0 {
		return Score{}, errors.Annotatef(ErrInvalidArgument, "top k must be positive, got %d", topK)
	}
	nJobs = max(nJobs, 1)
	scorers := []Metric{NDCG, Precision, Recall}
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := range partSum {
		partSum[i] = make([]float32, len(scorers))
	}
	testFeedback := testSet.GetUserFeedback()
	ctx, progressSpan := progress.Start(ctx, "Evaluate", testSet.CountUsers())
	err := parallel.Parallel(ctx, testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		defer progressSpan.Add(1)
		if len(testFeedback[userIndex]) == 0 {
			return nil
		}
		targetSet := testSet.GetUserFeedbackSet(userIndex)
		rankList, _, err := m.Recommend(userIndex, topK, trainSet.GetUserFeedbackSet(userIndex))
		if err != nil {
			return err
		}
		partCount[workerId]++
		for i, metric := range scorers {
			partSum[workerId][i] += metric(targetSet, rankList)
		}
		return nil
	})
	if err != nil {
		progressSpan.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Score{}, err
	}
	progressSpan.End()
	sum := make([]float32, len(scorers))
	for i := range partSum {
		floats.Add(sum, partSum[i])
	}
	var count float32
	for _, c := range partCount {
		count += c
	}
	if count > 0 {
		floats.MulConst(sum, 1/count)
	}
	return Score{NDCG: sum[0], Precision: sum[1], Recall: sum[2]}, nil
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int], rankList []int) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	if idcg == 0 {
		return 0
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the fraction of relevant items among the recommended items.
func Precision(targetSet mapset.Set[int], rankList []int) float32 {
	if len(rankList) == 0 {
		return 0
	}
	return float32(hits(targetSet, rankList)) / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended.
func Recall(targetSet mapset.Set[int], rankList []int) float32 {
	if targetSet.Cardinality() == 0 {
		return 0
	}
	return float32(hits(targetSet, rankList)) / float32(targetSet.Cardinality())
}

func hits(targetSet mapset.Set[int], rankList []int) int {
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit
}
