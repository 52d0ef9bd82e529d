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
	"fmt"
	"time"

	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/base/progress"
	"github.com/gorse-io/latent/dataset"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type FitConfig struct {
	Epochs    int
	BatchSize int
	Verbose   int
	TopK      int
	Jobs      int
	Seed      int64
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Epochs:    10,
		BatchSize: 256,
		Verbose:   1,
		TopK:      10,
		Jobs:      1,
	}
}

func (config *FitConfig) SetEpochs(epochs int) *FitConfig {
	config.Epochs = epochs
	return config
}

func (config *FitConfig) SetBatchSize(batchSize int) *FitConfig {
	config.BatchSize = batchSize
	return config
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetTopK(topK int) *FitConfig {
	config.TopK = topK
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetSeed(seed int64) *FitConfig {
	config.Seed = seed
	return config
}

// Trainer runs epochs of shuffled mini-batches through Model.TrainStep. A
// cancelled context pauses the loop between two batches; the next Fit on the
// same training set continues from the next batch of the same epoch.
type Trainer struct {
	model    *Model
	config   FitConfig
	rng      base.RandomGenerator
	tracer   *progress.Tracer
	trainSet *dataset.Dataset

	epoch     int
	batches   [][]int
	cursor    int
	epochLoss float32
	score     Score

	epochsDone  atomic.Int64
	batchesDone atomic.Int64

	// OnBatch is called after every committed step.
	OnBatch func(epoch, batch, numBatches int, loss float32)
}

func NewTrainer(m *Model, config *FitConfig) (*Trainer, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if config.Epochs < 0 {
		return nil, invalidConfig("epochs must be non-negative, got %d", config.Epochs)
	}
	if config.BatchSize < 2 {
		return nil, invalidConfig("batch size must be at least 2, got %d", config.BatchSize)
	}
	if config.TopK <= 0 {
		return nil, invalidConfig("top k must be positive, got %d", config.TopK)
	}
	if config.Jobs <= 0 {
		return nil, invalidConfig("jobs must be positive, got %d", config.Jobs)
	}
	return &Trainer{
		model:  m,
		config: *config,
		rng:    base.NewRandomGenerator(config.Seed),
		tracer: progress.NewTracer("trainer"),
	}, nil
}

// Epoch returns the number of finished epochs.
func (t *Trainer) Epoch() int {
	return int(t.epochsDone.Load())
}

// Batches returns the number of committed steps since the trainer was created.
func (t *Trainer) Batches() int64 {
	return t.batchesDone.Load()
}

// Done reports whether all epochs have finished.
func (t *Trainer) Done() bool {
	return t.epoch >= t.config.Epochs
}

// Progress lists the progress of every Fit call.
func (t *Trainer) Progress() []progress.Progress {
	return t.tracer.List()
}

// Rewind restarts the loop at the first epoch. The model is left as is.
func (t *Trainer) Rewind() {
	t.epoch = 0
	t.batches = nil
	t.cursor = 0
	t.epochLoss = 0
	t.score = Score{}
	t.epochsDone.Store(0)
}

// Fit trains until all epochs have finished, the context is cancelled or a
// step fails. Cancellation returns the context error and keeps the position.
// testSet may be nil to skip evaluation.
func (t *Trainer) Fit(ctx context.Context, trainSet, testSet *dataset.Dataset) (Score, error) {
	if trainSet.Count() < 2 {
		return t.score, errors.Annotatef(ErrDegenerateBatch, "%d interactions", trainSet.Count())
	}
	if t.trainSet != trainSet {
		t.Rewind()
		t.trainSet = trainSet
	}
	ctx, otelSpan := otel.Tracer(tracerName).Start(ctx, "Trainer.Fit", trace.WithAttributes(
		attribute.Int("epochs", t.config.Epochs),
		attribute.Int("batch_size", t.config.BatchSize),
		attribute.Int("start_epoch", t.epoch)))
	defer otelSpan.End()
	ctx, span := t.tracer.Start(ctx, "Trainer.Fit", t.config.Epochs)
	span.Add(t.epoch)
	log.Logger().Info("fit embedding model",
		zap.Int("train_set_size", trainSet.Count()),
		zap.Int("start_epoch", t.epoch),
		zap.Int("start_batch", t.cursor),
		zap.Any("params", t.model.GetParams()),
		zap.Any("config", t.config))

	for t.epoch < t.config.Epochs {
		if t.batches == nil {
			t.batches = trainSet.Batches(t.config.BatchSize, t.rng)
			t.cursor = 0
			t.epochLoss = 0
		}
		fitStart := time.Now()
		for t.cursor < len(t.batches) {
			if err := ctx.Err(); err != nil {
				span.Suspend()
				log.Logger().Info("fit embedding model paused",
					zap.Int("epoch", t.epoch+1), zap.Int("batch", t.cursor))
				return t.score, errors.Trace(err)
			}
			users, items := trainSet.Batch(t.batches[t.cursor])
			loss, err := t.model.TrainStep(users, items)
			if err != nil {
				span.Fail(err)
				otelSpan.RecordError(err)
				otelSpan.SetStatus(codes.Error, err.Error())
				log.Logger().Warn("fit embedding model failed",
					zap.Int("epoch", t.epoch+1), zap.Int("batch", t.cursor), zap.Error(err))
				return t.score, err
			}
			t.epochLoss += loss
			t.cursor++
			t.batchesDone.Inc()
			if t.OnBatch != nil {
				t.OnBatch(t.epoch, t.cursor, len(t.batches), loss)
			}
		}
		fitTime := time.Since(fitStart)
		meanLoss := t.epochLoss / float32(len(t.batches))
		t.epoch++
		t.batches = nil
		t.epochsDone.Store(int64(t.epoch))
		span.Add(1)
		otelSpan.AddEvent("epoch", trace.WithAttributes(
			attribute.Int("epoch", t.epoch),
			attribute.Float64("loss", float64(meanLoss))))

		if testSet != nil && t.config.Verbose > 0 && (t.epoch%t.config.Verbose == 0 || t.epoch == t.config.Epochs) {
			evalStart := time.Now()
			score, err := Evaluate(ctx, t.model, testSet, trainSet, t.config.TopK, t.config.Jobs)
			if err != nil {
				span.Fail(err)
				return t.score, err
			}
			t.score = score
			log.Logger().Info(fmt.Sprintf("fit embedding model %v/%v", t.epoch, t.config.Epochs),
				zap.Float32("loss", meanLoss),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", time.Since(evalStart).String()),
				zap.Float32(fmt.Sprintf("NDCG@%v", t.config.TopK), score.NDCG),
				zap.Float32(fmt.Sprintf("Precision@%v", t.config.TopK), score.Precision),
				zap.Float32(fmt.Sprintf("Recall@%v", t.config.TopK), score.Recall))
		} else {
			log.Logger().Info(fmt.Sprintf("fit embedding model %v/%v", t.epoch, t.config.Epochs),
				zap.Float32("loss", meanLoss),
				zap.String("fit_time", fitTime.String()))
		}
	}
	span.End()
	log.Logger().Info("fit embedding model complete",
		zap.Int64("steps", t.model.Steps()),
		zap.Float32(fmt.Sprintf("NDCG@%v", t.config.TopK), t.score.NDCG),
		zap.Float32(fmt.Sprintf("Precision@%v", t.config.TopK), t.score.Precision),
		zap.Float32(fmt.Sprintf("Recall@%v", t.config.TopK), t.score.Recall))
	return t.score, nil
}
