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

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/common/nn"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TrainStep runs one contrastive step on a batch of positive pairs
// (userIndices[i], itemIndices[i]) and returns the loss before the update.
//
// The logits are the B×B affinities between every user and every item of the
// batch. Row i is a B-way softmax classification whose label is column i, so
// the items of the other pairs act as negatives of user i. Only the gathered
// embedding rows and the tower weights change.
//
// The batch is validated before anything is computed: unequal lengths are
// ErrInvalidArgument, fewer than two pairs ErrDegenerateBatch and any index out
// of range an *IndexError. A non-finite loss or gradient is ErrDiverged. In
// every error case the model is left unchanged.
func (m *Model) TrainStep(userIndices, itemIndices []int) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return 0, ErrDisposed
	}
	if len(userIndices) != len(itemIndices) {
		RejectedStepsTotal.WithLabelValues("invalid").Inc()
		return 0, errors.Annotatef(ErrInvalidArgument, "%d user indices but %d item indices", len(userIndices), len(itemIndices))
	}
	if len(userIndices) < 2 {
		RejectedStepsTotal.WithLabelValues("degenerate").Inc()
		return 0, errors.Annotatef(ErrDegenerateBatch, "batch size %d leaves no in-batch negatives", len(userIndices))
	}
	if err := m.users.Check(userIndices...); err != nil {
		RejectedStepsTotal.WithLabelValues("index").Inc()
		return 0, err
	}
	if err := m.items.Check(itemIndices...); err != nil {
		RejectedStepsTotal.WithLabelValues("index").Inc()
		return 0, err
	}

	start := time.Now()
	loss, err := m.step(userIndices, itemIndices)
	if err != nil {
		RejectedStepsTotal.WithLabelValues("diverged").Inc()
		return 0, err
	}
	OperationSeconds.WithLabelValues("train_step").Observe(time.Since(start).Seconds())
	TrainStepsTotal.Inc()
	TrainLoss.Set(float64(loss))
	log.Logger().Debug("train step",
		zap.Int64("step", m.steps.Load()),
		zap.Int("batch_size", len(userIndices)),
		zap.Float32("loss", loss))
	return loss, nil
}

func (m *Model) step(userIndices, itemIndices []int) (float32, error) {
	u, err := m.users.Gather(userIndices)
	if err != nil {
		return 0, err
	}
	v, err := m.items.Gather(itemIndices)
	if err != nil {
		return 0, err
	}
	logits := nn.MatMul(m.userTower.Forward(u), m.itemTower.Forward(v), false, true)
	loss := nn.SoftmaxCrossEntropy(logits, lo.Range(len(userIndices)))
	if !loss.IsFinite() {
		return 0, errors.Annotatef(ErrDiverged, "loss is %v", loss.Data()[0])
	}

	m.optimizer.ZeroGrad()
	defer m.optimizer.ZeroGrad()
	loss.Backward()
	if !u.Grad().IsFinite() || !v.Grad().IsFinite() {
		return 0, errors.Annotate(ErrDiverged, "embedding gradient is not finite")
	}
	for _, p := range append(m.userTower.Parameters(), m.itemTower.Parameters()...) {
		if p.Grad() != nil && !p.Grad().IsFinite() {
			return 0, errors.Annotate(ErrDiverged, "tower gradient is not finite")
		}
	}

	// commit
	if err = m.users.ApplyGradient(userIndices, u.Grad()); err != nil {
		return 0, err
	}
	if err = m.items.ApplyGradient(itemIndices, v.Grad()); err != nil {
		return 0, err
	}
	m.optimizer.Step()
	m.steps.Inc()
	return loss.Data()[0], nil
}
