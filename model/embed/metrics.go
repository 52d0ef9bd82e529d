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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelReason = "reason"
	LabelOp     = "op"
)

var (
	ActiveModels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "latent",
		Subsystem: "embed",
		Name:      "active_models",
	})
	TrainStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latent",
		Subsystem: "embed",
		Name:      "train_steps_total",
	})
	RejectedStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latent",
		Subsystem: "embed",
		Name:      "rejected_steps_total",
	}, []string{LabelReason})
	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "latent",
		Subsystem: "embed",
		Name:      "train_loss",
	})
	OperationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "latent",
		Subsystem: "embed",
		Name:      "operation_seconds",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
	}, []string{LabelOp})
)
