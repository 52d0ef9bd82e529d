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
	"sync"

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/common/nn"
	"github.com/gorse-io/latent/model"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultNFactors      = 16
	DefaultLr            = 0.01
	DefaultInitStdDev    = 0.05
	DefaultBeta1         = 0.9
	DefaultBeta2         = 0.999
	DefaultEps           = 1e-8
	DefaultMaxParameters = int64(1) << 31
)

var schema = model.Schema{
	model.NFactors:      model.IntKind,
	model.Lr:            model.FloatKind,
	model.Reg:           model.FloatKind,
	model.RandomState:   model.Int64Kind,
	model.InitMean:      model.FloatKind,
	model.InitStdDev:    model.FloatKind,
	model.Mode:          model.StringKind,
	model.HiddenLayers:  model.IntSliceKind,
	model.OutputDim:     model.IntKind,
	model.Beta1:         model.FloatKind,
	model.Beta2:         model.FloatKind,
	model.Eps:           model.FloatKind,
	model.Jobs:          model.IntKind,
	model.MaxParameters: model.Int64Kind,
}

// Model learns user and item embeddings from in-batch contrastive steps. It
// owns both embedding matrices, the optional towers and the optimizer state.
// TrainStep, SetUserEmbedding, SetItemEmbedding, Reset and Dispose take the
// write lock; every other operation takes the read lock, so reads run
// concurrently with each other but never with a step in flight.
type Model struct {
	model.BaseModel
	mu       sync.RWMutex
	disposed bool

	numUsers int
	numItems int

	// hyper parameters
	nFactors      int
	lr            float32
	reg           float32
	initMean      float32
	initStdDev    float32
	mode          Mode
	hiddenLayers  []int
	outputDim     int
	beta1         float32
	beta2         float32
	eps           float32
	jobs          int
	maxParameters int64

	// parameters
	users     *EmbeddingStore
	items     *EmbeddingStore
	userTower Transform
	itemTower Transform
	optimizer *nn.Adam
	sampler   base.RandomGenerator
	steps     atomic.Int64
}

// NewModel creates a model for numUsers users and numItems items. Invalid
// hyper-parameters are reported as ErrInvalidConfig and models exceeding
// MaxParameters as ErrResourceExhausted. No model is created on error.
func NewModel(numUsers, numItems int, params model.Params) (*Model, error) {
	if params == nil {
		params = model.Params{}
	}
	if err := params.Validate(schema); err != nil {
		return nil, invalidConfig("%v", err)
	}
	m := &Model{numUsers: numUsers, numItems: numItems}
	m.SetParams(params)
	m.nFactors = params.GetInt(model.NFactors, DefaultNFactors)
	m.lr = params.GetFloat32(model.Lr, DefaultLr)
	m.reg = params.GetFloat32(model.Reg, 0)
	m.initMean = params.GetFloat32(model.InitMean, 0)
	m.initStdDev = params.GetFloat32(model.InitStdDev, DefaultInitStdDev)
	m.mode = Mode(params.GetString(model.Mode, string(ShallowMode)))
	m.hiddenLayers = params.GetIntSlice(model.HiddenLayers, nil)
	m.outputDim = params.GetInt(model.OutputDim, 0)
	m.beta1 = params.GetFloat32(model.Beta1, DefaultBeta1)
	m.beta2 = params.GetFloat32(model.Beta2, DefaultBeta2)
	m.eps = params.GetFloat32(model.Eps, DefaultEps)
	m.jobs = params.GetInt(model.Jobs, 1)
	m.maxParameters = params.GetInt64(model.MaxParameters, DefaultMaxParameters)
	if err := m.validate(params); err != nil {
		return nil, err
	}
	if err := m.checkBudget(); err != nil {
		return nil, err
	}
	m.init()
	ActiveModels.Inc()
	log.Logger().Debug("create embedding model",
		zap.Int("n_users", numUsers),
		zap.Int("n_items", numItems),
		zap.Stringer("params", params))
	return m, nil
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

func (m *Model) validate(params model.Params) error {
	switch {
	case m.numUsers <= 0:
		return invalidConfig("number of users %d must be positive", m.numUsers)
	case m.numItems <= 0:
		return invalidConfig("number of items %d must be positive", m.numItems)
	case m.nFactors <= 0:
		return invalidConfig("%v %d must be positive", model.NFactors, m.nFactors)
	case !finite(m.lr) || m.lr <= 0:
		return invalidConfig("%v %v must be positive", model.Lr, m.lr)
	case !finite(m.reg) || m.reg < 0:
		return invalidConfig("%v %v must not be negative", model.Reg, m.reg)
	case !finite(m.initMean):
		return invalidConfig("%v %v must be finite", model.InitMean, m.initMean)
	case !finite(m.initStdDev) || m.initStdDev < 0:
		return invalidConfig("%v %v must not be negative", model.InitStdDev, m.initStdDev)
	case !finite(m.beta1) || m.beta1 < 0 || m.beta1 >= 1:
		return invalidConfig("%v %v must be in [0, 1)", model.Beta1, m.beta1)
	case !finite(m.beta2) || m.beta2 < 0 || m.beta2 >= 1:
		return invalidConfig("%v %v must be in [0, 1)", model.Beta2, m.beta2)
	case !finite(m.eps) || m.eps <= 0:
		return invalidConfig("%v %v must be positive", model.Eps, m.eps)
	case m.jobs <= 0:
		return invalidConfig("%v %d must be positive", model.Jobs, m.jobs)
	case m.maxParameters <= 0:
		return invalidConfig("%v %d must be positive", model.MaxParameters, m.maxParameters)
	}
	_, hasHidden := params[model.HiddenLayers]
	_, hasOutput := params[model.OutputDim]
	switch m.mode {
	case ShallowMode:
		if hasHidden || hasOutput {
			return invalidConfig("%v and %v are only valid in %v mode", model.HiddenLayers, model.OutputDim, DeepMode)
		}
	case DeepMode:
		if !hasHidden || !hasOutput {
			return invalidConfig("%v mode requires %v and %v", DeepMode, model.HiddenLayers, model.OutputDim)
		}
		for _, h := range m.hiddenLayers {
			if h <= 0 {
				return invalidConfig("%v %v must be positive", model.HiddenLayers, m.hiddenLayers)
			}
		}
		if m.outputDim <= 0 {
			return invalidConfig("%v %d must be positive", model.OutputDim, m.outputDim)
		}
	default:
		return invalidConfig("%v %q must be %q or %q", model.Mode, m.mode, ShallowMode, DeepMode)
	}
	return nil
}

func mulInt64(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func addInt64(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// numParameters counts trainable parameters of both matrices and both towers.
// The flag is false if the count overflows int64.
func (m *Model) numParameters() (int64, bool) {
	users, ok1 := mulInt64(int64(m.numUsers), int64(m.nFactors))
	items, ok2 := mulInt64(int64(m.numItems), int64(m.nFactors))
	total, ok3 := addInt64(users, items)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	if m.mode == DeepMode {
		tower, ok := towerParameters(m.nFactors, m.hiddenLayers, m.outputDim)
		if !ok || tower > math.MaxInt64/2 {
			return 0, false
		}
		if total, ok = addInt64(total, 2*tower); !ok {
			return 0, false
		}
	}
	return total, true
}

func (m *Model) checkBudget() error {
	n, ok := m.numParameters()
	switch {
	case !ok:
		return invalidResource("parameter count overflows")
	case n > m.maxParameters:
		return invalidResource("%d parameters exceed the limit of %d", n, m.maxParameters)
	case n > int64(math.MaxInt):
		return invalidResource("%d parameters exceed addressable memory", n)
	}
	return nil
}

// init allocates parameters and optimizer state from the random state.
func (m *Model) init() {
	rng := m.GetRandomGenerator()
	m.users = newEmbeddingStore("user", m.numUsers, m.nFactors, rng, m.initMean, m.initStdDev)
	m.items = newEmbeddingStore("item", m.numItems, m.nFactors, rng, m.initMean, m.initStdDev)
	if m.mode == DeepMode {
		m.userTower = NewTower(m.nFactors, m.hiddenLayers, m.outputDim, rng.Rand)
		m.itemTower = NewTower(m.nFactors, m.hiddenLayers, m.outputDim, rng.Rand)
	} else {
		m.userTower = NewIdentity(m.nFactors)
		m.itemTower = NewIdentity(m.nFactors)
	}
	params := []*nn.Tensor{m.users.weight, m.items.weight}
	params = append(params, m.userTower.Parameters()...)
	params = append(params, m.itemTower.Parameters()...)
	m.optimizer = nn.NewAdam(params, m.lr)
	m.optimizer.SetBetas(m.beta1, m.beta2)
	m.optimizer.SetEpsilon(m.eps)
	m.optimizer.SetWeightDecay(m.reg)
	m.sampler = base.NewLockedRandomGenerator(m.GetRandomState() + 1)
	m.steps.Store(0)
}

// Reset reinitializes embeddings, towers and optimizer state from the random state.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	m.SetParams(m.Params)
	m.init()
	return nil
}

// Dispose releases parameters. Later calls of any operation return ErrDisposed.
// Dispose itself may be called more than once.
func (m *Model) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	m.users, m.items = nil, nil
	m.userTower, m.itemTower = nil, nil
	m.optimizer = nil
	ActiveModels.Dec()
}

// IsDisposed reports whether Dispose has been called.
func (m *Model) IsDisposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}

// NumUsers returns the number of users, fixed at construction.
func (m *Model) NumUsers() int {
	return m.numUsers
}

// NumItems returns the number of items, fixed at construction.
func (m *Model) NumItems() int {
	return m.numItems
}

// NFactors returns the width of raw embeddings.
func (m *Model) NFactors() int {
	return m.nFactors
}

// OutputDim returns the width of scoring vectors.
func (m *Model) OutputDim() int {
	if m.mode == DeepMode {
		return m.outputDim
	}
	return m.nFactors
}

func (m *Model) Mode() Mode {
	return m.mode
}

// Steps returns the number of committed training steps since construction or Reset.
func (m *Model) Steps() int64 {
	return m.steps.Load()
}

// NumParameters returns the number of trainable parameters.
func (m *Model) NumParameters() int64 {
	n, _ := m.numParameters()
	return n
}
