// Copyright 2020 gorse Project Authors
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

package model

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/gorse-io/latent/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr            ParamName = "Lr"            // learning rate
	Reg           ParamName = "Reg"           // weight decay of updated parameters
	NFactors      ParamName = "NFactors"      // width of raw embeddings
	RandomState   ParamName = "RandomState"   // random state (seed)
	InitMean      ParamName = "InitMean"      // mean of gaussian initial parameter
	InitStdDev    ParamName = "InitStdDev"    // standard deviation of gaussian initial parameter
	Mode          ParamName = "Mode"          // "shallow" or "deep"
	HiddenLayers  ParamName = "HiddenLayers"  // hidden widths of the towers
	OutputDim     ParamName = "OutputDim"     // output width of the towers
	Beta1         ParamName = "Beta1"         // decay rate of the first moment
	Beta2         ParamName = "Beta2"         // decay rate of the second moment
	Eps           ParamName = "Eps"           // denominator offset of Adam
	Jobs          ParamName = "Jobs"          // number of goroutines for read-only kernels
	MaxParameters ParamName = "MaxParameters" // upper bound of trainable parameters
)

// Params stores hyper-parameters for an model. It is a map between strings
// (names) and interface{}s (values). For example, hyper-parameters for a
// deep embedding model is given by:
//
//	model.Params{
//		model.Lr:           0.01,
//		model.NFactors:     32,
//		model.Mode:         "deep",
//		model.HiddenLayers: []int{64},
//		model.OutputDim:    16,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)), zap.String("type", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)), zap.String("type", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetFloat32 gets a float parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given float64 or int.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)), zap.String("type", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)), zap.String("type", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetIntSlice gets a list of integers. Returns _default if not exists or type doesn't match.
func (parameters Params) GetIntSlice(name ParamName, _default []int) []int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case []int:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)), zap.String("type", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// ParamKind is the expected kind of a hyper-parameter value.
type ParamKind int

const (
	IntKind ParamKind = iota
	Int64Kind
	FloatKind
	StringKind
	IntSliceKind
)

func (kind ParamKind) accepts(val interface{}) bool {
	switch val.(type) {
	case int:
		return kind == IntKind || kind == Int64Kind || kind == FloatKind
	case int64:
		return kind == Int64Kind
	case float32, float64:
		return kind == FloatKind
	case string:
		return kind == StringKind
	case []int:
		return kind == IntSliceKind
	default:
		return false
	}
}

// Schema lists the hyper-parameters a model accepts.
type Schema map[ParamName]ParamKind

// Validate returns an error for unknown names and for values whose type the
// matching getter would not accept. Names are checked in sorted order.
func (parameters Params) Validate(schema Schema) error {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		kind, ok := schema[ParamName(name)]
		if !ok {
			return errors.NotSupportedf("hyper-parameter %v", name)
		}
		if val := parameters[ParamName(name)]; !kind.accepts(val) {
			return errors.NotValidf("hyper-parameter %v of type %v", name, reflect.TypeOf(val))
		}
	}
	return nil
}

func (parameters Params) String() string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, string(name))
	}
	sort.Strings(names)
	s := "{"
	for i, name := range names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v: %v", name, parameters[ParamName(name)])
	}
	return s + "}"
}
