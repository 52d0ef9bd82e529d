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

package config

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/embed"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GORSE_EMBED_MODEL_N_FACTORS.
const EnvPrefix = "GORSE_EMBED"

// Config is the configuration for training an embedding model.
type Config struct {
	Model ModelConfig `mapstructure:"model"`
	Train TrainConfig `mapstructure:"train"`
	Data  DataConfig  `mapstructure:"data"`
}

type ModelConfig struct {
	NFactors      int     `mapstructure:"n_factors" validate:"gt=0"`
	Lr            float32 `mapstructure:"lr" validate:"gt=0"`
	Reg           float32 `mapstructure:"reg" validate:"gte=0"`
	InitMean      float32 `mapstructure:"init_mean"`
	InitStdDev    float32 `mapstructure:"init_std" validate:"gte=0"`
	RandomState   int64   `mapstructure:"random_state"`
	Mode          string  `mapstructure:"mode" validate:"oneof=shallow deep"`
	HiddenLayers  []int   `mapstructure:"hidden_layers" validate:"required_if=Mode deep,dive,gt=0"`
	OutputDim     int     `mapstructure:"output_dim" validate:"required_if=Mode deep,gte=0"`
	Beta1         float32 `mapstructure:"beta1" validate:"gte=0,lt=1"`
	Beta2         float32 `mapstructure:"beta2" validate:"gte=0,lt=1"`
	Eps           float32 `mapstructure:"eps" validate:"gt=0"`
	Jobs          int     `mapstructure:"jobs" validate:"gt=0"`
	MaxParameters int64   `mapstructure:"max_parameters" validate:"gt=0"`
}

type TrainConfig struct {
	Epochs    int           `mapstructure:"epochs" validate:"gte=0"`
	BatchSize int           `mapstructure:"batch_size" validate:"gte=2"`
	Verbose   int           `mapstructure:"verbose" validate:"gte=0"`
	TopK      int           `mapstructure:"top_k" validate:"gt=0"`
	Jobs      int           `mapstructure:"jobs" validate:"gt=0"`
	Seed      int64         `mapstructure:"seed"`
	TestRatio float32       `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// DataConfig selects the interactions. Path names a tab separated file of
// user and item identifiers; without it a clustered synthetic set is generated.
type DataConfig struct {
	Path        string `mapstructure:"path"`
	NumUsers    int    `mapstructure:"num_users" validate:"gt=0"`
	NumItems    int    `mapstructure:"num_items" validate:"gt=0"`
	NumClusters int    `mapstructure:"num_clusters" validate:"gt=0"`
	PerUser     int    `mapstructure:"per_user" validate:"gt=0"`
}

// ToParams converts the model section to hyper-parameters. Tower settings are
// only passed in deep mode.
func (c *ModelConfig) ToParams() model.Params {
	params := model.Params{
		model.NFactors:      c.NFactors,
		model.Lr:            c.Lr,
		model.Reg:           c.Reg,
		model.InitMean:      c.InitMean,
		model.InitStdDev:    c.InitStdDev,
		model.RandomState:   c.RandomState,
		model.Mode:          c.Mode,
		model.Beta1:         c.Beta1,
		model.Beta2:         c.Beta2,
		model.Eps:           c.Eps,
		model.Jobs:          c.Jobs,
		model.MaxParameters: c.MaxParameters,
	}
	if embed.Mode(c.Mode) == embed.DeepMode {
		return params.Overwrite(model.Params{
			model.HiddenLayers: c.HiddenLayers,
			model.OutputDim:    c.OutputDim,
		})
	}
	return params
}

func (c *TrainConfig) ToFitConfig() *embed.FitConfig {
	return embed.NewFitConfig().
		SetEpochs(c.Epochs).
		SetBatchSize(c.BatchSize).
		SetVerbose(c.Verbose).
		SetTopK(c.TopK).
		SetJobs(c.Jobs).
		SetSeed(c.Seed)
}

func setDefault(v *viper.Viper) {
	// [model]
	v.SetDefault("model.n_factors", embed.DefaultNFactors)
	v.SetDefault("model.lr", embed.DefaultLr)
	v.SetDefault("model.reg", 0)
	v.SetDefault("model.init_mean", 0)
	v.SetDefault("model.init_std", embed.DefaultInitStdDev)
	v.SetDefault("model.random_state", 0)
	v.SetDefault("model.mode", string(embed.ShallowMode))
	v.SetDefault("model.hidden_layers", []int{})
	v.SetDefault("model.output_dim", 0)
	v.SetDefault("model.beta1", embed.DefaultBeta1)
	v.SetDefault("model.beta2", embed.DefaultBeta2)
	v.SetDefault("model.eps", embed.DefaultEps)
	v.SetDefault("model.jobs", 1)
	v.SetDefault("model.max_parameters", embed.DefaultMaxParameters)
	// [train]
	v.SetDefault("train.epochs", 10)
	v.SetDefault("train.batch_size", 256)
	v.SetDefault("train.verbose", 1)
	v.SetDefault("train.top_k", 10)
	v.SetDefault("train.jobs", 1)
	v.SetDefault("train.seed", 0)
	v.SetDefault("train.test_ratio", 0.2)
	v.SetDefault("train.timeout", 0)
	// [data]
	v.SetDefault("data.path", "")
	v.SetDefault("data.num_users", 1000)
	v.SetDefault("data.num_items", 2000)
	v.SetDefault("data.num_clusters", 10)
	v.SetDefault("data.per_user", 20)
}

// LoadConfig reads a TOML file. An empty path yields the defaults. Environment
// variables override both.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			return field.Tag.Get("mapstructure")
		})
	})
	return validate
}

// Validate checks every section and reports the first invalid field by its
// configuration key.
func (config *Config) Validate() error {
	if err := getValidator().Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			e := validationErrors[0]
			key := strings.Join(strings.Split(e.Namespace(), ".")[1:], ".")
			return errors.NotValidf("%v = %v (%v%v)", key, e.Value(), e.Tag(), formatParam(e.Param()))
		}
		return errors.Trace(err)
	}
	return nil
}

func formatParam(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}
