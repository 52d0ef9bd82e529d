// Copyright 2022 gorse Project Authors
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

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latent.log")
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse([]string{"--log-path", path}))

	for _, debug := range []bool{true, false} {
		assert.NoError(t, SetLogger(flagSet, debug))
		Logger().Info("hello")
		_ = Logger().Sync()
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "hello")
}

func TestSetLoggerWithoutFile(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse(nil))
	assert.NoError(t, SetLogger(flagSet, false))
	assert.NotNil(t, Logger())
	assert.False(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestSetLoggerLevel(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse([]string{"--log-level", "warn"}))
	assert.NoError(t, SetLogger(flagSet, true))
	assert.False(t, Logger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger().Core().Enabled(zapcore.WarnLevel))

	flagSet = pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse([]string{"--log-level", "loud"}))
	err := SetLogger(flagSet, false)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestCloseLogger(t *testing.T) {
	CloseLogger()
	assert.False(t, Logger().Core().Enabled(zapcore.ErrorLevel))
	GetErrorHandler().Handle(errors.New("ignored"))
}
