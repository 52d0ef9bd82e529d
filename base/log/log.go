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

// Package log holds the process-wide zap logger. Log records go to stderr so
// that command output on stdout stays machine readable.
package log

import (
	"net/url"
	"os"
	"runtime"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger *zap.Logger

func init() {
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	// Windows file sink support: https://github.com/uber-go/zap/issues/621
	if runtime.GOOS == "windows" {
		if err := zap.RegisterSink("windows", func(u *url.URL) (zap.Sink, error) {
			// Remove leading slash left by url.Parse()
			return os.OpenFile(u.Path[1:], os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		}); err != nil {
			logger.Fatal("failed to register Windows file sink", zap.Error(err))
		}
	}
}

// Logger returns the current logger.
func Logger() *zap.Logger {
	return logger
}

// CloseLogger flushes buffered records and replaces the logger with one that
// only reports fatal errors.
func CloseLogger() {
	_ = logger.Sync()
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.FatalLevel)
	var err error
	logger, err = cfg.Build()
	if err != nil {
		panic(err)
	}
}

// AddFlags registers the logging flags of the command line tool.
func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-level", "", "minimum level of log records (debug, info, warn, error), overrides --debug")
	flagSet.String("log-path", "", "also write training logs to this file")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file before rotation")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain rotated log files")
	flagSet.Int("log-max-backups", 0, "maximum number of rotated log files to retain")
	flagSet.Bool("log-compress", false, "gzip rotated log files")
}

// SetLogger builds the logger from the flags. Debug mode uses the console
// encoder at debug level, otherwise records are JSON at info level.
func SetLogger(flagSet *pflag.FlagSet, debug bool) error {
	var (
		encoder zapcore.Encoder
		level   zapcore.Level
	)
	timeEncoder := zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999")
	if debug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level = zap.DebugLevel
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
		level = zap.InfoLevel
	}
	if name, _ := flagSet.GetString("log-level"); name != "" {
		parsed, err := zapcore.ParseLevel(name)
		if err != nil {
			return errors.NotValidf("log level %q", name)
		}
		level = parsed
	}

	writers := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if flagSet.Changed("log-path") {
		path, _ := flagSet.GetString("log-path")
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		compress, _ := flagSet.GetBool("log-compress")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   compress,
		}))
	}
	core := zapcore.NewCore(encoder, zap.CombineWriteSyncers(writers...), level)
	logger = zap.New(core)
	return nil
}

// GetErrorHandler routes OpenTelemetry internal failures to the logger.
func GetErrorHandler() otel.ErrorHandler {
	return &errorHandler{}
}

type errorHandler struct{}

func (h *errorHandler) Handle(err error) {
	Logger().Warn("failed to export telemetry", zap.Error(err))
}
