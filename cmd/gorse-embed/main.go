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

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/cmd/version"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	var metricsServer *http.Server
	rootCommand := &cobra.Command{
		Use:           "gorse-embed",
		Short:         "Learn user and item embeddings from implicit feedback.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// setup logger
			debug, _ := cmd.Flags().GetBool("debug")
			if err := log.SetLogger(cmd.Flags(), debug); err != nil {
				return errors.Trace(err)
			}
			otel.SetErrorHandler(log.GetErrorHandler())

			// start metrics server
			addr, _ := cmd.Flags().GetString("metrics-addr")
			if addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					log.Logger().Info("start metrics server", zap.String("addr", addr))
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Logger().Error("failed to serve metrics", zap.Error(err))
					}
				}()
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := metricsServer.Shutdown(ctx); err != nil {
					return errors.Trace(err)
				}
			}
			return nil
		},
	}
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().String("metrics-addr", "", "address of the prometheus metrics endpoint, disabled if empty")

	rootCommand.AddCommand(newTrainCommand(), newProjectCommand(), &cobra.Command{
		Use:   "version",
		Short: "Show build information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
			return errors.Trace(err)
		},
	})
	return rootCommand
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
	log.CloseLogger()
}
