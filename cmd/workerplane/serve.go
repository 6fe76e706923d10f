// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/workerplane/pkg/api"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
	"github.com/united-manufacturing-hub/workerplane/pkg/sentry"
	"github.com/united-manufacturing-hub/workerplane/pkg/version"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	log := logger.For(logger.ComponentCore)

	sentry.InitSentry(version.GetAppVersion(), cfg.Sentry.DSN, true)
	defer sentry.Flush(2 * time.Second)

	log.Infof("Starting workerplane %s (prefix %q)", version.GetAppVersion(), cfg.Prefix)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Metrics.Port))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %v", err)
		}
	}()

	server := api.NewServer(a.manager, a.engine, api.NewHealth(a.fs, cfg.Paths.UnitDir, "systemctl", "journalctl"), api.ServerConfig{
		Addr:        cfg.API.Addr(),
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	})

	if err := server.Start(ctx); err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)

		return err
	}

	log.Info("workerplane stopped")
	_ = logger.Sync()

	return nil
}
