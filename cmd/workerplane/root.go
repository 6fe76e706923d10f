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
	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/workerplane/pkg/config"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/version"
)

type rootOptions struct {
	configFile string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "workerplane",
		Short:        "Control plane for prefix-namespaced systemd worker services",
		Version:      version.GetAppVersion(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Initialize()

			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
			opts.cfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml); WORKERPLANE_* environment variables override it")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newDiagnoseCommand(opts))

	return cmd
}
