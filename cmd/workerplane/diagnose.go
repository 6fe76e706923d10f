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
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newDiagnoseCommand(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "diagnose [service]",
		Short: "Diagnose one service, or the whole fleet with --all, and print JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a service name or --all")
			}

			a := newApp(opts.cfg)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if all {
				summary, err := a.engine.DiagnoseAll(cmd.Context())
				if err != nil {
					return err
				}

				return enc.Encode(summary)
			}

			d, err := a.engine.Diagnose(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return enc.Encode(d)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "summarize every managed service")

	return cmd
}
