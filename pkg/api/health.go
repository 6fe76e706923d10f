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

package api

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
)

const maxGoroutines = 2000

// NewHealth builds the /live and /ready handler. The process is ready when
// the unit directory is reachable and every binary in binaries is on PATH.
func NewHealth(fs filesystem.Service, unitDir string, binaries ...string) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	health.AddReadinessCheck("unit-dir", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		exists, err := fs.PathExists(ctx, unitDir)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("unit directory %s does not exist", unitDir)
		}

		return nil
	}, 2*time.Second))

	for _, bin := range binaries {
		health.AddReadinessCheck("binary-"+bin, func() error {
			_, err := exec.LookPath(bin)

			return err
		})
	}

	return health
}
