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

// Package command runs external programs with a bounded timeout and
// captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
)

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	// Timeout overrides the runner default when non-zero.
	Timeout time.Duration
	Dir     string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}

	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is what a finished command left behind. ExitCode is -1 when the
// process never exited on its own.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs external commands.
type Runner interface {
	// Run executes cmd. A nonzero exit yields a KindExternal error and a
	// timeout a KindTimeout error; the Result is populated in both cases.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ClampTimeout applies the default to a zero request and caps it at ceiling.
func ClampTimeout(requested, def, ceiling time.Duration) time.Duration {
	if requested <= 0 {
		requested = def
	}

	if ceiling > 0 && requested > ceiling {
		return ceiling
	}

	return requested
}

// ExecRunner runs commands on the host through os/exec.
type ExecRunner struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	logger         *zap.SugaredLogger
}

func NewExecRunner(defaultTimeout, maxTimeout time.Duration) *ExecRunner {
	if defaultTimeout <= 0 {
		defaultTimeout = constants.DefaultCommandTimeout
	}

	if maxTimeout <= 0 {
		maxTimeout = constants.MaxCommandTimeout
	}

	return &ExecRunner{
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		logger:         logger.For(logger.ComponentCommand),
	}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	timeout := ClampTimeout(c.Timeout, r.defaultTimeout, r.maxTimeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.Debugf("ran %q in %s (exit %d)", c.String(), res.Duration, res.ExitCode)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1

		return res, apierrors.Timeout(c.String(), fmt.Errorf("no result after %s: %w", timeout, context.DeadlineExceeded))
	}

	if err != nil {
		return res, apierrors.External(c.String(), err, strings.TrimSpace(res.Stderr))
	}

	return res, nil
}
