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

package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
)

// FakeResponse scripts the outcome of one command line.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// FakeRunner is an in-memory Runner. Unscripted commands succeed with no output.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]FakeResponse
	// Handler, when set, is consulted for command lines without a scripted response.
	Handler func(cmd Command) (FakeResponse, bool)
	calls   []Command
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]FakeResponse)}
}

// On scripts the response for an exact command line such as "systemctl is-active worker-a".
func (f *FakeRunner) On(cmdline string, resp FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responses[cmdline] = resp

	return f
}

func (f *FakeRunner) Run(ctx context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	resp, ok := f.responses[c.String()]
	handler := f.Handler
	f.mu.Unlock()

	if !ok && handler != nil {
		resp, ok = handler(c)
	}

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, apierrors.Timeout(c.String(), err)
	}

	if !ok {
		return Result{}, nil
	}

	if resp.TimedOut {
		return Result{ExitCode: -1}, apierrors.Timeout(c.String(), context.DeadlineExceeded)
	}

	res := Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if resp.ExitCode != 0 {
		return res, apierrors.External(c.String(), fmt.Errorf("exit status %d", resp.ExitCode), strings.TrimSpace(resp.Stderr))
	}

	return res, nil
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}

	return out
}

// Reset forgets recorded calls, keeping scripted responses.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = nil
}
