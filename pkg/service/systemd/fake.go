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

package systemd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
)

// FakeUnit is the state FakeSupervisor keeps for one unit.
type FakeUnit struct {
	State   UnitState
	Enabled bool
	// Logs is returned by Tail, ErrorLogs by TailErrors.
	Logs      string
	ErrorLogs string
	// FailStart makes start and restart leave the unit failed.
	FailStart bool
	// ActivatingPolls is the number of IsActive calls answered with
	// "activating" after a successful start.
	ActivatingPolls int
}

// FakeSupervisor is an in-memory Supervisor for tests of higher layers.
// Units become known through Reload, which asks Loader for the names whose
// unit files exist, the way daemon-reload reads the unit directory.
type FakeSupervisor struct {
	mu     sync.Mutex
	prefix string
	units  map[string]*FakeUnit
	calls  []string
	// Loader lists the names that have a unit file on disk.
	Loader func(ctx context.Context) ([]string, error)
	// Failures maps a call such as "stop worker-a" to the stderr it fails with.
	Failures map[string]string
	// Timeouts holds calls such as "restart worker-a" that time out.
	Timeouts map[string]bool
}

var _ Supervisor = (*FakeSupervisor)(nil)

func NewFakeSupervisor(prefix string) *FakeSupervisor {
	return &FakeSupervisor{
		prefix:   prefix,
		units:    make(map[string]*FakeUnit),
		Failures: make(map[string]string),
		Timeouts: make(map[string]bool),
	}
}

// SetUnit installs or replaces a unit, bypassing Reload.
func (f *FakeSupervisor) SetUnit(name string, u *FakeUnit) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u.State.LoadState == "" {
		u.State.LoadState = "loaded"
	}

	f.units[name] = u
}

// Unit returns a copy of the unit state, if known.
func (f *FakeSupervisor) Unit(name string) (FakeUnit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.units[name]
	if !ok {
		return FakeUnit{}, false
	}

	return *u, true
}

// Calls returns every recorded call such as "start worker-a".
func (f *FakeSupervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// record logs call and returns its scripted failure, if any. Callers hold f.mu.
func (f *FakeSupervisor) record(call string) (ActionResult, error) {
	f.calls = append(f.calls, call)

	if f.Timeouts[call] {
		return ActionResult{}, apierrors.Timeout("systemctl "+call, context.DeadlineExceeded)
	}

	if stderr, ok := f.Failures[call]; ok {
		return ActionResult{Stderr: stderr}, apierrors.External("systemctl "+call, fmt.Errorf("exit status 1"), stderr)
	}

	return ActionResult{Success: true}, nil
}

func notLoaded(call, name string) (ActionResult, error) {
	stderr := fmt.Sprintf("Unit %s.service not found.", name)

	return ActionResult{Stderr: stderr}, apierrors.External("systemctl "+call, fmt.Errorf("exit status 5"), stderr)
}

func (f *FakeSupervisor) ListManaged(ctx context.Context) ([]UnitEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "list-units")

	names := make([]string, 0, len(f.units))
	for name := range f.units {
		if strings.HasPrefix(name, f.prefix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	entries := make([]UnitEntry, 0, len(names))
	for _, name := range names {
		s := f.units[name].State
		entries = append(entries, UnitEntry{Name: name, Load: s.LoadState, Active: s.ActiveState, Sub: s.SubState})
	}

	return entries, nil
}

func (f *FakeSupervisor) Status(ctx context.Context, name string) (StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.record("status " + name); err != nil && apierrors.KindOf(err) == apierrors.KindTimeout {
		return StatusReport{}, err
	}

	u, ok := f.units[name]
	if !ok {
		text := fmt.Sprintf("Unit %s.service could not be found.\n", name)

		return StatusReport{Text: text, IsActive: StatusTextActive(text), IsFailed: StatusTextFailed(text)}, nil
	}

	text := fmt.Sprintf("● %s.service - %s\n     Loaded: %s (/etc/systemd/system/%s.service; %s)\n     Active: %s\n",
		name, name, u.State.LoadState, name, enabledWord(u.Enabled), activeLine(u.State))

	return StatusReport{Text: text, IsActive: StatusTextActive(text), IsFailed: StatusTextFailed(text)}, nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}

	return "disabled"
}

func activeLine(s UnitState) string {
	switch {
	case s.ActiveState == "failed":
		return "failed (Result: exit-code)"
	case s.ActiveState == "":
		return "inactive (dead)"
	default:
		return fmt.Sprintf("%s (%s)", s.ActiveState, s.SubState)
	}
}

func (f *FakeSupervisor) Show(ctx context.Context, name string) (UnitState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.record("show " + name); err != nil {
		return UnitState{}, err
	}

	u, ok := f.units[name]
	if !ok {
		return UnitState{LoadState: "not-found", ActiveState: "inactive", SubState: "dead"}, nil
	}

	return u.State, nil
}

func (f *FakeSupervisor) IsActive(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.record("is-active " + name); err != nil && apierrors.KindOf(err) == apierrors.KindTimeout {
		return false, err
	}

	u, ok := f.units[name]
	if !ok {
		return false, nil
	}

	if u.ActivatingPolls > 0 && u.State.ActiveState == "activating" {
		u.ActivatingPolls--
		if u.ActivatingPolls == 0 {
			u.State.ActiveState, u.State.SubState = "active", "running"
		}

		return false, nil
	}

	return u.State.ActiveState == "active", nil
}

func (f *FakeSupervisor) Tail(ctx context.Context, name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("journal %s %d", name, lines))

	if u, ok := f.units[name]; ok {
		return lastLines(u.Logs, lines), nil
	}

	return "-- No entries --\n", nil
}

func (f *FakeSupervisor) TailErrors(ctx context.Context, name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("journal-errors %s %d", name, lines))

	if u, ok := f.units[name]; ok {
		return lastLines(u.ErrorLogs, lines), nil
	}

	return "-- No entries --\n", nil
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n")
}

// Reload replaces the known units with the ones Loader reports, keeping the
// state of units that are still present.
func (f *FakeSupervisor) Reload(ctx context.Context) (ActionResult, error) {
	var names []string

	if f.Loader != nil {
		var err error
		if names, err = f.Loader(ctx); err != nil {
			return ActionResult{Stderr: err.Error()}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := f.record("daemon-reload")
	if err != nil || f.Loader == nil {
		return res, err
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
		if _, ok := f.units[name]; !ok {
			f.units[name] = &FakeUnit{State: UnitState{LoadState: "loaded", ActiveState: "inactive", SubState: "dead"}}
		}
	}

	for name, u := range f.units {
		// systemd keeps a running unit loaded until it stops, even without its file.
		if !present[name] && u.State.ActiveState != "active" {
			delete(f.units, name)
		}
	}

	return res, nil
}

func (f *FakeSupervisor) Enable(ctx context.Context, name string) (ActionResult, error) {
	return f.mutate("enable", name, func(u *FakeUnit) { u.Enabled = true })
}

func (f *FakeSupervisor) Disable(ctx context.Context, name string) (ActionResult, error) {
	return f.mutate("disable", name, func(u *FakeUnit) { u.Enabled = false })
}

func (f *FakeSupervisor) Start(ctx context.Context, name string) (ActionResult, error) {
	return f.mutate("start", name, startUnit)
}

func (f *FakeSupervisor) Restart(ctx context.Context, name string) (ActionResult, error) {
	return f.mutate("restart", name, startUnit)
}

func (f *FakeSupervisor) Stop(ctx context.Context, name string) (ActionResult, error) {
	return f.mutate("stop", name, func(u *FakeUnit) {
		u.State.ActiveState, u.State.SubState, u.State.MainPID = "inactive", "dead", 0
	})
}

func startUnit(u *FakeUnit) {
	switch {
	case u.FailStart:
		u.State.ActiveState, u.State.SubState, u.State.MainPID = "failed", "failed", 0
	case u.ActivatingPolls > 0:
		u.State.ActiveState, u.State.SubState = "activating", "start"
	default:
		u.State.ActiveState, u.State.SubState = "active", "running"
	}
}

func (f *FakeSupervisor) mutate(verb, name string, apply func(u *FakeUnit)) (ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := verb + " " + name
	if res, err := f.record(call); err != nil {
		return res, err
	}

	u, ok := f.units[name]
	if !ok {
		return notLoaded(call, name)
	}

	apply(u)

	if verb == "start" || verb == "restart" {
		if u.State.Failed() {
			stderr := fmt.Sprintf("Job for %s.service failed because the control process exited with error code.", name)

			return ActionResult{Stderr: stderr}, apierrors.External("systemctl "+call, fmt.Errorf("exit status 1"), stderr)
		}
	}

	return ActionResult{Success: true}, nil
}
