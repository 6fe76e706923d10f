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

// Package lifecycle turns service specifications into supervised worker
// processes and edits, restarts or removes them again.
//
// Operations are sequences of blocking steps against the store and the
// supervisor. There is no rollback: a step that fails leaves the earlier
// steps in place and is reported to the caller, and re-issuing the same
// operation converges to the same end state.
package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
	"github.com/united-manufacturing-hub/workerplane/pkg/sentry"
	"github.com/united-manufacturing-hub/workerplane/pkg/servicename"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/store"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/systemd"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/unit"
)

// Config configures a Manager.
type Config struct {
	Prefix string
	// WorkingDir of every worker; defaults to the directory of its source file.
	WorkingDir string
	SourceExt  string
	Render     unit.RenderOptions
	// StartupWindow bounds how long create waits for a started unit to become active.
	StartupWindow time.Duration
	PollInterval  time.Duration
}

// Manager orchestrates the lifecycle of worker services.
type Manager struct {
	store  store.Store
	sup    systemd.Supervisor
	names  servicename.Normalizer
	locks  *ctxmutex.KeyedMutex
	cfg    Config
	logger *zap.SugaredLogger
}

// NewManager returns a Manager that keeps files in st and drives units through sup.
func NewManager(st store.Store, sup systemd.Supervisor, cfg Config) *Manager {
	if cfg.SourceExt == "" {
		cfg.SourceExt = constants.DefaultSourceExt
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.StartupPollInterval
	}

	return &Manager{
		store:  st,
		sup:    sup,
		names:  servicename.NewNormalizer(cfg.Prefix),
		locks:  ctxmutex.NewKeyedMutex(),
		cfg:    cfg,
		logger: logger.For(logger.ComponentLifecycle),
	}
}

// Names returns the normalizer the manager resolves names with.
func (m *Manager) Names() servicename.Normalizer {
	return m.names
}

// run is the operation boundary: it records metrics and converts panics into errors.
func (m *Manager) run(op string, fn func() error) error {
	start := time.Now()

	err := apierrors.Guard(op, m.logger, fn)
	metrics.ObserveLifecycleOp(op, start, err)

	if err != nil {
		switch apierrors.KindOf(err) {
		case apierrors.KindValidation, apierrors.KindNotFound:
		default:
			metrics.IncErrorCount(metrics.ComponentLifecycle)
		}
	}

	return err
}

// lock serializes operations on one service name.
func (m *Manager) lock(ctx context.Context, name string) (func(), error) {
	unlock, err := m.locks.Lock(ctx, name)
	if err != nil {
		return nil, apierrors.Timeout("lock "+name, err)
	}

	return unlock, nil
}

func (m *Manager) workingDir(name string) string {
	if m.cfg.WorkingDir != "" {
		return m.cfg.WorkingDir
	}

	return filepath.Dir(m.store.SourcePath(name))
}

func (m *Manager) requireUnit(ctx context.Context, op, name string) error {
	exists, err := m.store.UnitExists(ctx, name)
	if err != nil {
		return apierrors.OS(op, err)
	}

	if !exists {
		return apierrors.NotFound(op, "service %s has no unit file", name)
	}

	return nil
}

var errNotActiveYet = errors.New("unit not active yet")

// waitActive polls is-active until the unit reports active or the startup window closes.
func (m *Manager) waitActive(ctx context.Context, name string) (bool, error) {
	if m.cfg.StartupWindow <= 0 {
		return m.sup.IsActive(ctx, name)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.PollInterval
	b.MaxInterval = time.Second
	b.MaxElapsedTime = m.cfg.StartupWindow

	err := backoff.Retry(func() error {
		active, err := m.sup.IsActive(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !active {
			return errNotActiveYet
		}

		return nil
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotActiveYet):
		return false, nil
	default:
		return false, err
	}
}

// Create writes the source and unit of spec and starts the service.
func (m *Manager) Create(ctx context.Context, spec ServiceSpec) (CreateResult, error) {
	var res CreateResult

	err := m.run("create", func() error {
		name, err := m.names.Normalize(spec.Name, servicename.AddPrefix)
		if err != nil {
			return err
		}

		if strings.TrimSpace(spec.SourceCode) == "" {
			return apierrors.Validation("create", "source code is required")
		}

		sourcePath := m.store.SourcePath(name)

		// Render before touching anything so invalid input leaves no partial state.
		text, err := unit.Render(unit.Spec{
			Name:        name,
			Description: spec.Description,
			Environment: spec.Environment,
			Port:        spec.Port,
		}, sourcePath, m.workingDir(name), m.cfg.Render)
		if err != nil {
			return err
		}

		unlock, err := m.lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()

		res = CreateResult{
			Service:    name,
			SourceFile: sourcePath,
			UnitFile:   m.store.UnitPath(name),
			Port:       spec.Port,
		}

		existing, readErr := m.store.ReadUnit(ctx, name)
		unitExisted := readErr == nil

		initial := StateAbsent
		if unitExisted {
			initial = StateInactive
		}

		machine := newMachine(name, initial, m.logger)
		defer func() {
			res.State = machine.current()
			machine.publish()
		}()

		if err := machine.fire(ctx, EventDefine); err != nil {
			return err
		}

		current, srcErr := m.store.ReadSource(ctx, name)
		if srcErr != nil || current != spec.SourceCode {
			if err := m.store.PutSource(ctx, name, spec.SourceCode); err != nil {
				return err
			}

			res.SourceChanged = true
		}

		if !unitExisted || !unit.Equivalent(existing, text) {
			if err := m.store.PutUnit(ctx, name, text); err != nil {
				sentry.ReportServiceError(m.logger, name, "create", err)

				return err
			}

			res.UnitChanged = true
		}

		if _, err := m.sup.Reload(ctx); err != nil {
			res.Failures = append(res.Failures, newStepFailure("reload", err))
		}

		if _, err := m.sup.Enable(ctx, name); err != nil {
			res.Failures = append(res.Failures, newStepFailure("enable", err))
		}

		_, startErr := m.sup.Start(ctx, name)
		if startErr != nil {
			res.Failures = append(res.Failures, newStepFailure("start", startErr))
		}

		active, err := m.waitActive(ctx, name)
		if err != nil {
			res.Failures = append(res.Failures, newStepFailure("is-active", err))
		}

		res.Active = active
		res.Success = len(res.Failures) == 0

		if !res.Success {
			m.logger.Warnf("created %s with %d failed steps; files are left in place", name, len(res.Failures))
		} else {
			m.logger.Infof("created %s (active=%t)", name, active)
		}

		return machine.settle(ctx, startErr != nil, active)
	})

	return res, err
}

// Edit replaces the source of a service, backing up the previous one, and
// optionally restarts it. A service without a unit only gets its source file.
func (m *Manager) Edit(ctx context.Context, rawName, code string, restart bool) (EditResult, error) {
	var res EditResult

	err := m.run("edit", func() error {
		name, err := m.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		if strings.TrimSpace(code) == "" {
			return apierrors.Validation("edit", "source code is required")
		}

		unlock, err := m.lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()

		res = EditResult{Service: name, SourceFile: m.store.SourcePath(name)}

		unitExists, err := m.store.UnitExists(ctx, name)
		if err != nil {
			return apierrors.OS("edit", err)
		}

		res.UnitMissing = !unitExists

		initial := StateAbsent
		if unitExists {
			initial = StateInactive
		}

		machine := newMachine(name, initial, m.logger)
		defer func() {
			res.State = machine.current()
			machine.publish()
		}()

		if err := machine.fire(ctx, EventDefine); err != nil {
			return err
		}

		if res.BackedUp, err = m.store.BackupSource(ctx, name); err != nil {
			return err
		}

		if err := m.store.PutSource(ctx, name, code); err != nil {
			return err
		}

		var restartErr error
		if restart {
			res.Restarted = true
			if _, restartErr = m.sup.Restart(ctx, name); restartErr != nil {
				res.Failures = append(res.Failures, newStepFailure("restart", restartErr))
			}
		}

		active, err := m.sup.IsActive(ctx, name)
		if err != nil {
			res.Failures = append(res.Failures, newStepFailure("is-active", err))
		}

		res.Active = active
		res.Success = len(res.Failures) == 0

		if !unitExists {
			// Only the source exists; the service stays in definition.
			return nil
		}

		if !restart && !active {
			return machine.fire(ctx, EventDeactivate)
		}

		return machine.settle(ctx, restartErr != nil, active)
	})

	return res, err
}

// Delete stops, disables and removes a service. Stop and disable are best
// effort; only an OS failure removing an existing file fails the operation.
func (m *Manager) Delete(ctx context.Context, rawName string, deleteFiles bool) (DeleteResult, error) {
	var res DeleteResult

	err := m.run("delete", func() error {
		name, err := m.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		unlock, err := m.lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()

		res = DeleteResult{Service: name, FilesDeleted: deleteFiles}

		machine := newMachine(name, StateInactive, m.logger)
		defer func() {
			res.State = machine.current()
			machine.publish()
		}()

		if _, err := m.sup.Stop(ctx, name); err != nil {
			res.Failures = append(res.Failures, newStepFailure("stop", err))
		}

		if _, err := m.sup.Disable(ctx, name); err != nil {
			res.Failures = append(res.Failures, newStepFailure("disable", err))
		}

		if res.UnitRemoved, err = m.store.RemoveUnit(ctx, name); err != nil {
			sentry.ReportServiceError(m.logger, name, "delete", err)

			return err
		}

		if deleteFiles {
			if res.SourceRemoved, err = m.store.RemoveSource(ctx, name); err != nil {
				return err
			}
		}

		if _, err := m.sup.Reload(ctx); err != nil {
			res.Failures = append(res.Failures, newStepFailure("reload", err))
		}

		res.Success = true
		m.logger.Infof("deleted %s (unit removed=%t, source removed=%t)", name, res.UnitRemoved, res.SourceRemoved)

		return machine.fire(ctx, EventRemove)
	})

	return res, err
}

type actionFunc func(ctx context.Context, name string) (systemd.ActionResult, error)

// control runs one supervisor action against an existing, namespaced service.
// A failed exit is reported in the result; a timeout is returned as an error.
func (m *Manager) control(ctx context.Context, op string, rawName string, action actionFunc, onSuccess string) (ActionResult, error) {
	var res ActionResult

	err := m.run(op, func() error {
		name, err := m.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		if err := m.requireUnit(ctx, op, name); err != nil {
			return err
		}

		unlock, err := m.lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()

		res = ActionResult{Service: name, Action: op}

		machine := newMachine(name, StateInactive, m.logger)
		defer func() {
			res.State = machine.current()
			machine.publish()
		}()

		out, err := action(ctx, name)
		res.Success = out.Success
		res.Stderr = out.Stderr

		if err != nil {
			if apierrors.KindOf(err) == apierrors.KindTimeout {
				return err
			}

			m.logger.Warnf("%s %s failed: %s", op, name, err)

			return machine.fire(ctx, EventFail)
		}

		return machine.fire(ctx, onSuccess)
	})

	return res, err
}

// Start starts an existing namespaced unit.
func (m *Manager) Start(ctx context.Context, name string) (ActionResult, error) {
	return m.control(ctx, "start", name, m.sup.Start, EventActivate)
}

// Stop stops an existing namespaced unit.
func (m *Manager) Stop(ctx context.Context, name string) (ActionResult, error) {
	return m.control(ctx, "stop", name, m.sup.Stop, EventDeactivate)
}

// Restart restarts an existing namespaced unit. A failed restart leaves the
// service in the failed state with the supervisor's stderr in the result.
func (m *Manager) Restart(ctx context.Context, name string) (ActionResult, error) {
	return m.control(ctx, "restart", name, m.sup.Restart, EventActivate)
}

// Status returns the raw supervisor status text of a namespaced service.
func (m *Manager) Status(ctx context.Context, rawName string) (StatusResult, error) {
	var res StatusResult

	err := m.run("status", func() error {
		name, err := m.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		report, err := m.sup.Status(ctx, name)
		if err != nil {
			return err
		}

		res = StatusResult{Service: name, Status: report.Text, IsActive: report.IsActive}

		return nil
	})

	return res, err
}

// Logs returns the last lines of the journal of a namespaced service.
func (m *Manager) Logs(ctx context.Context, rawName string, lines int) (LogsResult, error) {
	var res LogsResult

	err := m.run("logs", func() error {
		name, err := m.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		if lines <= 0 {
			lines = constants.DefaultLogLines
		}

		if lines > constants.MaxLogLines {
			lines = constants.MaxLogLines
		}

		text, err := m.sup.Tail(ctx, name, lines)
		if err != nil {
			return err
		}

		res = LogsResult{Service: name, Logs: text, Lines: lines}

		return nil
	})

	return res, err
}

// List returns every unit in the namespace as reported by the supervisor.
func (m *Manager) List(ctx context.Context) ([]systemd.UnitEntry, error) {
	var entries []systemd.UnitEntry

	err := m.run("list", func() error {
		var err error
		entries, err = m.sup.ListManaged(ctx)

		return err
	})

	return entries, err
}

// Info parses the unit of a service. The prefix is added to bare names.
func (m *Manager) Info(ctx context.Context, rawName string) (InfoResult, error) {
	var res InfoResult

	err := m.run("info", func() error {
		name, err := m.names.Normalize(rawName, servicename.AddPrefix)
		if err != nil {
			return err
		}

		res = InfoResult{Service: name}

		text, err := m.store.ReadUnit(ctx, name)

		switch {
		case err == nil:
			info := unit.Parse(text, m.cfg.SourceExt)
			res.UnitText = text
			res.SourceFile = info.SourcePath
			res.SourceFilename = info.SourceFilename()
			res.Description = info.Description
			res.Port = info.Port
		case apierrors.KindOf(err) == apierrors.KindNotFound:
			res.Error = "Service file not found"
		default:
			return err
		}

		res.Active, err = m.sup.IsActive(ctx, name)

		return err
	})

	return res, err
}

// Mapping lists every unit file in the namespace with its entrypoint and activity.
func (m *Manager) Mapping(ctx context.Context) ([]MappingEntry, error) {
	var entries []MappingEntry

	err := m.run("mapping", func() error {
		names, err := m.store.ListKnownServices(ctx)
		if err != nil {
			return err
		}

		entries = make([]MappingEntry, 0, len(names))

		for _, name := range names {
			entry := MappingEntry{Service: name, UnitFile: m.store.UnitPath(name)}

			text, err := m.store.ReadUnit(ctx, name)
			if err != nil {
				// Removed between listing and reading.
				if apierrors.KindOf(err) == apierrors.KindNotFound {
					continue
				}

				return err
			}

			info := unit.Parse(text, m.cfg.SourceExt)
			entry.SourceFile = info.SourcePath
			entry.SourceFilename = info.SourceFilename()
			entry.Description = info.Description

			if entry.Active, err = m.sup.IsActive(ctx, name); err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}
