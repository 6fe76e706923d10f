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

// Package diagnostics correlates supervisor state, journal output and a
// static check of the worker source into one health verdict. It never
// mutates anything.
package diagnostics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
	"github.com/united-manufacturing-hub/workerplane/pkg/servicename"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/store"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/systemd"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/validator"
)

// Issue messages, in the order they are checked.
const (
	IssueUnitMissing   = "Service file not found"
	IssueSourceMissing = "Python file not found"
	IssueFailed        = "Service is in failed state"
	IssueSyntax        = "Python syntax error"
)

// Process describes the main process of a running unit.
type Process struct {
	PID        int32     `json:"pid"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	StartedAt  time.Time `json:"started_at"`
	Restarts   int       `json:"restarts"`
}

// Diagnosis is a point-in-time health record of one service.
type Diagnosis struct {
	Service          string   `json:"service"`
	UnitFileExists   bool     `json:"service_file_exists"`
	SourceFileExists bool     `json:"python_file_exists"`
	Status           string   `json:"status"`
	IsActive         bool     `json:"is_active"`
	IsFailed         bool     `json:"is_failed"`
	RecentErrors     string   `json:"recent_errors"`
	RecentLogs       string   `json:"recent_logs"`
	SourceValid      *bool    `json:"syntax_valid,omitempty"`
	SyntaxError      string   `json:"syntax_error,omitempty"`
	UnitText         string   `json:"service_config,omitempty"`
	Process          *Process `json:"process,omitempty"`
	Issues           []string `json:"issues"`
	Healthy          bool     `json:"healthy"`
}

// ServiceHealth is one row of the fleet summary.
type ServiceHealth struct {
	Name    string `json:"name"`
	Active  string `json:"active"`
	Sub     string `json:"sub"`
	Healthy bool   `json:"healthy"`
}

// FleetSummary is the status-column-only health of every managed unit.
type FleetSummary struct {
	Services  []ServiceHealth `json:"services"`
	Total     int             `json:"total"`
	Healthy   int             `json:"healthy"`
	Unhealthy int             `json:"unhealthy"`
}

// Engine produces diagnoses.
type Engine struct {
	store     store.Store
	sup       systemd.Supervisor
	validator validator.Validator
	names     servicename.Normalizer
	logger    *zap.SugaredLogger
}

// NewEngine returns an Engine reading files through st and unit state through sup.
func NewEngine(st store.Store, sup systemd.Supervisor, v validator.Validator, names servicename.Normalizer) *Engine {
	return &Engine{
		store:     st,
		sup:       sup,
		validator: v,
		names:     names,
		logger:    logger.For(logger.ComponentDiagnostics),
	}
}

func (e *Engine) run(op string, fn func() error) error {
	start := time.Now()

	err := apierrors.Guard(op, e.logger, fn)
	metrics.ObserveLifecycleOp(op, start, err)

	if err != nil && apierrors.KindOf(err) != apierrors.KindValidation {
		metrics.IncErrorCount(metrics.ComponentDiagnostics)
	}

	return err
}

// guarded runs fn on g. A panic there is invisible to the Guard in run, so
// it is recovered on the worker goroutine.
func (e *Engine) guarded(g *errgroup.Group, fn func() error) {
	g.Go(func() error {
		return apierrors.Guard("diagnose", e.logger, fn)
	})
}

// Diagnose gathers every signal about name. The signals are independent
// reads, so they are collected concurrently; the issue list is built
// afterwards in a fixed order.
func (e *Engine) Diagnose(ctx context.Context, rawName string) (Diagnosis, error) {
	var d Diagnosis

	err := e.run("diagnose", func() error {
		name, err := e.names.Normalize(rawName, servicename.Strict)
		if err != nil {
			return err
		}

		d = Diagnosis{Service: name}

		var (
			state   systemd.UnitState
			showErr error
		)

		g, gctx := errgroup.WithContext(ctx)

		e.guarded(g, func() error {
			var err error
			if d.UnitFileExists, err = e.store.UnitExists(gctx, name); err != nil {
				return apierrors.OS("diagnose", err)
			}

			if !d.UnitFileExists {
				return nil
			}

			text, err := e.store.ReadUnit(gctx, name)
			if err != nil {
				// Removed since the existence check.
				if apierrors.KindOf(err) == apierrors.KindNotFound {
					d.UnitFileExists = false

					return nil
				}

				return err
			}

			d.UnitText = text

			return nil
		})

		e.guarded(g, func() error {
			var err error
			if d.SourceFileExists, err = e.store.SourceExists(gctx, name); err != nil {
				return apierrors.OS("diagnose", err)
			}

			if !d.SourceFileExists {
				return nil
			}

			verdict, err := e.validator.Check(gctx, e.store.SourcePath(name))
			if err != nil {
				return err
			}

			valid := verdict.Valid
			d.SourceValid = &valid
			d.SyntaxError = verdict.Diagnostic

			return nil
		})

		e.guarded(g, func() error {
			report, err := e.sup.Status(gctx, name)
			if err != nil {
				return err
			}

			d.Status = report.Text
			d.IsActive = report.IsActive
			d.IsFailed = report.IsFailed

			return nil
		})

		e.guarded(g, func() error {
			state, showErr = e.sup.Show(gctx, name)

			return nil
		})

		e.guarded(g, func() error {
			var err error
			d.RecentErrors, err = e.sup.TailErrors(gctx, name, constants.DiagnoseErrorLines)

			return err
		})

		e.guarded(g, func() error {
			var err error
			d.RecentLogs, err = e.sup.Tail(gctx, name, constants.DiagnoseRecentLines)

			return err
		})

		if err := g.Wait(); err != nil {
			return err
		}

		// The structured state wins over the status text when it is available.
		if showErr == nil {
			d.IsActive = state.Running()
			d.IsFailed = state.Failed()

			if d.IsActive && state.MainPID > 0 {
				d.Process = inspectProcess(ctx, state)
			}
		} else {
			e.logger.Debugf("show %s failed, using status text: %s", name, showErr)
		}

		d.Issues = issues(d)
		d.Healthy = len(d.Issues) == 0 && d.IsActive

		return nil
	})

	return d, err
}

func issues(d Diagnosis) []string {
	out := []string{}

	if !d.UnitFileExists {
		out = append(out, IssueUnitMissing)
	}

	if !d.SourceFileExists {
		out = append(out, IssueSourceMissing)
	}

	if d.IsFailed {
		out = append(out, IssueFailed)
	}

	if d.SourceFileExists && d.SourceValid != nil && !*d.SourceValid {
		out = append(out, IssueSyntax)
	}

	return out
}

// inspectProcess reads resource usage of the unit's main process. The
// process may exit at any time, so partial or missing data is fine.
func inspectProcess(ctx context.Context, state systemd.UnitState) *Process {
	p, err := process.NewProcessWithContext(ctx, state.MainPID)
	if err != nil {
		return nil
	}

	out := &Process{PID: state.MainPID, Restarts: state.NRestarts}

	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		out.RSSBytes = mem.RSS
	}

	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		out.CPUPercent = cpu
	}

	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		out.StartedAt = time.UnixMilli(created).UTC()
	}

	return out
}

// DiagnoseAll summarizes every managed unit from the listing columns only.
func (e *Engine) DiagnoseAll(ctx context.Context) (FleetSummary, error) {
	var summary FleetSummary

	err := e.run("diagnose_all", func() error {
		entries, err := e.sup.ListManaged(ctx)
		if err != nil {
			return err
		}

		summary.Services = make([]ServiceHealth, 0, len(entries))

		for _, entry := range entries {
			h := ServiceHealth{
				Name:    entry.Name,
				Active:  entry.Active,
				Sub:     entry.Sub,
				Healthy: entry.Active == "active" && entry.Sub == "running",
			}

			if h.Healthy {
				summary.Healthy++
			}

			summary.Services = append(summary.Services, h)
		}

		summary.Total = len(summary.Services)
		summary.Unhealthy = summary.Total - summary.Healthy
		metrics.SetFleet(summary.Healthy, summary.Unhealthy)

		return nil
	})

	return summary, err
}
