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
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
)

const unitSuffix = constants.UnitSuffix

const showProperties = "LoadState,ActiveState,SubState,MainPID,NRestarts"

// Config configures a DefaultSupervisor.
type Config struct {
	Prefix string
	// UseSudo runs state-changing commands through "sudo -n".
	UseSudo bool
	Timeout time.Duration
}

// DefaultSupervisor drives systemd through systemctl and journalctl.
type DefaultSupervisor struct {
	runner command.Runner
	cfg    Config
	logger *zap.SugaredLogger
}

var _ Supervisor = (*DefaultSupervisor)(nil)

func NewDefaultSupervisor(runner command.Runner, cfg Config) *DefaultSupervisor {
	if cfg.Prefix == "" {
		cfg.Prefix = constants.DefaultServicePrefix
	}

	return &DefaultSupervisor{
		runner: runner,
		cfg:    cfg,
		logger: logger.For(logger.ComponentSupervisor),
	}
}

func unitName(name string) string {
	return name + unitSuffix
}

// run executes one command and records its metrics under verb.
func (s *DefaultSupervisor) run(ctx context.Context, verb string, privileged bool, name string, args ...string) (command.Result, error) {
	cmd := command.Command{Name: name, Args: args, Timeout: s.cfg.Timeout}
	if privileged && s.cfg.UseSudo {
		cmd = command.Command{Name: "sudo", Args: append([]string{"-n", name}, args...), Timeout: s.cfg.Timeout}
	}

	res, err := s.runner.Run(ctx, cmd)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
		if apierrors.KindOf(err) == apierrors.KindTimeout {
			result = metrics.ResultTimeout
		}
	}

	metrics.ObserveSupervisorCommand(verb, result, res.Duration)

	return res, err
}

// exited reports whether err only describes a nonzero exit of a process that did run.
func exited(res command.Result, err error) bool {
	return apierrors.KindOf(err) == apierrors.KindExternal && res.ExitCode > 0
}

func (s *DefaultSupervisor) ListManaged(ctx context.Context) ([]UnitEntry, error) {
	res, err := s.run(ctx, "list-units", false, "systemctl",
		"list-units", "--type=service", "--all", "--no-pager", "--no-legend", "--plain", s.cfg.Prefix+"*")
	if err != nil && !exited(res, err) {
		return nil, err
	}

	return parseListUnits(res.Stdout, s.cfg.Prefix), nil
}

// Status never fails on a nonzero exit: systemctl uses exit codes to encode
// inactive and unknown units, and the text is still meaningful.
func (s *DefaultSupervisor) Status(ctx context.Context, name string) (StatusReport, error) {
	res, err := s.run(ctx, "status", false, "systemctl", "status", unitName(name), "--no-pager")
	if err != nil && !exited(res, err) {
		return StatusReport{}, err
	}

	text := res.Stdout
	if text == "" {
		text = res.Stderr
	}

	return StatusReport{
		Text:     text,
		IsActive: StatusTextActive(text),
		IsFailed: StatusTextFailed(text),
	}, nil
}

func (s *DefaultSupervisor) Show(ctx context.Context, name string) (UnitState, error) {
	res, err := s.run(ctx, "show", false, "systemctl", "show", unitName(name), "-p", showProperties, "--no-pager")
	if err != nil {
		return UnitState{}, err
	}

	return parseShow(res.Stdout), nil
}

func (s *DefaultSupervisor) IsActive(ctx context.Context, name string) (bool, error) {
	res, err := s.run(ctx, "is-active", false, "systemctl", "is-active", unitName(name))
	if err != nil && !exited(res, err) {
		return false, err
	}

	return strings.TrimSpace(res.Stdout) == "active", nil
}

func clampLines(lines int) int {
	if lines < 1 {
		return 1
	}

	if lines > constants.MaxLogLines {
		return constants.MaxLogLines
	}

	return lines
}

// journalText keeps a nonzero journalctl exit, such as missing journal
// access, as readable output. Only a command that could not run is an error.
func journalText(res command.Result, err error) (string, error) {
	if err != nil && !exited(res, err) {
		return res.Stdout, err
	}

	stderr := strings.TrimSpace(res.Stderr)
	if stderr == "" {
		return res.Stdout, nil
	}

	if strings.TrimSpace(res.Stdout) == "" {
		return stderr, nil
	}

	return strings.TrimRight(res.Stdout, "\n") + "\n" + stderr, nil
}

func (s *DefaultSupervisor) Tail(ctx context.Context, name string, lines int) (string, error) {
	res, err := s.run(ctx, "journal", false, "journalctl",
		"-u", unitName(name), "-n", strconv.Itoa(clampLines(lines)), "--no-pager")

	return journalText(res, err)
}

func (s *DefaultSupervisor) TailErrors(ctx context.Context, name string, lines int) (string, error) {
	res, err := s.run(ctx, "journal-errors", false, "journalctl",
		"-u", unitName(name), "-p", "err", "-n", strconv.Itoa(clampLines(lines)), "--no-pager")

	return journalText(res, err)
}

func (s *DefaultSupervisor) action(ctx context.Context, verb string, args ...string) (ActionResult, error) {
	res, err := s.run(ctx, verb, true, "systemctl", args...)
	if err != nil {
		s.logger.Warnf("systemctl %s failed: %s", strings.Join(args, " "), err)

		return ActionResult{Success: false, Stderr: strings.TrimSpace(res.Stderr)}, err
	}

	return ActionResult{Success: true}, nil
}

func (s *DefaultSupervisor) Reload(ctx context.Context) (ActionResult, error) {
	return s.action(ctx, "daemon-reload", "daemon-reload")
}

func (s *DefaultSupervisor) Enable(ctx context.Context, name string) (ActionResult, error) {
	return s.action(ctx, "enable", "enable", unitName(name))
}

func (s *DefaultSupervisor) Disable(ctx context.Context, name string) (ActionResult, error) {
	return s.action(ctx, "disable", "disable", unitName(name))
}

func (s *DefaultSupervisor) Start(ctx context.Context, name string) (ActionResult, error) {
	return s.action(ctx, "start", "start", unitName(name))
}

func (s *DefaultSupervisor) Stop(ctx context.Context, name string) (ActionResult, error) {
	return s.action(ctx, "stop", "stop", unitName(name))
}

func (s *DefaultSupervisor) Restart(ctx context.Context, name string) (ActionResult, error) {
	return s.action(ctx, "restart", "restart", unitName(name))
}
