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
	"github.com/united-manufacturing-hub/workerplane/pkg/config"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/diagnostics"
	"github.com/united-manufacturing-hub/workerplane/pkg/lifecycle"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/store"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/systemd"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/unit"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/validator"
)

// app holds the wired components of one process.
type app struct {
	fs      filesystem.Service
	manager *lifecycle.Manager
	engine  *diagnostics.Engine
}

func newApp(cfg config.Config) *app {
	return newAppWith(cfg, filesystem.NewDefaultService(), command.NewExecRunner(
		command.ClampTimeout(cfg.Supervisor.CommandTimeout, constants.DefaultCommandTimeout, cfg.Supervisor.MaxCommandTimeout),
		cfg.Supervisor.MaxCommandTimeout,
	))
}

func newAppWith(cfg config.Config, fs filesystem.Service, runner command.Runner) *app {
	var mover store.Mover = store.NewRenameMover(fs)
	if cfg.Supervisor.UseSudo {
		mover = store.NewSudoMover(runner)
	}

	st := store.NewFileStore(fs, mover, store.Config{
		Prefix:     cfg.Prefix,
		SourceDir:  cfg.Paths.SourceDir,
		UnitDir:    cfg.Paths.UnitDir,
		StagingDir: cfg.Paths.StagingDir,
		SourceExt:  cfg.Runtime.SourceExt,
		MaxBackups: cfg.Lifecycle.MaxBackups,
	})

	sup := systemd.NewDefaultSupervisor(runner, systemd.Config{
		Prefix:  cfg.Prefix,
		UseSudo: cfg.Supervisor.UseSudo,
		Timeout: cfg.Supervisor.CommandTimeout,
	})

	manager := lifecycle.NewManager(st, sup, lifecycle.Config{
		Prefix:     cfg.Prefix,
		WorkingDir: cfg.Paths.WorkingDir,
		SourceExt:  cfg.Runtime.SourceExt,
		Render: unit.RenderOptions{
			Interpreter: cfg.Runtime.Interpreter,
			RunAsUser:   cfg.Runtime.RunAsUser,
			RestartSec:  cfg.Runtime.RestartSec,
		},
		StartupWindow: cfg.Lifecycle.StartupWindow,
	})

	engine := diagnostics.NewEngine(st, sup, validator.NewPythonValidator(runner, cfg.Runtime.Interpreter), manager.Names())

	return &app{fs: fs, manager: manager, engine: engine}
}
