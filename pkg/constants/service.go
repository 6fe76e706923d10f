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

package constants

import "time"

const (
	// DefaultServicePrefix is the namespace every controllable worker name carries.
	DefaultServicePrefix = "worker-"

	DefaultSourceDir  = "/home/ubuntu/workers"
	DefaultUnitDir    = "/etc/systemd/system"
	DefaultStagingDir = "/tmp"

	UnitSuffix       = ".service"
	BackupSuffix     = ".backup"
	DefaultSourceExt = ".py"
)

const (
	DefaultInterpreter = "/usr/bin/python3"
	DefaultRunAsUser   = "ubuntu"
	DefaultRestartSec  = 3
)

const (
	// DefaultCommandTimeout bounds every supervisor and validator invocation.
	DefaultCommandTimeout = 30 * time.Second
	// MaxCommandTimeout is the hard ceiling a caller-supplied timeout is clamped to.
	MaxCommandTimeout = 60 * time.Second

	// DefaultStartupWindow is how long create waits for a freshly started unit to report active.
	DefaultStartupWindow = 5 * time.Second
	// StartupPollInterval is the initial interval between is-active probes during the startup window.
	StartupPollInterval = 250 * time.Millisecond
)

const (
	DefaultLogLines     = 50
	DiagnoseErrorLines  = 20
	DiagnoseRecentLines = 30
	MaxLogLines         = 10000

	// MaxServiceNameLength keeps names well inside the unit name limit of systemd.
	MaxServiceNameLength = 200
)

// DefaultMaxBackups keeps a single overwritten .backup file.
const DefaultMaxBackups = 1
