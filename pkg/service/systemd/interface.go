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
)

// UnitEntry is one row of the managed unit listing.
type UnitEntry struct {
	Name        string `json:"name"`
	Load        string `json:"load"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
	Description string `json:"description,omitempty"`
}

// StatusReport is the rich, human-oriented status of one unit.
type StatusReport struct {
	Text     string
	IsActive bool
	IsFailed bool
}

// UnitState is the structured state systemd reports for one unit.
type UnitState struct {
	LoadState   string
	ActiveState string
	SubState    string
	MainPID     int32
	NRestarts   int
}

// Running reports whether the unit is active with a running main process.
func (s UnitState) Running() bool {
	return s.ActiveState == "active" && s.SubState == "running"
}

// Failed reports whether systemd considers the unit failed.
func (s UnitState) Failed() bool {
	return s.ActiveState == "failed" || s.SubState == "failed"
}

// ActionResult is the outcome of a state-changing command.
type ActionResult struct {
	Success bool   `json:"success"`
	Stderr  string `json:"stderr,omitempty"`
}

// Supervisor issues lifecycle intents to the host service supervisor.
// Names are full service names without the .service suffix.
type Supervisor interface {
	// ListManaged lists every unit under the namespace prefix, skipping malformed rows
	ListManaged(ctx context.Context) ([]UnitEntry, error)
	// Status returns the raw status text with heuristically derived flags
	Status(ctx context.Context, name string) (StatusReport, error)
	// Show returns the structured unit state
	Show(ctx context.Context, name string) (UnitState, error)
	// IsActive runs the cheap single-word active-state query
	IsActive(ctx context.Context, name string) (bool, error)
	// Tail returns the last lines of the unit journal
	Tail(ctx context.Context, name string, lines int) (string, error)
	// TailErrors returns the last lines of the unit journal at error priority and above
	TailErrors(ctx context.Context, name string, lines int) (string, error)
	// Reload makes the supervisor re-read unit files
	Reload(ctx context.Context) (ActionResult, error)
	// Enable marks the unit to start at boot
	Enable(ctx context.Context, name string) (ActionResult, error)
	// Disable removes the boot-time start of the unit
	Disable(ctx context.Context, name string) (ActionResult, error)
	// Start starts the unit
	Start(ctx context.Context, name string) (ActionResult, error)
	// Stop stops the unit
	Stop(ctx context.Context, name string) (ActionResult, error)
	// Restart restarts the unit
	Restart(ctx context.Context, name string) (ActionResult, error)
}
