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

package lifecycle

import (
	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
)

// ServiceSpec is what a caller submits to create a service.
type ServiceSpec struct {
	Name        string            `json:"name"`
	SourceCode  string            `json:"code"`
	Environment map[string]string `json:"env,omitempty"`
	Description string            `json:"description,omitempty"`
	Port        *int              `json:"port,omitempty"`
}

// StepFailure records a step of a multi-step operation that did not succeed.
// Later steps still ran.
type StepFailure struct {
	Step   string         `json:"step"`
	Kind   apierrors.Kind `json:"kind"`
	Error  string         `json:"error"`
	Stderr string         `json:"stderr,omitempty"`
}

func newStepFailure(step string, err error) StepFailure {
	return StepFailure{
		Step:   step,
		Kind:   apierrors.KindOf(err),
		Error:  err.Error(),
		Stderr: apierrors.StderrOf(err),
	}
}

type CreateResult struct {
	Success    bool   `json:"success"`
	Service    string `json:"service"`
	SourceFile string `json:"python_file"`
	UnitFile   string `json:"service_file"`
	Active     bool   `json:"active"`
	Port       *int   `json:"port,omitempty"`
	State      State  `json:"state"`
	// SourceChanged and UnitChanged are false when a re-driven create found the files already in place.
	SourceChanged bool          `json:"source_changed"`
	UnitChanged   bool          `json:"unit_changed"`
	Failures      []StepFailure `json:"failures,omitempty"`
}

type EditResult struct {
	Success    bool   `json:"success"`
	Service    string `json:"service"`
	SourceFile string `json:"file"`
	BackedUp   bool   `json:"backed_up"`
	Restarted  bool   `json:"restarted"`
	Active     bool   `json:"active"`
	// UnitMissing is set when the edited service has no unit file. Edit never
	// creates one, so the source will not run until the service is created.
	UnitMissing bool          `json:"unit_missing"`
	State       State         `json:"state"`
	Failures    []StepFailure `json:"failures,omitempty"`
}

type DeleteResult struct {
	Success       bool          `json:"success"`
	Service       string        `json:"deleted"`
	FilesDeleted  bool          `json:"files_deleted"`
	UnitRemoved   bool          `json:"unit_removed"`
	SourceRemoved bool          `json:"source_removed"`
	State         State         `json:"state"`
	Failures      []StepFailure `json:"failures,omitempty"`
}

// ActionResult is the result of start, stop and restart.
type ActionResult struct {
	Success bool   `json:"success"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Stderr  string `json:"stderr,omitempty"`
	State   State  `json:"state"`
}

type StatusResult struct {
	Service  string `json:"service"`
	Status   string `json:"status"`
	IsActive bool   `json:"is_active"`
}

type LogsResult struct {
	Service string `json:"service"`
	Logs    string `json:"logs"`
	Lines   int    `json:"lines"`
}

type InfoResult struct {
	Service        string `json:"service"`
	UnitText       string `json:"service_file,omitempty"`
	SourceFile     string `json:"python_file,omitempty"`
	SourceFilename string `json:"python_filename,omitempty"`
	Description    string `json:"description,omitempty"`
	Port           *int   `json:"port,omitempty"`
	Active         bool   `json:"active"`
	// Error is set when the service has no unit file.
	Error string `json:"error,omitempty"`
}

type MappingEntry struct {
	Service        string `json:"service"`
	UnitFile       string `json:"service_file"`
	SourceFile     string `json:"python_file,omitempty"`
	SourceFilename string `json:"python_filename,omitempty"`
	Description    string `json:"description,omitempty"`
	Active         bool   `json:"active"`
}
