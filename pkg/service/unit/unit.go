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

package unit

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
)

// Spec is the part of a service specification that ends up in the unit.
type Spec struct {
	Name        string
	Description string
	Environment map[string]string
	// Port is exported to the worker as PORT when set.
	Port *int
}

// RenderOptions holds the host-wide settings shared by every unit.
type RenderOptions struct {
	Interpreter string
	RunAsUser   string
	RestartSec  int
}

// DefaultRenderOptions returns the options used when nothing is configured.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Interpreter: constants.DefaultInterpreter,
		RunAsUser:   constants.DefaultRunAsUser,
		RestartSec:  constants.DefaultRestartSec,
	}
}

// unitTemplate renders a systemd service unit. Environment entries arrive
// sorted by key so the output is a pure function of the input.
const unitTemplate = `[Unit]
Description={{ .Description }}
After=network.target

[Service]
Type=simple
User={{ .User }}
WorkingDirectory={{ .WorkingDir }}
Environment="PYTHONUNBUFFERED=1"
{{- range .Env }}
Environment={{ .Assignment }}
{{- end }}
ExecStart={{ .Interpreter }} {{ .SourcePath }}
Restart=always
RestartSec={{ .RestartSec }}

[Install]
WantedBy=multi-user.target
`

var parsedTemplate = template.Must(template.New("unit").Parse(unitTemplate))

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type envEntry struct {
	Key   string
	Value string
}

// Assignment renders the entry as a double-quoted Environment= value.
// Unquoted values are split on whitespace and % starts a specifier.
func (e envEntry) Assignment() string {
	return `"` + envEscaper.Replace(e.Key+"="+e.Value) + `"`
}

var envEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%")

type templateData struct {
	Description string
	User        string
	WorkingDir  string
	Env         []envEntry
	Interpreter string
	SourcePath  string
	RestartSec  int
}

// Render produces the unit text for spec. It performs no I/O.
func Render(spec Spec, sourcePath, workingDir string, opts RenderOptions) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", apierrors.Validation("renderUnit", "service name is required")
	}

	if sourcePath == "" || workingDir == "" {
		return "", apierrors.Validation("renderUnit", "source path and working directory are required")
	}

	description := spec.Description
	if description == "" {
		description = "Service " + spec.Name
	}

	if strings.ContainsAny(description, "\r\n") {
		return "", apierrors.Validation("renderUnit", "description must be a single line")
	}

	env, err := sortedEnv(spec)
	if err != nil {
		return "", err
	}

	defaults := DefaultRenderOptions()
	if opts.Interpreter == "" {
		opts.Interpreter = defaults.Interpreter
	}

	if opts.RunAsUser == "" {
		opts.RunAsUser = defaults.RunAsUser
	}

	if opts.RestartSec <= 0 {
		opts.RestartSec = defaults.RestartSec
	}

	var buf bytes.Buffer
	if err := parsedTemplate.Execute(&buf, templateData{
		Description: description,
		User:        opts.RunAsUser,
		WorkingDir:  workingDir,
		Env:         env,
		Interpreter: opts.Interpreter,
		SourcePath:  sourcePath,
		RestartSec:  opts.RestartSec,
	}); err != nil {
		return "", fmt.Errorf("failed to render unit for %s: %w", spec.Name, err)
	}

	return buf.String(), nil
}

func sortedEnv(spec Spec) ([]envEntry, error) {
	env := make([]envEntry, 0, len(spec.Environment)+1)

	for k, v := range spec.Environment {
		if !envKeyPattern.MatchString(k) {
			return nil, apierrors.Validation("renderUnit", "invalid environment variable name %q", k)
		}

		if strings.ContainsAny(v, "\r\n") {
			return nil, apierrors.Validation("renderUnit", "environment variable %s must not contain a newline", k)
		}

		env = append(env, envEntry{Key: k, Value: v})
	}

	if spec.Port != nil {
		if *spec.Port < 1 || *spec.Port > 65535 {
			return nil, apierrors.Validation("renderUnit", "port %d is out of range", *spec.Port)
		}

		if _, ok := spec.Environment["PORT"]; !ok {
			env = append(env, envEntry{Key: "PORT", Value: strconv.Itoa(*spec.Port)})
		}
	}

	sort.Slice(env, func(i, j int) bool { return env[i].Key < env[j].Key })

	return env, nil
}
