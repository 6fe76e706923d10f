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

package validator

import (
	"context"
	"strings"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/command"
)

// Verdict is the outcome of a static source check.
type Verdict struct {
	Valid      bool
	Diagnostic string
}

// Validator statically checks a worker source file without running it.
type Validator interface {
	Check(ctx context.Context, path string) (Verdict, error)
}

// PythonValidator byte-compiles the source with py_compile.
type PythonValidator struct {
	runner      command.Runner
	interpreter string
}

func NewPythonValidator(runner command.Runner, interpreter string) *PythonValidator {
	if interpreter == "" {
		interpreter = constants.DefaultInterpreter
	}

	return &PythonValidator{runner: runner, interpreter: interpreter}
}

// Check returns an invalid verdict for a compile error. Only a failure to
// run the check at all, such as a timeout, is returned as an error.
func (v *PythonValidator) Check(ctx context.Context, path string) (Verdict, error) {
	res, err := v.runner.Run(ctx, command.Command{Name: v.interpreter, Args: []string{"-m", "py_compile", path}})
	if err != nil {
		if apierrors.KindOf(err) == apierrors.KindExternal && res.ExitCode > 0 {
			diagnostic := strings.TrimSpace(res.Stderr)
			if diagnostic == "" {
				diagnostic = strings.TrimSpace(res.Stdout)
			}

			return Verdict{Valid: false, Diagnostic: diagnostic}, nil
		}

		return Verdict{}, err
	}

	return Verdict{Valid: true}, nil
}

// FakeValidator marks sources invalid when their content contains Marker.
type FakeValidator struct {
	Read   func(ctx context.Context, path string) (string, error)
	Marker string
}

func (f *FakeValidator) Check(ctx context.Context, path string) (Verdict, error) {
	code, err := f.Read(ctx, path)
	if err != nil {
		return Verdict{}, err
	}

	if f.Marker != "" && strings.Contains(code, f.Marker) {
		return Verdict{Valid: false, Diagnostic: "SyntaxError: invalid syntax (" + path + ")"}, nil
	}

	return Verdict{Valid: true}, nil
}
