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

package apierrors

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/DataDog/gostackparse"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/sentry"
)

// Frame is one parsed stack frame of a recovered panic.
type Frame struct {
	Func string `json:"func"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// Payload is the error half of every structured result.
type Payload struct {
	Error     string  `json:"error"`
	Kind      Kind    `json:"kind"`
	Stderr    string  `json:"stderr,omitempty"`
	Traceback string  `json:"traceback,omitempty"`
	Frames    []Frame `json:"frames,omitempty"`
}

// ToPayload renders err for the caller.
func ToPayload(err error) Payload {
	p := Payload{Error: err.Error(), Kind: KindOf(err), Stderr: StderrOf(err)}

	var e *Error
	if errors.As(err, &e) && e.Trace != "" {
		p.Traceback = e.Trace
		p.Frames = ParseFrames(e.Trace)
	}

	return p
}

// ParseFrames parses a goroutine dump into frames of the first goroutine.
func ParseFrames(trace string) []Frame {
	goroutines, _ := gostackparse.Parse(bytes.NewReader([]byte(trace)))
	if len(goroutines) == 0 {
		return nil
	}

	frames := make([]Frame, 0, len(goroutines[0].Stack))
	for _, f := range goroutines[0].Stack {
		frames = append(frames, Frame{Func: f.Func, File: f.File, Line: f.Line})
	}

	return frames
}

// FromPanic converts a recovered value into an internal error carrying the current stack.
func FromPanic(op string, recovered interface{}) *Error {
	var cause error
	if err, ok := recovered.(error); ok {
		cause = err
	} else {
		cause = fmt.Errorf("%v", recovered)
	}

	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: "panic",
		Trace:   string(debug.Stack()),
		Err:     cause,
	}
}

// Guard runs fn and turns a panic into a KindInternal error reported to sentry.
func Guard(op string, log *zap.SugaredLogger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e := FromPanic(op, r)
			sentry.ReportIssueWithContext(e, sentry.IssueTypeError, log, map[string]interface{}{
				"operation": op,
				"trace":     e.Trace,
			})
			err = e
		}
	}()

	return fn()
}
