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

// Package apierrors defines the error taxonomy every lifecycle and
// diagnostics operation reports through.
package apierrors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies an error for the caller.
type Kind string

const (
	// KindValidation marks a missing required field or a disallowed name.
	// Nothing external has been touched when it is returned.
	KindValidation Kind = "validation"
	// KindNotFound marks an operation against a name with no backing file.
	KindNotFound Kind = "not_found"
	// KindExternal marks a nonzero exit of an external command or a failed privileged move.
	KindExternal Kind = "external_command"
	// KindTimeout marks an external command that was killed after its deadline; there is no exit code.
	KindTimeout Kind = "timeout"
	// KindOS marks a filesystem failure such as permission denied.
	KindOS Kind = "os"
	// KindInternal marks an uncaught fault recovered at the operation boundary.
	KindInternal Kind = "internal"
)

// Error is the structured error returned by the core.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Stderr is the captured standard error of a failed external command.
	Stderr string
	// Trace holds the stack of a recovered panic.
	Trace string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}

	if e.Op != "" {
		return e.Op + ": " + msg
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels usable with errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrExternal   = &Error{Kind: KindExternal}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrOS         = &Error{Kind: KindOS}
	ErrInternal   = &Error{Kind: KindInternal}
)

func Validation(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// External wraps the failure of an external command together with its stderr.
func External(op string, err error, stderr string) *Error {
	return &Error{Kind: KindExternal, Op: op, Stderr: stderr, Err: err}
}

func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

func OS(op string, err error) *Error {
	return &Error{Kind: KindOS, Op: op, Err: err}
}

// KindOf classifies any error. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindOS
	}

	return KindInternal
}

// StderrOf returns the captured stderr carried by err, if any.
func StderrOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stderr
	}

	return ""
}
