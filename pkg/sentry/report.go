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

package sentry

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func (t IssueType) level() sentry.Level {
	switch t {
	case IssueTypeFatal:
		return sentry.LevelFatal
	case IssueTypeWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// ReportIssue logs err at the level matching issueType and forwards it to sentry.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorf("FATAL: %s", err)
	case IssueTypeWarning:
		log.Warnf("%s", err)
	default:
		log.Errorf("%s", err)
	}

	if !enabled || debounced(err) {
		return
	}

	sendSentryEvent(createSentryEvent(issueType.level(), err, context))
}

// ReportServiceError reports an error raised while operating on a single worker service.
func ReportServiceError(log *zap.SugaredLogger, serviceName string, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]interface{}{
		"service_name": serviceName,
		"service_type": "worker",
		"operation":    operation,
	})
}
