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
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"go.uber.org/zap"
)

const debounceWindow = time.Minute

var (
	shouldDebounceErrors = true
	enabled              bool

	debounceMu   sync.Mutex
	lastReported = map[string]time.Time{}
)

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// InitSentry initializes sentry for the given version. Reporting stays
// disabled for local development builds and when no DSN is configured.
func InitSentry(appVersion string, dsn string, debounceErrors bool) {
	shouldDebounceErrors = debounceErrors

	if dsn == "" || appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.DefaultProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "workerplane@" + appVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabled = true
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

// debounced reports whether an error with the same title was sent within the debounce window.
func debounced(err error) bool {
	if !shouldDebounceErrors {
		return false
	}

	title := getMeaningfulErrorTitle(err)
	now := time.Now()

	debounceMu.Lock()
	defer debounceMu.Unlock()

	if last, ok := lastReported[title]; ok && now.Sub(last) < debounceWindow {
		return true
	}

	lastReported[title] = now

	return false
}

func createSentryEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stacktrace := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stacktrace,
		})
	}

	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if len(context) > 0 {
		event.Tags = make(map[string]string)
		event.Extra = make(map[string]interface{})

		for key, value := range context {
			switch v := value.(type) {
			case string:
				event.Tags[key] = v
			case int, int64, uint, uint64, float64, bool:
				event.Tags[key] = fmt.Sprintf("%v", v)
			default:
				event.Extra[key] = v
			}

			if key == "operation" || key == "service_type" {
				event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
			}
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
