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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/sentry"
)

const (
	// Component labels.
	ComponentLifecycle   = "lifecycle"
	ComponentDiagnostics = "diagnostics"
	ComponentSupervisor  = "supervisor"
	ComponentStore       = "store"
	ComponentAPI         = "api"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"

	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

var (
	namespace = "workerplane"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	lifecycleOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome",
		},
		[]string{"operation", "result"},
	)

	lifecycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of lifecycle operations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	supervisorCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "commands_total",
			Help:      "External supervisor commands by outcome",
		},
		[]string{"command", "result"},
	)

	supervisorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "command_duration_seconds",
			Help:      "Wall time of external supervisor commands",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	serviceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_state",
			Help:      "Last observed lifecycle state per service (1 for the current state)",
		},
		[]string{"service", "state"},
	)

	fleetServices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_services",
			Help:      "Services counted by the last fleet summary",
		},
		[]string{"health"},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveLifecycleOp records the outcome and duration of a lifecycle operation.
func ObserveLifecycleOp(operation string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}

	lifecycleOps.WithLabelValues(operation, result).Inc()
	lifecycleDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveSupervisorCommand records one external supervisor invocation.
func ObserveSupervisorCommand(command string, result string, duration time.Duration) {
	supervisorCommands.WithLabelValues(command, result).Inc()
	supervisorDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// SetServiceState marks state as the current state of service, clearing the others.
func SetServiceState(service string, state string, allStates []string) {
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}

		serviceState.WithLabelValues(service, s).Set(value)
	}
}

// ForgetService drops every state series of a removed service.
func ForgetService(service string) {
	serviceState.DeletePartialMatch(prometheus.Labels{"service": service})
}

// SetFleet publishes the counts of the latest fleet summary.
func SetFleet(healthy, unhealthy int) {
	fleetServices.WithLabelValues(HealthHealthy).Set(float64(healthy))
	fleetServices.WithLabelValues(HealthUnhealthy).Set(float64(unhealthy))
}

// SetupMetricsEndpoint starts a server exposing /metrics on addr.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}
