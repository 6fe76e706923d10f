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

// Package api exposes the lifecycle and diagnostics operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/united-manufacturing-hub/workerplane/pkg/diagnostics"
	"github.com/united-manufacturing-hub/workerplane/pkg/lifecycle"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
	"github.com/united-manufacturing-hub/workerplane/pkg/service/systemd"
	"github.com/united-manufacturing-hub/workerplane/pkg/version"
)

// Lifecycle is the set of service operations the API dispatches to.
type Lifecycle interface {
	Create(ctx context.Context, spec lifecycle.ServiceSpec) (lifecycle.CreateResult, error)
	Edit(ctx context.Context, name, code string, restart bool) (lifecycle.EditResult, error)
	Delete(ctx context.Context, name string, deleteFiles bool) (lifecycle.DeleteResult, error)
	Start(ctx context.Context, name string) (lifecycle.ActionResult, error)
	Stop(ctx context.Context, name string) (lifecycle.ActionResult, error)
	Restart(ctx context.Context, name string) (lifecycle.ActionResult, error)
	Status(ctx context.Context, name string) (lifecycle.StatusResult, error)
	Logs(ctx context.Context, name string, lines int) (lifecycle.LogsResult, error)
	List(ctx context.Context) ([]systemd.UnitEntry, error)
	Info(ctx context.Context, name string) (lifecycle.InfoResult, error)
	Mapping(ctx context.Context) ([]lifecycle.MappingEntry, error)
}

// Diagnoser produces health snapshots.
type Diagnoser interface {
	Diagnose(ctx context.Context, name string) (diagnostics.Diagnosis, error)
	DiagnoseAll(ctx context.Context) (diagnostics.FleetSummary, error)
}

// ServerConfig holds the HTTP settings of the request layer.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
	RateLimit   float64 // Requests per second across all clients, 0 disables limiting
	RateBurst   int
	Debug       bool
}

// Server is the HTTP front of the control plane.
type Server struct {
	server    *http.Server
	router    *gin.Engine
	lifecycle Lifecycle
	diagnoser Diagnoser
	health    healthcheck.Handler
	limiter   *rate.Limiter
	config    ServerConfig
	logger    *zap.SugaredLogger
}

// NewServer wires the routes. health serves /live and /ready; a nil health
// gets an empty handler that always reports ready.
func NewServer(lc Lifecycle, diag Diagnoser, health healthcheck.Handler, config ServerConfig) *Server {
	if health == nil {
		health = healthcheck.NewHandler()
	}

	s := &Server{
		lifecycle: lc,
		diagnoser: diag,
		health:    health,
		config:    config,
		logger:    logger.For(logger.ComponentAPI),
	}

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}

		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	s.router = s.newRouter()

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() *gin.Engine {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(s.recoveryMiddleware())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())

	if len(s.config.CORSOrigins) > 0 {
		router.Use(s.corsMiddleware())
	}

	router.GET("/health", s.handleHealth)
	router.GET("/live", gin.WrapH(s.health))
	router.GET("/ready", gin.WrapH(s.health))

	limited := router.Group("/")
	if s.limiter != nil {
		limited.Use(s.rateLimitMiddleware())
	}

	services := limited.Group("/services")
	{
		services.GET("/list", s.handleList)
		services.GET("/mapping", s.handleMapping)
		services.POST("/status", s.handleStatus)
		services.POST("/logs", s.handleLogs)
		services.POST("/start", s.handleStart)
		services.POST("/stop", s.handleStop)
		services.POST("/restart", s.handleRestart)
		services.POST("/create", s.handleCreate)
		services.POST("/delete", s.handleDelete)
		services.POST("/edit", s.handleEdit)
		services.POST("/info", s.handleInfo)
	}

	diagnose := limited.Group("/diagnose")
	{
		diagnose.POST("/service", s.handleDiagnose)
		diagnose.GET("/all", s.handleDiagnoseAll)
	}

	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Lifecycle operations chain several supervisor calls, hence the long write timeout.
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Infow("Starting API server",
		"addr", s.config.Addr,
		"cors_origins", s.config.CORSOrigins,
		"rate_limit", s.config.RateLimit,
	)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server failed: %w", err)
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.Stop(shutdownCtx)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping API server")

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"name":     "workerplane",
		"version":  version.GetAppVersion(),
		"features": []string{"services", "diagnose"},
	})
}
