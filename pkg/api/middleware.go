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

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
	"github.com/united-manufacturing-hub/workerplane/pkg/sentry"
)

const requestIDKey = "request_id"

// recoveryMiddleware answers a panicking handler with an internal error
// payload carrying the trace, and keeps serving.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		e := apierrors.FromPanic(c.Request.Method+" "+c.Request.URL.Path, recovered)
		sentry.ReportIssueWithContext(e, sentry.IssueTypeError, s.logger, map[string]interface{}{
			"operation":  e.Op,
			"request_id": c.GetString(requestIDKey),
		})

		c.AbortWithStatusJSON(http.StatusInternalServerError, apierrors.ToPayload(e))
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(constants.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(constants.RequestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware writes one access log line per request.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDKey),
		}

		switch {
		case status >= http.StatusInternalServerError:
			metrics.IncErrorCount(metrics.ComponentAPI)
			s.logger.Errorw("API request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Warnw("API request", fields...)
		default:
			s.logger.Debugw("API request", fields...)
		}
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				c.Header("Access-Control-Allow-Origin", allowedOrigin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+constants.RequestIDHeader)

				break
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})

			return
		}

		c.Next()
	}
}

// statusFor maps an error kind to its transport status.
func statusFor(kind apierrors.Kind) int {
	switch kind {
	case apierrors.KindValidation:
		return http.StatusBadRequest
	case apierrors.KindNotFound:
		return http.StatusNotFound
	case apierrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	payload := apierrors.ToPayload(err)
	c.JSON(statusFor(payload.Kind), payload)
}
