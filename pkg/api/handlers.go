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
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/lifecycle"
)

type serviceRequest struct {
	Service string `json:"service"`
}

type logsRequest struct {
	Service string `json:"service"`
	Lines   int    `json:"lines"`
}

type deleteRequest struct {
	Service     string `json:"service"`
	DeleteFiles *bool  `json:"delete_files"`
}

type editRequest struct {
	Service string `json:"service"`
	Code    string `json:"code"`
	Restart *bool  `json:"restart"`
}

// bind decodes the JSON body into req. An empty body leaves req zeroed.
func bind(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}

	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apierrors.Validation("decode request", "invalid request body: %s", err))

		return false
	}

	return true
}

func requireService(c *gin.Context, name string) bool {
	if strings.TrimSpace(name) == "" {
		respondError(c, apierrors.Validation("request", "Service name required"))

		return false
	}

	return true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}

	return *v
}

func (s *Server) handleList(c *gin.Context) {
	entries, err := s.lifecycle.List(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"services": entries, "count": len(entries)})
}

func (s *Server) handleMapping(c *gin.Context) {
	entries, err := s.lifecycle.Mapping(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"services": entries, "count": len(entries)})
}

func (s *Server) handleStatus(c *gin.Context) {
	var req serviceRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := s.lifecycle.Status(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLogs(c *gin.Context) {
	var req logsRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := s.lifecycle.Logs(c.Request.Context(), req.Service, req.Lines)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStart(c *gin.Context) {
	s.handleAction(c, s.lifecycle.Start)
}

func (s *Server) handleStop(c *gin.Context) {
	s.handleAction(c, s.lifecycle.Stop)
}

// handleRestart reports a failed restart as a server error, unlike start
// and stop which answer with their success flag.
func (s *Server) handleRestart(c *gin.Context) {
	var req serviceRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := s.lifecycle.Restart(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)

		return
	}

	if !res.Success {
		message := res.Stderr
		if message == "" {
			message = "Restart failed"
		}

		c.JSON(http.StatusInternalServerError, apierrors.Payload{Error: message, Kind: apierrors.KindExternal, Stderr: res.Stderr})

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAction(c *gin.Context, action func(ctx context.Context, name string) (lifecycle.ActionResult, error)) {
	var req serviceRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := action(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreate(c *gin.Context) {
	var spec lifecycle.ServiceSpec
	if !bind(c, &spec) {
		return
	}

	if strings.TrimSpace(spec.Name) == "" || strings.TrimSpace(spec.SourceCode) == "" {
		respondError(c, apierrors.Validation("request", "Name and code required"))

		return
	}

	res, err := s.lifecycle.Create(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDelete(c *gin.Context) {
	var req deleteRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := s.lifecycle.Delete(c.Request.Context(), req.Service, boolOr(req.DeleteFiles, true))
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleEdit(c *gin.Context) {
	var req editRequest
	if !bind(c, &req) {
		return
	}

	if strings.TrimSpace(req.Service) == "" || strings.TrimSpace(req.Code) == "" {
		respondError(c, apierrors.Validation("request", "Service and code required"))

		return
	}

	res, err := s.lifecycle.Edit(c.Request.Context(), req.Service, req.Code, boolOr(req.Restart, true))
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleInfo(c *gin.Context) {
	var req serviceRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	res, err := s.lifecycle.Info(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDiagnose(c *gin.Context) {
	var req serviceRequest
	if !bind(c, &req) || !requireService(c, req.Service) {
		return
	}

	d, err := s.diagnoser.Diagnose(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, d)
}

func (s *Server) handleDiagnoseAll(c *gin.Context) {
	summary, err := s.diagnoser.DiagnoseAll(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, summary)
}
