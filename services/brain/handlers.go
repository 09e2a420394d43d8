// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package brain

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the response for GET /v1/brain/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/brain/ready.
type ReadyResponse struct {
	Ready    bool           `json:"ready"`
	Revision graph.Revision `json:"revision"`
	Nodes    int            `json:"nodes"`
	Edges    int            `json:"edges"`
}

// Handlers serves the brain endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleDiagnose handles POST /v1/brain/diagnose.
//
// Response:
//
//	200 OK: DiagnoseResponse (also for unmapped states)
//	400 Bad Request: Missing or malformed body
func (h *Handlers) HandleDiagnose(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiagnose")

	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: state is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	c.JSON(http.StatusOK, h.svc.Diagnose(c.Request.Context(), req))
}

// HandleHealth handles GET /v1/brain/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleReady handles GET /v1/brain/ready.
//
// Returns 503 until the first snapshot has been loaded from the document.
func (h *Handlers) HandleReady(c *gin.Context) {
	nodes, edges := h.svc.GraphSize()
	resp := ReadyResponse{
		Ready:    h.svc.Revision() > 0,
		Revision: h.svc.Revision(),
		Nodes:    nodes,
		Edges:    edges,
	}
	if !resp.Ready {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
