// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package brain exposes the diagnosis engine over HTTP.
//
// The package adds an envelope (entity, state, timestamp) around
// diagnosis.Result and serves it with gin. It holds no graph state of its
// own: every request reads the store's active snapshot.
package brain

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/diagnosis"
	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.1.0"

// DefaultEntity is used when a request names no entity.
const DefaultEntity = "local_user"

// unknownStateInfo is the message returned for unmapped states.
const unknownStateInfo = "No information available in the Knowledge Graph"

// DiagnoseRequest is the body of POST /v1/brain/diagnose.
type DiagnoseRequest struct {
	// State is the node ID to evaluate, e.g. "low_rest".
	State string `json:"state" binding:"required"`

	// Entity identifies the user, session or device. Default: "local_user"
	Entity string `json:"entity"`
}

// DiagnoseResponse wraps a diagnosis.
type DiagnoseResponse struct {
	Entity string `json:"entity"`
	State  string `json:"state"`

	// Timestamp is Unix seconds with sub-second precision.
	Timestamp float64 `json:"timestamp"`

	// Diagnosis is a diagnosis.Result, or an UnknownDiagnosis for a state
	// that is not mapped.
	Diagnosis any `json:"diagnosis"`
}

// UnknownDiagnosis is the diagnosis body for an unmapped state.
type UnknownDiagnosis struct {
	Info              string `json:"info"`
	Status            string `json:"status"`
	CurrentState      string `json:"current_state"`
	ActivatesSafeMode bool   `json:"activates_safe_mode"`
}

// Snapshots supplies the active graph. *graph.Store satisfies it.
type Snapshots interface {
	Current() *graph.Snapshot
}

// Service answers diagnose queries.
type Service struct {
	engine    *diagnosis.Engine
	snapshots Snapshots
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service over the store's snapshots.
func NewService(snapshots Snapshots, opts diagnosis.Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		engine:    diagnosis.NewEngine(snapshots, opts),
		snapshots: snapshots,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Diagnose evaluates req.State against the active snapshot.
//
// # Outputs
//
//   - DiagnoseResponse: Always populated. An unmapped state yields an
//     UnknownDiagnosis body rather than an error.
func (s *Service) Diagnose(ctx context.Context, req DiagnoseRequest) DiagnoseResponse {
	if req.Entity == "" {
		req.Entity = DefaultEntity
	}
	start := s.now()
	result := s.engine.Diagnose(ctx, req.State)

	resp := DiagnoseResponse{
		Entity:    req.Entity,
		State:     req.State,
		Timestamp: float64(s.now().UnixNano()) / 1e9,
	}
	if !result.Known() {
		s.logger.Warn("diagnosis failed: state not found in graph", slog.String("state", req.State))
		resp.Diagnosis = UnknownDiagnosis{
			Info:         unknownStateInfo,
			Status:       diagnosis.StatusUnknownState,
			CurrentState: req.State,
		}
		return resp
	}

	s.logger.Info("diagnosis completed",
		slog.String("entity", req.Entity),
		slog.String("state", req.State),
		slog.Bool("activates_safe_mode", result.ActivatesSafeMode),
		slog.Duration("duration", s.now().Sub(start)),
	)
	resp.Diagnosis = result
	return resp
}

// Revision returns the active snapshot's revision. Zero means no document
// has been loaded yet.
func (s *Service) Revision() graph.Revision {
	return s.snapshots.Current().Revision
}

// GraphSize returns the active snapshot's node and edge counts.
func (s *Service) GraphSize() (nodes, edges int) {
	g := s.snapshots.Current().Graph
	return g.NodeCount(), g.EdgeCount()
}
