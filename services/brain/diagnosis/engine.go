// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnosis answers deterministic risk queries against the state
// knowledge graph.
//
// Given a state, the engine reports its immediate risks (outgoing edges),
// whether the state eventually leads to safe mode, and a bounded
// breadth-first trace for explanation. It never mutates the graph and never
// waits on writers: every answer is computed from the last published
// snapshot.
package diagnosis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aquitari.diagnosis")

// Result statuses.
const (
	StatusOK           = "ok"
	StatusUnknownState = "unknown_state"
)

// DefaultTraceDepth bounds the reasoning trace.
const DefaultTraceDepth = 2

// defaultRelationLabel renders edges that carry no relation.
const defaultRelationLabel = "leads to"

// Risk is one immediate consequence of a state.
type Risk struct {
	Risk     string `json:"risk"`
	Relation string `json:"relation"`
}

// Result is the outcome of a diagnosis.
//
// An unknown state is a normal result with Status StatusUnknownState, never
// an error.
type Result struct {
	CurrentState      string   `json:"current_state"`
	Status            string   `json:"status"`
	Error             string   `json:"error,omitempty"`
	PredictedRisks    []Risk   `json:"predicted_risks"`
	ActivatesSafeMode bool     `json:"activates_safe_mode"`
	ReasoningPath     []string `json:"reasoning_path"`

	// Revision identifies the snapshot the answer was computed from.
	Revision graph.Revision `json:"revision"`
}

// Known reports whether the state was mapped in the graph.
func (r Result) Known() bool { return r.Status == StatusOK }

// SnapshotSource supplies the graph to query. *graph.Store satisfies it.
type SnapshotSource interface {
	Current() *graph.Snapshot
}

// Options configures an Engine.
type Options struct {
	// SafeModeID is the terminal node checked for reachability.
	// Default: "safe_mode"
	SafeModeID string

	// TraceDepth bounds the breadth-first reasoning trace.
	// Default: 2
	TraceDepth int

	// Logger receives query diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard engine settings.
func DefaultOptions() Options {
	return Options{
		SafeModeID: graph.DefaultSafeModeID,
		TraceDepth: DefaultTraceDepth,
	}
}

// Engine runs diagnoses against the active snapshot.
//
// Thread Safety: safe for concurrent use. Snapshots are immutable.
type Engine struct {
	source     SnapshotSource
	safeModeID string
	traceDepth int
	logger     *slog.Logger
}

// NewEngine creates an engine reading from source.
func NewEngine(source SnapshotSource, opts Options) *Engine {
	if opts.SafeModeID == "" {
		opts.SafeModeID = graph.DefaultSafeModeID
	}
	if opts.TraceDepth <= 0 {
		opts.TraceDepth = DefaultTraceDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		source:     source,
		safeModeID: opts.SafeModeID,
		traceDepth: opts.TraceDepth,
		logger:     opts.Logger,
	}
}

// Diagnose evaluates a state.
//
// # Description
//
// Lists the state's outgoing edges as predicted risks in insertion order,
// checks whether safe mode is reachable (a state reaches itself), and
// renders the breadth-first tree edges up to the trace depth as
// "A --[relation]--> B".
//
// # Inputs
//
//   - ctx: Used for tracing only. Diagnosis never blocks.
//   - stateID: Node ID to evaluate.
//
// # Outputs
//
//   - Result: Always populated. Unknown IDs yield StatusUnknownState.
func (e *Engine) Diagnose(ctx context.Context, stateID string) Result {
	_, span := tracer.Start(ctx, "diagnosis.Engine.Diagnose",
		trace.WithAttributes(attribute.String("diagnosis.state", stateID)),
	)
	defer span.End()
	start := time.Now()

	snap := e.source.Current()
	g := snap.Graph

	if !g.HasNode(stateID) {
		recordDiagnosis(StatusUnknownState, false, time.Since(start).Seconds())
		span.SetAttributes(attribute.String("diagnosis.status", StatusUnknownState))
		e.logger.Info("diagnosis for unmapped state", slog.String("state", stateID))
		return Result{
			CurrentState:   stateID,
			Status:         StatusUnknownState,
			Error:          fmt.Sprintf("State '%s' is not mapped in the Knowledge Graph.", stateID),
			PredictedRisks: []Risk{},
			ReasoningPath:  []string{},
			Revision:       snap.Revision,
		}
	}

	risks := make([]Risk, 0)
	for _, edge := range g.Successors(stateID) {
		risks = append(risks, Risk{Risk: edge.Target, Relation: edge.Relation})
	}

	activates := g.Reachable(stateID, e.safeModeID)
	path := Trace(g, stateID, e.traceDepth)

	recordDiagnosis(StatusOK, activates, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("diagnosis.status", StatusOK),
		attribute.Bool("diagnosis.activates_safe_mode", activates),
		attribute.Int("diagnosis.risks", len(risks)),
		attribute.Int64("graph.revision", int64(snap.Revision)),
	)

	return Result{
		CurrentState:      stateID,
		Status:            StatusOK,
		PredictedRisks:    risks,
		ActivatesSafeMode: activates,
		ReasoningPath:     path,
		Revision:          snap.Revision,
	}
}

// Trace renders breadth-first tree edges from start, expanding nodes up to
// depth levels away. Each node is reached at most once; when several edges
// lead to an unvisited node the first in insertion order is used.
func Trace(g *graph.Graph, start string, depth int) []string {
	path := []string{}
	if !g.HasNode(start) || depth <= 0 {
		return path
	}

	type item struct {
		id    string
		level int
	}
	visited := map[string]bool{start: true}
	queue := []item{{id: start}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range g.Successors(cur.id) {
			if visited[edge.Target] {
				continue
			}
			visited[edge.Target] = true
			path = append(path, formatStep(edge))
			if cur.level+1 < depth {
				queue = append(queue, item{id: edge.Target, level: cur.level + 1})
			}
		}
	}
	return path
}

func formatStep(e graph.Edge) string {
	relation := e.Relation
	if relation == "" {
		relation = defaultRelationLabel
	}
	return fmt.Sprintf("%s --[%s]--> %s", e.Source, relation, e.Target)
}
