// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aquitari.graph")

// Load outcomes.
const (
	loadOK        = "ok"
	loadMissing   = "missing"
	loadMalformed = "malformed"
	loadError     = "error"
)

var (
	// storeLoads counts document loads.
	// Labels: result (ok, missing, malformed, error)
	storeLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "graph",
		Name:      "loads_total",
		Help:      "Total graph document loads by result",
	}, []string{"result"})

	// storeSaves counts document saves.
	// Labels: status (success, error)
	storeSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "graph",
		Name:      "saves_total",
		Help:      "Total graph document saves by status",
	}, []string{"status"})

	// storeLoadLatency measures document read and parse time.
	storeLoadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aquitari",
		Subsystem: "graph",
		Name:      "load_duration_seconds",
		Help:      "Graph document load latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})

	// activeRevision is the revision of the published snapshot.
	activeRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aquitari",
		Subsystem: "graph",
		Name:      "active_revision",
		Help:      "Revision of the currently published graph snapshot",
	})

	// activeSize tracks node and edge counts of the published snapshot.
	// Labels: kind (nodes, edges)
	activeSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aquitari",
		Subsystem: "graph",
		Name:      "active_size",
		Help:      "Node and edge counts of the published graph snapshot",
	}, []string{"kind"})
)

func recordLoad(result string, seconds float64) {
	storeLoads.WithLabelValues(result).Inc()
	storeLoadLatency.Observe(seconds)
}

func recordSave(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	storeSaves.WithLabelValues(status).Inc()
}

func recordSwap(s *Snapshot) {
	activeRevision.Set(float64(s.Revision))
	activeSize.WithLabelValues("nodes").Set(float64(s.Graph.NodeCount()))
	activeSize.WithLabelValues("edges").Set(float64(s.Graph.EdgeCount()))
}

// startStoreSpan starts a span for a store operation.
func startStoreSpan(ctx context.Context, op, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Store."+op,
		trace.WithAttributes(
			attribute.String("graph.path", path),
		),
	)
}
