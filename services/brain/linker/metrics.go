// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// edgesAdded counts edges added by the linker.
	// Labels: pass (lexical, semantic)
	edgesAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "linker",
		Name:      "edges_added_total",
		Help:      "Total edges added by enrichment passes",
	}, []string{"pass"})

	// classifierRequests counts classifier calls.
	// Labels: classifier (webhook, llm, static), status (ok, fallback)
	classifierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "linker",
		Name:      "classifier_requests_total",
		Help:      "Total relation classifier calls by outcome",
	}, []string{"classifier", "status"})

	// classifierLatency measures classifier call time.
	// Labels: classifier
	classifierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aquitari",
		Subsystem: "linker",
		Name:      "classifier_latency_seconds",
		Help:      "Relation classifier latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"classifier"})

	// runDuration measures whole enrichment passes.
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aquitari",
		Subsystem: "linker",
		Name:      "run_duration_seconds",
		Help:      "Enrichment pass duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})
)

func recordEdges(pass string, n int) {
	edgesAdded.WithLabelValues(pass).Add(float64(n))
}

func recordClassifier(classifier, status string, seconds float64) {
	classifierRequests.WithLabelValues(classifier, status).Inc()
	classifierLatency.WithLabelValues(classifier).Observe(seconds)
}

func recordRun(seconds float64) {
	runDuration.Observe(seconds)
}
