// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts handled messages.
	// Labels: result (saved, malformed, save_error)
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "feedback",
		Name:      "messages_total",
		Help:      "Total feedback messages by result",
	}, []string{"result"})

	// actionsTotal counts individual actions.
	// Labels: action, outcome (applied, noop, skipped, failed)
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "feedback",
		Name:      "actions_total",
		Help:      "Total feedback actions by type and outcome",
	}, []string{"action", "outcome"})

	// enrichmentsTotal counts enrichment passes run by the worker.
	// Labels: status (success, error)
	enrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "feedback",
		Name:      "enrichments_total",
		Help:      "Total enrichment passes triggered by feedback",
	}, []string{"status"})
)

func recordMessage(result string) {
	messagesTotal.WithLabelValues(result).Inc()
}

func recordAction(action ActionType, outcome Outcome) {
	// Failed actions may carry arbitrary type strings; keep label cardinality bounded.
	name := string(action)
	if outcome == OutcomeFailed {
		name = "invalid"
	}
	actionsTotal.WithLabelValues(name, string(outcome)).Inc()
}

func recordEnrichment(status string) {
	enrichmentsTotal.WithLabelValues(status).Inc()
}
