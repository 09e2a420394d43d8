// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnosis

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// diagnosisLatency measures diagnosis evaluation time.
	// Labels: status (ok, unknown_state)
	diagnosisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aquitari",
		Subsystem: "diagnosis",
		Name:      "latency_seconds",
		Help:      "Diagnosis evaluation latency in seconds",
		Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"status"})

	// diagnosisTotal counts diagnoses.
	// Labels: status, safe_mode (true, false)
	diagnosisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquitari",
		Subsystem: "diagnosis",
		Name:      "total",
		Help:      "Total diagnoses by status and safe mode outcome",
	}, []string{"status", "safe_mode"})
)

func recordDiagnosis(status string, safeMode bool, seconds float64) {
	diagnosisLatency.WithLabelValues(status).Observe(seconds)
	diagnosisTotal.WithLabelValues(status, strconv.FormatBool(safeMode)).Inc()
}
