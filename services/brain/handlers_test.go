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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/diagnosis"
	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestStore(t *testing.T, reload bool) *graph.Store {
	t.Helper()
	g := graph.NewGraph()
	require.NoError(t, g.AddNode(&graph.Node{ID: "low_rest", Type: "Biological"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "executive_fatigue", Type: "CognitiveState"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "safe_mode", Type: "SystemState"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "low_rest", Target: "executive_fatigue", Relation: "TRIGGERS"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "executive_fatigue", Target: "safe_mode", Relation: "TRIGGERS"}))

	store := graph.NewStore(filepath.Join(t.TempDir(), "brain_graph.json"))
	require.NoError(t, store.Save(context.Background(), g))
	if reload {
		store.Reload(context.Background())
	}
	return store
}

func newTestRouter(t *testing.T, store *graph.Store) *gin.Engine {
	t.Helper()
	svc := NewService(store, diagnosis.DefaultOptions())
	return NewRouter("brain-test", NewHandlers(svc))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleDiagnose_KnownState(t *testing.T) {
	router := newTestRouter(t, newTestStore(t, true))

	w := doJSON(t, router, http.MethodPost, "/v1/brain/diagnose", DiagnoseRequest{State: "low_rest", Entity: "remad_01"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		Entity    string           `json:"entity"`
		State     string           `json:"state"`
		Timestamp float64          `json:"timestamp"`
		Diagnosis diagnosis.Result `json:"diagnosis"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "remad_01", resp.Entity)
	assert.Equal(t, "low_rest", resp.State)
	assert.InDelta(t, float64(time.Now().Unix()), resp.Timestamp, 60)
	assert.Equal(t, diagnosis.StatusOK, resp.Diagnosis.Status)
	assert.True(t, resp.Diagnosis.ActivatesSafeMode)
	assert.Equal(t, []diagnosis.Risk{{Risk: "executive_fatigue", Relation: "TRIGGERS"}}, resp.Diagnosis.PredictedRisks)
	assert.Equal(t, []string{
		"low_rest --[TRIGGERS]--> executive_fatigue",
		"executive_fatigue --[TRIGGERS]--> safe_mode",
	}, resp.Diagnosis.ReasoningPath)
}

func TestHandleDiagnose_UnknownState(t *testing.T) {
	router := newTestRouter(t, newTestStore(t, true))

	w := doJSON(t, router, http.MethodPost, "/v1/brain/diagnose", `{"state": "xyz"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, DefaultEntity, resp["entity"])
	assert.Equal(t, "xyz", resp["state"])
	assert.Equal(t, map[string]any{
		"info":                "No information available in the Knowledge Graph",
		"status":              "unknown_state",
		"current_state":       "xyz",
		"activates_safe_mode": false,
	}, resp["diagnosis"])
}

func TestHandleDiagnose_BadRequest(t *testing.T) {
	router := newTestRouter(t, newTestStore(t, true))

	for name, body := range map[string]string{
		"missing state": `{"entity": "x"}`,
		"not json":      `state=low_rest`,
		"empty":         ``,
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/brain/diagnose", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "INVALID_REQUEST", resp.Code)
		})
	}
}

func TestHandleDiagnose_RequestIDEchoed(t *testing.T) {
	router := newTestRouter(t, newTestStore(t, true))

	req := httptest.NewRequest(http.MethodPost, "/v1/brain/diagnose", bytes.NewBufferString(`{"state": "low_rest"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, newTestStore(t, false))

	w := doJSON(t, router, http.MethodGet, "/v1/brain/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandleReady(t *testing.T) {
	store := newTestStore(t, false)
	router := newTestRouter(t, store)

	w := doJSON(t, router, http.MethodGet, "/v1/brain/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	store.Reload(context.Background())
	w = doJSON(t, router, http.MethodGet, "/v1/brain/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, graph.Revision(1), resp.Revision)
	assert.Equal(t, 3, resp.Nodes)
	assert.Equal(t, 2, resp.Edges)
}

func TestMetricsEndpoint(t *testing.T) {
	store := newTestStore(t, true)
	router := newTestRouter(t, store)
	doJSON(t, router, http.MethodPost, "/v1/brain/diagnose", `{"state": "low_rest"}`)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aquitari_diagnosis_total")
}

func TestService_SeesReloadedSnapshot(t *testing.T) {
	store := newTestStore(t, true)
	svc := NewService(store, diagnosis.DefaultOptions())
	ctx := context.Background()

	g := store.Load(ctx)
	require.True(t, g.RemoveNode("executive_fatigue"))
	require.NoError(t, store.Save(ctx, g))

	before := svc.Diagnose(ctx, DiagnoseRequest{State: "low_rest"})
	assert.True(t, before.Diagnosis.(diagnosis.Result).ActivatesSafeMode, "stale snapshot until reload")

	store.Reload(ctx)
	after := svc.Diagnose(ctx, DiagnoseRequest{State: "low_rest"})
	result := after.Diagnosis.(diagnosis.Result)
	assert.False(t, result.ActivatesSafeMode)
	assert.Empty(t, result.PredictedRisks)
	assert.Equal(t, DefaultEntity, after.Entity)
}
