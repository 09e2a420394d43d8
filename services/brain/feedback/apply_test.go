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
	"encoding/json"
	"testing"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAction(t *testing.T, raw string) Action {
	t.Helper()
	a, err := NewDecoder().DecodeAction(json.RawMessage(raw))
	require.NoError(t, err)
	return a
}

func seedGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	require.NoError(t, g.AddNode(&graph.Node{ID: "low_rest", Type: "Biological", Description: "Short sleep",
		Attributes: map[string]any{"unit": "hours", "source": "watch"}}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "executive_fatigue", Type: "CognitiveState"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "safe_mode", Type: "SystemState"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "low_rest", Target: "executive_fatigue", Relation: "TRIGGERS"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "executive_fatigue", Target: "safe_mode", Relation: "TRIGGERS"}))
	return g
}

func TestApply_AddNodeIsIdempotent(t *testing.T) {
	g := seedGraph(t)
	a := mustAction(t, `{"action": "add_node", "node": {"id": "hrv_low", "type": "Biological"}}`)

	outcome, _ := Apply(g, a)
	assert.Equal(t, OutcomeApplied, outcome)
	outcome, _ = Apply(g, a)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 4, g.NodeCount())

	// Re-adding an existing id never overwrites it.
	outcome, _ = Apply(g, mustAction(t, `{"action": "add_node", "node": {"id": "low_rest", "type": "Other"}}`))
	assert.Equal(t, OutcomeNoop, outcome)
	n, _ := g.GetNode("low_rest")
	assert.Equal(t, "Biological", n.Type)
}

func TestApply_AddEdgeIsIdempotent(t *testing.T) {
	g := seedGraph(t)
	a := mustAction(t, `{"action": "add_edge", "edge": {"source": "low_rest", "target": "safe_mode", "relation": "ESCALATES"}}`)

	for i := 0; i < 3; i++ {
		Apply(g, a)
	}

	count := 0
	for _, e := range g.Successors("low_rest") {
		if e.Target == "safe_mode" && e.Relation == "ESCALATES" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestApply_AddEdgeWithMissingEndpointIsSkipped(t *testing.T) {
	g := seedGraph(t)
	outcome, detail := Apply(g, mustAction(t,
		`{"action": "add_edge", "edge": {"source": "low_rest", "target": "ghost", "relation": "r"}}`))

	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Contains(t, detail, "ghost")
	assert.False(t, g.HasNode("ghost"), "endpoints are never auto-created")
	assert.Equal(t, 2, g.EdgeCount())
}

func TestApply_UpdateNodeMergesPartially(t *testing.T) {
	g := seedGraph(t)
	outcome, _ := Apply(g, mustAction(t,
		`{"action": "update_node", "node": {"id": "low_rest", "description": "Under 6h sleep", "attributes": {"unit": "h", "night": true}}}`))
	require.Equal(t, OutcomeApplied, outcome)

	n, _ := g.GetNode("low_rest")
	assert.Equal(t, "Biological", n.Type)
	assert.Equal(t, "Under 6h sleep", n.Description)
	assert.Equal(t, map[string]any{"unit": "h", "source": "watch", "night": true}, n.Attributes)

	outcome, _ = Apply(g, mustAction(t, `{"action": "update_node", "node": {"id": "ghost", "type": "X"}}`))
	assert.Equal(t, OutcomeNoop, outcome)
	assert.False(t, g.HasNode("ghost"))
}

func TestApply_DeleteNodeCascades(t *testing.T) {
	g := seedGraph(t)
	outcome, _ := Apply(g, mustAction(t, `{"action": "delete_node", "node": {"id": "executive_fatigue"}}`))
	require.Equal(t, OutcomeApplied, outcome)

	assert.False(t, g.HasNode("executive_fatigue"))
	for _, e := range g.Edges() {
		assert.NotEqual(t, "executive_fatigue", e.Source)
		assert.NotEqual(t, "executive_fatigue", e.Target)
	}
	assert.Empty(t, g.Successors("low_rest"))

	outcome, _ = Apply(g, mustAction(t, `{"action": "delete_node", "node": {"id": "executive_fatigue"}}`))
	assert.Equal(t, OutcomeNoop, outcome)
}

func TestApply_DeleteEdgeExactTriple(t *testing.T) {
	g := seedGraph(t)

	outcome, _ := Apply(g, mustAction(t,
		`{"action": "delete_edge", "edge": {"source": "low_rest", "target": "executive_fatigue", "relation": "CAUSES"}}`))
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 2, g.EdgeCount())

	outcome, _ = Apply(g, mustAction(t,
		`{"action": "delete_edge", "edge": {"source": "low_rest", "target": "executive_fatigue", "relation": "TRIGGERS"}}`))
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, g.EdgeCount())
}
