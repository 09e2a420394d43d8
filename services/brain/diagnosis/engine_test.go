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
	"context"
	"testing"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource serves a fixed snapshot.
type staticSource struct {
	snap *graph.Snapshot
}

func (s staticSource) Current() *graph.Snapshot { return s.snap }

func engineFor(g *graph.Graph) *Engine {
	return NewEngine(staticSource{snap: &graph.Snapshot{Graph: g, Revision: 7}}, DefaultOptions())
}

func triggerChain(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	require.NoError(t, g.AddNode(&graph.Node{ID: "low_rest", Type: "Biological"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "executive_fatigue", Type: "CognitiveState"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "safe_mode", Type: "SystemState"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "low_rest", Target: "executive_fatigue", Relation: "TRIGGERS"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "executive_fatigue", Target: "safe_mode", Relation: "TRIGGERS"}))
	return g
}

func TestDiagnose_ChainReachesSafeMode(t *testing.T) {
	result := engineFor(triggerChain(t)).Diagnose(context.Background(), "low_rest")

	assert.True(t, result.Known())
	assert.Equal(t, "low_rest", result.CurrentState)
	assert.Equal(t, []Risk{{Risk: "executive_fatigue", Relation: "TRIGGERS"}}, result.PredictedRisks)
	assert.True(t, result.ActivatesSafeMode)
	assert.Equal(t, []string{
		"low_rest --[TRIGGERS]--> executive_fatigue",
		"executive_fatigue --[TRIGGERS]--> safe_mode",
	}, result.ReasoningPath)
	assert.Equal(t, graph.Revision(7), result.Revision)
}

func TestDiagnose_UnknownState(t *testing.T) {
	result := engineFor(triggerChain(t)).Diagnose(context.Background(), "nonexistent_state")

	assert.False(t, result.Known())
	assert.Equal(t, StatusUnknownState, result.Status)
	assert.Equal(t, "nonexistent_state", result.CurrentState)
	assert.Contains(t, result.Error, "nonexistent_state")
	assert.False(t, result.ActivatesSafeMode)
	assert.Empty(t, result.PredictedRisks)
	assert.Empty(t, result.ReasoningPath)
}

func TestDiagnose_UnknownStateOnEmptyGraph(t *testing.T) {
	result := engineFor(graph.NewGraph()).Diagnose(context.Background(), "anything")
	assert.Equal(t, StatusUnknownState, result.Status)
}

func TestDiagnose_AfterNodeRemoval(t *testing.T) {
	g := triggerChain(t)
	require.True(t, g.RemoveNode("executive_fatigue"))

	result := engineFor(g).Diagnose(context.Background(), "low_rest")
	assert.True(t, result.Known())
	assert.Empty(t, result.PredictedRisks)
	assert.False(t, result.ActivatesSafeMode)
	assert.Empty(t, result.ReasoningPath)
}

func TestDiagnose_NoSafeModeNode(t *testing.T) {
	g := triggerChain(t)
	require.True(t, g.RemoveNode("safe_mode"))
	engine := engineFor(g)

	for _, id := range []string{"low_rest", "executive_fatigue"} {
		t.Run(id, func(t *testing.T) {
			assert.False(t, engine.Diagnose(context.Background(), id).ActivatesSafeMode)
		})
	}
}

func TestDiagnose_SafeModeItself(t *testing.T) {
	result := engineFor(triggerChain(t)).Diagnose(context.Background(), "safe_mode")
	assert.True(t, result.ActivatesSafeMode)
	assert.Empty(t, result.PredictedRisks)
}

func TestDiagnose_RisksInInsertionOrder(t *testing.T) {
	g := graph.NewGraph()
	for _, id := range []string{"s", "z", "a", "m"} {
		require.NoError(t, g.AddNode(&graph.Node{ID: id}))
	}
	require.NoError(t, g.AddEdge(graph.Edge{Source: "s", Target: "z", Relation: "r1"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "s", Target: "a", Relation: "r2"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "s", Target: "a", Relation: "r3"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "s", Target: "m", Relation: "r4"}))

	result := engineFor(g).Diagnose(context.Background(), "s")
	assert.Equal(t, []Risk{
		{Risk: "z", Relation: "r1"},
		{Risk: "a", Relation: "r2"},
		{Risk: "a", Relation: "r3"},
		{Risk: "m", Relation: "r4"},
	}, result.PredictedRisks)
	// Tree edges only: "a" is reached once.
	assert.Equal(t, []string{"s --[r1]--> z", "s --[r2]--> a", "s --[r4]--> m"}, result.ReasoningPath)
}

func TestTrace_DepthBound(t *testing.T) {
	g := graph.NewGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(&graph.Node{ID: id}))
	}
	require.NoError(t, g.AddEdge(graph.Edge{Source: "a", Target: "b", Relation: "r"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "b", Target: "c", Relation: ""}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "c", Target: "d", Relation: "r"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "c", Target: "a", Relation: "r"}))

	tests := []struct {
		depth int
		want  []string
	}{
		{0, []string{}},
		{1, []string{"a --[r]--> b"}},
		{2, []string{"a --[r]--> b", "b --[leads to]--> c"}},
		{5, []string{"a --[r]--> b", "b --[leads to]--> c", "c --[r]--> d"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Trace(g, "a", tt.depth), "depth %d", tt.depth)
	}
}

func TestDiagnose_ReadsLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := graph.NewStore(dir + "/brain_graph.json")
	ctx := context.Background()
	engine := NewEngine(store, DefaultOptions())

	assert.Equal(t, StatusUnknownState, engine.Diagnose(ctx, "low_rest").Status)

	require.NoError(t, store.Save(ctx, triggerChain(t)))
	store.Reload(ctx)

	result := engine.Diagnose(ctx, "low_rest")
	assert.True(t, result.ActivatesSafeMode)
	assert.Equal(t, graph.Revision(1), result.Revision)
}

func TestDiagnose_RecordsMetrics(t *testing.T) {
	engine := engineFor(triggerChain(t))
	safe := diagnosisTotal.WithLabelValues(StatusOK, "true")
	unknown := diagnosisTotal.WithLabelValues(StatusUnknownState, "false")
	safeBefore := testutil.ToFloat64(safe)
	unknownBefore := testutil.ToFloat64(unknown)

	engine.Diagnose(context.Background(), "low_rest")
	engine.Diagnose(context.Background(), "executive_fatigue")
	engine.Diagnose(context.Background(), "missing")

	assert.Equal(t, safeBefore+2, testutil.ToFloat64(safe))
	assert.Equal(t, unknownBefore+1, testutil.ToFloat64(unknown))
}
