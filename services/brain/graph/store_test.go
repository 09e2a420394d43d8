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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
  "nodes": [
    {"id": "low_rest", "type": "Biological", "description": "Sleep below baseline", "attributes": {"threshold_hours": 6, "sources": ["watch", "ring"]}},
    {"id": "executive_fatigue", "type": "CognitiveState", "description": "Reduced executive function"},
    {"id": "safe_mode", "type": "SystemState", "description": "Protective low-load mode", "attributes": {"priority": 1.5, "manual": false}}
  ],
  "edges": [
    {"source": "low_rest", "target": "executive_fatigue", "relation": "causes"},
    {"source": "executive_fatigue", "target": "safe_mode", "relation": "triggers"}
  ],
  "system_id": "aquitari-local",
  "metadata": {"version": "1.2.0", "owner": "local_user"}
}`

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".writing"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain_graph.json")
	return NewStore(path), path
}

func TestStore_LoadMissingCreatesEmptyDocument(t *testing.T) {
	store, path := newTestStore(t)

	g := store.Load(context.Background())
	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes": [], "edges": []}`, string(data))
}

func TestStore_LoadCorruptYieldsEmptyGraph(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"nodes": [{"id": "a"`},
		{"not json", "hello"},
		{"wrong shape", `{"nodes": "oops"}`},
		{"empty file", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, path := newTestStore(t)
			writeDoc(t, path, tt.content)

			g := store.Load(context.Background())
			require.NotNil(t, g)
			assert.Equal(t, 0, g.NodeCount())
		})
	}
}

func TestStore_CorruptDocumentSelfHealsOnSave(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, "{{{")

	g := store.Load(context.Background())
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: "State"}))
	require.NoError(t, store.Save(context.Background(), g))

	reloaded := store.Load(context.Background())
	assert.True(t, reloaded.HasNode("a"))
}

func TestStore_RoundTripIsLossless(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, sampleDocument)

	g := store.Load(context.Background())
	require.Equal(t, 3, g.NodeCount())
	require.Equal(t, 2, g.EdgeCount())
	require.NoError(t, store.Save(context.Background(), g))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, sampleDocument, string(data))

	// Attribute numbers keep their textual form.
	n, ok := g.GetNode("low_rest")
	require.True(t, ok)
	assert.Equal(t, json.Number("6"), n.Attributes["threshold_hours"])
}

func TestStore_UntypedNodeRoundTripIsStable(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, `{"nodes": [{"id": "hrv_low"}, {"id": "safe_mode", "type": "SystemState"}], "edges": []}`)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, store.Load(ctx)))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(first), `"type"`), "an absent type stays absent")

	require.NoError(t, store.Save(ctx, store.Load(ctx)))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestStore_SaveIsHumanReadable(t *testing.T) {
	store, path := newTestStore(t)
	g := NewGraph()
	require.NoError(t, g.AddNode(&Node{ID: "a<b>", Type: "State"}))
	require.NoError(t, store.Save(context.Background(), g))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"nodes\": [")
	assert.Contains(t, string(data), `"a<b>"`, "html characters are not escaped")
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Save(context.Background(), NewGraph()))
	require.NoError(t, store.Save(context.Background(), NewGraph()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "brain_graph.json", entries[0].Name())
}

func TestStore_LoadSkipsDanglingEdges(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, `{
		"nodes": [{"id": "a", "type": "State"}, {"id": "a", "type": "Dup"}],
		"edges": [
			{"source": "a", "target": "ghost", "relation": "r"},
			{"source": "a", "target": "a", "relation": "self"},
			{"source": "a", "target": "a", "relation": "self"}
		]
	}`)

	g := store.Load(context.Background())
	assert.Equal(t, 1, g.NodeCount())
	n, _ := g.GetNode("a")
	assert.Equal(t, "State", n.Type, "first duplicate wins")
	assert.Equal(t, 1, g.EdgeCount())
	assert.False(t, g.HasNode("ghost"))
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	initial := store.Current()
	assert.Equal(t, Revision(0), initial.Revision)
	assert.Equal(t, 0, initial.Graph.NodeCount())

	writeDoc(t, path, sampleDocument)
	snap := store.Reload(ctx)
	assert.Equal(t, Revision(1), snap.Revision)
	assert.Equal(t, 3, store.Graph().NodeCount())
	assert.False(t, snap.ModTime.IsZero())

	// The previously held snapshot is untouched.
	assert.Equal(t, 0, initial.Graph.NodeCount())

	writeDoc(t, path, `{"nodes": [{"id": "only", "type": "State"}], "edges": []}`)
	snap = store.Reload(ctx)
	assert.Equal(t, Revision(2), snap.Revision)
	assert.True(t, store.Graph().HasNode("only"))
}

func TestStore_SubscribeReceivesRevisions(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, sampleDocument)

	revs, cancel := store.Subscribe(4)
	defer cancel()

	store.Reload(context.Background())
	store.Reload(context.Background())

	select {
	case r := <-revs:
		assert.Equal(t, Revision(1), r)
	case <-time.After(time.Second):
		t.Fatal("no revision received")
	}
	assert.Equal(t, Revision(2), <-revs)
}

func TestStore_SlowSubscriberKeepsLatest(t *testing.T) {
	store, path := newTestStore(t)
	writeDoc(t, path, sampleDocument)

	revs, cancel := store.Subscribe(1)
	for i := 0; i < 5; i++ {
		store.Reload(context.Background())
	}
	assert.Equal(t, Revision(5), <-revs)

	cancel()
	cancel()
	_, open := <-revs
	assert.False(t, open)
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	small := `{"nodes": [{"id": "a", "type": "S"}], "edges": []}`
	writeDoc(t, path, sampleDocument)
	store.Reload(ctx)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := store.Graph()
				n := g.NodeCount()
				assert.True(t, n == 1 || n == 3, "unexpected node count %d", n)
				if n == 3 {
					assert.Equal(t, 2, g.EdgeCount())
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			writeDoc(t, path, small)
		} else {
			writeDoc(t, path, sampleDocument)
		}
		store.Reload(ctx)
	}
	close(stop)
	wg.Wait()
}

// Two writers doing blind read-modify-write on the same document: the later
// save wins entirely and the earlier writer's change is lost.
func TestStore_LostUpdateBetweenBlindWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_graph.json")
	writeDoc(t, path, sampleDocument)
	ctx := context.Background()

	writerA := NewStore(path)
	writerB := NewStore(path)

	gA := writerA.Load(ctx)
	gB := writerB.Load(ctx)

	require.NoError(t, gA.AddNode(&Node{ID: "from_a", Type: "State"}))
	require.NoError(t, writerA.Save(ctx, gA))

	require.NoError(t, gB.AddNode(&Node{ID: "from_b", Type: "State"}))
	require.NoError(t, writerB.Save(ctx, gB))

	final := NewStore(path).Load(ctx)
	assert.True(t, final.HasNode("from_b"))
	assert.False(t, final.HasNode("from_a"), "earlier writer's update is lost")
}
