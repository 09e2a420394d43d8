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
	"fmt"
	"maps"
)

// DefaultSafeModeID is the distinguished terminal state.
const DefaultSafeModeID = "safe_mode"

// Node is a state in the knowledge graph.
type Node struct {
	// ID uniquely identifies the node within a graph.
	ID string `json:"id"`

	// Type is an optional free-form tag, e.g. "Biological", "CognitiveState",
	// "SystemState".
	Type string `json:"type,omitempty"`

	// Description is optional human text. It feeds the similarity linker.
	Description string `json:"description,omitempty"`

	// Attributes is an open map of scalar or list-of-scalar values.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NodePatch carries a partial node update. Nil fields are left untouched.
type NodePatch struct {
	ID          string
	Type        *string
	Description *string
	Attributes  map[string]any
}

// Edge is a directed, labelled relation between two nodes.
type Edge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// String renders the edge as "source --[relation]--> target".
func (e Edge) String() string {
	return fmt.Sprintf("%s --[%s]--> %s", e.Source, e.Relation, e.Target)
}

// Graph is a directed multigraph keyed by node ID.
//
// # Description
//
// Nodes are addressable by ID in O(1) and successors are enumerable in
// O(out-degree). Parallel edges between the same ordered pair are allowed
// only when their relations differ. Node and edge insertion order is
// preserved so that documents round-trip in their original order.
type Graph struct {
	// SystemID is carried through from the document, never interpreted.
	SystemID string

	// Metadata is carried through from the document, never interpreted.
	Metadata map[string]any

	nodes     map[string]*Node
	nodeOrder []string
	edges     []Edge
	outgoing  map[string][]int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]int),
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// GetNode returns the node with the given ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Successors returns the outgoing edges of id in insertion order.
func (g *Graph) Successors(id string) []Edge {
	idx := g.outgoing[id]
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}

// AddNode inserts a node.
//
// # Outputs
//
//   - error: ErrInvalidNode for an empty ID, ErrDuplicateNode if the ID exists.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return ErrInvalidNode
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return nil
}

// MergeNode applies a partial update to an existing node.
//
// Present fields overwrite, absent fields are kept, and attributes are merged
// key by key. An attribute therefore cannot be removed through a merge;
// callers that need to drop one delete and re-add the node. Returns
// ErrNodeNotFound if the node does not exist.
func (g *Graph) MergeNode(p NodePatch) error {
	n, ok := g.nodes[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, p.ID)
	}
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Description != nil {
		n.Description = *p.Description
	}
	if len(p.Attributes) > 0 {
		if n.Attributes == nil {
			n.Attributes = make(map[string]any, len(p.Attributes))
		}
		maps.Copy(n.Attributes, p.Attributes)
	}
	return nil
}

// HasEdge reports whether the exact (source, target, relation) triple exists.
func (g *Graph) HasEdge(source, target, relation string) bool {
	for _, i := range g.outgoing[source] {
		e := g.edges[i]
		if e.Target == target && e.Relation == relation {
			return true
		}
	}
	return false
}

// AddEdge inserts an edge between two existing nodes.
//
// # Outputs
//
//   - error: ErrInvalidEdge for empty endpoints, ErrNodeNotFound when an
//     endpoint is missing, ErrDuplicateEdge when the triple already exists.
//     Edges are never created with a dangling endpoint.
func (g *Graph) AddEdge(e Edge) error {
	if e.Source == "" || e.Target == "" {
		return ErrInvalidEdge
	}
	if !g.HasNode(e.Source) {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, e.Source)
	}
	if !g.HasNode(e.Target) {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, e.Target)
	}
	if g.HasEdge(e.Source, e.Target, e.Relation) {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
	}
	g.outgoing[e.Source] = append(g.outgoing[e.Source], len(g.edges))
	g.edges = append(g.edges, e)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
// Returns false if the node did not exist.
func (g *Graph) RemoveNode(id string) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)
	for i, nid := range g.nodeOrder {
		if nid == id {
			g.nodeOrder = append(g.nodeOrder[:i], g.nodeOrder[i+1:]...)
			break
		}
	}
	g.filterEdges(func(e Edge) bool { return e.Source != id && e.Target != id })
	return true
}

// RemoveEdge deletes edges matching the exact triple and returns how many
// were removed.
func (g *Graph) RemoveEdge(source, target, relation string) int {
	before := len(g.edges)
	g.filterEdges(func(e Edge) bool {
		return e.Source != source || e.Target != target || e.Relation != relation
	})
	return before - len(g.edges)
}

// filterEdges keeps edges for which keep returns true and rebuilds the
// successor index.
func (g *Graph) filterEdges(keep func(Edge) bool) {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	g.outgoing = make(map[string][]int, len(g.nodes))
	for i, e := range g.edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], i)
	}
}

// Reachable reports whether a directed path leads from one node to another.
// A node is reachable from itself. Missing nodes are never reachable.
func (g *Graph) Reachable(from, to string) bool {
	if !g.HasNode(from) || !g.HasNode(to) {
		return false
	}
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, i := range g.outgoing[cur] {
			next := g.edges[i].Target
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
