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
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the persisted shape of a graph.
//
//	{"nodes": [...], "edges": [...], "system_id": "...", "metadata": {"version": "..."}}
type Document struct {
	Nodes    []*Node        `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	SystemID string         `json:"system_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Version returns metadata.version, or "" when absent.
func (d *Document) Version() string {
	if v, ok := d.Metadata["version"].(string); ok {
		return v
	}
	return ""
}

// DecodeDocument parses document bytes.
//
// Numbers are decoded as json.Number so attribute values keep their exact
// textual form through a load/save cycle.
func DecodeDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return &doc, nil
}

// EncodeDocument renders a document as indented UTF-8 JSON.
func EncodeDocument(doc *Document) ([]byte, error) {
	if doc.Nodes == nil {
		doc.Nodes = []*Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode graph document: %w", err)
	}
	return buf.Bytes(), nil
}

// FromDocument builds a graph from a decoded document.
//
// # Description
//
// Invalid entries are skipped rather than failing the whole document:
// nodes without an ID, repeated node IDs (first wins), edges with a missing
// endpoint, and repeated edge triples. Each skipped entry is reported in the
// returned slice so the caller can log it.
//
// # Outputs
//
//   - *Graph: The graph, never nil.
//   - []error: One entry per skipped node or edge.
func FromDocument(doc *Document) (*Graph, []error) {
	g := NewGraph()
	if doc == nil {
		return g, nil
	}
	g.SystemID = doc.SystemID
	g.Metadata = doc.Metadata

	var skipped []error
	for i, n := range doc.Nodes {
		if err := g.AddNode(n); err != nil {
			skipped = append(skipped, fmt.Errorf("node %d: %w", i, err))
		}
	}
	for i, e := range doc.Edges {
		if err := g.AddEdge(e); err != nil {
			skipped = append(skipped, fmt.Errorf("edge %d: %w", i, err))
		}
	}
	return g, skipped
}

// ToDocument converts the graph back to its persisted shape.
func (g *Graph) ToDocument() *Document {
	return &Document{
		Nodes:    g.Nodes(),
		Edges:    g.Edges(),
		SystemID: g.SystemID,
		Metadata: g.Metadata,
	}
}
