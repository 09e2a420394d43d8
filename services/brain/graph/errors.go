// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the state knowledge graph and its file-backed store.
//
// The graph is a small directed graph whose nodes are biological or system
// states (low_rest, executive_fatigue, safe_mode) and whose edges carry a
// free-form causal relation label. It is persisted as a single JSON document
// that several processes read and rewrite without a shared database.
//
// # Ownership Model
//
// A Graph is a plain value built by FromDocument or by the mutation methods.
// The Store never mutates a graph it has published: every Reload builds a new
// Graph and swaps the active snapshot pointer.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent mutation. Writers (the feedback mutator and
// the similarity linker) each work on a private graph returned by Load. Graphs
// published through Store.Current are read-only and may be shared freely.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when an edge references a non-existent node.
	// Both source and target nodes must exist before an edge can be created.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node with an ID that
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrDuplicateEdge is returned when adding an edge whose
	// (source, target, relation) triple already exists.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrInvalidNode is returned for nodes with an empty ID.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge is returned for edges with an empty endpoint.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrMalformedDocument is returned by DecodeDocument when the bytes are not
	// a JSON object of the expected shape.
	ErrMalformedDocument = errors.New("malformed graph document")
)
