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
	"errors"
	"fmt"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
)

// Outcome classifies what an action did.
type Outcome string

const (
	// OutcomeApplied means the graph changed.
	OutcomeApplied Outcome = "applied"

	// OutcomeNoop means the action was valid but had nothing to do
	// (node already present, unknown id on update or delete, no matching edge).
	OutcomeNoop Outcome = "noop"

	// OutcomeSkipped means the action was refused, e.g. an edge with a
	// missing endpoint.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the action could not be decoded or validated.
	OutcomeFailed Outcome = "failed"
)

// ActionResult records the outcome of one action in a message.
type ActionResult struct {
	Index   int        `json:"index"`
	Action  ActionType `json:"action,omitempty"`
	Outcome Outcome    `json:"outcome"`
	Detail  string     `json:"detail,omitempty"`
}

// Apply performs one action against g.
//
// # Description
//
// Every action is idempotent: replaying it leaves the graph unchanged.
//
//   - add_node: insert when absent, otherwise no-op.
//   - add_edge: insert when both endpoints exist and the triple is absent.
//     A missing endpoint is skipped, never auto-created.
//   - update_node: partial merge into an existing node, no-op when unknown.
//   - delete_node: remove the node and every edge touching it.
//   - delete_edge: remove the exact triple, no-op when absent.
func Apply(g *graph.Graph, a Action) (Outcome, string) {
	switch a.Type {
	case ActionAddNode:
		if g.HasNode(a.Node.ID) {
			return OutcomeNoop, fmt.Sprintf("node %q already exists", a.Node.ID)
		}
		if err := g.AddNode(a.Node.toNode()); err != nil {
			return OutcomeSkipped, err.Error()
		}
		return OutcomeApplied, ""

	case ActionAddEdge:
		err := g.AddEdge(a.Edge.toEdge())
		switch {
		case err == nil:
			return OutcomeApplied, ""
		case errors.Is(err, graph.ErrDuplicateEdge):
			return OutcomeNoop, err.Error()
		default:
			return OutcomeSkipped, err.Error()
		}

	case ActionUpdateNode:
		if err := g.MergeNode(a.Node.toPatch()); err != nil {
			return OutcomeNoop, err.Error()
		}
		return OutcomeApplied, ""

	case ActionDeleteNode:
		if !g.RemoveNode(a.Node.ID) {
			return OutcomeNoop, fmt.Sprintf("node %q not found", a.Node.ID)
		}
		return OutcomeApplied, ""

	case ActionDeleteEdge:
		if g.RemoveEdge(a.Edge.Source, a.Edge.Target, a.Edge.Relation) == 0 {
			return OutcomeNoop, "no matching edge"
		}
		return OutcomeApplied, ""
	}
	return OutcomeFailed, fmt.Sprintf("unsupported action %q", a.Type)
}
