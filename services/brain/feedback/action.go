// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback applies real-time mutation commands to the knowledge
// graph.
//
// A message is either a single action or a batch:
//
//	{"action": "add_edge", "edge": {"source": "a", "target": "b", "relation": "TRIGGERS"}}
//	{"actions": [{"action": "add_node", "node": {"id": "a", "type": "State"}}, ...]}
//
// Every action is applied independently against one loaded snapshot; one
// failing action never aborts its siblings. The document is saved once per
// message and an enrichment pass is then queued.
package feedback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformedMessage is returned when a payload is not a JSON object.
	ErrMalformedMessage = errors.New("malformed feedback message")

	// ErrMalformedAction marks an action that cannot be decoded or validated.
	ErrMalformedAction = errors.New("malformed feedback action")
)

// ActionType names a graph mutation.
type ActionType string

const (
	ActionAddNode    ActionType = "add_node"
	ActionAddEdge    ActionType = "add_edge"
	ActionUpdateNode ActionType = "update_node"
	ActionDeleteNode ActionType = "delete_node"
	ActionDeleteEdge ActionType = "delete_edge"
)

// needsNode reports whether the action carries a node payload.
func (t ActionType) needsNode() bool {
	return t == ActionAddNode || t == ActionUpdateNode || t == ActionDeleteNode
}

// Action is one decoded mutation command.
type Action struct {
	Type ActionType   `json:"action" validate:"required,oneof=add_node add_edge update_node delete_node delete_edge"`
	Node *NodePayload `json:"node,omitempty"`
	Edge *EdgePayload `json:"edge,omitempty"`
}

// NodePayload is the node part of an action. Pointer fields distinguish
// "absent" from "empty" for update_node.
type NodePayload struct {
	ID          string         `json:"id" validate:"required"`
	Type        *string        `json:"type,omitempty"`
	Description *string        `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// EdgePayload is the edge part of an action.
type EdgePayload struct {
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required"`
	Relation string `json:"relation" validate:"required"`
}

func (p *NodePayload) toNode() *graph.Node {
	n := &graph.Node{ID: p.ID, Attributes: p.Attributes}
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Description != nil {
		n.Description = *p.Description
	}
	return n
}

func (p *NodePayload) toPatch() graph.NodePatch {
	return graph.NodePatch{
		ID:          p.ID,
		Type:        p.Type,
		Description: p.Description,
		Attributes:  p.Attributes,
	}
}

func (p *EdgePayload) toEdge() graph.Edge {
	return graph.Edge{Source: p.Source, Target: p.Target, Relation: p.Relation}
}

// batchEnvelope is the {"actions": [...]} form.
type batchEnvelope struct {
	Actions []json.RawMessage `json:"actions"`
}

// SplitMessage returns the raw actions carried by a message.
//
// # Description
//
// A JSON object with an "actions" key is a batch; any other JSON object is a
// single action. Individual actions are not decoded here so that a bad entry
// can be reported without losing the rest of the batch.
//
// # Outputs
//
//   - []json.RawMessage: One entry per action, possibly empty.
//   - error: ErrMalformedMessage if the payload is not a JSON object or the
//     "actions" value is not an array.
func SplitMessage(payload []byte) ([]json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if probe == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedMessage)
	}
	if _, ok := probe["actions"]; !ok {
		return []json.RawMessage{json.RawMessage(payload)}, nil
	}
	var batch batchEnvelope
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("%w: actions: %v", ErrMalformedMessage, err)
	}
	return batch.Actions, nil
}

// Decoder decodes and validates actions.
//
// Thread Safety: safe for concurrent use.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// DecodeAction decodes one raw action and checks it is complete.
//
// Attribute numbers are kept as json.Number, matching the graph document.
func (d *Decoder) DecodeAction(raw json.RawMessage) (Action, error) {
	var a Action
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if err := d.validate.Struct(&a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	switch {
	case a.Type.needsNode() && a.Node == nil:
		return a, fmt.Errorf("%w: %s requires a node", ErrMalformedAction, a.Type)
	case !a.Type.needsNode() && a.Edge == nil:
		return a, fmt.Errorf("%w: %s requires an edge", ErrMalformedAction, a.Type)
	}
	return a, nil
}
