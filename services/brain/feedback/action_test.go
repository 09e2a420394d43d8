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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"single action", `{"action": "add_node", "node": {"id": "a"}}`, 1, false},
		{"batch", `{"actions": [{"action": "add_node", "node": {"id": "a"}}, {"action": "delete_node", "node": {"id": "b"}}]}`, 2, false},
		{"empty batch", `{"actions": []}`, 0, false},
		{"not json", `add_node a`, 0, true},
		{"array at top level", `[{"action": "add_node"}]`, 0, true},
		{"null", `null`, 0, true},
		{"actions not a list", `{"actions": {"action": "add_node"}}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := SplitMessage([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Len(t, raws, tt.want)
		})
	}
}

func TestDecoder_DecodeAction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"add_node", `{"action": "add_node", "node": {"id": "a", "type": "State"}}`, false},
		{"add_edge", `{"action": "add_edge", "edge": {"source": "a", "target": "b", "relation": "TRIGGERS"}}`, false},
		{"update_node", `{"action": "update_node", "node": {"id": "a", "description": "x"}}`, false},
		{"delete_node", `{"action": "delete_node", "node": {"id": "a"}}`, false},
		{"delete_edge", `{"action": "delete_edge", "edge": {"source": "a", "target": "b", "relation": "r"}}`, false},
		{"unknown action", `{"action": "explode", "node": {"id": "a"}}`, true},
		{"missing action", `{"node": {"id": "a"}}`, true},
		{"missing node", `{"action": "add_node"}`, true},
		{"node without id", `{"action": "add_node", "node": {"type": "State"}}`, true},
		{"missing edge", `{"action": "add_edge", "node": {"id": "a"}}`, true},
		{"edge without relation", `{"action": "add_edge", "edge": {"source": "a", "target": "b"}}`, true},
		{"wrong field type", `{"action": "add_node", "node": {"id": 12}}`, true},
	}

	d := NewDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecodeAction(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedAction)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecoder_UpdateNodeDistinguishesAbsentFields(t *testing.T) {
	d := NewDecoder()
	a, err := d.DecodeAction(json.RawMessage(`{"action": "update_node", "node": {"id": "a", "description": ""}}`))
	require.NoError(t, err)

	require.NotNil(t, a.Node.Description)
	assert.Equal(t, "", *a.Node.Description)
	assert.Nil(t, a.Node.Type)
}

func TestDecoder_KeepsAttributeNumbers(t *testing.T) {
	d := NewDecoder()
	a, err := d.DecodeAction(json.RawMessage(`{"action": "add_node", "node": {"id": "a", "attributes": {"hours": 6}}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("6"), a.Node.Attributes["hours"])
}
