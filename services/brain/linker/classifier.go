// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrClassifierUnavailable covers transport errors, timeouts and non-2xx
	// replies.
	ErrClassifierUnavailable = errors.New("relation classifier unavailable")

	// ErrUnparsableReply is returned when no decode strategy yields a relation.
	ErrUnparsableReply = errors.New("unparsable classifier reply")
)

// DefaultClassifierTimeout bounds a single classifier call.
const DefaultClassifierTimeout = 10 * time.Second

// maxReplyBytes caps how much of a classifier reply is read.
const maxReplyBytes = 1 << 20

// RelationQuery asks for the relation between two similar nodes.
type RelationQuery struct {
	Source            string `json:"source"`
	Target            string `json:"target"`
	Question          string `json:"question"`
	SourceDescription string `json:"source_description"`
	TargetDescription string `json:"target_description"`
}

// NewRelationQuery builds the query for a source/target pair.
func NewRelationQuery(source, target, sourceDesc, targetDesc string) RelationQuery {
	return RelationQuery{
		Source:            source,
		Target:            target,
		Question:          fmt.Sprintf("What is the relation between %s and %s?", source, target),
		SourceDescription: sourceDesc,
		TargetDescription: targetDesc,
	}
}

// Classifier labels the relation between two nodes.
//
// Implementations return an error rather than a placeholder label when they
// cannot answer; the linker substitutes the fallback relation.
type Classifier interface {
	Classify(ctx context.Context, q RelationQuery) (string, error)
	Name() string
}

// StaticClassifier answers every query with the same relation. It stands in
// when no classifier endpoint is configured.
type StaticClassifier struct {
	Relation string
}

// Classify implements Classifier.
func (s StaticClassifier) Classify(context.Context, RelationQuery) (string, error) {
	return s.Relation, nil
}

// Name implements Classifier.
func (s StaticClassifier) Name() string { return "static" }

// =============================================================================
// Reply decoding
// =============================================================================

// DecodeRelation extracts a relation label from a classifier reply.
//
// # Description
//
// Three shapes are tried in a fixed order; each strategy either yields a
// non-empty relation or declines:
//
//  1. {"relation": "TRIGGERS"}
//  2. {"output": "<json text, optionally fenced>"} whose text holds shape 1
//  3. [{"output": "..."}, ...] whose first element is shape 2
//
// # Outputs
//
//   - string: The relation, trimmed.
//   - error: ErrUnparsableReply when every strategy declines.
func DecodeRelation(body []byte) (string, error) {
	var reply any
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnparsableReply, err)
	}
	for _, strategy := range []func(any) (string, bool){
		relationFromObject,
		relationFromOutputObject,
		relationFromOutputList,
	} {
		if rel, ok := strategy(reply); ok {
			return rel, nil
		}
	}
	return "", fmt.Errorf("%w: no relation in reply", ErrUnparsableReply)
}

func relationFromObject(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	rel, ok := obj["relation"].(string)
	rel = strings.TrimSpace(rel)
	return rel, ok && rel != ""
}

func relationFromOutputObject(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := obj["output"].(string)
	if !ok {
		return "", false
	}
	return RelationFromText(text)
}

func relationFromOutputList(v any) (string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	return relationFromOutputObject(list[0])
}

// RelationFromText parses agent output text that should hold
// {"relation": ...}, tolerating a surrounding code fence and a leading
// "json" language marker.
func RelationFromText(text string) (string, bool) {
	var obj any
	if err := json.Unmarshal([]byte(stripFence(text)), &obj); err != nil {
		return "", false
	}
	return relationFromObject(obj)
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(strings.Trim(text, "`"))
	}
	if strings.HasPrefix(strings.ToLower(text), "json") {
		text = strings.TrimSpace(text[len("json"):])
	}
	return text
}

// =============================================================================
// Webhook classifier
// =============================================================================

// WebhookClassifier posts a RelationQuery as JSON to an HTTP endpoint, such
// as an agent workflow webhook.
//
// Thread Safety: safe for concurrent use.
type WebhookClassifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookClassifier creates a classifier for url. A non-positive timeout
// uses DefaultClassifierTimeout.
func NewWebhookClassifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookClassifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Name implements Classifier.
func (w *WebhookClassifier) Name() string { return "webhook" }

// Classify implements Classifier.
func (w *WebhookClassifier) Classify(ctx context.Context, q RelationQuery) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode relation query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read reply: %v", ErrClassifierUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	rel, err := DecodeRelation(reply)
	if err != nil {
		w.logger.Debug("classifier reply not understood",
			slog.String("source", q.Source),
			slog.String("target", q.Target),
			slog.Int("bytes", len(reply)),
		)
		return "", err
	}
	return rel, nil
}
