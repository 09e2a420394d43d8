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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aquitari.feedback")

// GraphStore is the read-modify-write surface of the graph document.
// *graph.Store satisfies it.
type GraphStore interface {
	Load(ctx context.Context) *graph.Graph
	Save(ctx context.Context, g *graph.Graph) error
}

// Enricher runs a post-mutation enrichment pass.
type Enricher interface {
	Enrich(ctx context.Context) error
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context) error

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context) error { return f(ctx) }

// Report summarises one handled message.
type Report struct {
	MessageID string         `json:"message_id"`
	Results   []ActionResult `json:"results"`
}

// Count returns how many actions ended with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Options configures a Mutator.
type Options struct {
	// Enricher is queued after every saved message. Nil disables enrichment.
	Enricher Enricher

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Mutator applies feedback messages to the graph document.
//
// # Description
//
// Each message is a blind read-modify-write: Load, apply every action,
// Save once. Enrichment is fire-and-forget: Handle only signals the
// enrichment worker, and pending signals coalesce so a burst of messages
// triggers one pass after the current one finishes.
//
// # Thread Safety
//
// Handle is safe for concurrent use, but concurrent calls race on the
// document exactly as separate processes would.
type Mutator struct {
	store    GraphStore
	enricher Enricher
	decoder  *Decoder
	logger   *slog.Logger
	pending  chan struct{}
}

// NewMutator creates a Mutator writing through store.
func NewMutator(store GraphStore, opts Options) *Mutator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mutator{
		store:    store,
		enricher: opts.Enricher,
		decoder:  NewDecoder(),
		logger:   opts.Logger,
		pending:  make(chan struct{}, 1),
	}
}

// Handle applies one message.
//
// # Inputs
//
//   - ctx: Passed to Load and Save.
//   - payload: Raw message bytes (single action or {"actions": [...]}).
//
// # Outputs
//
//   - Report: Per-action outcomes.
//   - error: ErrMalformedMessage when the payload cannot be split into
//     actions (nothing is written), or the Save error. Per-action failures
//     are reported in Report only.
func (m *Mutator) Handle(ctx context.Context, payload []byte) (Report, error) {
	report := Report{MessageID: uuid.NewString()}
	ctx, span := tracer.Start(ctx, "feedback.Mutator.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("feedback.message_id", report.MessageID))
	logger := m.logger.With(slog.String("message_id", report.MessageID))

	raws, err := SplitMessage(payload)
	if err != nil {
		recordMessage("malformed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		logger.Warn("discarding feedback message", slog.String("error", err.Error()))
		return report, err
	}

	g := m.store.Load(ctx)
	for i, raw := range raws {
		res := ActionResult{Index: i}
		action, err := m.decoder.DecodeAction(raw)
		if err != nil {
			res.Action = action.Type
			res.Outcome = OutcomeFailed
			res.Detail = err.Error()
		} else {
			res.Action = action.Type
			res.Outcome, res.Detail = Apply(g, action)
		}
		report.Results = append(report.Results, res)
		recordAction(res.Action, res.Outcome)
		m.logResult(logger, res)
	}

	if err := m.store.Save(ctx, g); err != nil {
		recordMessage("save_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		logger.Error("failed to save graph after feedback", slog.String("error", err.Error()))
		return report, fmt.Errorf("save graph: %w", err)
	}

	recordMessage("saved")
	span.SetAttributes(
		attribute.Int("feedback.actions", len(raws)),
		attribute.Int("feedback.applied", report.Count(OutcomeApplied)),
	)
	logger.Info("feedback message applied",
		slog.Int("actions", len(raws)),
		slog.Int("applied", report.Count(OutcomeApplied)),
		slog.Int("noop", report.Count(OutcomeNoop)),
		slog.Int("skipped", report.Count(OutcomeSkipped)),
		slog.Int("failed", report.Count(OutcomeFailed)),
	)

	m.requestEnrichment()
	return report, nil
}

func (m *Mutator) logResult(logger *slog.Logger, res ActionResult) {
	attrs := []any{
		slog.Int("index", res.Index),
		slog.String("action", string(res.Action)),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.Detail != "" {
		attrs = append(attrs, slog.String("detail", res.Detail))
	}
	switch res.Outcome {
	case OutcomeFailed, OutcomeSkipped:
		logger.Warn("feedback action not applied", attrs...)
	default:
		logger.Debug("feedback action", attrs...)
	}
}

// requestEnrichment signals the worker without blocking. A signal already
// pending absorbs this one.
func (m *Mutator) requestEnrichment() {
	if m.enricher == nil {
		return
	}
	select {
	case m.pending <- struct{}{}:
	default:
	}
}

// RunEnrichment processes enrichment requests until ctx is done.
//
// Enrichment failures are logged and never stop the worker.
func (m *Mutator) RunEnrichment(ctx context.Context) {
	if m.enricher == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.pending:
			if err := m.enricher.Enrich(ctx); err != nil {
				recordEnrichment("error")
				m.logger.Warn("enrichment pass failed", slog.String("error", err.Error()))
				continue
			}
			recordEnrichment("success")
		}
	}
}

// Run consumes messages from src and applies them until ctx is done or the
// source closes, with the enrichment worker running alongside.
//
// Malformed messages and failed saves are logged; only a failure to open the
// source is returned.
func (m *Mutator) Run(ctx context.Context, src Source) error {
	msgs, err := src.Messages(ctx)
	if err != nil {
		return fmt.Errorf("open feedback source: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunEnrichment(workerCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	m.logger.Info("feedback mutator listening", slog.String("source", src.Name()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				m.logger.Info("feedback source closed", slog.String("source", src.Name()))
				return nil
			}
			// Errors are already logged by Handle.
			_, _ = m.Handle(ctx, msg.Payload)
		}
	}
}
