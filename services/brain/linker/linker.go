// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linker enriches the knowledge graph with edges inferred from
// node similarity.
//
// A pass has two steps over the same node list. The lexical step links every
// pair whose tf-idf cosine similarity reaches the threshold with a fixed
// relation. The semantic step embeds the same texts, and for every pair whose
// embedding similarity reaches the threshold asks a classifier for a relation
// label, falling back to a sentinel label when the classifier cannot answer.
// An edge is never added twice: the exact (source, target, relation) triple
// is checked first.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/embed"
	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("aquitari.linker")

// Defaults.
const (
	DefaultThreshold        = 0.35
	DefaultLexicalRelation  = "RELATED_TFIDF"
	DefaultFallbackRelation = "UNKNOWN_RELATION"
)

// Config configures a Linker.
type Config struct {
	// Threshold is the minimum cosine similarity for both passes.
	Threshold float64

	// LexicalRelation labels lexical edges.
	LexicalRelation string

	// FallbackRelation labels semantic edges the classifier could not label.
	FallbackRelation string

	// ClassifierTimeout bounds each classifier call.
	ClassifierTimeout time.Duration

	// ClassifierRPS limits classifier calls per second. Zero is unlimited.
	ClassifierRPS float64

	// Semantic enables the embedding pass. It also needs an Embedder.
	Semantic bool
}

// DefaultConfig returns the standard linker settings.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		LexicalRelation:   DefaultLexicalRelation,
		FallbackRelation:  DefaultFallbackRelation,
		ClassifierTimeout: DefaultClassifierTimeout,
		Semantic:          true,
	}
}

// GraphStore is the read-modify-write surface of the graph document.
type GraphStore interface {
	Load(ctx context.Context) *graph.Graph
	Save(ctx context.Context, g *graph.Graph) error
}

// Report summarises one enrichment pass.
type Report struct {
	Nodes           int  `json:"nodes"`
	LexicalEdges    int  `json:"lexical_edges"`
	SemanticEdges   int  `json:"semantic_edges"`
	Fallbacks       int  `json:"fallbacks"`
	SemanticSkipped bool `json:"semantic_skipped"`
	Saved           bool `json:"saved"`
}

// Linker runs enrichment passes against the graph document.
//
// # Thread Safety
//
// Run may be called concurrently, but each call is an independent blind
// read-modify-write of the document.
type Linker struct {
	store      GraphStore
	embedder   embed.Embedder
	classifier Classifier
	limiter    *rate.Limiter
	cfg        Config
	logger     *slog.Logger
}

// Option configures a Linker.
type Option func(*Linker)

// WithEmbedder sets the embedder for the semantic pass.
func WithEmbedder(e embed.Embedder) Option {
	return func(l *Linker) { l.embedder = e }
}

// WithClassifier sets the relation classifier for the semantic pass.
func WithClassifier(c Classifier) Option {
	return func(l *Linker) { l.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Linker. Zero config fields take their defaults.
func New(store GraphStore, cfg Config, opts ...Option) *Linker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.LexicalRelation == "" {
		cfg.LexicalRelation = def.LexicalRelation
	}
	if cfg.FallbackRelation == "" {
		cfg.FallbackRelation = def.FallbackRelation
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = def.ClassifierTimeout
	}

	l := &Linker{store: store, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.classifier == nil {
		l.classifier = StaticClassifier{Relation: cfg.FallbackRelation}
	}
	if cfg.ClassifierRPS > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.ClassifierRPS), 1)
	}
	return l
}

// Enrich runs a pass and discards the report. It lets the feedback
// mutator queue the linker directly.
func (l *Linker) Enrich(ctx context.Context) error {
	_, err := l.Run(ctx)
	return err
}

// Run loads the graph, runs the lexical then the semantic pass over the same
// node list, and saves once if any edge was added.
//
// # Outputs
//
//   - Report: Edge counts per pass.
//   - error: The Save error, or the context error if the pass was cut short
//     (edges found before cancellation are still saved). Embedding failures
//     skip the semantic pass and are not returned.
func (l *Linker) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "linker.Linker.Run")
	defer span.End()
	start := time.Now()

	g := l.store.Load(ctx)
	nodes := g.Nodes()
	report := Report{Nodes: len(nodes)}

	texts := make([]string, len(nodes))
	for i, n := range nodes {
		texts[i] = NodeText(n)
	}

	report.LexicalEdges = l.lexicalPass(ctx, g, nodes, texts)

	var passErr error
	if l.cfg.Semantic && l.embedder != nil && len(nodes) > 1 {
		added, fallbacks, err := l.semanticPass(ctx, g, nodes, texts)
		report.SemanticEdges, report.Fallbacks = added, fallbacks
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				passErr = err
			} else {
				report.SemanticSkipped = true
				l.logger.Warn("semantic pass skipped", slog.String("error", err.Error()))
			}
		}
	} else {
		report.SemanticSkipped = true
	}

	if report.LexicalEdges+report.SemanticEdges > 0 {
		if err := l.store.Save(ctx, g); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
			return report, fmt.Errorf("save graph: %w", err)
		}
		report.Saved = true
	}

	recordRun(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("linker.nodes", report.Nodes),
		attribute.Int("linker.lexical_edges", report.LexicalEdges),
		attribute.Int("linker.semantic_edges", report.SemanticEdges),
		attribute.Int("linker.fallbacks", report.Fallbacks),
	)
	l.logger.Info("enrichment pass complete",
		slog.Int("nodes", report.Nodes),
		slog.Int("lexical_edges", report.LexicalEdges),
		slog.Int("semantic_edges", report.SemanticEdges),
		slog.Int("fallbacks", report.Fallbacks),
		slog.Bool("semantic_skipped", report.SemanticSkipped),
		slog.Duration("duration", time.Since(start)),
	)
	if passErr != nil {
		return report, passErr
	}
	return report, nil
}

// lexicalPass links every pair i<j whose tf-idf similarity reaches the
// threshold.
func (l *Linker) lexicalPass(ctx context.Context, g *graph.Graph, nodes []*graph.Node, texts []string) int {
	_, span := tracer.Start(ctx, "linker.Linker.lexicalPass")
	defer span.End()

	vectors := TFIDF(texts)
	added := 0
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if vectors[i].Dot(vectors[j]) < l.cfg.Threshold {
				continue
			}
			if l.addEdge(g, nodes[i].ID, nodes[j].ID, l.cfg.LexicalRelation) {
				added++
			}
		}
	}
	recordEdges("lexical", added)
	span.SetAttributes(attribute.Int("linker.edges_added", added))
	return added
}

// semanticPass links every pair i<j whose embedding similarity reaches the
// threshold, labelled by the classifier.
func (l *Linker) semanticPass(ctx context.Context, g *graph.Graph, nodes []*graph.Node, texts []string) (int, int, error) {
	ctx, span := tracer.Start(ctx, "linker.Linker.semanticPass",
		trace.WithAttributes(attribute.String("linker.classifier", l.classifier.Name())),
	)
	defer span.End()

	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return 0, 0, fmt.Errorf("embed node texts: %w", err)
	}
	if len(vectors) != len(nodes) {
		return 0, 0, fmt.Errorf("%w: %d nodes, %d vectors", embed.ErrEmbeddingMismatch, len(nodes), len(vectors))
	}

	added, fallbacks := 0, 0
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if embed.CosineSimilarity(vectors[i], vectors[j]) < l.cfg.Threshold {
				continue
			}
			if err := ctx.Err(); err != nil {
				recordEdges("semantic", added)
				return added, fallbacks, err
			}
			relation, fellBack := l.classify(ctx, nodes[i], nodes[j])
			if fellBack {
				fallbacks++
			}
			if l.addEdge(g, nodes[i].ID, nodes[j].ID, relation) {
				added++
			}
		}
	}
	recordEdges("semantic", added)
	span.SetAttributes(
		attribute.Int("linker.edges_added", added),
		attribute.Int("linker.fallbacks", fallbacks),
	)
	return added, fallbacks, nil
}

// classify asks the classifier for a relation, returning the fallback
// relation on any failure.
func (l *Linker) classify(ctx context.Context, source, target *graph.Node) (string, bool) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return l.cfg.FallbackRelation, true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.ClassifierTimeout)
	defer cancel()
	start := time.Now()

	q := NewRelationQuery(source.ID, target.ID, source.Description, target.Description)
	relation, err := l.classifier.Classify(callCtx, q)
	if err == nil && relation == "" {
		err = ErrUnparsableReply
	}
	if err != nil {
		recordClassifier(l.classifier.Name(), "fallback", time.Since(start).Seconds())
		l.logger.Warn("relation classifier failed, using fallback",
			slog.String("source", source.ID),
			slog.String("target", target.ID),
			slog.String("classifier", l.classifier.Name()),
			slog.String("fallback", l.cfg.FallbackRelation),
			slog.String("error", err.Error()),
		)
		return l.cfg.FallbackRelation, true
	}
	if relation == l.cfg.FallbackRelation {
		// The classifier itself answered with the sentinel label.
		recordClassifier(l.classifier.Name(), "fallback", time.Since(start).Seconds())
		return relation, true
	}
	recordClassifier(l.classifier.Name(), "ok", time.Since(start).Seconds())
	return relation, false
}

// addEdge adds the edge unless the exact triple already exists.
func (l *Linker) addEdge(g *graph.Graph, source, target, relation string) bool {
	if g.HasEdge(source, target, relation) {
		return false
	}
	if err := g.AddEdge(graph.Edge{Source: source, Target: target, Relation: relation}); err != nil {
		l.logger.Debug("edge not added",
			slog.String("source", source),
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return false
	}
	l.logger.Debug("edge added",
		slog.String("source", source),
		slog.String("target", target),
		slog.String("relation", relation),
	)
	return true
}
