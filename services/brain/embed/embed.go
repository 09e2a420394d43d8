// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed turns node text into sentence-embedding vectors for the
// semantic linking pass.
//
// The default provider is any OpenAI-compatible /embeddings endpoint (a local
// Ollama serving all-minilm, or OpenAI itself). A persistent badger cache can
// sit in front of it so an unchanged graph is not re-embedded on every pass.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Defaults for a local OpenAI-compatible embedding server.
const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "all-minilm"
	DefaultTimeout = 30 * time.Second
)

// ErrEmbeddingMismatch is returned when the provider answers with a
// different number of vectors than texts sent.
var ErrEmbeddingMismatch = errors.New("embedding count mismatch")

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Config configures an OpenAIEmbedder.
type Config struct {
	// BaseURL of the OpenAI-compatible API, including the /v1 suffix.
	BaseURL string

	// APIKey may be empty for local servers.
	APIKey string

	// Model name sent with each request.
	Model string

	// Timeout bounds each batch request.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns settings for a local all-minilm server.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
	}
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIEmbedder creates an embedder from cfg. Empty fields take defaults.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	cfg.Logger.Info("Initializing embedding client",
		slog.String("base_url", cfg.BaseURL),
		slog.String("model", cfg.Model),
	)
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

// EmbedBatch implements Embedder.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingMismatch, len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	e.logger.Debug("embedded batch", slog.Int("texts", len(texts)), slog.String("model", e.model))
	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
//
// Returns 0 for vectors of different length or zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
