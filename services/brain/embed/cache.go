// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain/storage/badger"
)

// keyPrefix namespaces embedding entries in the cache database.
const keyPrefix = "emb:"

// CachedEmbedder stores vectors in badger keyed by model and text hash.
//
// # Description
//
// Only texts missing from the cache are sent to the base embedder, in a
// single batch. Cache read or write failures degrade to a direct call and
// are logged, never returned.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEmbedder struct {
	base   Embedder
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedEmbedder wraps base with a persistent cache. A positive ttl
// expires entries.
func NewCachedEmbedder(base Embedder, db *badger.DB, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{base: base, db: db, ttl: ttl, logger: logger}
}

// Model implements Embedder.
func (c *CachedEmbedder) Model() string { return c.base.Model() }

// Stats returns cache hit and miss counts.
func (c *CachedEmbedder) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every vector cached for the current model and resets the
// hit and miss counts.
func (c *CachedEmbedder) Purge() error {
	if err := c.db.DropPrefix([]byte(c.modelPrefix())); err != nil {
		return fmt.Errorf("purge embedding cache: %w", err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

// EmbedBatch implements Embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		raw, err := c.db.Get(ctx, c.key(text))
		if err == nil {
			if vec, ok := decodeVector(raw); ok {
				out[i] = vec
				c.hits.Add(1)
				continue
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("embedding cache read failed", slog.String("error", err.Error()))
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	c.misses.Add(uint64(len(missTexts)))

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.base.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingMismatch, len(missTexts), len(vecs))
	}
	for j, vec := range vecs {
		i := missIdx[j]
		out[i] = vec
		if err := c.db.Put(ctx, c.key(texts[i]), encodeVector(vec), c.ttl); err != nil {
			c.logger.Warn("embedding cache write failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func (c *CachedEmbedder) modelPrefix() string {
	return keyPrefix + c.base.Model() + ":"
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(c.modelPrefix() + hex.EncodeToString(sum[:]))
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
