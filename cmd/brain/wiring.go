// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AquitariBrain/services/brain/config"
	"github.com/AleutianAI/AquitariBrain/services/brain/embed"
	"github.com/AleutianAI/AquitariBrain/services/brain/linker"
	"github.com/AleutianAI/AquitariBrain/services/brain/storage/badger"
)

// newLinker builds the linker with the configured embedder, cache and
// classifier. The returned close function releases the cache.
func (a *app) newLinker(store linker.GraphStore) (*linker.Linker, func() error, error) {
	cfg := a.cfg
	logger := a.Slog()
	closer := func() error { return nil }

	opts := []linker.Option{linker.WithLogger(logger)}

	if cfg.Linker.Semantic {
		var embedder embed.Embedder = embed.NewOpenAIEmbedder(embed.Config{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
			Logger:  logger,
		})
		if cfg.Embedding.CacheDir != "" {
			dbCfg := badger.DefaultConfig(cfg.Embedding.CacheDir)
			if cfg.Embedding.CacheDir == config.InMemoryCacheDir {
				dbCfg = badger.InMemoryConfig()
			}
			dbCfg.Logger = logger
			db, err := badger.Open(dbCfg)
			if err != nil {
				return nil, nil, fmt.Errorf("open embedding cache: %w", err)
			}
			closer = db.Close
			cached := embed.NewCachedEmbedder(embedder, db, cfg.Embedding.CacheTTL, logger)
			if a.purgeCache {
				if err := cached.Purge(); err != nil {
					_ = db.Close()
					return nil, nil, err
				}
				logger.Info("embedding cache purged", slog.String("model", cached.Model()))
			}
			logger.Debug("embedding cache opened",
				slog.String("dir", cfg.Embedding.CacheDir),
				slog.Bool("in_memory", db.InMemory()),
			)
			embedder = cached
		}
		opts = append(opts, linker.WithEmbedder(embedder))
	}

	switch cfg.ClassifierKind() {
	case "webhook":
		opts = append(opts, linker.WithClassifier(
			linker.NewWebhookClassifier(cfg.Linker.ClassifierURL, cfg.Linker.ClassifierTimeout, logger),
		))
	case "llm":
		opts = append(opts, linker.WithClassifier(linker.NewLLMClassifier(linker.LLMConfig{
			BaseURL: cfg.Linker.ClassifierURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Linker.ClassifierModel,
			Logger:  logger,
		})))
	default:
		logger.Info("no relation classifier configured, semantic edges use the fallback relation",
			slog.String("fallback", cfg.Linker.FallbackRelation))
	}

	l := linker.New(store, linker.Config{
		Threshold:         cfg.Linker.Threshold,
		LexicalRelation:   cfg.Linker.LexicalRelation,
		FallbackRelation:  cfg.Linker.FallbackRelation,
		ClassifierTimeout: cfg.Linker.ClassifierTimeout,
		ClassifierRPS:     cfg.Linker.ClassifierRPS,
		Semantic:          cfg.Linker.Semantic,
	}, opts...)
	return l, closer, nil
}
