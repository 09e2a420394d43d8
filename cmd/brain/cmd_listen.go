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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AquitariBrain/services/brain/feedback"
	"github.com/AleutianAI/AquitariBrain/services/brain/telemetry"
	"github.com/spf13/cobra"
)

func newListenCmd(a *app) *cobra.Command {
	var noLink bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Apply feedback messages from the Redis channel and enrich the graph after each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listen(cmd.Context(), !noLink)
		},
	}
	cmd.Flags().BoolVar(&noLink, "no-link", false, "do not run an enrichment pass after saved messages")
	return cmd
}

func (a *app) listen(ctx context.Context, link bool) error {
	logger := a.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	store := a.Store()
	opts := feedback.Options{Logger: logger}
	if link {
		l, closeCache, err := a.newLinker(store)
		if err != nil {
			return err
		}
		defer closeCache()
		opts.Enricher = l
	}

	src, err := feedback.NewRedisSource(feedback.RedisOptions{
		URL:     a.cfg.Redis.URL(),
		Channel: a.cfg.Redis.Channel,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info("connected to Redis",
		slog.String("host", a.cfg.Redis.Host),
		slog.Int("port", a.cfg.Redis.Port),
		slog.String("channel", a.cfg.Redis.Channel),
	)
	return feedback.NewMutator(store, opts).Run(ctx, src)
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file|->",
		Short: "Publish a feedback message to the Redis channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if _, err := feedback.SplitMessage(payload); err != nil {
				return err
			}

			src, err := feedback.NewRedisSource(feedback.RedisOptions{
				URL:     a.cfg.Redis.URL(),
				Channel: a.cfg.Redis.Channel,
				Logger:  a.Slog(),
			})
			if err != nil {
				return err
			}
			defer src.Close()

			receivers, err := src.Publish(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if receivers == 0 {
				a.Slog().Warn("no listener received the message", slog.String("channel", a.cfg.Redis.Channel))
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"channel":   a.cfg.Redis.Channel,
				"receivers": receivers,
			})
		},
	}
}
