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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AquitariBrain/services/brain"
	"github.com/AleutianAI/AquitariBrain/services/brain/diagnosis"
	"github.com/AleutianAI/AquitariBrain/services/brain/telemetry"
	"github.com/AleutianAI/AquitariBrain/services/brain/watcher"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve diagnose queries over HTTP and reload the graph when it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :12230)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	logger := a.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store := a.Store()
	store.Reload(ctx)

	w, err := watcher.New(store.Path(), store, watcher.Options{
		DebounceWindow: a.cfg.Graph.WatchDebounce,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	svc := brain.NewService(store, diagnosis.Options{
		SafeModeID: a.cfg.Graph.SafeModeID,
		TraceDepth: a.cfg.Graph.TraceDepth,
		Logger:     logger,
	})
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           brain.NewRouter(a.cfg.Telemetry.ServiceName, brain.NewHandlers(svc)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	revisions, unsubscribe := store.Subscribe(1)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rev := <-revisions:
				snap := store.Current()
				logger.Info("serving graph revision",
					slog.Uint64("revision", uint64(rev)),
					slog.Int("nodes", snap.Graph.NodeCount()),
					slog.Int("edges", snap.Graph.EdgeCount()),
				)
			}
		}
	})
	g.Go(func() error {
		logger.Info("brain server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down brain server")
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
