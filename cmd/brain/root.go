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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/AquitariBrain/pkg/logging"
	"github.com/AleutianAI/AquitariBrain/services/brain/config"
	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	graphPath  string
	logLevel   string
	logJSON    bool
}

// app is the state shared by subcommands after flag parsing.
type app struct {
	cfg    config.Config
	logger *logging.Logger

	// purgeCache drops cached embeddings for the configured model before
	// the linker runs.
	purgeCache bool
}

// Slog returns the process logger.
func (a *app) Slog() *slog.Logger { return a.logger.Slog() }

// Store opens the graph store configured for this process.
func (a *app) Store() *graph.Store {
	return graph.NewStore(a.cfg.Graph.Path, graph.WithLogger(a.Slog()))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:   "brain",
		Short: "Aquitari knowledge-graph brain",
		Long: `brain maintains the Aquitari knowledge graph: it answers risk queries,
applies feedback from the Redis channel and links similar states.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.graphPath, "graph", "", "graph document path (overrides config and "+config.EnvGraphPath+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log JSON to stderr")

	root.AddCommand(
		newServeCmd(a),
		newListenCmd(a),
		newLinkCmd(a),
		newDiagnoseCmd(a),
		newApplyCmd(a),
		newPublishCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and installs the
// process logger.
func (a *app) setup(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath, ".env")
	if err != nil {
		return err
	}
	if opts.graphPath != "" {
		cfg.Graph.Path = opts.graphPath
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = opts.logJSON
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())
	return nil
}

// writeJSON prints v indented to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
