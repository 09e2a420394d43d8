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
	"io"
	"os"

	"github.com/AleutianAI/AquitariBrain/services/brain"
	"github.com/AleutianAI/AquitariBrain/services/brain/diagnosis"
	"github.com/AleutianAI/AquitariBrain/services/brain/feedback"
	"github.com/spf13/cobra"
)

func newDiagnoseCmd(a *app) *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "diagnose <state>",
		Short: "Diagnose one state against the graph document and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.Store()
			store.Reload(cmd.Context())
			svc := brain.NewService(store, diagnosis.Options{
				SafeModeID: a.cfg.Graph.SafeModeID,
				TraceDepth: a.cfg.Graph.TraceDepth,
				Logger:     a.Slog(),
			})
			resp := svc.Diagnose(cmd.Context(), brain.DiagnoseRequest{State: args[0], Entity: entity})
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", brain.DefaultEntity, "entity the query is made for")
	return cmd
}

func newLinkCmd(a *app) *cobra.Command {
	var lexicalOnly bool
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Run one enrichment pass over the graph document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lexicalOnly {
				a.cfg.Linker.Semantic = false
			}
			l, closeCache, err := a.newLinker(a.Store())
			if err != nil {
				return err
			}
			defer closeCache()

			report, err := l.Run(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&lexicalOnly, "lexical-only", false, "skip the embedding pass")
	cmd.Flags().BoolVar(&a.purgeCache, "purge-cache", false, "drop cached embeddings for the configured model first")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var link bool
	cmd := &cobra.Command{
		Use:   "apply <file|->",
		Short: "Apply a feedback message from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			store := a.Store()
			m := feedback.NewMutator(store, feedback.Options{Logger: a.Slog()})
			report, err := m.Handle(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !link || report.Count(feedback.OutcomeApplied) == 0 {
				return nil
			}

			l, closeCache, err := a.newLinker(store)
			if err != nil {
				return err
			}
			defer closeCache()
			return l.Enrich(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&link, "link", false, "run an enrichment pass after applying")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return data, nil
}
