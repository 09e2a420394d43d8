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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// relationSystemPrompt constrains the model to a single JSON object.
const relationSystemPrompt = `You label causal relations in a knowledge graph of biological and system states.
Given a source and a target state, answer with ONLY valid JSON (no markdown, no preamble):
{"relation":"UPPER_SNAKE_CASE_LABEL"}
Prefer short verbs such as TRIGGERS, CAUSES, WORSENS, MITIGATES, CORRELATES_WITH.`

// LLMConfig configures an LLMClassifier.
type LLMConfig struct {
	// BaseURL of an OpenAI-compatible API. Empty uses OpenAI.
	BaseURL string

	// APIKey for the API.
	APIKey string

	// Model name. Default: "gpt-4o-mini"
	Model string

	Logger *slog.Logger
}

// LLMClassifier asks a chat model for the relation label.
type LLMClassifier struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewLLMClassifier creates a chat-completion classifier.
func NewLLMClassifier(cfg LLMConfig) *LLMClassifier {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	cfg.Logger.Info("Initializing relation classifier", slog.String("model", cfg.Model))
	return &LLMClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// Name implements Classifier.
func (c *LLMClassifier) Name() string { return "llm" }

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, q RelationQuery) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "%s\n", q.Question)
	fmt.Fprintf(&prompt, "Source: %s", q.Source)
	if q.SourceDescription != "" {
		fmt.Fprintf(&prompt, " (%s)", q.SourceDescription)
	}
	fmt.Fprintf(&prompt, "\nTarget: %s", q.Target)
	if q.TargetDescription != "" {
		fmt.Fprintf(&prompt, " (%s)", q.TargetDescription)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: relationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrUnparsableReply)
	}

	content := resp.Choices[0].Message.Content
	if rel, ok := RelationFromText(content); ok {
		return rel, nil
	}
	// Some agent front ends wrap the answer as {"output": "..."}.
	rel, err := DecodeRelation([]byte(content))
	if err != nil {
		c.logger.Debug("model reply not understood", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
		return "", err
	}
	return rel, nil
}
