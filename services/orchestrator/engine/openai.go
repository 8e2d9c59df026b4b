// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

const defaultOpenAIModel = "gpt-4o-mini"

// defaultSystemPrompt frames the assistant when no persona is configured.
const defaultSystemPrompt = "You are a helpful assistant completing a task " +
	"raised in a conversation. Answer the most recent user request directly."

// OpenAIConfig configures the OpenAI-backed engine.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Falls back to the
	// OPENAI_API_KEY environment variable when empty.
	APIKey string

	// Model selects the chat model. Default: gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// SystemPrompt overrides the default persona.
	SystemPrompt string

	// Logger for request lifecycle events. If nil, slog.Default().
	Logger *slog.Logger
}

// OpenAIEngine is the default generation engine, backed by the OpenAI
// chat completion API.
//
// It performs a single completion over the conversation buffer. Richer
// deployments inject an Engine that runs tools and reports the actions it
// performed; this implementation reports none.
//
// Thread Safety: Safe for concurrent use.
type OpenAIEngine struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// NewOpenAIEngine creates the OpenAI-backed engine.
//
// Inputs:
//
//	cfg - Engine configuration. APIKey falls back to OPENAI_API_KEY.
//
// Outputs:
//
//	*OpenAIEngine - The engine.
//	error - Non-nil when no API key is available.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEngine{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: systemPrompt,
		logger:       logger.With(slog.String("component", "openai_engine")),
	}, nil
}

// Generate implements Engine.
func (e *OpenAIEngine) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("request must not be nil")
	}

	if req.Status != nil {
		req.Status("thinking...")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: e.systemPrompt,
	})
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation, not a provider failure.
			return nil, ctx.Err()
		}
		e.logger.Error("openai completion failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	e.logger.Debug("openai completion",
		slog.String("model", e.model),
		slog.String("finish_reason", string(choice.FinishReason)))

	return &Result{
		Kind:            KindOK,
		Text:            choice.Message.Content,
		EndedExplicitly: choice.FinishReason == openai.FinishReasonStop,
	}, nil
}

// Name implements Engine.
func (e *OpenAIEngine) Name() string {
	return "openai"
}

// Model implements Engine.
func (e *OpenAIEngine) Model() string {
	return e.model
}

// chatRole maps a session message role onto the chat API's role set.
func chatRole(role string) string {
	switch role {
	case session.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case session.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
