// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultEvaluatorModel = "gpt-4o-mini"

const evaluatorSystemPrompt = `You judge whether an AI assistant's attempt
satisfied a user's request. Respond with a single JSON object and nothing
else, using exactly these fields:
{"is_complete": bool, "confidence": number 0..1, "reasoning": string,
"missing_actions": [string], "next_steps": string}`

// OpenAIConfig configures the LLM-backed evaluator.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Falls back to the
	// OPENAI_API_KEY environment variable when empty.
	APIKey string

	// Model selects the chat model. Default: gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// Logger for fallback events. If nil, slog.Default().
	Logger *slog.Logger

	// OnFallback, when non-nil, is invoked each time evaluation degrades
	// to the heuristic verdict. Used for metrics.
	OnFallback func()
}

// OpenAIEvaluator judges attempts with a chat model.
//
// Thread Safety: Safe for concurrent use.
type OpenAIEvaluator struct {
	client     *openai.Client
	model      string
	logger     *slog.Logger
	onFallback func()
}

// NewOpenAIEvaluator creates the LLM-backed evaluator.
//
// Inputs:
//
//	cfg - Evaluator configuration. APIKey falls back to OPENAI_API_KEY.
//
// Outputs:
//
//	*OpenAIEvaluator - The evaluator.
//	error - Non-nil when no API key is available.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}

	model := cfg.Model
	if model == "" {
		model = defaultEvaluatorModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEvaluator{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		logger:     logger.With(slog.String("component", "goal_evaluator")),
		onFallback: cfg.OnFallback,
	}, nil
}

// Evaluate implements Evaluator.
func (e *OpenAIEvaluator) Evaluate(ctx context.Context, originalRequest string, summary *AttemptSummary) *Verdict {
	if summary == nil {
		summary = &AttemptSummary{}
	}

	verdict, err := e.evaluate(ctx, originalRequest, summary)
	if err != nil {
		e.logger.Warn("evaluation failed, using fallback verdict",
			slog.Int("attempt", summary.Attempt),
			slog.String("error", err.Error()))
		if e.onFallback != nil {
			e.onFallback()
		}
		return FallbackVerdict(summary, err.Error())
	}
	return verdict
}

func (e *OpenAIEvaluator) evaluate(ctx context.Context, originalRequest string, summary *AttemptSummary) (*Verdict, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt summary: %w", err)
	}

	userPrompt := fmt.Sprintf(
		"Original request:\n%s\n\nAttempt summary (JSON):\n%s\n\nJudge completion.",
		originalRequest, payload)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: evaluatorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("evaluator returned no choices")
	}

	return ParseVerdict(resp.Choices[0].Message.Content)
}

// ParseVerdict decodes a model response into a Verdict.
//
// Description:
//
//	Tolerates surrounding code fences and clamps confidence into [0, 1].
//	A response that is not a JSON object with the expected fields is an
//	error; callers degrade to the fallback verdict.
//
// Inputs:
//
//	raw - The model's response text.
//
// Outputs:
//
//	*Verdict - The decoded verdict.
//	error - Non-nil when the response is malformed.
func ParseVerdict(raw string) (*Verdict, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var v Verdict
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return &v, nil
}
