// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discord adapts Discord gateway messages into relay sessions.
//
// Each Discord channel maps to one conversational context: a new
// message in a channel whose session is still running supersedes it or
// queues behind it, matching the orchestrator's per-context semantics.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/queue"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
	"github.com/AleutianAI/AleutianRelay/services/platform"
)

// messageLimit is Discord's hard cap on message length.
const messageLimit = 2000

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("discord: bot token is required")

// Config holds the Discord adapter settings.
type Config struct {
	// BotToken is the Discord bot token, without the "Bot " prefix.
	BotToken string

	// AllowedChannels restricts the adapter to specific channel IDs.
	// Empty means all channels the bot can see.
	AllowedChannels []string

	// StopKeywords are messages treated as a stop request for the
	// channel's running session. Matched case-insensitively after
	// trimming. Defaults to "stop" and "cancel".
	StopKeywords []string

	// QueueWhenBusy buffers messages for busy channels instead of
	// superseding the running session.
	QueueWhenBusy bool

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if len(c.StopKeywords) == 0 {
		c.StopKeywords = []string{"stop", "cancel"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Adapter connects a Discord bot account to the orchestrator.
//
// Thread Safety: Adapter is safe for concurrent use.
type Adapter struct {
	cfg    Config
	svc    *orchestrator.Service
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates the Discord adapter.
//
// Inputs:
//
//	cfg - Adapter configuration. BotToken is required at Start.
//	svc - The orchestrator service. Must not be nil.
func New(cfg Config, svc *orchestrator.Service) *Adapter {
	cfg.ApplyDefaults()
	return &Adapter{
		cfg:    cfg,
		svc:    svc,
		logger: cfg.Logger.With(slog.String("component", "discord_adapter")),
	}
}

// Name identifies the adapter in logs.
func (a *Adapter) Name() string { return "discord" }

// Start opens the gateway connection and begins dispatching messages.
//
// Outputs:
//
//	error - Non-nil when the token is missing, the adapter is already
//	started, or the gateway connection fails.
func (a *Adapter) Start(ctx context.Context) error {
	if a.cfg.BotToken == "" {
		return ErrMissingToken
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return errors.New("discord: adapter already started")
	}

	s, err := discordgo.New("Bot " + strings.TrimPrefix(a.cfg.BotToken, "Bot "))
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	s.AddHandler(a.handleMessage)

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.session = s
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection. Safe to call when not started.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot {
		return
	}
	if !a.channelAllowed(m.ChannelID) {
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	contextID := "discord:" + m.ChannelID

	if a.isStopKeyword(content) {
		cancelled := a.svc.Cancel(contextID)
		a.logger.Info("stop keyword received",
			slog.String("channel_id", m.ChannelID),
			slog.Bool("cancelled", cancelled))
		if !cancelled {
			a.post(s, m.ChannelID, "Nothing is running right now.")
		}
		return
	}

	if a.cfg.QueueWhenBusy && a.svc.Busy(contextID) {
		depth := a.svc.Enqueue(contextID, queue.QueuedMessage{
			Type:      queue.TypePrompted,
			Content:   content,
			ContextID: contextID,
			UserID:    m.Author.ID,
		})
		a.logger.Info("message queued for busy channel",
			slog.String("channel_id", m.ChannelID),
			slog.Int("depth", depth))
		return
	}

	go a.run(s, m, contextID, content)
}

// run executes one session for an inbound message. Runs on its own
// goroutine so the gateway handler returns promptly.
func (a *Adapter) run(s *discordgo.Session, m *discordgo.MessageCreate, contextID, content string) {
	msgs := []session.Message{{
		Role:      session.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}}
	metadata := map[string]string{
		"channel_id": m.ChannelID,
		"user_id":    m.Author.ID,
		"message_id": m.ID,
	}

	statusFn := func(string) {
		// Progress surfaces as the typing indicator.
		_ = s.ChannelTyping(m.ChannelID)
	}

	outcome, err := a.svc.Run(context.Background(), contextID, msgs,
		session.PlatformChat, metadata, statusFn)
	if err != nil {
		a.logger.Error("session failed",
			slog.String("channel_id", m.ChannelID),
			slog.String("error", err.Error()))
		a.post(s, m.ChannelID, "Something went wrong handling that request.")
		return
	}
	if outcome.FinalText != "" {
		a.post(s, m.ChannelID, outcome.FinalText)
	}
}

// post sends text to a channel, splitting at Discord's length cap.
func (a *Adapter) post(s *discordgo.Session, channelID, text string) {
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := s.ChannelMessageSend(channelID, chunk); err != nil {
			a.logger.Warn("message send failed",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()))
			return
		}
	}
}

func (a *Adapter) channelAllowed(channelID string) bool {
	if len(a.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, id := range a.cfg.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

func (a *Adapter) isStopKeyword(content string) bool {
	lowered := strings.ToLower(content)
	for _, kw := range a.cfg.StopKeywords {
		if lowered == kw {
			return true
		}
	}
	return false
}

// splitMessage breaks text into chunks of at most limit runes,
// preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
