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
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/engine"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/evaluator"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/queue"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage/badger"
	"github.com/AleutianAI/AleutianRelay/services/platform"
	"github.com/AleutianAI/AleutianRelay/services/platform/discord"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	rootLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "relayd",
		JSON:    cfg.Logging.JSON,
	})
	defer rootLogger.Close()
	logger := rootLogger.Slog()

	// Storage.
	storeCfg := badger.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.InMemory = cfg.Storage.InMemory
	storeCfg.Logger = logger
	db, err := badger.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	var gc *badger.GCRunner
	if storeCfg.GCInterval > 0 && !storeCfg.InMemory {
		gc, err = badger.NewGCRunner(db, storeCfg.GCInterval, storeCfg.GCDiscardRatio, logger)
		if err != nil {
			return fmt.Errorf("start storage gc: %w", err)
		}
		gc.Start()
		defer gc.Stop()
	}

	store, err := session.NewStore(db, session.StoreConfig{
		ActiveTTL:          cfg.Session.ActiveTTL,
		CompletedRetention: cfg.Session.CompletedRetention,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	// Generation and evaluation.
	eng, err := engine.NewOpenAIEngine(engine.OpenAIConfig{
		APIKey:  cfg.Engine.APIKey,
		Model:   cfg.Engine.Model,
		BaseURL: cfg.Engine.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	evalModel := cfg.Evaluator.Model
	if evalModel == "" {
		evalModel = cfg.Engine.Model
	}
	var svc *orchestrator.Service
	eval, err := evaluator.NewOpenAIEvaluator(evaluator.OpenAIConfig{
		APIKey:  cfg.Engine.APIKey,
		Model:   evalModel,
		BaseURL: cfg.Engine.BaseURL,
		Logger:  logger,
		OnFallback: func() {
			if svc != nil && svc.Metrics() != nil {
				svc.Metrics().EvaluatorFallbacks.Inc()
			}
		},
	})
	if err != nil {
		return fmt.Errorf("create evaluator: %w", err)
	}

	svc, err = orchestrator.NewService(orchestrator.Config{
		MaxAttempts:         cfg.Session.MaxAttempts,
		ConfidenceThreshold: cfg.Session.ConfidenceThreshold,
		EnableMetrics:       cfg.Metrics.Enabled,
		Logger:              logger,
	}, orchestrator.Dependencies{
		Store:     store,
		Engine:    eng,
		Evaluator: eval,
		Queue: queue.New(queue.Config{
			TTL:           cfg.Queue.TTL,
			MaxPerContext: cfg.Queue.MaxPerContext,
			Logger:        logger,
		}),
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	// HTTP server.
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	orchestrator.RegisterRoutes(router.Group("/v1"), orchestrator.NewHandlers(svc))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("relay server listening",
			"port", cfg.Server.Port,
			"engine", eng.Name(),
			"model", eng.Model())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Discord.Enabled {
		var adapter platform.Adapter = discord.New(discord.Config{
			BotToken:        cfg.Discord.BotToken,
			AllowedChannels: cfg.Discord.AllowedChannels,
			QueueWhenBusy:   cfg.Discord.QueueWhenBusy,
			Logger:          logger,
		}, svc)
		g.Go(func() error {
			if err := adapter.Start(gctx); err != nil {
				return fmt.Errorf("%s adapter: %w", adapter.Name(), err)
			}
			<-gctx.Done()
			return adapter.Stop()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("relay server stopped")
	return nil
}
