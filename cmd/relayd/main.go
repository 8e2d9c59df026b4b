// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command relayd starts the relay session orchestrator.
//
// relayd exposes the relay HTTP API, persists session state in an
// embedded BadgerDB, and optionally connects a Discord adapter.
//
// # Environment Variables
//
//   - RELAY_PORT: HTTP server port (default: 12310)
//   - RELAY_STORAGE_PATH: BadgerDB directory (default: ~/.relay/data)
//   - RELAY_ENGINE_MODEL: chat model for generation (default: gpt-4o-mini)
//   - RELAY_ENGINE_BASE_URL: OpenAI-compatible endpoint override
//   - RELAY_LOG_LEVEL: debug, info, warn, error (default: info)
//   - RELAY_DISCORD_TOKEN: Discord bot token; enables the adapter
//   - OPENAI_API_KEY: provider API key
//
// # Usage
//
//	# Build
//	go build -o relayd ./cmd/relayd
//
//	# Run with defaults
//	./relayd serve
//
//	# Run with a config file
//	./relayd serve --config relay.yaml
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "relayd",
		Short: "Relay session orchestrator",
		Long: `relayd runs relay sessions: single-flight-per-context execution,
bounded retry with injected feedback, and durable session state.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the relayd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relayd", version)
		},
	}
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
