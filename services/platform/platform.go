// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform defines the contract between inbound event adapters
// and the relay orchestrator.
//
// An adapter owns one connection to an external surface (a chat
// gateway, a webhook receiver) and translates its events into
// orchestrator runs. Adapters are optional; the HTTP API is always
// available.
package platform

import "context"

// Adapter is a long-running inbound event source.
type Adapter interface {
	// Start opens the adapter's connection and begins dispatching
	// events. It returns once the connection is established.
	Start(ctx context.Context) error

	// Stop closes the connection. Safe to call when not started.
	Stop() error

	// Name identifies the adapter in logs.
	Name() string
}
