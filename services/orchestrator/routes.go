// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all relay routes with the router.
//
// Description:
//
//	Registers the /v1/relay/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/relay/run - Run a session to a terminal status
//	POST /v1/relay/cancel - Stop the running session for a context
//	POST /v1/relay/enqueue - Buffer a message for a busy context
//	GET  /v1/relay/sessions - List active and completed sessions
//	GET  /v1/relay/sessions/:id - Get one session record
//	GET  /v1/relay/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	relay := rg.Group("/relay")
	{
		relay.POST("/run", handlers.HandleRun)
		relay.POST("/cancel", handlers.HandleCancel)
		relay.POST("/enqueue", handlers.HandleEnqueue)
		relay.GET("/sessions", handlers.HandleListSessions)
		relay.GET("/sessions/:id", handlers.HandleGetSession)
		relay.GET("/health", handlers.HandleHealth)
	}
}
