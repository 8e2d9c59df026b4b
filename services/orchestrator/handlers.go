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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/queue"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

// Handlers contains the HTTP handlers for the relay orchestrator.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers wrapping the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleRun handles POST /v1/relay/run.
//
// Description:
//
//	Runs one session for the posted conversation and blocks until it
//	reaches a terminal status. A run already in flight for the same
//	context is superseded, not joined.
//
// Response:
//
//	200 OK: RunResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Generation exhausted all attempts
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	outcome, err := h.svc.Run(c.Request.Context(), req.ContextID, req.Messages,
		session.Platform(req.Platform), req.Metadata, nil)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyContextID),
			errors.Is(err, session.ErrInvalidContextID),
			errors.Is(err, session.ErrInvalidPlatform):
			logger.Warn("Rejected run request", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_REQUEST",
			})
		default:
			logger.Error("Run failed", "context_id", req.ContextID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "RUN_FAILED",
			})
		}
		return
	}

	c.JSON(http.StatusOK, RunResponse{
		SessionID: outcome.SessionID,
		ContextID: req.ContextID,
		Status:    string(outcome.Status),
		FinalText: outcome.FinalText,
	})
}

// HandleCancel handles POST /v1/relay/cancel.
//
// Description:
//
//	Requests a cooperative stop of the running session for a context.
//	Finding no active session is a normal outcome, not an error.
//
// Response:
//
//	200 OK: CancelResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleCancel(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancel")

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	cancelled := h.svc.Cancel(req.ContextID)
	logger.Info("Cancel requested", "context_id", req.ContextID, "cancelled", cancelled)
	c.JSON(http.StatusOK, CancelResponse{
		ContextID: req.ContextID,
		Cancelled: cancelled,
	})
}

// HandleEnqueue handles POST /v1/relay/enqueue.
//
// Description:
//
//	Buffers a message for a context. The buffer is drained into the next
//	run for that context; entries expire on their own if no run follows.
//
// Response:
//
//	200 OK: EnqueueResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleEnqueue(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEnqueue")

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	msgType := queue.Type(req.Type)
	if req.Type == "" {
		msgType = queue.TypePrompted
	}

	depth := h.svc.Enqueue(req.ContextID, queue.QueuedMessage{
		Type:      msgType,
		Content:   req.Content,
		ContextID: req.ContextID,
		UserID:    req.UserID,
		Metadata:  req.Metadata,
	})
	logger.Info("Message queued", "context_id", req.ContextID, "depth", depth)
	c.JSON(http.StatusOK, EnqueueResponse{
		ContextID: req.ContextID,
		Queued:    depth,
	})
}

// HandleListSessions handles GET /v1/relay/sessions.
//
// Query Parameters:
//
//	limit - Maximum completed records to return (default 20).
//
// Response:
//
//	200 OK: SessionListResponse
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleListSessions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSessions")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := c.Request.Context()
	active, err := h.svc.Store().ListActive(ctx)
	if err != nil {
		logger.Error("Listing active sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list sessions",
			Code:  "STORE_ERROR",
		})
		return
	}
	completed, err := h.svc.Store().ListCompleted(ctx, limit)
	if err != nil {
		logger.Error("Listing completed sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list sessions",
			Code:  "STORE_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Active:    active,
		Completed: completed,
	})
}

// HandleGetSession handles GET /v1/relay/sessions/:id.
//
// Description:
//
//	Looks up a session record by ID, checking active sessions first and
//	falling back to the completed archive.
//
// Response:
//
//	200 OK: session.Record or session.CompletedRecord
//	404 Not Found: No record with that ID
func (h *Handlers) HandleGetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSession")

	id := c.Param("id")
	ctx := c.Request.Context()

	if record, err := h.svc.Store().Get(ctx, id); err == nil {
		c.JSON(http.StatusOK, record)
		return
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		logger.Error("Session lookup failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to load session",
			Code:  "STORE_ERROR",
		})
		return
	}

	completed, err := h.svc.Store().GetCompleted(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "Session not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		logger.Error("Session lookup failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to load session",
			Code:  "STORE_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, completed)
}

// HandleHealth handles GET /v1/relay/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"engine": h.svc.engine.Name(),
	})
}

// getOrCreateRequestID returns the request ID from the X-Request-ID
// header, generating one if absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
