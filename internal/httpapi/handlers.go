package httpapi

import (
	"errors"
	"net/http"

	"github.com/nullvalue11/book8-core-api/internal/calls"
	"github.com/nullvalue11/book8-core-api/internal/usage"
	"github.com/nullvalue11/book8-core-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
//
// Wire contract: mutating endpoints answer {"ok": true, "call": ..., "noop": ...};
// the noop marker tells redelivering producers their event was already applied.

type Handlers struct {
	Calls *calls.Service
	Usage *usage.Service
}

type startCallRequest struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// StartCall handles POST /internal/calls/start.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	rec, noop, err := h.Calls.Start(c.Request.Context(), calls.StartRequest{
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		From:      req.From,
		To:        req.To,
	})
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	logger.FromGin(c).Info("call start", "session_id", req.SessionID, "tenant_id", req.TenantID, "noop", noop)
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec, "noop": noop})
}

// AppendTranscript handles POST /internal/calls/transcript.
func (h Handlers) AppendTranscript(c *gin.Context) {
	var req calls.TranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	rec, noop, err := h.Calls.AppendTranscript(c.Request.Context(), req)
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec, "noop": noop})
}

// AppendTool handles POST /internal/calls/tool.
func (h Handlers) AppendTool(c *gin.Context) {
	var req calls.ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	rec, noop, err := h.Calls.AppendTool(c.Request.Context(), req)
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec, "noop": noop})
}

type usageDeltaRequest struct {
	SessionID string           `json:"session_id"`
	Delta     calls.UsageDelta `json:"delta"`
}

// ApplyUsage handles POST /internal/calls/usage.
func (h Handlers) ApplyUsage(c *gin.Context) {
	var req usageDeltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	rec, noop, err := h.Calls.ApplyUsage(c.Request.Context(), req.SessionID, req.Delta)
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec, "noop": noop})
}

// EndCall handles POST /internal/calls/end.
func (h Handlers) EndCall(c *gin.Context) {
	var req calls.EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json"})
		return
	}

	rec, noop, err := h.Calls.End(c.Request.Context(), req)
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	logger.FromGin(c).Info("call end", "session_id", req.SessionID, "status", rec.Status)
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec, "noop": noop})
}

// GetCall handles GET /internal/calls/:session_id (diagnostics read).
func (h Handlers) GetCall(c *gin.Context) {
	sessionID := c.Param("session_id")

	rec, err := h.Calls.Get(c.Request.Context(), sessionID)
	if err != nil {
		abortWithCallsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": rec})
}

// UsageSummary handles GET /internal/usage/summary.
func (h Handlers) UsageSummary(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "tenant_id is required"})
		return
	}

	sum, err := h.Usage.Summarize(c.Request.Context(), tenantID, c.Query("from"), c.Query("to"))
	if err != nil {
		if errors.Is(err, usage.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request"})
			return
		}
		logger.FromGin(c).Error("usage summary failed", "tenant_id", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": sum})
}

// abortWithCallsError maps service errors to HTTP statuses. Validation never
// mutated anything, so 400s are safe to drop; 500s are redelivered by the
// producer and absorbed by the idempotency keys.
func abortWithCallsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid argument"})
	case errors.Is(err, calls.ErrNegativeDelta):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "usage deltas must be non-negative"})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"ok": false, "error": "call not found"})
	default:
		logger.FromGin(c).Error("call mutation failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
	}
}
