package main

import (
	"github.com/nullvalue11/book8-core-api/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Internal surface: consumed by the voice orchestrator only.
	// Every mutating route is idempotent under redelivery; see internal/calls.
	internal := r.Group("/internal")
	internal.Use(authMW)
	{
		callsGroup := internal.Group("/calls")
		{
			callsGroup.POST("/start", h.StartCall)
			callsGroup.POST("/transcript", h.AppendTranscript)
			callsGroup.POST("/tool", h.AppendTool)
			callsGroup.POST("/usage", h.ApplyUsage)
			callsGroup.POST("/end", h.EndCall)
			callsGroup.GET("/:session_id", h.GetCall)
		}

		internal.GET("/usage/summary", h.UsageSummary)
	}
}
