// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meridianops/meridian/services/assistant/mistakes"
	"github.com/meridianops/meridian/services/assistant/resilience"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListBreakers returns the status of every known circuit breaker.
func ListBreakers(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": registry.AllStatus()})
	}
}

// GetBreaker returns the status of one circuit breaker by key.
func GetBreaker(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		c.JSON(http.StatusOK, registry.Status(key))
	}
}

// ListOpenCircuits returns the keys of currently open breakers.
func ListOpenCircuits(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		open := registry.OpenCircuits()
		c.JSON(http.StatusOK, gin.H{"open": open, "count": len(open)})
	}
}

// ResetBreakers clears all circuit breaker state.
func ResetBreakers(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to reset circuit breakers")
		registry.Reset()
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}

// GetMistakeSummary returns aggregate mistake statistics.
func GetMistakeSummary(advisor *mistakes.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, advisor.Summary())
	}
}

// GetToolMistakes returns the recorded mistakes for one dependency key.
func GetToolMistakes(store *mistakes.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tool := c.Param("tool")
		records := store.MistakesForTool(tool, 0)
		c.JSON(http.StatusOK, gin.H{"tool": tool, "mistakes": records})
	}
}

// GetToolAdvice returns rendered guidance for one dependency key.
func GetToolAdvice(advisor *mistakes.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		tool := c.Param("tool")
		c.JSON(http.StatusOK, gin.H{"tool": tool, "advice": advisor.ToolAdvice(tool)})
	}
}

// GetPromptLessons returns the learned-lessons prompt block.
//
// The optional "limit" query parameter caps the number of lessons.
func GetPromptLessons(advisor *mistakes.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = parsed
		}
		c.JSON(http.StatusOK, gin.H{"lessons": advisor.PromptLessons(limit)})
	}
}
