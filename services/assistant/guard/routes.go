// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"github.com/gin-gonic/gin"

	"github.com/meridianops/meridian/services/assistant/events"
	"github.com/meridianops/meridian/services/assistant/mistakes"
	"github.com/meridianops/meridian/services/assistant/resilience"
)

// SetupRoutes registers the diagnostics API on the given router.
//
// The hub may be nil; the learning-events websocket route is only
// registered when one is supplied.
func SetupRoutes(router *gin.Engine, registry *resilience.Registry,
	store *mistakes.Store, advisor *mistakes.Advisor, hub *events.Hub) {

	router.GET("/health", HealthCheck)

	v1 := router.Group("/v1")
	{
		breakers := v1.Group("/breakers")
		{
			breakers.GET("", ListBreakers(registry))
			breakers.GET("/open", ListOpenCircuits(registry))
			breakers.GET("/:key", GetBreaker(registry))
			breakers.POST("/reset", ResetBreakers(registry))
		}

		learning := v1.Group("/mistakes")
		{
			learning.GET("/summary", GetMistakeSummary(advisor))
			learning.GET("/lessons", GetPromptLessons(advisor))
			learning.GET("/:tool", GetToolMistakes(store))
			learning.GET("/:tool/advice", GetToolAdvice(advisor))
		}

		if hub != nil {
			v1.GET("/events/ws", gin.WrapH(hub))
		}
	}
}
