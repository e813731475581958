// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the guidance API surface.
func SetupRoutes(router *gin.Engine, svc handlers.GuidanceProcessor, sink escalation.Sink) {
	router.GET("/health", handlers.HandleHealth(svc))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/guidance", handlers.HandleGuidance(svc))
		v1.GET("/escalations", handlers.HandleListEscalations(sink))
	}
}
