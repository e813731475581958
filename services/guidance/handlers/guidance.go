// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin HTTP handlers for the guidance service.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var guidanceTracer = otel.Tracer("khanya.guidance.handlers")

// GuidanceProcessor is the pipeline surface the handlers depend on.
type GuidanceProcessor interface {
	Process(ctx context.Context, req *datatypes.AskRequest) datatypes.GuidanceResponse
	Health() map[string]interface{}
}

// HandleGuidance accepts a guidance question with the learner's profile and
// consent state and runs it through the pipeline. The pipeline never surfaces
// internal failures to the caller, so a valid request always returns 200.
func HandleGuidance(svc GuidanceProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := guidanceTracer.Start(c.Request.Context(), "HandleGuidance")
		defer span.End()

		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the guidance request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp := svc.Process(ctx, &req)
		c.JSON(http.StatusOK, resp)
	}
}
