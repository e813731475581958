// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/gin-gonic/gin"
)

// defaultEscalationLimit caps an unqualified listing request.
const defaultEscalationLimit = 50

// HandleListEscalations returns the newest records in the human review
// queue, for the counsellor dashboard.
func HandleListEscalations(sink escalation.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultEscalationLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		records, err := sink.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("Failed to list escalation records", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list escalations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":       len(records),
			"escalations": records,
		})
	}
}
