// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProcessor struct{}

func (stubProcessor) Process(_ context.Context, _ *datatypes.AskRequest) datatypes.GuidanceResponse {
	return datatypes.GuidanceResponse{Success: true}
}

func (stubProcessor) Health() map[string]interface{} {
	return map[string]interface{}{"status": "ok"}
}

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, stubProcessor{}, escalation.NewMemorySink())

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/guidance"},
		{"GET", "/v1/escalations"},
	}

	registered := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range registered {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		assert.True(t, found, "expected route %s %s", expected.method, expected.path)
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, stubProcessor{}, escalation.NewMemorySink())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, stubProcessor{}, escalation.NewMemorySink())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
