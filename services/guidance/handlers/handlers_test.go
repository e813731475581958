// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProcessor returns a fixed response and records the request it saw.
type stubProcessor struct {
	lastQuery string
	response  datatypes.GuidanceResponse
}

func (s *stubProcessor) Process(_ context.Context, req *datatypes.AskRequest) datatypes.GuidanceResponse {
	s.lastQuery = req.Query
	return s.response
}

func (s *stubProcessor) Health() map[string]interface{} {
	return map[string]interface{}{"status": "ok", "version": "test"}
}

func validBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"query": "What can I study with these marks?",
		"profile": map[string]interface{}{
			"marks": map[string]float64{"Mathematics": 70},
		},
		"session": map[string]interface{}{
			"consentGiven":     true,
			"consentTimestamp": "2025-06-01T09:00:00Z",
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandleGuidance_ValidRequest(t *testing.T) {
	stub := &stubProcessor{response: datatypes.GuidanceResponse{
		Success:  true,
		Response: "some guidance",
		Source:   datatypes.SourceGenerated,
	}}
	router := gin.New()
	router.POST("/v1/guidance", HandleGuidance(stub))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/guidance", bytes.NewReader(validBody(t)))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "What can I study with these marks?", stub.lastQuery)

	var resp datatypes.GuidanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "some guidance", resp.Response)
}

func TestHandleGuidance_MalformedJSON(t *testing.T) {
	router := gin.New()
	router.POST("/v1/guidance", HandleGuidance(&stubProcessor{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/guidance", bytes.NewReader([]byte("{not json")))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGuidance_MissingMarksRejected(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{
		"query":   "What can I study?",
		"profile": map[string]interface{}{},
		"session": map[string]interface{}{"consentGiven": true},
	})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/guidance", HandleGuidance(&stubProcessor{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/guidance", bytes.NewReader(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGuidance_BadConsentTimestampRejected(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{
		"query": "What can I study?",
		"profile": map[string]interface{}{
			"marks": map[string]float64{"Mathematics": 70},
		},
		"session": map[string]interface{}{
			"consentGiven":     true,
			"consentTimestamp": "last Tuesday",
		},
	})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/guidance", HandleGuidance(&stubProcessor{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/guidance", bytes.NewReader(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth_ReturnsComponentState(t *testing.T) {
	router := gin.New()
	router.GET("/health", HandleHealth(&stubProcessor{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "test", response["version"])
}

func TestHandleListEscalations_ReturnsNewestFirst(t *testing.T) {
	sink := escalation.NewMemorySink()
	first := escalation.NewRecord("fp1", "q1", "d1", escalation.ReasonLowConfidence, datatypes.VerificationReport{})
	second := escalation.NewRecord("fp2", "q2", "d2", escalation.ReasonScrubAmbiguous, datatypes.VerificationReport{})
	require.NoError(t, sink.Submit(context.Background(), first))
	require.NoError(t, sink.Submit(context.Background(), second))

	router := gin.New()
	router.GET("/v1/escalations", HandleListEscalations(sink))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/escalations", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Count       int                 `json:"count"`
		Escalations []escalation.Record `json:"escalations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 2, response.Count)
	assert.Equal(t, "fp2", response.Escalations[0].Fingerprint)
	assert.Equal(t, "fp1", response.Escalations[1].Fingerprint)
}

func TestHandleListEscalations_InvalidLimit(t *testing.T) {
	router := gin.New()
	router.GET("/v1/escalations", HandleListEscalations(escalation.NewMemorySink()))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/escalations?limit=-3", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
