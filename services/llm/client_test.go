package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Classification(t *testing.T) {
	pe := &ProviderError{Provider: "ollama", Kind: ErrorKindRateLimited, Err: errors.New("429")}

	assert.Equal(t, ErrorKindNone, KindOf(nil))
	assert.Equal(t, ErrorKindRateLimited, KindOf(pe))
	assert.Equal(t, ErrorKindRateLimited, KindOf(fmt.Errorf("wrapped: %w", pe)))
	assert.Equal(t, ErrorKindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, ErrorKindTransient, KindOf(errors.New("connection refused")))
}

func TestErrorKind_Transient(t *testing.T) {
	assert.True(t, ErrorKindRateLimited.Transient())
	assert.True(t, ErrorKindTimeout.Transient())
	assert.True(t, ErrorKindTransient.Transient())
	assert.False(t, ErrorKindAuthFailure.Transient())
	assert.False(t, ErrorKindMalformedResponse.Transient())
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, ErrorKindRateLimited, kindFromStatus(429))
	assert.Equal(t, ErrorKindAuthFailure, kindFromStatus(401))
	assert.Equal(t, ErrorKindAuthFailure, kindFromStatus(403))
	assert.Equal(t, ErrorKindTimeout, kindFromStatus(408))
	assert.Equal(t, ErrorKindTransient, kindFromStatus(500))
	assert.Equal(t, ErrorKindTransient, kindFromStatus(503))
	assert.Equal(t, ErrorKindMalformedResponse, kindFromStatus(400))
}

func TestOllamaGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test","response":"generated text","done":true}`))
	}))
	defer server.Close()

	client := &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		model:      "test",
	}

	text, err := client.Generate(context.Background(), "hello", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "generated text", text)
}

func TestOllamaGenerate_RateLimitClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		model:      "test",
	}

	_, err := client.Generate(context.Background(), "hello", GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, ErrorKindRateLimited, KindOf(err))
}

func TestOllamaGenerate_MalformedBodyClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		model:      "test",
	}

	_, err := client.Generate(context.Background(), "hello", GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, ErrorKindMalformedResponse, KindOf(err))
}
