package llm

import (
	"context"
	"errors"
	"fmt"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
// Drivers own their vendor request/response translation and classify vendor
// failures into the shared ErrorKind taxonomy; no caller may branch on
// vendor identity.
type LLMClient interface {
	// Name returns the stable provider identifier ("openai", "anthropic", "ollama").
	Name() string
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ErrorKind classifies a provider failure independently of the vendor.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindAuthFailure       ErrorKind = "auth_failure"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
	ErrorKindTransient         ErrorKind = "transient"
)

// Transient reports whether a failure of this kind is expected to clear on
// its own. Non-transient kinds (auth, malformed) still trigger failover to
// the next provider; they just cannot be fixed by waiting.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindTimeout, ErrorKindTransient:
		return true
	default:
		return false
	}
}

// ProviderError wraps a vendor failure with its classification.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from an error chain. Context deadline errors
// map to timeout so callers never need to special-case them.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindTransient
}

// kindFromStatus maps an HTTP status code from a vendor API to an ErrorKind.
// Shared by the REST drivers (Anthropic, Ollama).
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return ErrorKindRateLimited
	case status == 401 || status == 403:
		return ErrorKindAuthFailure
	case status == 408:
		return ErrorKindTimeout
	case status >= 500:
		return ErrorKindTransient
	default:
		return ErrorKindMalformedResponse
	}
}
