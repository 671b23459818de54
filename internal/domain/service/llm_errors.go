package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LLMErrorKind classifies LLM errors for reporting decisions.
type LLMErrorKind int

const (
	// ErrKindTransient: network reset, 5xx, rate limit.
	ErrKindTransient LLMErrorKind = iota
	// ErrKindAuth: invalid API key, 401/403.
	ErrKindAuth
	// ErrKindBadRequest: malformed request, unknown model, 400.
	ErrKindBadRequest
	// ErrKindTimeout: the bounded wait for the call elapsed.
	ErrKindTimeout
	// ErrKindUnavailable: the provider was short-circuited (breaker open).
	ErrKindUnavailable
)

// String returns a human-readable label for the error kind.
func (k LLMErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// LLMError is a structured error from an LLM operation.
type LLMError struct {
	Kind       LLMErrorKind
	Message    string
	StatusCode int
	Provider   string
	Model      string
	Cause      error
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *LLMError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is (or wraps) an LLM timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var llmErr *LLMError
	return errors.As(err, &llmErr) && llmErr.Kind == ErrKindTimeout
}

// ClassifyError examines an error and returns a classified LLMError.
// An *LLMError is returned as-is.
func ClassifyError(err error, provider, model string) *LLMError {
	if err == nil {
		return nil
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}

	classified := &LLMError{
		Kind:     ErrKindTransient,
		Message:  "transient error",
		Provider: provider,
		Model:    model,
		Cause:    err,
	}

	errStr := strings.ToLower(err.Error())
	classified.StatusCode = extractStatusCode(errStr)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStr, "deadline exceeded") || strings.Contains(errStr, "timeout"):
		classified.Kind = ErrKindTimeout
		classified.Message = "request timed out"
	case classified.StatusCode == 401 || classified.StatusCode == 403 || strings.Contains(errStr, "invalid api key"):
		classified.Kind = ErrKindAuth
		classified.Message = "authentication failed"
	case classified.StatusCode == 400 || classified.StatusCode == 404 || strings.Contains(errStr, "model not found"):
		classified.Kind = ErrKindBadRequest
		classified.Message = "invalid request"
	}
	return classified
}

// extractStatusCode pulls an HTTP status out of "API error <code>: ..." style messages.
func extractStatusCode(errStr string) int {
	idx := strings.Index(errStr, "error ")
	if idx < 0 {
		return 0
	}
	rest := errStr[idx+len("error "):]
	code := 0
	for i := 0; i < len(rest) && i < 3; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return 0
		}
		code = code*10 + int(rest[i]-'0')
	}
	if code < 100 {
		return 0
	}
	return code
}
