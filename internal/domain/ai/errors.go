package ai

import (
	"errors"
	"fmt"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindRateLimited         ErrorKind = "rate_limited"
	KindAuth                ErrorKind = "auth"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindTimeout             ErrorKind = "timeout"
)

// Sentinels usable with errors.Is against a *ProviderError.
var (
	ErrRateLimited         = &ProviderError{Kind: KindRateLimited}
	ErrAuth                = &ProviderError{Kind: KindAuth}
	ErrProviderUnavailable = &ProviderError{Kind: KindProviderUnavailable}
	ErrTimeout             = &ProviderError{Kind: KindTimeout}
)

// ProviderError is a failure to obtain a response from the LLM.
type ProviderError struct {
	Kind     ErrorKind
	Provider aiconfig.Provider
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider error (%s)", e.Kind)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s provider error (%s)", e.Provider, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use the sentinels.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

// Retryable: everything except a bad API key.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindAuth
}

// NewProviderError wraps err with a kind.
func NewProviderError(p aiconfig.Provider, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: p, Err: err}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// FromHTTPStatus classifies an SDK error by the HTTP status it carried.
// ok is false for statuses that are not provider failures (4xx request
// problems), which callers surface as configuration problems.
func FromHTTPStatus(p aiconfig.Provider, status int, err error) (perr *ProviderError, ok bool) {
	switch {
	case status == 401 || status == 403:
		return NewProviderError(p, KindAuth, err), true
	case status == 429:
		return NewProviderError(p, KindRateLimited, err), true
	case status == 408 || status == 504:
		return NewProviderError(p, KindTimeout, err), true
	case status >= 500 || status == 0:
		return NewProviderError(p, KindProviderUnavailable, err), true
	}
	return nil, false
}
