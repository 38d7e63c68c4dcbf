package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

var (
	ErrNotFound = errors.New("analysis not found")
	// ErrConflict means the record changed status between read and write.
	ErrConflict = errors.New("analysis was modified concurrently")
	// ErrInvalidInput wraps caller mistakes (missing tenant, bad page size).
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorCategory is the human readable reason class of a failed run.
type ErrorCategory string

const (
	CategoryConfiguration       ErrorCategory = "configuration"
	CategoryRateLimited         ErrorCategory = "rate_limited"
	CategoryAuth                ErrorCategory = "auth"
	CategoryProviderUnavailable ErrorCategory = "provider_unavailable"
	CategoryTimeout             ErrorCategory = "timeout"
	CategoryMalformedResponse   ErrorCategory = "malformed_response"
	CategoryPersistence         ErrorCategory = "persistence"
	CategoryInternal            ErrorCategory = "internal"
)

// MalformedResponse: the provider answered but the content is not valid
// JSON or does not match the stage schema.
type MalformedResponse struct {
	Type       aiconfig.AnalysisType
	Violations []string
	Err        error
}

func (e *MalformedResponse) Error() string {
	msg := fmt.Sprintf("malformed %s response", e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Violations) > 0 {
		msg += ": " + strings.Join(e.Violations, "; ")
	}
	return msg
}

func (e *MalformedResponse) Unwrap() error { return e.Err }

// PersistenceError: the database write failed after a validated result.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CategoryOf classifies any pipeline error.
func CategoryOf(err error) ErrorCategory {
	var (
		ce *aiconfig.ConfigurationError
		pe *ai.ProviderError
		me *MalformedResponse
		se *PersistenceError
	)
	switch {
	case errors.As(err, &ce):
		return CategoryConfiguration
	case errors.As(err, &me):
		return CategoryMalformedResponse
	case errors.As(err, &pe):
		switch pe.Kind {
		case ai.KindRateLimited:
			return CategoryRateLimited
		case ai.KindAuth:
			return CategoryAuth
		case ai.KindTimeout:
			return CategoryTimeout
		default:
			return CategoryProviderUnavailable
		}
	case errors.As(err, &se):
		return CategoryPersistence
	}
	return CategoryInternal
}

// Describe returns a short user-facing message for a category.
func (c ErrorCategory) Describe() string {
	switch c {
	case CategoryConfiguration:
		return "The analysis configuration is incomplete."
	case CategoryRateLimited:
		return "The AI provider is rate limiting requests. Try again later."
	case CategoryAuth:
		return "The AI provider rejected the API key."
	case CategoryProviderUnavailable:
		return "The AI provider is unavailable."
	case CategoryTimeout:
		return "The AI provider did not answer in time."
	case CategoryMalformedResponse:
		return "The AI response did not match the expected format."
	case CategoryPersistence:
		return "The result could not be saved."
	}
	return "The analysis failed."
}
