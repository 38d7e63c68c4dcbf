package analysis

import (
	"time"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// ID identifier type
type ID string

// AIMetadata describes the provider call that produced a result.
type AIMetadata struct {
	Model            string            `json:"model"`
	Provider         aiconfig.Provider `json:"provider"`
	PromptTokens     int               `json:"promptTokens"`
	CompletionTokens int               `json:"completionTokens"`
	TotalTokens      int               `json:"totalTokens"`
	Cost             float64           `json:"cost"`
	ProcessingTimeMS int64             `json:"processingTimeMs"`
	Temperature      float64           `json:"temperature"`
	Attempts         int               `json:"attempts"`
}

// RunError is the human readable failure reason of an errored run.
type RunError struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// AnalysisResult is one run of one stage for one patient, owned by a tenant.
type AnalysisResult struct {
	ID            ID                    `json:"id"`
	TenantID      string                `json:"tenant_id"`
	UserID        string                `json:"user_id"`
	PatientID     string                `json:"patient_id"`
	Type          aiconfig.AnalysisType `json:"type"`
	Status        Status                `json:"status"`
	Analysis      Result                `json:"analysis,omitempty"`
	AIMetadata    AIMetadata            `json:"ai_metadata"`
	Notes         string                `json:"notes,omitempty"`
	Error         *RunError             `json:"error,omitempty"`
	RawResponse   string                `json:"raw_response,omitempty"`
	TranscriptURL string                `json:"transcript_url,omitempty"`
	ReviewedBy    string                `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time            `json:"reviewed_at,omitempty"`
	DecidedBy     string                `json:"decided_by,omitempty"`
	DecidedAt     *time.Time            `json:"decided_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// PaginatedResult represents a page of analyses
type PaginatedResult struct {
	Data     []*AnalysisResult `json:"data"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}
