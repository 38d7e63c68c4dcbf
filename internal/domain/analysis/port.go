package analysis

import (
	"context"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// Repository port for persisting and querying analyses
type Repository interface {
	Create(ctx context.Context, r *AnalysisResult) error
	// Update overwrites the record only if its stored status still equals
	// expected; otherwise it returns ErrConflict.
	Update(ctx context.Context, r *AnalysisResult, expected Status) error
	Get(ctx context.Context, tenant string, id ID) (*AnalysisResult, error)
	ListByPatient(ctx context.Context, tenant, patientID string, page, pageSize int) ([]*AnalysisResult, error)
}

// ResponseParser validates provider output against the stage schema.
type ResponseParser interface {
	Parse(t aiconfig.AnalysisType, raw string) (Result, error)
}

// TranscriptStore archives prompts and raw responses for diagnosis.
type TranscriptStore interface {
	PutTranscript(ctx context.Context, key string, body []byte) (string, error)
}
