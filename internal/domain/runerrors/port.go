package runerrors

import (
	"context"
)

// Repository defines persistence for run errors
type Repository interface {
	Save(ctx context.Context, e *RunError) error
	ListByAnalysis(ctx context.Context, tenant string, analysisID string, limit int) ([]*RunError, error)
}
