package aiconfig

import "context"

// Repository persists the singleton record.
type Repository interface {
	// Get returns ErrNotFound when the record does not exist yet.
	Get(ctx context.Context) (*GlobalAIConfig, error)
	// Save upserts the whole document in one statement.
	Save(ctx context.Context, cfg *GlobalAIConfig) error
}
