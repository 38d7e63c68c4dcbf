package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/infra/db"
)

// singletonKey is the only row ever written to global_ai_config.
const singletonKey = "global"

type AIConfigRepository struct{ db *sql.DB }

func NewAIConfigRepository(db *sql.DB) *AIConfigRepository { return &AIConfigRepository{db: db} }

func (r *AIConfigRepository) Get(ctx context.Context) (*aiconfig.GlobalAIConfig, error) {
	const q = `
SELECT document, updated_at, updated_by
FROM global_ai_config
WHERE singleton_key = $1;`
	var (
		doc       string
		updatedAt time.Time
		updatedBy string
	)
	err := r.db.QueryRowContext(ctx, q, singletonKey).Scan(&doc, &updatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, aiconfig.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return db.DecodeConfig(doc, updatedAt, updatedBy)
}

// Save upserts the singleton document in one statement.
func (r *AIConfigRepository) Save(ctx context.Context, cfg *aiconfig.GlobalAIConfig) error {
	const q = `
INSERT INTO global_ai_config (singleton_key, document, updated_at, updated_by)
VALUES ($1, $2, $3, $4)
ON CONFLICT (singleton_key) DO UPDATE SET
 document = EXCLUDED.document,
 updated_at = EXCLUDED.updated_at,
 updated_by = EXCLUDED.updated_by;`
	doc, err := db.EncodeConfig(cfg)
	if err != nil {
		return err
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, q, singletonKey, doc, updated, cfg.UpdatedBy)
	return err
}
