package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/infra/db"
)

type RunErrorRepository struct{ db *sql.DB }

func NewRunErrorRepository(db *sql.DB) *RunErrorRepository { return &RunErrorRepository{db: db} }

func (r *RunErrorRepository) Save(ctx context.Context, e *runerrors.RunError) error {
	const q = `
INSERT INTO analysis_run_errors
  (id, tenant_id, analysis_id, analysis_type, phase, category, message, details_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.AnalysisID, e.AnalysisType, string(e.Phase), e.Category, msg,
		db.DetailsOrEmpty(e.DetailsJSON), created,
	)
	return err
}

func (r *RunErrorRepository) ListByAnalysis(ctx context.Context, tenant string, analysisID string, limit int) ([]*runerrors.RunError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, analysis_id, analysis_type, phase, category, message, details_json, created_at
FROM analysis_run_errors
WHERE tenant_id = $1 AND analysis_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, tenant, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*runerrors.RunError
	for rows.Next() {
		var e runerrors.RunError
		var phase string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AnalysisID, &e.AnalysisType, &phase, &e.Category, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Phase = runerrors.Phase(phase)
		out = append(out, &e)
	}
	return out, rows.Err()
}
