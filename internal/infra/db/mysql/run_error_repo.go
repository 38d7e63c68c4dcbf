package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/infra/db"
)

type RunErrorRepository struct {
	db *sql.DB
}

func NewRunErrorRepository(db *sql.DB) *RunErrorRepository { return &RunErrorRepository{db: db} }

func (r *RunErrorRepository) Save(ctx context.Context, e *runerrors.RunError) error {
	const q = `
INSERT INTO analysis_run_errors
  (id, tenant_id, analysis_id, analysis_type, phase, category, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
`
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	tenant := stringOrDash(e.TenantID)
	analysisID := stringOrDash(e.AnalysisID)
	phase := stringOrDash(string(e.Phase))
	category := stringOrDash(e.Category)
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q, e.ID, tenant, analysisID, e.AnalysisType, phase, category, msg, db.DetailsOrEmpty(e.DetailsJSON), created)
	return err
}

func (r *RunErrorRepository) ListByAnalysis(ctx context.Context, tenant string, analysisID string, limit int) ([]*runerrors.RunError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, analysis_id, analysis_type, phase, category, message, details_json, created_at
FROM analysis_run_errors
WHERE tenant_id = ? AND analysis_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*runerrors.RunError
	for rows.Next() {
		var e runerrors.RunError
		var phase string
		var created time.Time
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AnalysisID, &e.AnalysisType, &phase, &e.Category, &e.Message, &e.DetailsJSON, &created); err != nil {
			return nil, err
		}
		e.Phase = runerrors.Phase(phase)
		e.CreatedAt = created
		out = append(out, &e)
	}
	return out, rows.Err()
}
