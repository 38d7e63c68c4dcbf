package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/infra/db"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

func (r *AnalysisRepository) Create(ctx context.Context, a *analysis.AnalysisResult) error {
	rec, err := db.FromAnalysis(a)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO analysis_results (%s)\nVALUES (%s);", db.AnalysisColumns, placeholders(1, db.AnalysisColumnCount))
	_, err = r.db.ExecContext(ctx, q, rec.InsertArgs()...)
	return err
}

// Update writes the record only while the stored status still equals
// expected.
func (r *AnalysisRepository) Update(ctx context.Context, a *analysis.AnalysisResult, expected analysis.Status) error {
	rec, err := db.FromAnalysis(a)
	if err != nil {
		return err
	}
	n := len(db.AnalysisUpdateColumns)
	q := fmt.Sprintf("UPDATE analysis_results SET %s\nWHERE tenant_id = $%d AND id = $%d AND status = $%d;",
		setClause(db.AnalysisUpdateColumns, 1), n+1, n+2, n+3)
	args := append(rec.UpdateArgs(), rec.TenantID, rec.ID, string(expected))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return r.missOrConflict(ctx, rec.TenantID, rec.ID)
}

func (r *AnalysisRepository) missOrConflict(ctx context.Context, tenant, id string) error {
	const q = `SELECT status FROM analysis_results WHERE tenant_id = $1 AND id = $2;`
	var status string
	err := r.db.QueryRowContext(ctx, q, tenant, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: stored status is %s", analysis.ErrConflict, status)
}

// Get by ID + Tenant
func (r *AnalysisRepository) Get(ctx context.Context, tenant string, id analysis.ID) (*analysis.AnalysisResult, error) {
	q := fmt.Sprintf("SELECT %s\nFROM analysis_results\nWHERE tenant_id = $1 AND id = $2\nLIMIT 1;", db.AnalysisColumns)
	out, err := db.ScanAnalysis(r.db.QueryRowContext(ctx, q, tenant, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	return out, err
}

// ListByPatient, newest first, with offset + limit pagination
func (r *AnalysisRepository) ListByPatient(ctx context.Context, tenant, patientID string, page, pageSize int) ([]*analysis.AnalysisResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	q := fmt.Sprintf(`SELECT %s
FROM analysis_results
WHERE tenant_id = $1 AND patient_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4;`, db.AnalysisColumns)
	rows, err := r.db.QueryContext(ctx, q, tenant, patientID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var out []*analysis.AnalysisResult
	for rows.Next() {
		a, err := db.ScanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
