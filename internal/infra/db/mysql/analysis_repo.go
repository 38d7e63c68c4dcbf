package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/infra/db"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create inserts a new analysis record
func (r *AnalysisRepository) Create(ctx context.Context, a *analysis.AnalysisResult) error {
	rec, err := db.FromAnalysis(a)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO analysis_results (%s)\nVALUES (%s);", db.AnalysisColumns, placeholders(db.AnalysisColumnCount))
	_, err = r.db.ExecContext(ctx, q, rec.InsertArgs()...)
	return err
}

// Update overwrites the row while its status is still expected.
func (r *AnalysisRepository) Update(ctx context.Context, a *analysis.AnalysisResult, expected analysis.Status) error {
	rec, err := db.FromAnalysis(a)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("UPDATE analysis_results SET %s\nWHERE tenant_id=? AND id=? AND status=?;", setClause(db.AnalysisUpdateColumns))
	args := append(rec.UpdateArgs(), rec.TenantID, rec.ID, string(expected))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	// MySQL reports matched rows only when clientFoundRows is set, so
	// zero affected rows is resolved by reading the row back.
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	const check = `SELECT status FROM analysis_results WHERE tenant_id=? AND id=?;`
	var status string
	err = r.db.QueryRowContext(ctx, check, rec.TenantID, rec.ID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return analysis.ErrNotFound
	case err != nil:
		return err
	case status == string(expected):
		// identical values rewritten, nothing changed
		return nil
	}
	return fmt.Errorf("%w: stored status is %s", analysis.ErrConflict, status)
}

// Get by ID + Tenant
func (r *AnalysisRepository) Get(ctx context.Context, tenant string, id analysis.ID) (*analysis.AnalysisResult, error) {
	q := fmt.Sprintf("SELECT %s\nFROM analysis_results\nWHERE tenant_id=? AND id=?\nLIMIT 1;", db.AnalysisColumns)
	out, err := db.ScanAnalysis(r.db.QueryRowContext(ctx, q, tenant, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	return out, err
}

// ListByPatient with offset + limit pagination
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
WHERE tenant_id=? AND patient_id=?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;`, db.AnalysisColumns)
	rows, err := r.db.QueryContext(ctx, q, tenant, patientID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.AnalysisResult
	for rows.Next() {
		a, err := db.ScanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
