// Package db holds the row codec shared by the SQL dialect packages.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
)

// AnalysisColumns in the order used by InsertArgs and ScanDest.
const AnalysisColumns = `id, tenant_id, user_id, patient_id, analysis_type, status,
 analysis_json, ai_metadata_json, notes, error_category, error_message,
 raw_response, transcript_url, reviewed_by, reviewed_at, decided_by, decided_at,
 created_at, updated_at`

// AnalysisColumnCount is the number of entries in AnalysisColumns.
const AnalysisColumnCount = 19

// AnalysisUpdateColumns are written by a status-guarded update, in the
// order of UpdateArgs.
var AnalysisUpdateColumns = []string{
	"status", "analysis_json", "ai_metadata_json", "notes", "error_category", "error_message",
	"raw_response", "transcript_url", "reviewed_by", "reviewed_at", "decided_by", "decided_at",
	"updated_at",
}

// AnalysisRecord is the flat row form of analysis.AnalysisResult.
type AnalysisRecord struct {
	ID            string
	TenantID      string
	UserID        string
	PatientID     string
	Type          string
	Status        string
	Analysis      sql.NullString
	AIMetadata    string
	Notes         string
	ErrorCategory sql.NullString
	ErrorMessage  sql.NullString
	RawResponse   string
	TranscriptURL string
	ReviewedBy    string
	ReviewedAt    sql.NullTime
	DecidedBy     string
	DecidedAt     sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FromAnalysis flattens a domain record.
func FromAnalysis(r *analysis.AnalysisResult) (*AnalysisRecord, error) {
	md, err := json.Marshal(r.AIMetadata)
	if err != nil {
		return nil, fmt.Errorf("encode ai metadata: %w", err)
	}
	rec := &AnalysisRecord{
		ID:            string(r.ID),
		TenantID:      r.TenantID,
		UserID:        r.UserID,
		PatientID:     r.PatientID,
		Type:          string(r.Type),
		Status:        string(r.Status),
		AIMetadata:    string(md),
		Notes:         r.Notes,
		RawResponse:   r.RawResponse,
		TranscriptURL: r.TranscriptURL,
		ReviewedBy:    r.ReviewedBy,
		DecidedBy:     r.DecidedBy,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if r.Analysis != nil {
		b, err := json.Marshal(r.Analysis)
		if err != nil {
			return nil, fmt.Errorf("encode analysis: %w", err)
		}
		rec.Analysis = sql.NullString{String: string(b), Valid: true}
	}
	if r.Error != nil {
		rec.ErrorCategory = sql.NullString{String: string(r.Error.Category), Valid: true}
		rec.ErrorMessage = sql.NullString{String: r.Error.Message, Valid: true}
	}
	if r.ReviewedAt != nil {
		rec.ReviewedAt = sql.NullTime{Time: r.ReviewedAt.UTC(), Valid: true}
	}
	if r.DecidedAt != nil {
		rec.DecidedAt = sql.NullTime{Time: r.DecidedAt.UTC(), Valid: true}
	}
	return rec, nil
}

// ToAnalysis rebuilds the domain record, decoding the typed result.
func (rec *AnalysisRecord) ToAnalysis() (*analysis.AnalysisResult, error) {
	r := &analysis.AnalysisResult{
		ID:            analysis.ID(rec.ID),
		TenantID:      rec.TenantID,
		UserID:        rec.UserID,
		PatientID:     rec.PatientID,
		Type:          aiconfig.AnalysisType(rec.Type),
		Status:        analysis.Status(rec.Status),
		Notes:         rec.Notes,
		RawResponse:   rec.RawResponse,
		TranscriptURL: rec.TranscriptURL,
		ReviewedBy:    rec.ReviewedBy,
		DecidedBy:     rec.DecidedBy,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if strings.TrimSpace(rec.AIMetadata) != "" {
		if err := json.Unmarshal([]byte(rec.AIMetadata), &r.AIMetadata); err != nil {
			return nil, fmt.Errorf("decode ai metadata of %s: %w", rec.ID, err)
		}
	}
	if rec.Analysis.Valid && rec.Analysis.String != "" {
		res, err := analysis.DecodeResult(r.Type, []byte(rec.Analysis.String))
		if err != nil {
			return nil, fmt.Errorf("decode analysis of %s: %w", rec.ID, err)
		}
		r.Analysis = res
	}
	if rec.ErrorCategory.Valid {
		r.Error = &analysis.RunError{Category: analysis.ErrorCategory(rec.ErrorCategory.String), Message: rec.ErrorMessage.String}
	}
	if rec.ReviewedAt.Valid {
		t := rec.ReviewedAt.Time
		r.ReviewedAt = &t
	}
	if rec.DecidedAt.Valid {
		t := rec.DecidedAt.Time
		r.DecidedAt = &t
	}
	return r, nil
}

// InsertArgs in AnalysisColumns order.
func (rec *AnalysisRecord) InsertArgs() []any {
	return []any{
		rec.ID, rec.TenantID, rec.UserID, rec.PatientID, rec.Type, rec.Status,
		rec.Analysis, rec.AIMetadata, rec.Notes, rec.ErrorCategory, rec.ErrorMessage,
		rec.RawResponse, rec.TranscriptURL, rec.ReviewedBy, rec.ReviewedAt, rec.DecidedBy, rec.DecidedAt,
		rec.CreatedAt, rec.UpdatedAt,
	}
}

// UpdateArgs in AnalysisUpdateColumns order.
func (rec *AnalysisRecord) UpdateArgs() []any {
	return []any{
		rec.Status, rec.Analysis, rec.AIMetadata, rec.Notes, rec.ErrorCategory, rec.ErrorMessage,
		rec.RawResponse, rec.TranscriptURL, rec.ReviewedBy, rec.ReviewedAt, rec.DecidedBy, rec.DecidedAt,
		rec.UpdatedAt,
	}
}

// ScanDest returns pointers in AnalysisColumns order.
func (rec *AnalysisRecord) ScanDest() []any {
	return []any{
		&rec.ID, &rec.TenantID, &rec.UserID, &rec.PatientID, &rec.Type, &rec.Status,
		&rec.Analysis, &rec.AIMetadata, &rec.Notes, &rec.ErrorCategory, &rec.ErrorMessage,
		&rec.RawResponse, &rec.TranscriptURL, &rec.ReviewedBy, &rec.ReviewedAt, &rec.DecidedBy, &rec.DecidedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	}
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanAnalysis reads one row selected with AnalysisColumns.
func ScanAnalysis(s Scanner) (*analysis.AnalysisResult, error) {
	var rec AnalysisRecord
	if err := s.Scan(rec.ScanDest()...); err != nil {
		return nil, err
	}
	return rec.ToAnalysis()
}

// EncodeConfig serializes the singleton document. updated_at and
// updated_by also live in their own columns, which win on read.
func EncodeConfig(cfg *aiconfig.GlobalAIConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode ai config: %w", err)
	}
	return string(b), nil
}

// DecodeConfig is the inverse of EncodeConfig.
func DecodeConfig(doc string, updatedAt time.Time, updatedBy string) (*aiconfig.GlobalAIConfig, error) {
	cfg := &aiconfig.GlobalAIConfig{}
	if err := json.Unmarshal([]byte(doc), cfg); err != nil {
		return nil, fmt.Errorf("decode ai config: %w", err)
	}
	if cfg.APIKeys == nil {
		cfg.APIKeys = aiconfig.APIKeys{}
	}
	if cfg.Stages == nil {
		cfg.Stages = map[aiconfig.AnalysisType]aiconfig.AnalysisTypeConfig{}
	}
	cfg.UpdatedAt = updatedAt
	cfg.UpdatedBy = updatedBy
	return cfg, nil
}

// DetailsOrEmpty keeps details_json valid JSON.
func DetailsOrEmpty(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	var js any
	// ensure valid json; if invalid, wrap as string field
	if json.Unmarshal([]byte(details), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
