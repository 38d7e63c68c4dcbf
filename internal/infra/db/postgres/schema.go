package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS global_ai_config (
  singleton_key VARCHAR(16) NOT NULL PRIMARY KEY CHECK (singleton_key = 'global'),
  document      JSONB       NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  updated_by    TEXT        NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  id               UUID        PRIMARY KEY,
  tenant_id        VARCHAR(64) NOT NULL,
  user_id          TEXT        NOT NULL DEFAULT '',
  patient_id       VARCHAR(128) NOT NULL,
  analysis_type    VARCHAR(32) NOT NULL,
  status           VARCHAR(16) NOT NULL,
  analysis_json    JSONB,
  ai_metadata_json JSONB       NOT NULL,
  notes            TEXT        NOT NULL DEFAULT '',
  error_category   VARCHAR(32),
  error_message    TEXT,
  raw_response     TEXT        NOT NULL DEFAULT '',
  transcript_url   TEXT        NOT NULL DEFAULT '',
  reviewed_by      TEXT        NOT NULL DEFAULT '',
  reviewed_at      TIMESTAMPTZ,
  decided_by       TEXT        NOT NULL DEFAULT '',
  decided_at       TIMESTAMPTZ,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_results_patient
  ON analysis_results (tenant_id, patient_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS analysis_run_errors (
  id            UUID        PRIMARY KEY,
  tenant_id     VARCHAR(64) NOT NULL,
  analysis_id   VARCHAR(64) NOT NULL,
  analysis_type VARCHAR(32) NOT NULL DEFAULT '',
  phase         VARCHAR(16) NOT NULL,
  category      VARCHAR(32) NOT NULL,
  message       TEXT        NOT NULL,
  details_json  JSONB       NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_run_errors_analysis
  ON analysis_run_errors (tenant_id, analysis_id, created_at DESC)`,
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
