package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS global_ai_config (
  singleton_key VARCHAR(16)  NOT NULL PRIMARY KEY,
  document      JSON         NOT NULL,
  updated_at    DATETIME(6)  NOT NULL,
  updated_by    VARCHAR(128) NOT NULL DEFAULT ''
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  id               CHAR(36)     NOT NULL PRIMARY KEY,
  tenant_id        VARCHAR(64)  NOT NULL,
  user_id          VARCHAR(128) NOT NULL DEFAULT '',
  patient_id       VARCHAR(128) NOT NULL,
  analysis_type    VARCHAR(32)  NOT NULL,
  status           VARCHAR(16)  NOT NULL,
  analysis_json    JSON         NULL,
  ai_metadata_json JSON         NOT NULL,
  notes            TEXT         NOT NULL,
  error_category   VARCHAR(32)  NULL,
  error_message    TEXT         NULL,
  raw_response     MEDIUMTEXT   NOT NULL,
  transcript_url   VARCHAR(512) NOT NULL DEFAULT '',
  reviewed_by      VARCHAR(128) NOT NULL DEFAULT '',
  reviewed_at      DATETIME(6)  NULL,
  decided_by       VARCHAR(128) NOT NULL DEFAULT '',
  decided_at       DATETIME(6)  NULL,
  created_at       DATETIME(6)  NOT NULL,
  updated_at       DATETIME(6)  NOT NULL,
  KEY idx_analysis_results_patient (tenant_id, patient_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS analysis_run_errors (
  id            CHAR(36)    NOT NULL PRIMARY KEY,
  tenant_id     VARCHAR(64) NOT NULL,
  analysis_id   VARCHAR(64) NOT NULL,
  analysis_type VARCHAR(32) NOT NULL DEFAULT '',
  phase         VARCHAR(16) NOT NULL,
  category      VARCHAR(32) NOT NULL,
  message       TEXT        NOT NULL,
  details_json  JSON        NOT NULL,
  created_at    DATETIME(6) NOT NULL,
  KEY idx_analysis_run_errors_analysis (tenant_id, analysis_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
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
