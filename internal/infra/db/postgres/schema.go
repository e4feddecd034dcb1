package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS scan_master (
  id             VARCHAR(36)   PRIMARY KEY,
  target_url     TEXT          NOT NULL,
  status         VARCHAR(16)   NOT NULL,
  score          INTEGER       NULL,
  grade          VARCHAR(2)    NOT NULL DEFAULT '',
  critical       INTEGER       NOT NULL DEFAULT 0,
  high           INTEGER       NOT NULL DEFAULT 0,
  medium         INTEGER       NOT NULL DEFAULT 0,
  low            INTEGER       NOT NULL DEFAULT 0,
  info           INTEGER       NOT NULL DEFAULT 0,
  findings_total INTEGER       NOT NULL DEFAULT 0,
  artifact_url   TEXT          NOT NULL DEFAULT '',
  error_message  TEXT          NULL,
  created_at     TIMESTAMPTZ   NOT NULL,
  completed_at   TIMESTAMPTZ   NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_master_created ON scan_master (created_at DESC)`, `
CREATE TABLE IF NOT EXISTS scan_detail (
  id                BIGSERIAL     PRIMARY KEY,
  scan_id           VARCHAR(36)   NOT NULL,
  template_id       TEXT          NOT NULL,
  name              TEXT          NOT NULL,
  severity          VARCHAR(16)   NOT NULL,
  matched_at        TEXT          NOT NULL,
  description       TEXT          NULL,
  extracted_results TEXT          NULL,
  extracted_count   INTEGER       NOT NULL DEFAULT 0,
  tags              TEXT          NULL,
  full_result       TEXT          NULL,
  high_risk_info    BOOLEAN       NOT NULL DEFAULT FALSE,
  ai_analyzed       BOOLEAN       NOT NULL DEFAULT FALSE,
  ai_description    TEXT          NULL,
  ai_impact         TEXT          NULL,
  ai_category       VARCHAR(32)   NULL,
  ai_before_code    TEXT          NULL,
  ai_after_code     TEXT          NULL,
  ai_fix_steps      TEXT          NULL,
  ai_fix_complexity VARCHAR(16)   NULL,
  ai_references     TEXT          NULL,
  ai_model          VARCHAR(128)  NULL,
  ai_confidence     DOUBLE PRECISION NULL,
  ai_analyzed_at    TIMESTAMPTZ   NULL,
  ai_raw_response   TEXT          NULL,
  created_at        TIMESTAMPTZ   NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_detail_scan ON scan_detail (scan_id, id)`, `
CREATE TABLE IF NOT EXISTS scan_errors (
  id           BIGSERIAL    PRIMARY KEY,
  scan_id      VARCHAR(36)  NOT NULL,
  phase        VARCHAR(16)  NOT NULL,
  line_number  INTEGER      NOT NULL DEFAULT 0,
  message      TEXT         NOT NULL,
  details_json JSONB        NOT NULL DEFAULT '{}'::jsonb,
  created_at   TIMESTAMPTZ  NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_errors_scan ON scan_errors (scan_id, created_at DESC)`,
}

// Migrate creates tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
