package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS scan_master (
  id             VARCHAR(36)   NOT NULL PRIMARY KEY,
  target_url     VARCHAR(2048) NOT NULL,
  status         VARCHAR(16)   NOT NULL,
  score          INT           NULL,
  grade          VARCHAR(2)    NOT NULL DEFAULT '',
  critical       INT           NOT NULL DEFAULT 0,
  high           INT           NOT NULL DEFAULT 0,
  medium         INT           NOT NULL DEFAULT 0,
  low            INT           NOT NULL DEFAULT 0,
  info           INT           NOT NULL DEFAULT 0,
  findings_total INT           NOT NULL DEFAULT 0,
  artifact_url   VARCHAR(1024) NOT NULL DEFAULT '',
  error_message  TEXT          NULL,
  created_at     DATETIME(6)   NOT NULL,
  completed_at   DATETIME(6)   NULL,
  KEY idx_scan_master_created (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS scan_detail (
  id                BIGINT        NOT NULL AUTO_INCREMENT PRIMARY KEY,
  scan_id           VARCHAR(36)   NOT NULL,
  template_id       VARCHAR(255)  NOT NULL,
  name              VARCHAR(512)  NOT NULL,
  severity          VARCHAR(16)   NOT NULL,
  matched_at        VARCHAR(2048) NOT NULL,
  description       TEXT          NULL,
  extracted_results TEXT          NULL,
  extracted_count   INT           NOT NULL DEFAULT 0,
  tags              TEXT          NULL,
  full_result       LONGTEXT      NULL,
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
  ai_confidence     DOUBLE        NULL,
  ai_analyzed_at    DATETIME(6)   NULL,
  ai_raw_response   LONGTEXT      NULL,
  created_at        DATETIME(6)   NOT NULL,
  KEY idx_scan_detail_scan (scan_id, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS scan_errors (
  id           BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  scan_id      VARCHAR(36)  NOT NULL,
  phase        VARCHAR(16)  NOT NULL,
  line_number  INT          NOT NULL DEFAULT 0,
  message      TEXT         NOT NULL,
  details_json TEXT         NOT NULL,
  created_at   DATETIME(6)  NOT NULL,
  KEY idx_scan_errors_scan (scan_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
