package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/HwangHoYoon/trust/internal/domain/scanerrors"
)

type ScanErrorRepository struct{ db *sql.DB }

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
	const q = `
INSERT INTO scan_errors (scan_id, phase, line_number, message, details_json, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6)
RETURNING id;`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	details := e.DetailsJSON
	if strings.TrimSpace(details) == "" {
		details = "{}"
	} else if !json.Valid([]byte(details)) {
		b, _ := json.Marshal(map[string]string{"raw": details})
		details = string(b)
	}
	return r.db.QueryRowContext(ctx, q,
		stringOrDash(e.ScanID), stringOrDash(e.Phase), e.LineNumber,
		stringOrDash(e.Message), details, created,
	).Scan(&e.ID)
}

func (r *ScanErrorRepository) ListByScan(ctx context.Context, scanID string, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, scan_id, phase, line_number, message, details_json::text, created_at
FROM scan_errors
WHERE scan_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, scanID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScanError
	for rows.Next() {
		var e domain.ScanError
		if err := rows.Scan(&e.ID, &e.ScanID, &e.Phase, &e.LineNumber, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
