package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/HwangHoYoon/trust/internal/domain/scanerrors"
)

type ScanErrorRepository struct {
	db *sql.DB
}

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
	const q = `
INSERT INTO scan_errors
  (scan_id, phase, line_number, message, details_json, created_at)
VALUES (?,?,?,?,?,?)
`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, q,
		stringOrDash(e.ScanID), stringOrDash(e.Phase), e.LineNumber,
		stringOrDash(e.Message), normalizeDetails(e.DetailsJSON), created)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListByScan newest first
func (r *ScanErrorRepository) ListByScan(ctx context.Context, scanID string, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, scan_id, phase, line_number, message, details_json, created_at
FROM scan_errors
WHERE scan_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
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

// normalizeDetails keeps the column valid JSON; anything else is wrapped as {"raw": ...}.
func normalizeDetails(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	if json.Valid([]byte(details)) {
		return details
	}
	b, _ := json.Marshal(map[string]string{"raw": details})
	return string(b)
}
