package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// RemediationRepository stores remediations in the ai_* columns of scan_detail.
type RemediationRepository struct {
	db *sql.DB
}

func NewRemediationRepository(db *sql.DB) *RemediationRepository {
	return &RemediationRepository{db: db}
}

// Save overwrites any earlier remediation of the same finding.
func (r *RemediationRepository) Save(ctx context.Context, rem *analyst.Remediation) error {
	const q = `
UPDATE scan_detail SET
  ai_analyzed=TRUE, ai_description=?, ai_impact=?, ai_category=?,
  ai_before_code=?, ai_after_code=?, ai_fix_steps=?, ai_fix_complexity=?,
  ai_references=?, ai_model=?, ai_confidence=?, ai_analyzed_at=?, ai_raw_response=?
WHERE id=?;`
	res, err := r.db.ExecContext(ctx, q,
		rem.Description, rem.Impact, string(rem.Category),
		rem.BeforeCode, rem.AfterCode, encodeList(rem.FixSteps), string(rem.FixComplexity),
		encodeList(rem.References), rem.Model, rem.Confidence, rem.AnalyzedAt, rem.RawResponse,
		rem.FindingID,
	)
	if err != nil {
		return fmt.Errorf("save remediation for finding %d: %w", rem.FindingID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RemediationRepository) ByFinding(ctx context.Context, findingID int64) (*analyst.Remediation, error) {
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE id=? LIMIT 1;`
	f, err := scanFinding(r.db.QueryRowContext(ctx, q, findingID))
	if err != nil {
		return nil, notFound(err)
	}
	if f.Remediation == nil {
		return nil, domain.ErrNotFound
	}
	return f.Remediation, nil
}
