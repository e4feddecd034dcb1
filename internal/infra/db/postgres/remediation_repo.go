package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

type RemediationRepository struct{ db *sql.DB }

func NewRemediationRepository(db *sql.DB) *RemediationRepository {
	return &RemediationRepository{db: db}
}

func (r *RemediationRepository) Save(ctx context.Context, rem *analyst.Remediation) error {
	const q = `
UPDATE scan_detail SET
  ai_analyzed=TRUE, ai_description=$1, ai_impact=$2, ai_category=$3,
  ai_before_code=$4, ai_after_code=$5, ai_fix_steps=$6, ai_fix_complexity=$7,
  ai_references=$8, ai_model=$9, ai_confidence=$10, ai_analyzed_at=$11, ai_raw_response=$12
WHERE id=$13;`
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
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE id=$1 LIMIT 1;`
	f, err := scanFinding(r.db.QueryRowContext(ctx, q, findingID))
	if err != nil {
		return nil, notFound(err)
	}
	if f.Remediation == nil {
		return nil, domain.ErrNotFound
	}
	return f.Remediation, nil
}
