package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

type ScanRepository struct{ db *sql.DB }

func NewScanRepository(db *sql.DB) *ScanRepository { return &ScanRepository{db: db} }

const jobColumns = `id, target_url, status, score, grade,
       critical, high, medium, low, info, findings_total,
       artifact_url, error_message, created_at, completed_at`

// SaveJob insert/update scan_master record
func (r *ScanRepository) SaveJob(ctx context.Context, j *domain.ScanJob) error {
	const q = `
INSERT INTO scan_master
(id, target_url, status, score, grade,
 critical, high, medium, low, info, findings_total,
 artifact_url, error_message, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,
        $6,$7,$8,$9,$10,$11,
        $12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 score = EXCLUDED.score,
 grade = EXCLUDED.grade,
 critical = EXCLUDED.critical,
 high = EXCLUDED.high,
 medium = EXCLUDED.medium,
 low = EXCLUDED.low,
 info = EXCLUDED.info,
 findings_total = EXCLUDED.findings_total,
 artifact_url = EXCLUDED.artifact_url,
 error_message = EXCLUDED.error_message,
 completed_at = EXCLUDED.completed_at;`

	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var score sql.NullInt64
	if j.Score != nil {
		score = sql.NullInt64{Int64: int64(*j.Score), Valid: true}
	}
	var errMsg sql.NullString
	if j.ErrorMessage != "" {
		errMsg = sql.NullString{String: j.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, q,
		j.ID, j.Target, stringOrDash(string(j.Status)), score, j.Grade,
		j.Counts.Critical, j.Counts.High, j.Counts.Medium, j.Counts.Low, j.Counts.Info, j.Counts.Total,
		j.ArtifactURL, errMsg, created, nullTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save scan %s: %w", j.ID, err)
	}
	return nil
}

func (r *ScanRepository) GetJob(ctx context.Context, id domain.JobID) (*domain.ScanJob, error) {
	q := `SELECT ` + jobColumns + ` FROM scan_master WHERE id=$1 LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (r *ScanRepository) LatestJobs(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM scan_master ORDER BY created_at DESC, id DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.ScanJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const findingColumns = `id, scan_id, template_id, name, severity, matched_at, description,
       extracted_results, extracted_count, tags, full_result, high_risk_info, created_at,
       ai_analyzed, ai_description, ai_impact, ai_category, ai_before_code, ai_after_code,
       ai_fix_steps, ai_fix_complexity, ai_references, ai_model, ai_confidence,
       ai_analyzed_at, ai_raw_response`

// SaveFinding inserts and reads the generated id back with RETURNING, or
// updates the finding columns when f.ID is already set.
func (r *ScanRepository) SaveFinding(ctx context.Context, f *domain.Finding) error {
	if f.ID != 0 {
		const q = `
UPDATE scan_detail SET template_id=$1, name=$2, severity=$3, matched_at=$4, description=$5,
 extracted_results=$6, extracted_count=$7, tags=$8, full_result=$9, high_risk_info=$10
WHERE id=$11;`
		_, err := r.db.ExecContext(ctx, q,
			f.TemplateID, f.Name, string(f.Severity), f.MatchedAt, f.Description,
			encodeList(f.ExtractedResults), f.ExtractedCount, encodeList(f.Tags), string(f.Raw), f.HighRiskInfo,
			f.ID,
		)
		if err != nil {
			return fmt.Errorf("update finding %d: %w", f.ID, err)
		}
		return nil
	}

	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	const q = `
INSERT INTO scan_detail
(scan_id, template_id, name, severity, matched_at, description,
 extracted_results, extracted_count, tags, full_result, high_risk_info, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id;`
	err := r.db.QueryRowContext(ctx, q,
		f.JobID, f.TemplateID, f.Name, string(f.Severity), f.MatchedAt, f.Description,
		encodeList(f.ExtractedResults), f.ExtractedCount, encodeList(f.Tags), string(f.Raw), f.HighRiskInfo,
		created,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert finding for scan %s: %w", f.JobID, err)
	}
	return nil
}

func (r *ScanRepository) GetFinding(ctx context.Context, id int64) (*domain.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE id=$1 LIMIT 1;`
	f, err := scanFinding(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// FindingsByJob returns findings in discovery order.
func (r *ScanRepository) FindingsByJob(ctx context.Context, id domain.JobID) ([]*domain.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE scan_id=$1 ORDER BY id ASC;`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()

	out := []*domain.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ScanJob, error) {
	var (
		j         domain.ScanJob
		score     sql.NullInt64
		errMsg    sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.Target, &j.Status, &score, &j.Grade,
		&j.Counts.Critical, &j.Counts.High, &j.Counts.Medium, &j.Counts.Low, &j.Counts.Info, &j.Counts.Total,
		&j.ArtifactURL, &errMsg, &j.CreatedAt, &completed,
	); err != nil {
		return nil, err
	}
	if score.Valid {
		s := int(score.Int64)
		j.Score = &s
	}
	j.ErrorMessage = errMsg.String
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// remediationRow holds the nullable ai_* columns.
type remediationRow struct {
	analyzed                           bool
	description, impact, category      sql.NullString
	before, after, steps               sql.NullString
	complexity, references, model, raw sql.NullString
	confidence                         sql.NullFloat64
	at                                 sql.NullTime
}

func (r remediationRow) remediation(findingID int64) *analyst.Remediation {
	if !r.analyzed {
		return nil
	}
	return &analyst.Remediation{
		FindingID:     findingID,
		Description:   r.description.String,
		Impact:        r.impact.String,
		Category:      analyst.ParseCategory(r.category.String),
		BeforeCode:    r.before.String,
		AfterCode:     r.after.String,
		FixSteps:      decodeList(r.steps),
		FixComplexity: analyst.ParseComplexity(r.complexity.String),
		References:    decodeList(r.references),
		Model:         r.model.String,
		Confidence:    r.confidence.Float64,
		AnalyzedAt:    r.at.Time,
		RawResponse:   r.raw.String,
	}
}

func scanFinding(row rowScanner) (*domain.Finding, error) {
	var (
		f                            domain.Finding
		severity                     string
		description, extracted, tags sql.NullString
		full                         sql.NullString
		ai                           remediationRow
	)
	if err := row.Scan(
		&f.ID, &f.JobID, &f.TemplateID, &f.Name, &severity, &f.MatchedAt, &description,
		&extracted, &f.ExtractedCount, &tags, &full, &f.HighRiskInfo, &f.CreatedAt,
		&ai.analyzed, &ai.description, &ai.impact, &ai.category, &ai.before, &ai.after,
		&ai.steps, &ai.complexity, &ai.references, &ai.model, &ai.confidence,
		&ai.at, &ai.raw,
	); err != nil {
		return nil, err
	}
	f.Severity = domain.Severity(severity)
	f.Description = description.String
	f.ExtractedResults = decodeList(extracted)
	f.Tags = decodeList(tags)
	if full.Valid && full.String != "" {
		f.Raw = []byte(full.String)
	}
	f.Remediation = ai.remediation(f.ID)
	return &f, nil
}
