package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

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
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), score=VALUES(score), grade=VALUES(grade),
 critical=VALUES(critical), high=VALUES(high), medium=VALUES(medium), low=VALUES(low),
 info=VALUES(info), findings_total=VALUES(findings_total),
 artifact_url=VALUES(artifact_url), error_message=VALUES(error_message),
 completed_at=VALUES(completed_at);
`
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
	q := `SELECT ` + jobColumns + ` FROM scan_master WHERE id=? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

// LatestJobs newest first
func (r *ScanRepository) LatestJobs(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + jobColumns + ` FROM scan_master ORDER BY created_at DESC, id DESC LIMIT ?;`
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

// SaveFinding inserts a new scan_detail row and sets f.ID, or updates the
// finding columns of an existing one. Remediation columns are owned by
// RemediationRepository.
func (r *ScanRepository) SaveFinding(ctx context.Context, f *domain.Finding) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if f.ID != 0 {
		const q = `
UPDATE scan_detail SET template_id=?, name=?, severity=?, matched_at=?, description=?,
 extracted_results=?, extracted_count=?, tags=?, full_result=?, high_risk_info=?
WHERE id=?;`
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

	const q = `
INSERT INTO scan_detail
(scan_id, template_id, name, severity, matched_at, description,
 extracted_results, extracted_count, tags, full_result, high_risk_info, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`
	res, err := r.db.ExecContext(ctx, q,
		f.JobID, f.TemplateID, f.Name, string(f.Severity), f.MatchedAt, f.Description,
		encodeList(f.ExtractedResults), f.ExtractedCount, encodeList(f.Tags), string(f.Raw), f.HighRiskInfo,
		created,
	)
	if err != nil {
		return fmt.Errorf("insert finding for scan %s: %w", f.JobID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("finding id: %w", err)
	}
	f.ID = id
	return nil
}

func (r *ScanRepository) GetFinding(ctx context.Context, id int64) (*domain.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE id=? LIMIT 1;`
	f, err := scanFinding(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// FindingsByJob returns findings in discovery order.
func (r *ScanRepository) FindingsByJob(ctx context.Context, id domain.JobID) ([]*domain.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM scan_detail WHERE scan_id=? ORDER BY id ASC;`
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

func scanFinding(row rowScanner) (*domain.Finding, error) {
	var (
		f                             domain.Finding
		severity                      string
		description, extracted, tags  sql.NullString
		full                          sql.NullString
		analyzed                      bool
		aiDesc, aiImpact, aiCategory  sql.NullString
		aiBefore, aiAfter, aiSteps    sql.NullString
		aiComplexity, aiRefs, aiModel sql.NullString
		aiConfidence                  sql.NullFloat64
		aiAt                          sql.NullTime
		aiRaw                         sql.NullString
	)
	if err := row.Scan(
		&f.ID, &f.JobID, &f.TemplateID, &f.Name, &severity, &f.MatchedAt, &description,
		&extracted, &f.ExtractedCount, &tags, &full, &f.HighRiskInfo, &f.CreatedAt,
		&analyzed, &aiDesc, &aiImpact, &aiCategory, &aiBefore, &aiAfter,
		&aiSteps, &aiComplexity, &aiRefs, &aiModel, &aiConfidence,
		&aiAt, &aiRaw,
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
	if analyzed {
		f.Remediation = &analyst.Remediation{
			FindingID:     f.ID,
			Description:   aiDesc.String,
			Impact:        aiImpact.String,
			Category:      analyst.ParseCategory(aiCategory.String),
			BeforeCode:    aiBefore.String,
			AfterCode:     aiAfter.String,
			FixSteps:      decodeList(aiSteps),
			FixComplexity: analyst.ParseComplexity(aiComplexity.String),
			References:    decodeList(aiRefs),
			Model:         aiModel.String,
			Confidence:    aiConfidence.Float64,
			AnalyzedAt:    aiAt.Time,
			RawResponse:   aiRaw.String,
		}
	}
	return &f, nil
}
