package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestSaveFindingReturningID(t *testing.T) {
	db, mock := newMock(t)
	f := &domain.Finding{JobID: "job-1", TemplateID: "t", Name: "n", Severity: domain.SeverityHigh, MatchedAt: "https://example.com"}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scan_detail")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	require.NoError(t, NewScanRepository(db).SaveFinding(context.Background(), f))
	assert.Equal(t, int64(9), f.ID)
}

func TestSaveFindingUpdatesExisting(t *testing.T) {
	db, mock := newMock(t)
	f := &domain.Finding{ID: 3, JobID: "job-1", TemplateID: "t", Severity: domain.SeverityLow}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scan_detail SET template_id=$1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewScanRepository(db).SaveFinding(context.Background(), f))
}

func TestSaveJobWrapsError(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).WillReturnError(boom)

	err := NewScanRepository(db).SaveJob(context.Background(), domain.NewScanJob("job-1", "https://example.com", time.Now()))
	assert.ErrorIs(t, err, boom)
}

func TestRemediationByFinding(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRemediationRepository(db)
	cols := []string{"id", "scan_id", "template_id", "name", "severity", "matched_at", "description",
		"extracted_results", "extracted_count", "tags", "full_result", "high_risk_info", "created_at",
		"ai_analyzed", "ai_description", "ai_impact", "ai_category", "ai_before_code", "ai_after_code",
		"ai_fix_steps", "ai_fix_complexity", "ai_references", "ai_model", "ai_confidence",
		"ai_analyzed_at", "ai_raw_response"}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM scan_detail WHERE id=$1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(4, "job-1", "t", "n", "low", "u", nil,
			nil, 0, nil, nil, false, now,
			true, "d", "i", "bogus", "", "", nil, "bogus", nil, "m", 0.5, now, "raw"))

	rem, err := repo.ByFinding(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, analyst.CategoryExposure, rem.Category)
	assert.Equal(t, analyst.ComplexityModerate, rem.FixComplexity)
	assert.Equal(t, []string{}, rem.FixSteps)
	assert.Equal(t, "raw", rem.RawResponse)

	mock.ExpectQuery(regexp.QuoteMeta("FROM scan_detail WHERE id=$1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(5, "job-1", "t", "n", "low", "u", nil,
			nil, 0, nil, nil, false, now,
			false, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil))
	_, err = repo.ByFinding(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScanErrorSave(t *testing.T) {
	db, mock := newMock(t)
	e := &scanerrors.ScanError{ScanID: "job-1", Phase: scanerrors.PhaseRun, Message: "exit 2", DetailsJSON: `{"code":2}`}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scan_errors")).
		WithArgs("job-1", "run", 0, "exit 2", `{"code":2}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	require.NoError(t, NewScanErrorRepository(db).Save(context.Background(), e))
	assert.Equal(t, int64(11), e.ID)
}
