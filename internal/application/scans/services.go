package scans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/HwangHoYoon/trust/internal/application"
	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

var (
	ErrEnrichmentUnavailable = errors.New("enrichment requested but no model adapter is configured")
	ErrInterrupted           = errors.New("scan interrupted")
)

// Enricher produces a remediation record for a finding. It must always
// return a record, falling back instead of failing.
type Enricher interface {
	Enrich(ctx context.Context, f *domain.Finding) *analyst.Remediation
}

// Service implements the scan use-cases. Fields are set once before the
// first call; jobs share nothing mutable beyond Repo and Errors.
type Service struct {
	Repo      domain.Repository
	Runner    domain.Runner
	Artifacts domain.ArtifactStore
	Errors    scanerrors.Repository
	Enricher  Enricher
	Clock     application.Clock
	Logger    *zap.Logger
	Options   Options
}

// RunScan validates the target, records a PROCESSING job and starts it in
// the background. The returned Job is usable immediately. The job is
// interrupted when ctx is cancelled.
func (s *Service) RunScan(ctx context.Context, target string, sink domain.Sink, enrich bool) (*Job, error) {
	normalized, err := domain.NormalizeTarget(target)
	if err != nil {
		return nil, err
	}
	if enrich && s.Enricher == nil {
		return nil, ErrEnrichmentUnavailable
	}
	if sink == nil {
		sink = DiscardSink{}
	}

	state := domain.NewScanJob(domain.JobID(uuid.NewString()), normalized, s.now())
	if err := s.Repo.SaveJob(ctx, state.Clone()); err != nil {
		return nil, fmt.Errorf("save scan job: %w", err)
	}

	job := newJob(state)
	r := &scanRun{
		svc:    s,
		job:    job,
		sink:   sink,
		enrich: enrich,
		opts:   s.Options.withDefaults(),
		log:    s.logger().With(zap.String("scan_id", string(state.ID)), zap.String("target", normalized)),
	}
	go r.execute(ctx)
	return job, nil
}

// Collect runs a scan to completion and returns every event it produced.
// A failed scan is reported through the returned job state, not the error.
func (s *Service) Collect(ctx context.Context, target string, enrich bool) (*domain.ScanJob, []domain.Event, error) {
	sink := &CollectSink{}
	job, err := s.RunScan(ctx, target, sink, enrich)
	if err != nil {
		return nil, nil, err
	}
	<-job.Done()
	return job.Snapshot(), sink.Events(), nil
}

// Get ambil 1 scan job by id
func (s *Service) Get(ctx context.Context, id domain.JobID) (*domain.ScanJob, error) {
	return s.Repo.GetJob(ctx, id)
}

// Latest ambil N scan terakhir
func (s *Service) Latest(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	return s.Repo.LatestJobs(ctx, limit)
}

func (s *Service) Findings(ctx context.Context, id domain.JobID) ([]*domain.Finding, error) {
	if _, err := s.Repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.Repo.FindingsByJob(ctx, id)
}

// ScanErrors lists recorded errors of a job, newest first.
func (s *Service) ScanErrors(ctx context.Context, id domain.JobID, limit int) ([]*scanerrors.ScanError, error) {
	if _, err := s.Repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if s.Errors == nil {
		return []*scanerrors.ScanError{}, nil
	}
	return s.Errors.ListByScan(ctx, string(id), limit)
}

// Version of the scanner binary, or "unknown".
func (s *Service) Version(ctx context.Context) (string, error) {
	return s.Runner.Version(ctx)
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// recordError persists a scan error entry; failures are only logged.
func (s *Service) recordError(ctx context.Context, e *scanerrors.ScanError, details map[string]any) {
	if s.Errors == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if len(details) > 0 {
		if b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(details); err == nil {
			e.DetailsJSON = string(b)
		}
	}
	if err := s.Errors.Save(ctx, e); err != nil {
		s.logger().Warn("failed to record scan error", zap.String("scan_id", e.ScanID), zap.Error(err))
	}
}
