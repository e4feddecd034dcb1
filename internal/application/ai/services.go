package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HwangHoYoon/trust/internal/application"
	"github.com/HwangHoYoon/trust/internal/domain/ai"
	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scans"
)

// Service produces remediation records for findings. Calls are sequential
// per caller; the service holds no per-call state.
type Service struct {
	client   ai.Client
	findings scans.Repository
	repo     analyst.Repository
	clock    application.Clock
	logger   *zap.Logger
}

// NewService wires the enrichment use-cases. client may be nil, in which
// case every record is a fallback. findings and repo may be nil for
// enrichment-only use.
func NewService(client ai.Client, findings scans.Repository, repo analyst.Repository, clock application.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, findings: findings, repo: repo, clock: clock, logger: logger}
}

// Enrich always returns a record; model failures become fallbacks.
func (s *Service) Enrich(ctx context.Context, f *scans.Finding) *analyst.Remediation {
	rem, err := s.analyze(ctx, f)
	if err != nil {
		s.logger.Warn("model call failed, using fallback remediation",
			zap.Int64("finding_id", f.ID), zap.String("name", f.Name), zap.Error(err))
	}
	s.store(ctx, rem)
	return rem
}

// AnalyzeFinding re-runs enrichment for a stored finding. A provider quota
// error is returned instead of being stored as a fallback.
func (s *Service) AnalyzeFinding(ctx context.Context, id int64) (scans.Event, error) {
	if s.findings == nil {
		return scans.Event{}, ai.ErrNotConfigured
	}
	f, err := s.findings.GetFinding(ctx, id)
	if err != nil {
		return scans.Event{}, err
	}
	rem, err := s.reanalyze(ctx, f)
	if err != nil {
		return scans.Event{}, err
	}
	return scans.AIEvent(f, rem, s.clock.Now()), nil
}

// AnalyzeJob re-runs enrichment over every finding of a job, one at a time.
func (s *Service) AnalyzeJob(ctx context.Context, id scans.JobID) ([]scans.Event, error) {
	if s.findings == nil {
		return nil, ai.ErrNotConfigured
	}
	if _, err := s.findings.GetJob(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.findings.FindingsByJob(ctx, id)
	if err != nil {
		return nil, err
	}
	events := make([]scans.Event, 0, len(list))
	for _, f := range list {
		rem, err := s.reanalyze(ctx, f)
		if err != nil {
			return events, err
		}
		events = append(events, scans.AIEvent(f, rem, s.clock.Now()))
	}
	return events, nil
}

func (s *Service) reanalyze(ctx context.Context, f *scans.Finding) (*analyst.Remediation, error) {
	rem, err := s.analyze(ctx, f)
	if errors.Is(err, ai.ErrQuotaExceeded) || errors.Is(err, ai.ErrNotConfigured) {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("model call failed, using fallback remediation", zap.Int64("finding_id", f.ID), zap.Error(err))
	}
	s.store(ctx, rem)
	return rem, nil
}

// analyze returns a record in every case; err reports why it is a fallback.
func (s *Service) analyze(ctx context.Context, f *scans.Finding) (*analyst.Remediation, error) {
	now := s.clock.Now()
	if s.client == nil {
		return analyst.Fallback(f.Subject(), ai.ErrNotConfigured.Error(), "", now), ai.ErrNotConfigured
	}
	model := s.client.Model()
	raw, err := s.client.Analyze(ctx, Request(f))
	if err != nil {
		return analyst.Fallback(f.Subject(), err.Error(), model, now), fmt.Errorf("analyze finding %d: %w", f.ID, err)
	}
	return analyst.Interpret(f.Subject(), raw, model, now), nil
}

func (s *Service) store(ctx context.Context, rem *analyst.Remediation) {
	if s.repo == nil || rem.FindingID == 0 {
		return
	}
	if err := s.repo.Save(ctx, rem); err != nil {
		s.logger.Warn("failed to save remediation", zap.Int64("finding_id", rem.FindingID), zap.Error(err))
	}
}

// Request builds the model request for a finding.
func Request(f *scans.Finding) ai.Request {
	return ai.Request{
		TemplateID:       f.TemplateID,
		Name:             f.Name,
		Severity:         string(f.Severity),
		MatchedAt:        f.MatchedAt,
		ExtractedResults: f.ExtractedResults,
	}
}
