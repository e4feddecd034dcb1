// Package memory is a process-local store for the CLI and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// Store keeps copies of everything saved, so callers cannot mutate stored state.
type Store struct {
	mu           sync.RWMutex
	jobs         map[domain.JobID]*domain.ScanJob
	findings     map[int64]*domain.Finding
	byJob        map[domain.JobID][]int64
	remediations map[int64]*analyst.Remediation
	errors       []*scanerrors.ScanError
	nextFinding  int64
	nextError    int64
}

func NewStore() *Store {
	return &Store{
		jobs:         make(map[domain.JobID]*domain.ScanJob),
		findings:     make(map[int64]*domain.Finding),
		byJob:        make(map[domain.JobID][]int64),
		remediations: make(map[int64]*analyst.Remediation),
	}
}

func (s *Store) SaveJob(_ context.Context, j *domain.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *Store) GetJob(_ context.Context, id domain.JobID) (*domain.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Store) LatestJobs(_ context.Context, limit int) ([]*domain.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	out := make([]*domain.ScanJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveFinding(_ context.Context, f *domain.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		s.nextFinding++
		f.ID = s.nextFinding
		s.byJob[f.JobID] = append(s.byJob[f.JobID], f.ID)
	}
	s.findings[f.ID] = copyFinding(f)
	return nil
}

func (s *Store) GetFinding(_ context.Context, id int64) (*domain.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.findings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.hydrate(f), nil
}

// FindingsByJob returns findings in discovery order.
func (s *Store) FindingsByJob(_ context.Context, id domain.JobID) ([]*domain.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byJob[id]
	out := make([]*domain.Finding, 0, len(ids))
	for _, fid := range ids {
		out = append(out, s.hydrate(s.findings[fid]))
	}
	return out, nil
}

// Save stores the remediation for its finding, replacing any earlier one.
func (s *Store) Save(_ context.Context, r *analyst.Remediation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findings[r.FindingID]; !ok {
		return domain.ErrNotFound
	}
	cp := *r
	s.remediations[r.FindingID] = &cp
	return nil
}

func (s *Store) ByFinding(_ context.Context, findingID int64) (*analyst.Remediation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.remediations[findingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Errors returns a scanerrors.Repository view over the same store.
func (s *Store) Errors() *ErrorLog { return &ErrorLog{s: s} }

// ErrorLog is the scan error side of Store.
type ErrorLog struct{ s *Store }

func (l *ErrorLog) Save(_ context.Context, e *scanerrors.ScanError) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.nextError++
	cp := *e
	cp.ID = l.s.nextError
	e.ID = cp.ID
	l.s.errors = append(l.s.errors, &cp)
	return nil
}

// ListByScan returns the newest entries first.
func (l *ErrorLog) ListByScan(_ context.Context, scanID string, limit int) ([]*scanerrors.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []*scanerrors.ScanError
	for i := len(l.s.errors) - 1; i >= 0 && len(out) < limit; i-- {
		if e := l.s.errors[i]; e.ScanID == scanID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) hydrate(f *domain.Finding) *domain.Finding {
	cp := copyFinding(f)
	if r, ok := s.remediations[f.ID]; ok {
		rc := *r
		cp.Remediation = &rc
	}
	return cp
}

func copyFinding(f *domain.Finding) *domain.Finding {
	cp := *f
	cp.ExtractedResults = append([]string(nil), f.ExtractedResults...)
	cp.Tags = append([]string(nil), f.Tags...)
	cp.Raw = append([]byte(nil), f.Raw...)
	cp.Remediation = nil
	return &cp
}
