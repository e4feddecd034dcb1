package scans

import (
	"context"
	"sync"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// Job is the handle for one running scan. ID and Target are fixed at
// creation; the state is replaced only on the terminal transition.
type Job struct {
	ID     domain.JobID
	Target string

	done  chan struct{}
	mu    sync.Mutex
	state *domain.ScanJob
	err   error
}

func newJob(state *domain.ScanJob) *Job {
	return &Job{
		ID:     state.ID,
		Target: state.Target,
		done:   make(chan struct{}),
		state:  state,
	}
}

// Done is closed once the job reached a terminal state and all of its
// events were delivered.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends. The error is the cause of
// an ERROR outcome, or ctx's error.
func (j *Job) Wait(ctx context.Context) (*domain.ScanJob, error) {
	select {
	case <-j.done:
		return j.Snapshot(), j.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (j *Job) Snapshot() *domain.ScanJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Clone()
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// transition applies fn under the lock and returns the resulting state.
func (j *Job) transition(fn func(*domain.ScanJob) error, cause error) (*domain.ScanJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	next := j.state.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	j.state = next
	j.err = cause
	return next.Clone(), nil
}
