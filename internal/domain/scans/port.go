package scans

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrScannerTimeout is returned by Process.Wait when the process had to be killed.
var ErrScannerTimeout = errors.New("scanner did not exit before the wait timeout")

// Repository port (interface untuk persistence)
type Repository interface {
	SaveJob(ctx context.Context, j *ScanJob) error
	GetJob(ctx context.Context, id JobID) (*ScanJob, error)
	LatestJobs(ctx context.Context, limit int) ([]*ScanJob, error)

	// SaveFinding assigns f.ID.
	SaveFinding(ctx context.Context, f *Finding) error
	GetFinding(ctx context.Context, id int64) (*Finding, error)
	FindingsByJob(ctx context.Context, id JobID) ([]*Finding, error)
}

// Runner port (interface untuk eksekusi scanner)
type Runner interface {
	Start(ctx context.Context, target string) (Process, error)
	Version(ctx context.Context) (string, error)
}

// Process is a running scanner. Output merges stdout and stderr. Close
// releases the stream and kills the process if it is still alive; it is
// safe to call more than once.
type Process interface {
	Output() io.Reader
	Wait(timeout time.Duration) (exitCode int, err error)
	Close() error
}

// ArtifactStore port (interface untuk penyimpanan artefak)
type ArtifactStore interface {
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}
