package scans

import (
	"errors"
	"strings"
	"time"
)

// JobID identifies one scanner invocation.
type JobID string

// Status of a ScanJob.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

var (
	ErrTerminal      = errors.New("scan job already finished")
	ErrNotFound      = errors.New("not found")
	ErrInvalidTarget = errors.New("invalid scan target")
)

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// ScanJob is the aggregate root for one scan. Only PROCESSING jobs accept a
// transition, and score/grade are written together with COMPLETED.
type ScanJob struct {
	ID           JobID          `json:"id"`
	Target       string         `json:"target_url"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Score        *int           `json:"score,omitempty"`
	Grade        string         `json:"grade,omitempty"`
	Counts       SeverityCounts `json:"counts"`
	ArtifactURL  string         `json:"artifact_url,omitempty"`
}

func NewScanJob(id JobID, target string, now time.Time) *ScanJob {
	return &ScanJob{
		ID:        id,
		Target:    target,
		Status:    StatusProcessing,
		CreatedAt: now,
	}
}

func (j *ScanJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}

// Complete moves the job to COMPLETED and records the score result.
func (j *ScanJob) Complete(res ScoreResult, now time.Time) error {
	if j.Terminal() {
		return ErrTerminal
	}
	score := res.Score
	j.Status = StatusCompleted
	j.Score = &score
	j.Grade = res.Grade
	j.Counts = res.Counts
	j.CompletedAt = &now
	return nil
}

// Fail moves the job to ERROR. An empty message is replaced so that failed
// jobs always explain themselves.
func (j *ScanJob) Fail(msg string, now time.Time) error {
	if j.Terminal() {
		return ErrTerminal
	}
	if strings.TrimSpace(msg) == "" {
		msg = "scan failed"
	}
	j.Status = StatusError
	j.ErrorMessage = msg
	j.CompletedAt = &now
	return nil
}

// Clone returns a copy that shares no pointers with j.
func (j *ScanJob) Clone() *ScanJob {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Score != nil {
		s := *j.Score
		cp.Score = &s
	}
	return &cp
}
