package scans

import (
	"strconv"
	"time"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
)

// EventType is the closed set of events a job emits.
type EventType string

const (
	EventStart    EventType = "START"
	EventProgress EventType = "PROGRESS"
	EventFind     EventType = "FIND"
	EventAI       EventType = "AI"
	EventWarning  EventType = "WARNING"
	EventEnd      EventType = "END"
	EventError    EventType = "ERROR"
)

// Event is a typed envelope; it carries no behaviour.
type Event struct {
	Type         EventType `json:"type"`
	ScanID       JobID     `json:"scanId"`
	ScanDetailID string    `json:"scanDetailId,omitempty"`
	LineNumber   int       `json:"lineNumber,omitempty"`
	Percent      string    `json:"percent,omitempty"`

	Name        string   `json:"name,omitempty"`
	TemplateID  string   `json:"templateId,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	MatchedAt   string   `json:"matchedAt,omitempty"`
	Description string   `json:"description,omitempty"`

	AIAnalyzed      bool     `json:"aiAnalyzed,omitempty"`
	AIDescription   string   `json:"aiDescription,omitempty"`
	AIImpact        string   `json:"aiImpact,omitempty"`
	AICategory      string   `json:"aiCategory,omitempty"`
	AIBeforeCode    string   `json:"aiBeforeCode,omitempty"`
	AIAfterCode     string   `json:"aiAfterCode,omitempty"`
	AIFixSteps      []string `json:"aiFixSteps,omitempty"`
	AIFixComplexity string   `json:"aiFixComplexity,omitempty"`
	AIReferences    []string `json:"aiReferences,omitempty"`
	AIConfidence    *float64 `json:"aiConfidence,omitempty"`

	Score   *int   `json:"score,omitempty"`
	Grade   string `json:"grade,omitempty"`
	Message string `json:"message,omitempty"`
	RawLine string `json:"rawLine,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Sink receives a job's events in emission order.
type Sink interface {
	Accept(Event) error
}

func StartEvent(j *ScanJob, now time.Time) Event {
	return Event{Type: EventStart, ScanID: j.ID, Timestamp: now}
}

func ProgressEvent(j *ScanJob, l Line, now time.Time) Event {
	return Event{Type: EventProgress, ScanID: j.ID, LineNumber: l.Number, Percent: l.Percent, Timestamp: now}
}

func WarningEvent(j *ScanJob, l Line, now time.Time) Event {
	msg := "JSON parse failed"
	if l.Err != nil {
		msg += ": " + l.Err.Error()
	}
	return Event{
		Type:       EventWarning,
		ScanID:     j.ID,
		LineNumber: l.Number,
		Message:    msg,
		RawLine:    l.Text,
		Timestamp:  now,
	}
}

func FindEvent(f *Finding, now time.Time) Event {
	e := Event{
		Type:        EventFind,
		ScanID:      f.JobID,
		Name:        f.Name,
		TemplateID:  f.TemplateID,
		Severity:    f.Severity,
		MatchedAt:   f.MatchedAt,
		Description: f.Description,
		Timestamp:   now,
	}
	if f.ID != 0 {
		e.ScanDetailID = strconv.FormatInt(f.ID, 10)
	}
	withRemediation(&e, f.Remediation)
	return e
}

// AIEvent reports a remediation produced outside the scan loop.
func AIEvent(f *Finding, r *analyst.Remediation, now time.Time) Event {
	e := FindEvent(f, now)
	e.Type = EventAI
	withRemediation(&e, r)
	return e
}

func EndEvent(j *ScanJob, now time.Time) Event {
	e := Event{Type: EventEnd, ScanID: j.ID, Grade: j.Grade, Timestamp: now}
	if j.Score != nil {
		s := *j.Score
		e.Score = &s
	}
	return e
}

func ErrorEvent(j *ScanJob, now time.Time) Event {
	return Event{Type: EventError, ScanID: j.ID, Message: j.ErrorMessage, Timestamp: now}
}

func withRemediation(e *Event, r *analyst.Remediation) {
	if r == nil {
		return
	}
	conf := r.Confidence
	e.AIAnalyzed = true
	e.AIDescription = r.Description
	e.AIImpact = r.Impact
	e.AICategory = string(r.Category)
	e.AIBeforeCode = r.BeforeCode
	e.AIAfterCode = r.AfterCode
	e.AIFixSteps = r.FixSteps
	e.AIFixComplexity = string(r.FixComplexity)
	e.AIReferences = r.References
	e.AIConfidence = &conf
}
