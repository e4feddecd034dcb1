package scanerrors

import "time"

const (
	PhaseParse   = "parse"
	PhaseRun     = "run"
	PhaseEnrich  = "enrich"
	PhaseArchive = "archive"
)

// ScanError represents a persisted scan error entry
type ScanError struct {
	ID          int64     `json:"id"`
	ScanID      string    `json:"scan_id"`
	Phase       string    `json:"phase,omitempty"`
	LineNumber  int       `json:"line_number,omitempty"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
