package middleware

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsSuccess    atomic.Uint64
	RequestsFailed     atomic.Uint64
	ScansTotal         atomic.Uint64
	ScansRunning       atomic.Int64
	ScansCompleted     atomic.Uint64
	ScansFailed        atomic.Uint64
	FindingsTotal      atomic.Uint64
	StartTime          time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// ScanStarted is called once per accepted scan.
func (m *Metrics) ScanStarted() {
	m.ScansTotal.Add(1)
	m.ScansRunning.Add(1)
}

// ScanFinished records the terminal outcome and the findings it produced.
func (m *Metrics) ScanFinished(completed bool, findings int) {
	m.ScansRunning.Add(-1)
	if completed {
		m.ScansCompleted.Add(1)
	} else {
		m.ScansFailed.Add(1)
	}
	if findings > 0 {
		m.FindingsTotal.Add(uint64(findings))
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_in_progress": m.RequestsInProgress.Load(),
		"requests_success":     m.RequestsSuccess.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"scans_total":          m.ScansTotal.Load(),
		"scans_running":        m.ScansRunning.Load(),
		"scans_completed":      m.ScansCompleted.Load(),
		"scans_failed":         m.ScansFailed.Load(),
		"findings_total":       m.FindingsTotal.Load(),
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsTotal.Add(1)
		m.RequestsInProgress.Add(1)
		defer m.RequestsInProgress.Add(-1)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.RequestsSuccess.Add(1)
		} else {
			m.RequestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
