package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

var errSinkClosed = errors.New("event stream closed")

// sseNames maps event types to the SSE event field.
var sseNames = map[domain.EventType]string{
	domain.EventStart:    "init",
	domain.EventProgress: "progress",
	domain.EventFind:     "progress",
	domain.EventWarning:  "warning",
	domain.EventAI:       "ai",
	domain.EventEnd:      "complete",
	domain.EventError:    "error",
}

// SSESink writes events to a text/event-stream response. Headers go out
// with the first event. After Close every Accept fails.
type SSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
}

func NewSSESink(w http.ResponseWriter) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w)}
}

func (s *SSESink) Accept(e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	name, ok := sseNames[e.Type]
	if !ok {
		name = "message"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
		// scans outlive the server write timeout
		if err := noWriteDeadline(s.w); err != nil {
			s.closed = true
			return fmt.Errorf("clear write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		s.closed = true
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.closed = true
		return err
	}
	return nil
}

// Close stops further writes. The handler must call it before returning.
func (s *SSESink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
