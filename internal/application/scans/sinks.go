package scans

import (
	"errors"
	"sync"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// CollectSink accumulates events for batch return.
type CollectSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *CollectSink) Accept(e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of everything accepted so far, in order.
func (c *CollectSink) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// FuncSink adapts a function to domain.Sink.
type FuncSink func(domain.Event) error

func (f FuncSink) Accept(e domain.Event) error { return f(e) }

// DiscardSink drops every event.
type DiscardSink struct{}

func (DiscardSink) Accept(domain.Event) error { return nil }

// MultiSink delivers to every sink, even after one fails.
type MultiSink []domain.Sink

func (m MultiSink) Accept(e domain.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Accept(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
