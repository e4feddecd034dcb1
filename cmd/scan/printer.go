package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

var severityColors = map[domain.Severity]*color.Color{
	domain.SeverityCritical: color.New(color.FgHiRed, color.Bold),
	domain.SeverityHigh:     color.New(color.FgRed),
	domain.SeverityMedium:   color.New(color.FgYellow),
	domain.SeverityLow:      color.New(color.FgBlue),
	domain.SeverityInfo:     color.New(color.FgCyan),
}

var (
	dim  = color.New(color.Faint)
	warn = color.New(color.FgYellow)
	bad  = color.New(color.FgRed, color.Bold)
	good = color.New(color.FgGreen, color.Bold)
)

// printer renders events for a terminal.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) Accept(e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch e.Type {
	case domain.EventStart:
		_, err = dim.Fprintf(p.w, "scan %s started\n", e.ScanID)
	case domain.EventProgress:
		if e.Percent != "" {
			_, err = dim.Fprintf(p.w, "progress %s%%\n", e.Percent)
		}
	case domain.EventWarning:
		_, err = warn.Fprintf(p.w, "line %d: %s\n", e.LineNumber, e.Message)
	case domain.EventFind:
		err = p.finding(e)
	case domain.EventAI:
		_, err = fmt.Fprintf(p.w, "  remediation for %s: %s\n", e.Name, e.AIDescription)
	case domain.EventEnd:
		score := 0
		if e.Score != nil {
			score = *e.Score
		}
		_, err = good.Fprintf(p.w, "done: score %d, grade %s\n", score, e.Grade)
	case domain.EventError:
		_, err = bad.Fprintf(p.w, "scan failed: %s\n", e.Message)
	}
	return err
}

func (p *printer) finding(e domain.Event) error {
	c, ok := severityColors[e.Severity]
	if !ok {
		c = dim
	}
	label := c.Sprintf("[%s]", strings.ToUpper(string(e.Severity)))
	if _, err := fmt.Fprintf(p.w, "%s %s (%s) %s\n", label, e.Name, e.TemplateID, e.MatchedAt); err != nil {
		return err
	}
	if !e.AIAnalyzed {
		return nil
	}
	if _, err := fmt.Fprintf(p.w, "  %s\n", e.AIDescription); err != nil {
		return err
	}
	for i, step := range e.AIFixSteps {
		if _, err := fmt.Fprintf(p.w, "  %d. %s\n", i+1, step); err != nil {
			return err
		}
	}
	return nil
}

// jsonPrinter writes one JSON object per event.
type jsonPrinter struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

func newJSONPrinter(w io.Writer) *jsonPrinter {
	return &jsonPrinter{enc: jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)}
}

func (p *jsonPrinter) Accept(e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(e)
}
