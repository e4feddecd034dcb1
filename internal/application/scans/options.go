package scans

import (
	"time"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// DefaultWaitTimeout bounds a scanner run from spawn to exit.
const DefaultWaitTimeout = 300 * time.Second

// Options is fixed at construction and shared read-only by every job.
type Options struct {
	WaitTimeout  time.Duration
	MaxExtracted int
	HighRiskInfo []string
}

func DefaultOptions() Options {
	return Options{
		WaitTimeout:  DefaultWaitTimeout,
		MaxExtracted: domain.DefaultMaxExtracted,
		HighRiskInfo: append([]string(nil), domain.DefaultHighRiskInfo...),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.MaxExtracted <= 0 {
		o.MaxExtracted = d.MaxExtracted
	}
	if o.HighRiskInfo == nil {
		o.HighRiskInfo = d.HighRiskInfo
	}
	return o
}

func (o Options) buildOptions() domain.BuildOptions {
	return domain.BuildOptions{MaxExtracted: o.MaxExtracted, HighRiskInfo: o.HighRiskInfo}
}

func (o Options) scorer() domain.Scorer {
	return domain.Scorer{HighRiskInfo: o.HighRiskInfo}
}
