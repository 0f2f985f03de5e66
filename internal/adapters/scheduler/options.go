package scheduler

import (
	"time"

	"github.com/okian/mindshare/pkg/logger"
)

// Monday 00:00 UTC.
var defaultAnchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAnchor sets the start of any one round.
func WithAnchor(t time.Time) Option {
	return func(s *Scheduler) {
		if !t.IsZero() {
			s.anchor = t.UTC()
		}
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
