package leaderboard

import (
	"time"

	"github.com/okian/mindshare/pkg/logger"
)

// Option applies a configuration option to the Leaderboard.
type Option func(*Leaderboard)

// WithStore persists projects and reviews through s.
func WithStore(s Store) Option {
	return func(lb *Leaderboard) { lb.store = s }
}

// WithPublishInterval sets how often a changed board is republished.
func WithPublishInterval(d time.Duration) Option {
	return func(lb *Leaderboard) {
		if d > 0 {
			lb.publishInterval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(lb *Leaderboard) {
		if now != nil {
			lb.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(lb *Leaderboard) {
		if log != nil {
			lb.logger = log
		}
	}
}
