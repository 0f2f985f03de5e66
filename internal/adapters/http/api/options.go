package api

import "github.com/okian/mindshare/pkg/logger"

// Option configures a Server.
type Option func(*Server)

// WithMaxLimit caps the leaderboard limit parameter.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithClientLimiter rate limits write endpoints per client.
func WithClientLimiter(l *ClientLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
