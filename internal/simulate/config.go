package simulate

import (
	"fmt"
	"time"
)

// Config shapes a simulation run.
type Config struct {
	Projects       int           `json:"projects"`
	Categories     []string      `json:"categories"`
	Users          int           `json:"users"`
	Deposit        int64         `json:"deposit"`
	Predictions    int           `json:"predictions"`
	MaxStake       int64         `json:"max_stake"`
	Workers        int           `json:"workers"`
	Confirm        bool          `json:"confirm"`
	Settle         bool          `json:"settle"`
	Seed           uint64        `json:"seed"`
	FundingTimeout time.Duration `json:"funding_timeout"`
}

// DefaultConfig returns a small run that confirms stakes but leaves the
// round open.
func DefaultConfig() Config {
	return Config{
		Projects:       10,
		Categories:     []string{"defi", "gaming", "infra"},
		Users:          20,
		Deposit:        1_000,
		Predictions:    100,
		MaxStake:       50,
		Workers:        8,
		Confirm:        true,
		Seed:           1,
		FundingTimeout: 30 * time.Second,
	}
}

// Validate rejects configurations that cannot produce a run.
func (c Config) Validate() error {
	switch {
	case c.Projects < 1:
		return fmt.Errorf("%w: projects must be positive", ErrInvalidConfig)
	case len(c.Categories) == 0:
		return fmt.Errorf("%w: at least one category is required", ErrInvalidConfig)
	case c.Projects < len(c.Categories):
		return fmt.Errorf("%w: fewer projects than categories", ErrInvalidConfig)
	case c.Users < 1:
		return fmt.Errorf("%w: users must be positive", ErrInvalidConfig)
	case c.Deposit < 1 || c.MaxStake < 1:
		return fmt.Errorf("%w: deposit and max_stake must be positive", ErrInvalidConfig)
	case c.Predictions < 0:
		return fmt.Errorf("%w: predictions must not be negative", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.FundingTimeout <= 0:
		return fmt.Errorf("%w: funding_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
