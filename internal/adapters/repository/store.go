// Package repository implements the persistence ports of the domain
// packages: the ledger, market, activity and leaderboard stores.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/reputation"
)

// Store satisfies every persistence port the service needs.
type Store interface {
	ledger.Store
	market.Store
	reputation.ActivityStore
	leaderboard.Store

	// Counts reports table sizes for diagnostics.
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Counts are row counts per kind.
type Counts struct {
	Accounts    int `json:"accounts"`
	Records     int `json:"records"`
	History     int `json:"history"`
	Rounds      int `json:"rounds"`
	Predictions int `json:"predictions"`
	Projects    int `json:"projects"`
	Reviews     int `json:"reviews"`
	Activity    int `json:"activity"`
}

// Open returns the store for a configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		s, err := OpenSQL(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("repository.open %q: %w", driver, ErrUnknownDriver)
}
