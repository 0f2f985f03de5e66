// Package scheduler keeps a round open and settles it once it ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// Rounds is the slice of the market the scheduler drives.
type Rounds interface {
	Current(ctx context.Context) (model.Round, error)
	OpenRound(ctx context.Context, start time.Time) (model.Round, error)
	RoundLength() time.Duration
}

// Settler settles a closed round.
type Settler interface {
	SettleRound(ctx context.Context, roundID string) (model.SettlementResult, error)
}

// Tick results, also used as metric labels.
const (
	TickIdle    = "idle"
	TickOpened  = "opened"
	TickSettled = "settled"
	TickError   = "error"
)

// Scheduler runs Tick on an interval.
type Scheduler struct {
	rounds   Rounds
	settler  Settler
	anchor   time.Time
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New builds a scheduler. Rounds start at anchor plus a whole number of round
// lengths.
func New(rounds Rounds, settler Settler, opts ...Option) *Scheduler {
	s := &Scheduler{
		rounds:   rounds,
		settler:  settler,
		anchor:   defaultAnchor,
		interval: time.Minute,
		now:      time.Now,
		logger:   logger.OrDiscard("scheduler"),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Align returns the start of the round containing t.
func (s *Scheduler) Align(t time.Time) time.Time {
	length := s.rounds.RoundLength()
	n := t.Sub(s.anchor) / length
	start := s.anchor.Add(n * length)
	if start.After(t) {
		start = start.Add(-length)
	}
	return start.UTC()
}

// Tick opens a round when none is current and settles the current round
// once it has ended, then opens the round containing now.
func (s *Scheduler) Tick(ctx context.Context) (string, error) {
	now := s.now()
	cur, err := s.rounds.Current(ctx)
	switch {
	case errors.Is(err, market.ErrRoundNotFound):
		return s.open(ctx, now)
	case err != nil:
		return TickError, fmt.Errorf("scheduler.current: %w", err)
	}

	if now.Before(cur.EndTime) {
		return TickIdle, nil
	}

	result := TickOpened
	if cur.Status != model.RoundSettled {
		res, err := s.settler.SettleRound(ctx, cur.ID)
		if err != nil {
			return TickError, fmt.Errorf("scheduler.settle %s: %w", cur.ID, err)
		}
		s.logger.Info(ctx, "round settled",
			logger.String("round_id", cur.ID),
			logger.Int64("staked", res.TotalStaked),
			logger.Int64("paid", res.TotalPaid),
			logger.Int("payouts", len(res.Payouts)))
		result = TickSettled
	}
	if _, err := s.open(ctx, now); err != nil {
		return TickError, err
	}
	return result, nil
}

func (s *Scheduler) open(ctx context.Context, now time.Time) (string, error) {
	if _, err := s.rounds.OpenRound(ctx, s.Align(now)); err != nil {
		return TickError, fmt.Errorf("scheduler.open: %w", err)
	}
	return TickOpened, nil
}

// Start runs one tick immediately and then one per interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTick(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.runTick(ctx)
			}
		}
	}()
}

func (s *Scheduler) runTick(ctx context.Context) {
	result, err := s.Tick(ctx)
	metrics.RecordSchedulerTick(result)
	if err != nil {
		metrics.RecordErrorByComponent("scheduler", "tick")
		s.logger.Error(ctx, "scheduler tick failed", logger.Error(err))
	}
}

// Close stops the loop and waits for it.
func (s *Scheduler) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}
