// Package service assembles the domain components, their storage and the
// background loops, and exposes them to the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/mindshare/internal/adapters/cache"
	"github.com/okian/mindshare/internal/adapters/http/api"
	eventqueue "github.com/okian/mindshare/internal/adapters/mq/queue"
	workerpool "github.com/okian/mindshare/internal/adapters/mq/worker"
	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/adapters/scheduler"
	"github.com/okian/mindshare/internal/adapters/verification"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/internal/domain/dedupe"
	"github.com/okian/mindshare/internal/domain/funding"
	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
	"github.com/okian/mindshare/internal/domain/settlement"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// ErrNotStarted is returned by calls that need a running service.
var ErrNotStarted = errors.New("service not started")

// Service owns every component of a running node.
type Service struct {
	mu sync.RWMutex

	cfg     *config.Config
	now     func() time.Time
	signals reputation.SignalSource

	store      repository.Store
	cache      reputation.Cache
	ledger     *ledger.Ledger
	board      *leaderboard.Leaderboard
	market     *market.Market
	engine     *settlement.Engine
	reputation *reputation.Service
	funding    *funding.Flow
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	scheduler  *scheduler.Scheduler

	startedAt time.Time
	started   bool
	logger    logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a store instead of opening the configured driver.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithCache injects a reputation cache instead of the configured driver.
func WithCache(c reputation.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSignalSource injects a verification signal source.
func WithSignalSource(src reputation.SignalSource) Option {
	return func(s *Service) { s.signals = src }
}

// WithClock overrides time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		now:    time.Now,
		logger: logger.OrDiscard("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and launches the worker pool, the leaderboard
// publisher and the round scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("service.start: %w", err)
	}
	s.logger.Info(ctx, "starting mindshare service...")

	if err := s.openAdapters(ctx); err != nil {
		return err
	}

	s.board = leaderboard.New(
		leaderboard.WithStore(s.store),
		leaderboard.WithClock(s.now),
		leaderboard.WithLogger(s.logger.Named("leaderboard")),
	)
	if err := s.board.Load(ctx); err != nil {
		return fmt.Errorf("service.start: %w", err)
	}

	s.ledger = ledger.New(s.store,
		ledger.WithObserver(s.onLedgerEntry),
		ledger.WithClock(s.now),
		ledger.WithLogger(s.logger.Named("ledger")),
	)
	s.market = market.New(s.store, s.ledger, s.board,
		market.WithRoundLength(cfg.RoundLength),
		market.WithEarlyBirdWindow(cfg.EarlyBirdWindow),
		market.WithObserver(s.onPrediction),
		market.WithClock(s.now),
	)

	engineOpts := []settlement.Option{settlement.WithPolicy(policy(cfg)), settlement.WithClock(s.now)}
	if cfg.TreasuryAddress != "" {
		treasury, err := model.ParseAddress(cfg.TreasuryAddress)
		if err != nil {
			return fmt.Errorf("service.start: treasury_address: %w", err)
		}
		engineOpts = append(engineOpts, settlement.WithTreasury(treasury))
	}
	s.engine = settlement.New(s.market, s.board, s.ledger, engineOpts...)

	repOpts := []reputation.Option{
		reputation.WithCache(s.cache),
		reputation.WithTTL(cfg.ReputationCacheTTL),
		reputation.WithClock(s.now),
	}
	if s.signals != nil {
		repOpts = append(repOpts, reputation.WithSignalSource(s.signals))
	}
	s.reputation = reputation.NewService(s.store, repOpts...)

	s.funding = funding.New(s.ledger, s.market, funding.WithLogger(s.logger.Named("funding")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.eventQueue,
		workerpool.NewDispatcher(s.ledger, s.funding),
		workerpool.WithLogger(s.logger.Named("worker")),
	)

	anchor, err := cfg.Anchor()
	if err != nil {
		return fmt.Errorf("service.start: %w", err)
	}
	s.scheduler = scheduler.New(s.market, s.engine,
		scheduler.WithAnchor(anchor),
		scheduler.WithInterval(cfg.SchedulerInterval),
		scheduler.WithClock(s.now),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	)

	s.workerPool.Start(ctx)
	s.board.Start(ctx)
	s.scheduler.Start(ctx)

	s.startedAt = s.now()
	s.started = true
	s.logger.Info(ctx, "mindshare service started",
		logger.String("store", cfg.StoreDriver),
		logger.String("cache", cfg.CacheDriver),
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", cfg.EventQueueSize),
		logger.Int("dedupeSize", cfg.DedupeSize),
	)
	return nil
}

func (s *Service) openAdapters(ctx context.Context) error {
	cfg := s.cfg
	if s.store == nil {
		store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("service.start: %w", err)
		}
		s.store = store
	}
	if s.cache == nil {
		c, err := cache.Open(cfg.CacheDriver, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("service.start: %w", err)
		}
		if r, ok := c.(*cache.Redis); ok {
			if err := r.Ping(ctx); err != nil {
				s.logger.Warn(ctx, "redis unreachable; reputation reads will recompute", logger.Error(err))
			}
		}
		s.cache = c
	}
	if s.signals == nil && cfg.VerificationURL != "" {
		s.signals = verification.New(cfg.VerificationURL,
			verification.WithTimeout(cfg.VerificationTimeout),
			verification.WithLogger(s.logger.Named("verification")),
		)
	}
	return nil
}

func policy(cfg *config.Config) settlement.Policy {
	p := settlement.DefaultPolicy()
	if cfg.Judge == config.JudgeTopN {
		p.Judge = settlement.TopN(cfg.JudgeTopN)
	}
	p.EarlyBirdShare = decimal.NewFromFloat(cfg.EarlyBirdShare)
	p.PlatformFee = decimal.NewFromFloat(cfg.PlatformFeeRate)
	return p
}

// onLedgerEntry keeps each project's staked total in step with the ledger.
func (s *Service) onLedgerEntry(e model.HistoryEntry) {
	if e.ProjectID == "" {
		return
	}
	switch e.Op {
	case model.OpLock:
		s.board.ApplyStake(e.ProjectID, e.Amount)
	case model.OpFail, model.OpRelease, model.OpSlash:
		s.board.ApplyStake(e.ProjectID, -e.Amount)
	}
}

// onPrediction counts an accepted prediction towards the user's reputation.
func (s *Service) onPrediction(p model.Prediction) {
	ctx := context.Background()
	err := s.reputation.RecordActivity(ctx, model.ActivityEvent{
		User: p.User,
		Kind: model.ActivityPrediction,
		At:   p.SubmittedAt,
	})
	if err != nil {
		s.logger.Warn(ctx, "failed to record prediction activity",
			logger.String("prediction_id", p.ID), logger.Error(err))
	}
}

// Stop drains the worker pool and stops the background loops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping mindshare service...")

	var errs []error
	if err := s.scheduler.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	if err := s.board.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "mindshare service stopped")
	return errors.Join(errs...)
}

// Enqueue queues a chain event for the worker pool.
func (s *Service) Enqueue(ctx context.Context, e model.ChainEvent) error {
	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		return err
	}
	metrics.UpdateQueueSize(s.eventQueue.Len())
	return nil
}

// Dependencies returns what the HTTP API needs from a started service.
func (s *Service) Dependencies() (api.Dependencies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return api.Dependencies{}, ErrNotStarted
	}
	return api.Dependencies{
		Reputation:  s.reputation,
		Leaderboard: s.board,
		Market:      s.market,
		Settler:     s.engine,
		Balances:    s.ledger,
		Deduper:     s.deduper,
		Intake:      s,
		Stats:       s,
	}, nil
}

// Ledger exposes the stake ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Market exposes the prediction market.
func (s *Service) Market() *market.Market { return s.market }

// Leaderboard exposes the leaderboard aggregator.
func (s *Service) Leaderboard() *leaderboard.Leaderboard { return s.board }

// Reputation exposes the reputation service.
func (s *Service) Reputation() *reputation.Service { return s.reputation }

// Settlement exposes the settlement engine.
func (s *Service) Settlement() *settlement.Engine { return s.engine }

// Scheduler exposes the round scheduler.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":    s.started,
		"store":      s.cfg.StoreDriver,
		"cache":      s.cfg.CacheDriver,
		"queueSize":  s.cfg.EventQueueSize,
		"dedupeSize": s.cfg.DedupeSize,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	queueLen := s.eventQueue.Len()
	stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())
	stats["workerCount"] = s.workerPool.Size()
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = s.deduper.Size()
	stats["totalProjects"] = s.board.Count()
	stats["categories"] = s.board.Categories()
	stats["leaderboardPublishedAt"] = s.board.PublishedAt()
	if r, err := s.market.Current(ctx); err == nil {
		stats["currentRound"] = r
	}
	if counts, err := s.store.Counts(ctx); err == nil {
		stats["rows"] = counts
	} else {
		s.logger.Warn(ctx, "failed to read store counts", logger.Error(err))
	}

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateTotalProjects(s.board.Count())
	metrics.UpdateWorkerCount(s.workerPool.Size())
	return stats
}
