package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/tier"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const defaultTTL = 5 * time.Minute

// ActivityStore persists activity events and aggregates them into counters.
type ActivityStore interface {
	RecordActivity(ctx context.Context, ev model.ActivityEvent) error
	// Activity returns the user's counters as of now. Unknown users have zero
	// counters and a nil signal.
	Activity(ctx context.Context, user model.Address, now time.Time) (model.Activity, error)
}

// SignalSource supplies an external verification signal in [0,100].
type SignalSource interface {
	Signal(ctx context.Context, user model.Address) (float64, error)
}

// Cache stores computed records until they expire or are invalidated.
type Cache interface {
	Get(ctx context.Context, user model.Address) (Record, bool, error)
	Set(ctx context.Context, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, user model.Address) error
}

// Record is the reputation read model.
type Record struct {
	Address       model.Address   `json:"address"`
	TrustScore    int             `json:"trust_score"`
	Tier          tier.Tier       `json:"tier"`
	Breakdown     Breakdown       `json:"breakdown"`
	FeeMultiplier decimal.Decimal `json:"fee_multiplier"`
	ExpiresAt     time.Time       `json:"cache_expires_at"`
}

// Service reads, caches and invalidates reputation records.
type Service struct {
	activity ActivityStore
	signals  SignalSource
	cache    Cache
	ttl      time.Duration
	now      func() time.Time
	logger   logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSignalSource sets the external verification signal source.
func WithSignalSource(src SignalSource) Option {
	return func(s *Service) { s.signals = src }
}

// WithCache sets the record cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithTTL sets how long cached records live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service over an activity store.
func NewService(activity ActivityStore, opts ...Option) *Service {
	s := &Service{
		activity: activity,
		ttl:      defaultTTL,
		now:      time.Now,
		logger:   logger.OrDiscard("reputation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user's reputation, from cache when fresh. Errors from the
// cache, activity store or signal source never fail the read.
func (s *Service) Get(ctx context.Context, user model.Address) Record {
	if s.cache != nil {
		rec, ok, err := s.cache.Get(ctx, user)
		if err != nil {
			s.logger.Warn(ctx, "reputation cache read failed", logger.String("address", user.String()), logger.Error(err))
		}
		if ok && s.now().Before(rec.ExpiresAt) {
			metrics.RecordReputationCache(true)
			return rec
		}
	}
	metrics.RecordReputationCache(false)

	start := time.Now()
	rec := s.compute(ctx, user)
	metrics.RecordReputationLatency(float64(time.Since(start).Microseconds()) / 1000)

	if s.cache != nil {
		if err := s.cache.Set(ctx, rec, s.ttl); err != nil {
			s.logger.Warn(ctx, "reputation cache write failed", logger.String("address", user.String()), logger.Error(err))
		}
	}
	return rec
}

func (s *Service) compute(ctx context.Context, user model.Address) Record {
	now := s.now()
	act, err := s.activity.Activity(ctx, user, now)
	if err != nil {
		s.logger.Warn(ctx, "activity lookup failed, scoring from floors", logger.String("address", user.String()), logger.Error(err))
		act = model.Activity{}
	}
	if act.VerificationSignal == nil && s.signals != nil {
		sig, err := s.signals.Signal(ctx, user)
		if err != nil {
			metrics.RecordVerificationFailure()
			s.logger.Debug(ctx, "verification signal unavailable", logger.String("address", user.String()), logger.Error(err))
		} else {
			act.VerificationSignal = &sig
		}
	}

	b := Score(act)
	trust := TrustScore(b)
	t := tier.Classify(trust)
	return Record{
		Address:       user,
		TrustScore:    trust,
		Tier:          t,
		Breakdown:     b,
		FeeMultiplier: tier.FeeMultiplier(t),
		ExpiresAt:     now.Add(s.ttl),
	}
}

// RecordActivity appends an event to the user's counters and drops the
// cached record.
func (s *Service) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("reputation.record_activity: %w", ErrUnknownActivity)
	}
	if ev.Kind == model.ActivityVerification && ev.Signal == nil {
		return fmt.Errorf("reputation.record_activity: %w", ErrMissingSignal)
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.activity.RecordActivity(ctx, ev); err != nil {
		return fmt.Errorf("reputation.record_activity: %w", err)
	}
	s.Invalidate(ctx, ev.User)
	return nil
}

// Invalidate drops any cached record for user.
func (s *Service) Invalidate(ctx context.Context, user model.Address) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, user); err != nil {
		s.logger.Warn(ctx, "reputation cache invalidate failed", logger.String("address", user.String()), logger.Error(err))
	}
}

// Quote prices amount for user at their current tier.
func (s *Service) Quote(ctx context.Context, user model.Address, amount int64) tier.Fee {
	return tier.Quote(amount, s.Get(ctx, user).Tier)
}
