// Package market runs prediction rounds and validates submissions.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const (
	defaultRoundLength     = 7 * 24 * time.Hour
	defaultEarlyBirdWindow = 24 * time.Hour
	roundIDLayout          = "20060102-1504"
)

// SubmitRequest is a user's prediction submission.
type SubmitRequest struct {
	RoundID       string        `json:"round_id"`
	User          model.Address `json:"-"`
	ProjectID     string        `json:"project_id"`
	PredictedRank int           `json:"predicted_rank"`
	StakeAmount   int64         `json:"stake_amount"`
}

// Observer is told about every accepted prediction.
type Observer func(p model.Prediction)

// Market owns round lifecycle and prediction admission.
type Market struct {
	store   Store
	stakes  Stakes
	catalog Catalog

	mu     sync.Mutex
	rounds map[string]*sync.Mutex

	roundLength time.Duration
	earlyBird   time.Duration
	observers   []Observer
	now         func() time.Time
	newID       func() string
	logger      logger.Logger
}

// Option configures a Market.
type Option func(*Market)

// WithRoundLength sets the duration of new rounds.
func WithRoundLength(d time.Duration) Option {
	return func(m *Market) {
		if d > 0 {
			m.roundLength = d
		}
	}
}

// WithEarlyBirdWindow sets how long after a round starts submissions count
// as early-bird.
func WithEarlyBirdWindow(d time.Duration) Option {
	return func(m *Market) {
		if d > 0 {
			m.earlyBird = d
		}
	}
}

// WithObserver registers a callback for accepted predictions.
func WithObserver(o Observer) Option {
	return func(m *Market) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Market) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides prediction id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Market) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// New constructs a Market.
func New(store Store, stakes Stakes, catalog Catalog, opts ...Option) *Market {
	m := &Market{
		store:       store,
		stakes:      stakes,
		catalog:     catalog,
		rounds:      make(map[string]*sync.Mutex),
		roundLength: defaultRoundLength,
		earlyBird:   defaultEarlyBirdWindow,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.OrDiscard("market"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RoundLength reports the configured round duration.
func (m *Market) RoundLength() time.Duration { return m.roundLength }

func (m *Market) roundLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rounds[id]
	if !ok {
		l = &sync.Mutex{}
		m.rounds[id] = l
	}
	return l
}

// OpenRound creates the round starting at start. Opening a round that
// already exists returns it unchanged.
func (m *Market) OpenRound(ctx context.Context, start time.Time) (model.Round, error) {
	start = start.UTC()
	id := start.Format(roundIDLayout)

	lock := m.roundLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.Round(ctx, id)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrRoundNotFound):
		return model.Round{}, fmt.Errorf("market.open_round: %w", err)
	}

	r := model.Round{
		ID:        id,
		StartTime: start,
		EndTime:   start.Add(m.roundLength),
		Status:    model.RoundOpen,
	}
	if err := m.store.SaveRound(ctx, r); err != nil {
		return model.Round{}, fmt.Errorf("market.open_round: %w", err)
	}
	m.logger.Info(ctx, "round opened",
		logger.String("round_id", r.ID),
		logger.String("end", r.EndTime.Format(time.RFC3339)))
	return r, nil
}

// Current returns the most recently started round.
func (m *Market) Current(ctx context.Context) (model.Round, error) {
	return m.store.LatestRound(ctx)
}

// Round returns a round by id.
func (m *Market) Round(ctx context.Context, id string) (model.Round, error) {
	return m.store.Round(ctx, id)
}

// Predictions lists the predictions of a round.
func (m *Market) Predictions(ctx context.Context, roundID string) ([]model.Prediction, error) {
	return m.store.Predictions(ctx, roundID)
}

// Result returns the stored settlement result of a round.
func (m *Market) Result(ctx context.Context, roundID string) (model.SettlementResult, error) {
	return m.store.Result(ctx, roundID)
}

// Submit validates and records a prediction, locking its stake. Checks run
// in a fixed order and either everything is committed or nothing is.
func (m *Market) Submit(ctx context.Context, req SubmitRequest) (model.Prediction, error) {
	lock := m.roundLock(req.RoundID)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.submit(ctx, req)
	if err != nil {
		metrics.RecordPredictionRejected(reason(err))
		return model.Prediction{}, err
	}
	metrics.RecordPredictionSubmitted(p.IsEarlyBird, p.StakeAmount)
	for _, o := range m.observers {
		o(p)
	}
	return p, nil
}

func (m *Market) submit(ctx context.Context, req SubmitRequest) (model.Prediction, error) {
	now := m.now()

	round, err := m.store.Round(ctx, req.RoundID)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("market.submit: %w", err)
	}
	if round.Status != model.RoundOpen || now.Before(round.StartTime) || !now.Before(round.EndTime) {
		return model.Prediction{}, ErrRoundClosed
	}

	category, ok := m.catalog.Category(req.ProjectID)
	if !ok {
		return model.Prediction{}, ErrUnknownProject
	}
	if n := m.catalog.CategorySize(category); req.PredictedRank < 1 || req.PredictedRank > n {
		return model.Prediction{}, ErrInvalidRank
	}

	existing, err := m.store.Predictions(ctx, req.RoundID)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("market.submit: %w", err)
	}
	for _, p := range existing {
		if p.User == req.User && p.ProjectID == req.ProjectID && p.Active() {
			return model.Prediction{}, ErrDuplicatePrediction
		}
	}

	id := m.newID()
	rec, err := m.stakes.Lock(ctx, req.User, model.Purpose{
		Kind:      model.PurposePrediction,
		RefID:     id,
		ProjectID: req.ProjectID,
		RoundID:   req.RoundID,
	}, req.StakeAmount)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("market.submit: %w", err)
	}

	p := model.Prediction{
		ID:            id,
		RoundID:       req.RoundID,
		User:          req.User,
		ProjectID:     req.ProjectID,
		PredictedRank: req.PredictedRank,
		StakeAmount:   req.StakeAmount,
		StakeRecordID: rec.ID,
		SubmittedAt:   now,
		IsEarlyBird:   now.Sub(round.StartTime) < m.earlyBird,
	}
	if err := m.store.SavePrediction(ctx, p); err != nil {
		if _, ferr := m.stakes.Fail(ctx, rec.ID); ferr != nil {
			m.logger.Error(ctx, "failed to return stake after save error",
				logger.String("record_id", rec.ID), logger.Error(ferr))
		}
		return model.Prediction{}, fmt.Errorf("market.submit: %w", err)
	}
	return p, nil
}

// VoidByStake marks the prediction funded by recordID as void so it no longer
// occupies its slot. Predictions that already carry an outcome are returned
// unchanged.
func (m *Market) VoidByStake(ctx context.Context, recordID string) (model.Prediction, error) {
	p, err := m.store.PredictionByStake(ctx, recordID)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("market.void: %w", err)
	}

	lock := m.roundLock(p.RoundID)
	lock.Lock()
	defer lock.Unlock()

	p, err = m.store.PredictionByStake(ctx, recordID)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("market.void: %w", err)
	}
	if p.Outcome != model.OutcomePending {
		return p, nil
	}
	p.Outcome = model.OutcomeVoid
	if err := m.store.SavePrediction(ctx, p); err != nil {
		return model.Prediction{}, fmt.Errorf("market.void: %w", err)
	}
	return p, nil
}

// BeginSettlement moves an Open round to Settling. When the round is already
// Settling or Settled it is returned with ErrRoundAlreadySettling so the
// caller can decide between retrying and reading the stored result.
func (m *Market) BeginSettlement(ctx context.Context, roundID string) (model.Round, error) {
	lock := m.roundLock(roundID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Round(ctx, roundID)
	if err != nil {
		return model.Round{}, fmt.Errorf("market.begin_settlement: %w", err)
	}
	if r.Status != model.RoundOpen {
		return r, ErrRoundAlreadySettling
	}
	r.Status = model.RoundSettling
	if err := m.store.SaveRound(ctx, r); err != nil {
		return model.Round{}, fmt.Errorf("market.begin_settlement: %w", err)
	}
	return r, nil
}

// FreezeSettlement stores the plan a Settling round will be paid out from.
// The first plan frozen for a round wins; later calls get it back unchanged.
func (m *Market) FreezeSettlement(ctx context.Context, plan model.SettlementResult) (model.SettlementResult, error) {
	lock := m.roundLock(plan.RoundID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Round(ctx, plan.RoundID)
	if err != nil {
		return model.SettlementResult{}, fmt.Errorf("market.freeze_settlement: %w", err)
	}
	if r.Status != model.RoundSettling {
		return model.SettlementResult{}, fmt.Errorf("market.freeze_settlement: round %s is %s", r.ID, r.Status)
	}
	existing, err := m.store.SettlementPlan(ctx, r.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrPlanNotFound):
		return model.SettlementResult{}, fmt.Errorf("market.freeze_settlement: %w", err)
	}
	if err := m.store.SaveSettlementPlan(ctx, plan); err != nil {
		return model.SettlementResult{}, fmt.Errorf("market.freeze_settlement: %w", err)
	}
	return plan, nil
}

// SettlementPlan returns the frozen plan of a Settling round, or
// ErrPlanNotFound.
func (m *Market) SettlementPlan(ctx context.Context, roundID string) (model.SettlementResult, error) {
	plan, err := m.store.SettlementPlan(ctx, roundID)
	if err != nil {
		return model.SettlementResult{}, fmt.Errorf("market.settlement_plan: %w", err)
	}
	return plan, nil
}

// FinishSettlement writes outcomes and the result and marks the round
// Settled. Only a Settling round can finish.
func (m *Market) FinishSettlement(ctx context.Context, roundID string, preds []model.Prediction, res model.SettlementResult) (model.Round, error) {
	lock := m.roundLock(roundID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Round(ctx, roundID)
	if err != nil {
		return model.Round{}, fmt.Errorf("market.finish_settlement: %w", err)
	}
	if r.Status != model.RoundSettling {
		return r, fmt.Errorf("market.finish_settlement: round %s is %s", roundID, r.Status)
	}
	r.Status = model.RoundSettled
	if err := m.store.CompleteSettlement(ctx, r, preds, res); err != nil {
		return model.Round{}, fmt.Errorf("market.finish_settlement: %w", err)
	}
	return r, nil
}

func reason(err error) string {
	for _, c := range []struct {
		err  error
		name string
	}{
		{ErrRoundClosed, "round_closed"},
		{ErrRoundNotFound, "round_not_found"},
		{ErrUnknownProject, "unknown_project"},
		{ErrInvalidRank, "invalid_rank"},
		{ErrDuplicatePrediction, "duplicate"},
	} {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "ledger"
}
