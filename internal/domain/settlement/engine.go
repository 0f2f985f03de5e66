// Package settlement closes prediction rounds and distributes payouts.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// Rounds is the slice of the market the engine drives.
type Rounds interface {
	Predictions(ctx context.Context, roundID string) ([]model.Prediction, error)
	Result(ctx context.Context, roundID string) (model.SettlementResult, error)
	BeginSettlement(ctx context.Context, roundID string) (model.Round, error)
	FreezeSettlement(ctx context.Context, plan model.SettlementResult) (model.SettlementResult, error)
	SettlementPlan(ctx context.Context, roundID string) (model.SettlementResult, error)
	FinishSettlement(ctx context.Context, roundID string, preds []model.Prediction, res model.SettlementResult) (model.Round, error)
}

// Ranks supplies authoritative final ranks.
type Ranks interface {
	Snapshot(ctx context.Context) leaderboard.Snapshot
	Rollover(snap leaderboard.Snapshot)
}

// Stakes is the slice of the ledger the engine instructs.
type Stakes interface {
	Record(ctx context.Context, id string) (model.StakeRecord, error)
	Release(ctx context.Context, recordID string, bonus int64) (model.StakeRecord, error)
	Slash(ctx context.Context, recordID string) (model.StakeRecord, error)
	Fail(ctx context.Context, recordID string) (model.StakeRecord, error)
	Credit(ctx context.Context, owner model.Address, amount int64, ref string) (model.Balance, error)
}

const defaultTimeout = time.Minute

// Engine settles rounds exactly once.
type Engine struct {
	rounds   Rounds
	ranks    Ranks
	stakes   Stakes
	policy   Policy
	treasury model.Address
	timeout  time.Duration
	group    singleflight.Group
	now      func() time.Time
	logger   logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the judge and reward parameters.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		if p.Judge != nil {
			e.policy = p
		}
	}
}

// WithTreasury sets the account credited with platform fees.
func WithTreasury(addr model.Address) Option {
	return func(e *Engine) { e.treasury = addr }
}

// WithTimeout bounds one settlement run. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Engine.
func New(rounds Rounds, ranks Ranks, stakes Stakes, opts ...Option) *Engine {
	e := &Engine{
		rounds:  rounds,
		ranks:   ranks,
		stakes:  stakes,
		policy:  DefaultPolicy(),
		timeout: defaultTimeout,
		now:     time.Now,
		logger:  logger.OrDiscard("settlement"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SettleRound judges a round and pays it out. Concurrent calls for the same
// round share one execution; calls after completion return the stored
// result. A failure leaves the round Settling and a later call retries it.
// The shared run is detached from ctx, so a caller that gives up does not
// abort it for the others; it is bounded by the engine timeout instead.
func (e *Engine) SettleRound(ctx context.Context, roundID string) (model.SettlementResult, error) {
	ch := e.group.DoChan(roundID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.settle(sctx, roundID)
	})
	select {
	case <-ctx.Done():
		return model.SettlementResult{}, fmt.Errorf("settlement.settle_round: %w", ctx.Err())
	case r := <-ch:
		if r.Shared {
			e.logger.Debug(ctx, "settlement shared with in-flight call", logger.String("round_id", roundID))
		}
		if r.Err != nil {
			return model.SettlementResult{}, r.Err
		}
		return r.Val.(model.SettlementResult), nil //nolint:forcetypeassert // settle only returns results
	}
}

func (e *Engine) settle(ctx context.Context, roundID string) (model.SettlementResult, error) {
	start := time.Now()

	round, err := e.rounds.BeginSettlement(ctx, roundID)
	switch {
	case err == nil:
	case errors.Is(err, market.ErrRoundAlreadySettling) && round.Status == model.RoundSettled:
		metrics.RecordSettlement("already_settled")
		return e.rounds.Result(ctx, roundID)
	case errors.Is(err, market.ErrRoundAlreadySettling):
		e.logger.Warn(ctx, "retrying interrupted settlement", logger.String("round_id", roundID))
	default:
		metrics.RecordSettlement("error")
		return model.SettlementResult{}, fmt.Errorf("settlement.settle_round: %w", err)
	}

	res, err := e.run(ctx, round)
	if err != nil {
		metrics.RecordSettlement("error")
		metrics.RecordErrorByComponent("settlement", "settle")
		e.logger.Error(ctx, "settlement aborted", logger.String("round_id", roundID), logger.Error(err))
		return model.SettlementResult{}, fmt.Errorf("settlement.settle_round: %w", err)
	}

	metrics.RecordSettlement("settled")
	metrics.RecordSettlementDuration(float64(time.Since(start).Milliseconds()))
	metrics.RecordPayouts(res.TotalPaid, res.TotalForfeited)
	e.logger.Info(ctx, "round settled",
		logger.String("round_id", roundID),
		logger.Int64("total_staked", res.TotalStaked),
		logger.Int64("reward_pool", res.RewardPool),
		logger.Int64("early_bird_bonus", res.EarlyBirdBonus),
		logger.Int("payouts", len(res.Payouts)),
		logger.Int("voided", len(res.Voided)))
	return res, nil
}

func (e *Engine) run(ctx context.Context, round model.Round) (model.SettlementResult, error) {
	all, err := e.rounds.Predictions(ctx, round.ID)
	if err != nil {
		return model.SettlementResult{}, err
	}

	plan, err := e.rounds.SettlementPlan(ctx, round.ID)
	switch {
	case err == nil:
		e.logger.Info(ctx, "replaying frozen settlement plan", logger.String("round_id", round.ID))
	case errors.Is(err, market.ErrPlanNotFound):
		if plan, err = e.plan(ctx, round.ID, all); err != nil {
			return model.SettlementResult{}, err
		}
		if plan, err = e.rounds.FreezeSettlement(ctx, plan); err != nil {
			return model.SettlementResult{}, err
		}
	default:
		return model.SettlementResult{}, err
	}
	return e.apply(ctx, plan, all)
}

// plan judges the funded predictions against a fresh rank snapshot. Nothing
// is mutated; the result is frozen before any stake moves.
func (e *Engine) plan(ctx context.Context, roundID string, all []model.Prediction) (model.SettlementResult, error) {
	snap := e.ranks.Snapshot(ctx)

	// Only funded stakes are judged. Stakes still pending at close, or whose
	// funding already failed, void their prediction.
	var judged []model.Prediction
	var voided []string
	for _, p := range all {
		if !p.Active() {
			continue
		}
		rec, err := e.stakes.Record(ctx, p.StakeRecordID)
		switch {
		case errors.Is(err, ledger.ErrRecordNotFound):
			voided = append(voided, p.ID)
		case err != nil:
			return model.SettlementResult{}, err
		case rec.Status == model.StakePending:
			voided = append(voided, p.ID)
		default:
			judged = append(judged, p)
		}
	}

	plan, err := Compute(judged, snap.Ranks, e.policy)
	if err != nil {
		return model.SettlementResult{}, err
	}
	if plan.PlatformFee > 0 && e.treasury == "" {
		return model.SettlementResult{}, ErrNoTreasury
	}
	return model.SettlementResult{
		RoundID:        roundID,
		FinalRanks:     snap.Ranks,
		TotalStaked:    plan.TotalStaked,
		RewardPool:     plan.RewardPool,
		EarlyBirdBonus: plan.EarlyBirdBonus,
		PlatformFee:    plan.PlatformFee,
		Payouts:        plan.Payouts,
		TotalPaid:      plan.TotalPaid,
		TotalForfeited: plan.TotalForfeited,
		Voided:         voided,
	}, nil
}

// apply moves stakes as the frozen plan says. Every ledger call is
// idempotent, so replaying the same plan after a partial run converges on
// the same end state.
func (e *Engine) apply(ctx context.Context, plan model.SettlementResult, all []model.Prediction) (model.SettlementResult, error) {
	if plan.PlatformFee > 0 && e.treasury == "" {
		return model.SettlementResult{}, ErrNoTreasury
	}
	byID := make(map[string]model.Prediction, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}

	outcome := make(map[string]model.Outcome, len(all))
	for _, id := range plan.Voided {
		p, ok := byID[id]
		if !ok {
			return model.SettlementResult{}, fmt.Errorf("void %s: %w", id, market.ErrPredictionNotFound)
		}
		if err := e.returnUnfunded(ctx, p); err != nil {
			return model.SettlementResult{}, err
		}
		outcome[id] = model.OutcomeVoid
	}
	for _, po := range plan.Payouts {
		var err error
		if po.Total > 0 {
			_, err = e.stakes.Release(ctx, po.StakeRecordID, po.Total-po.Stake)
		} else {
			_, err = e.stakes.Slash(ctx, po.StakeRecordID)
		}
		if err != nil {
			return model.SettlementResult{}, fmt.Errorf("payout %s: %w", po.PredictionID, err)
		}
		outcome[po.PredictionID] = po.Outcome
	}
	if plan.PlatformFee > 0 {
		if _, err := e.stakes.Credit(ctx, e.treasury, plan.PlatformFee, "fee:"+plan.RoundID); err != nil {
			return model.SettlementResult{}, fmt.Errorf("platform fee: %w", err)
		}
	}

	res := plan
	res.SettledAt = e.now()
	updated := make([]model.Prediction, 0, len(outcome))
	for _, p := range all {
		if o, ok := outcome[p.ID]; ok {
			p.Outcome = o
			updated = append(updated, p)
		}
	}

	if _, err := e.rounds.FinishSettlement(ctx, res.RoundID, updated, res); err != nil {
		return model.SettlementResult{}, err
	}
	e.ranks.Rollover(leaderboard.Snapshot{Ranks: res.FinalRanks, TakenAt: res.SettledAt})
	return res, nil
}

// returnUnfunded gives a pending stake back to its owner. A confirmation
// that raced the close leaves the stake Locked; it is refunded instead.
func (e *Engine) returnUnfunded(ctx context.Context, p model.Prediction) error {
	_, err := e.stakes.Fail(ctx, p.StakeRecordID)
	switch {
	case err == nil, errors.Is(err, ledger.ErrRecordNotFound):
		return nil
	case errors.Is(err, ledger.ErrRecordNotPending):
		if _, err := e.stakes.Release(ctx, p.StakeRecordID, 0); err != nil {
			return fmt.Errorf("refund %s: %w", p.ID, err)
		}
		return nil
	}
	return fmt.Errorf("void %s: %w", p.ID, err)
}
