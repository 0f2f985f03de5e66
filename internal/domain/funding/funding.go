// Package funding tracks the approve-then-stake flow of each stake record
// and applies its outcome to the ledger.
package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

// State is the position of a stake in its funding flow.
type State string

// Funding states. Settled and Failed are terminal.
const (
	StateIdle      State = "idle"
	StateApproving State = "approving"
	StateLocking   State = "locking"
	StateSettled   State = "settled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further event changes the state.
func (s State) Terminal() bool { return s == StateSettled || s == StateFailed }

// transitions maps (state, event) to the next state. Pairs that are absent
// are invalid.
var transitions = map[State]map[model.ChainEventKind]State{
	StateIdle: {
		model.ChainApprovalSubmitted: StateApproving,
		model.ChainApprovalConfirmed: StateLocking,
		model.ChainApprovalFailed:    StateFailed,
		model.ChainStakeConfirmed:    StateSettled,
		model.ChainStakeFailed:       StateFailed,
	},
	StateApproving: {
		model.ChainApprovalSubmitted: StateApproving,
		model.ChainApprovalConfirmed: StateLocking,
		model.ChainApprovalFailed:    StateFailed,
		model.ChainStakeConfirmed:    StateSettled,
		model.ChainStakeFailed:       StateFailed,
	},
	StateLocking: {
		model.ChainApprovalConfirmed: StateLocking,
		model.ChainStakeConfirmed:    StateSettled,
		model.ChainStakeFailed:       StateFailed,
	},
	StateSettled: {
		model.ChainStakeConfirmed: StateSettled,
	},
	StateFailed: {
		model.ChainApprovalFailed: StateFailed,
		model.ChainStakeFailed:    StateFailed,
	},
}

// Stakes is the slice of the ledger the flow drives.
type Stakes interface {
	Record(ctx context.Context, id string) (model.StakeRecord, error)
	History(ctx context.Context, recordID string) ([]model.HistoryEntry, error)
	Confirm(ctx context.Context, recordID string) (model.StakeRecord, error)
	Fail(ctx context.Context, recordID string) (model.StakeRecord, error)
}

// Predictions voids the prediction a failed stake was funding.
type Predictions interface {
	VoidByStake(ctx context.Context, recordID string) (model.Prediction, error)
}

// Flow runs one funding state machine per stake record. In-flight states
// live in memory; terminal states are recovered from the ledger.
type Flow struct {
	mu       sync.Mutex
	inflight map[string]State

	stakes Stakes
	preds  Predictions
	logger logger.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

// New constructs a Flow. preds may be nil when no stake funds a prediction.
func New(stakes Stakes, preds Predictions, opts ...Option) *Flow {
	f := &Flow{
		inflight: make(map[string]State),
		stakes:   stakes,
		preds:    preds,
		logger:   logger.OrDiscard("funding"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the current state of a record's flow.
func (f *Flow) State(ctx context.Context, recordID string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current(ctx, recordID)
}

// Apply advances the flow of ev.RecordID. Repeating the event that reached a
// terminal state is a no-op; any other event after it is ErrInvalidTransition.
func (f *Flow) Apply(ctx context.Context, ev model.ChainEvent) (State, error) {
	if ev.RecordID == "" {
		return "", ErrMissingRecord
	}
	if !ev.Kind.Valid() || ev.Kind == model.ChainDeposit {
		return "", fmt.Errorf("funding.apply %q: %w", ev.Kind, ErrUnknownEvent)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	from, err := f.current(ctx, ev.RecordID)
	if err != nil {
		return "", err
	}
	to, ok := transitions[from][ev.Kind]
	if !ok {
		return from, fmt.Errorf("funding.apply %s on %s: %w", ev.Kind, from, ErrInvalidTransition)
	}
	if from == to && to.Terminal() {
		return to, nil
	}

	switch to {
	case StateSettled:
		if _, err := f.stakes.Confirm(ctx, ev.RecordID); err != nil {
			if errors.Is(err, ledger.ErrRecordNotPending) || errors.Is(err, ledger.ErrRecordNotFound) {
				return from, fmt.Errorf("funding.apply %s: %w", ev.Kind, ErrInvalidTransition)
			}
			return from, fmt.Errorf("funding.confirm: %w", err)
		}
	case StateFailed:
		if _, err := f.stakes.Fail(ctx, ev.RecordID); err != nil {
			if errors.Is(err, ledger.ErrRecordNotPending) {
				return from, fmt.Errorf("funding.apply %s: %w", ev.Kind, ErrInvalidTransition)
			}
			return from, fmt.Errorf("funding.fail: %w", err)
		}
		if f.preds != nil {
			if _, err := f.preds.VoidByStake(ctx, ev.RecordID); err != nil && !errors.Is(err, market.ErrPredictionNotFound) {
				f.logger.Error(ctx, "failed to void prediction",
					logger.String("record_id", ev.RecordID), logger.Error(err))
			}
		}
	}

	if to.Terminal() {
		delete(f.inflight, ev.RecordID)
	} else {
		f.inflight[ev.RecordID] = to
	}
	f.logger.Debug(ctx, "funding transition",
		logger.String("record_id", ev.RecordID),
		logger.String("event", string(ev.Kind)),
		logger.String("from", string(from)),
		logger.String("to", string(to)))
	return to, nil
}

// current must be called with mu held.
func (f *Flow) current(ctx context.Context, recordID string) (State, error) {
	if s, ok := f.inflight[recordID]; ok {
		return s, nil
	}
	rec, err := f.stakes.Record(ctx, recordID)
	switch {
	case err == nil && rec.Status == model.StakePending:
		return StateIdle, nil
	case err == nil:
		return StateSettled, nil
	case !errors.Is(err, ledger.ErrRecordNotFound):
		return "", fmt.Errorf("funding.state: %w", err)
	}

	hist, err := f.stakes.History(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("funding.state: %w", err)
	}
	for _, h := range hist {
		if h.Op == model.OpFail {
			return StateFailed, nil
		}
	}
	return "", fmt.Errorf("funding.state %s: %w", recordID, ledger.ErrRecordNotFound)
}
