// Package ledger owns stake balances and the stake record lifecycle.
//
// The ledger is the only writer of balance state. Every transition is
// committed atomically through the Store port together with an immutable
// history entry, and mutations are serialised per owner.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const stripeCount = 64

// Ledger implements the stake ledger.
type Ledger struct {
	store     Store
	stripes   [stripeCount]sync.Mutex
	observers []Observer
	now       func() time.Time
	newID     func() string
	logger    logger.Logger
}

// New constructs a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.OrDiscard("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) stripe(owner model.Address) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &l.stripes[h.Sum32()%stripeCount]
}

// Deposit credits funds confirmed on chain to the owner's available balance.
// A non-empty ref (the chain transaction or event id) makes the deposit
// idempotent: a ref already in history is not applied twice.
func (l *Ledger) Deposit(ctx context.Context, owner model.Address, amount int64, ref string) (model.Balance, error) {
	return l.credit(ctx, owner, amount, model.OpDeposit, ref)
}

// Credit adds funds that originate inside the system, e.g. retained
// settlement fees. ref behaves as for Deposit.
func (l *Ledger) Credit(ctx context.Context, owner model.Address, amount int64, ref string) (model.Balance, error) {
	return l.credit(ctx, owner, amount, model.OpCredit, ref)
}

func (l *Ledger) credit(ctx context.Context, owner model.Address, amount int64, op model.LedgerOp, ref string) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, ErrInvalidAmount
	}
	mu := l.stripe(owner)
	mu.Lock()
	if ref != "" {
		prior, err := l.store.History(ctx, ref)
		if err != nil {
			mu.Unlock()
			return model.Balance{}, fmt.Errorf("ledger.%s: %w", op, err)
		}
		if len(prior) > 0 {
			mu.Unlock()
			return l.Balance(ctx, owner)
		}
	}
	acct, err := l.store.Account(ctx, owner)
	if err != nil {
		mu.Unlock()
		return model.Balance{}, fmt.Errorf("ledger.%s: %w", op, err)
	}
	acct.Owner = owner
	acct.Available += amount
	entries, err := l.store.Commit(ctx, Change{
		Account: &acct,
		Entries: []model.HistoryEntry{{RecordID: ref, Owner: owner, Op: op, Amount: amount, At: l.now()}},
	})
	mu.Unlock()
	if err != nil {
		return model.Balance{}, fmt.Errorf("ledger.%s: %w", op, err)
	}
	l.notify(entries)
	return l.Balance(ctx, owner)
}

// Lock reserves amount from the owner's available balance against purpose.
// The record starts Pending and becomes Locked once the funding transaction
// is confirmed.
func (l *Ledger) Lock(ctx context.Context, owner model.Address, purpose model.Purpose, amount int64) (model.StakeRecord, error) {
	if amount <= 0 {
		metrics.RecordLedgerRejection("invalid_amount")
		return model.StakeRecord{}, ErrInvalidAmount
	}

	mu := l.stripe(owner)
	mu.Lock()
	acct, err := l.store.Account(ctx, owner)
	if err != nil {
		mu.Unlock()
		return model.StakeRecord{}, fmt.Errorf("ledger.lock: %w", err)
	}
	if amount > acct.Available {
		mu.Unlock()
		metrics.RecordLedgerRejection("insufficient_funds")
		return model.StakeRecord{}, ErrInsufficientFunds
	}

	now := l.now()
	acct.Owner = owner
	acct.Available -= amount
	rec := model.StakeRecord{
		ID:        l.newID(),
		Owner:     owner,
		Purpose:   purpose,
		Amount:    amount,
		Status:    model.StakePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entries, err := l.store.Commit(ctx, Change{
		Account: &acct,
		Put:     []model.StakeRecord{rec},
		Entries: []model.HistoryEntry{entryFor(rec, model.OpLock, "", model.StakePending, now)},
	})
	mu.Unlock()
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("ledger.lock: %w", err)
	}
	l.notify(entries)
	return rec, nil
}

// Confirm moves a Pending record to Locked. Confirming a Locked record again
// is a no-op.
func (l *Ledger) Confirm(ctx context.Context, recordID string) (model.StakeRecord, error) {
	return l.transition(ctx, recordID, model.OpConfirm, func(rec model.StakeRecord, _ *model.Account) (model.StakeRecord, bool, error) {
		switch rec.Status {
		case model.StakeLocked:
			return rec, false, nil
		case model.StakePending:
			rec.Status = model.StakeLocked
			return rec, true, nil
		default:
			return rec, false, ErrRecordNotPending
		}
	})
}

// Fail drops a Pending record whose funding failed and returns the reserved
// amount to the owner. Failing an already removed record is a no-op when its
// history shows a prior fail. The returned copy describes the removed record
// and carries the empty status recorded as the fail entry's To.
func (l *Ledger) Fail(ctx context.Context, recordID string) (model.StakeRecord, error) {
	rec, err := l.store.Record(ctx, recordID)
	if errors.Is(err, ErrRecordNotFound) {
		if prior, ok := l.lastEntry(ctx, recordID, model.OpFail); ok {
			return model.StakeRecord{
				ID:      recordID,
				Owner:   prior.Owner,
				Purpose: model.Purpose{ProjectID: prior.ProjectID},
				Amount:  prior.Amount,
				Status:  prior.To,
			}, nil
		}
		return model.StakeRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("ledger.fail: %w", err)
	}

	mu := l.stripe(rec.Owner)
	mu.Lock()
	rec, err = l.store.Record(ctx, recordID)
	if err != nil {
		mu.Unlock()
		return model.StakeRecord{}, fmt.Errorf("ledger.fail: %w", err)
	}
	if rec.Status != model.StakePending {
		mu.Unlock()
		return rec, ErrRecordNotPending
	}
	acct, err := l.store.Account(ctx, rec.Owner)
	if err != nil {
		mu.Unlock()
		return model.StakeRecord{}, fmt.Errorf("ledger.fail: %w", err)
	}
	now := l.now()
	acct.Owner = rec.Owner
	acct.Available += rec.Amount
	entries, err := l.store.Commit(ctx, Change{
		Account: &acct,
		Delete:  []string{rec.ID},
		Entries: []model.HistoryEntry{entryFor(rec, model.OpFail, model.StakePending, "", now)},
	})
	mu.Unlock()
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("ledger.fail: %w", err)
	}
	l.notify(entries)
	rec.Status = ""
	return rec, nil
}

// Release returns a Locked stake plus bonus to the owner. Releasing an
// already Released record returns it unchanged.
func (l *Ledger) Release(ctx context.Context, recordID string, bonus int64) (model.StakeRecord, error) {
	if bonus < 0 {
		return model.StakeRecord{}, ErrInvalidAmount
	}
	return l.transition(ctx, recordID, model.OpRelease, func(rec model.StakeRecord, acct *model.Account) (model.StakeRecord, bool, error) {
		switch rec.Status {
		case model.StakeReleased:
			return rec, false, nil
		case model.StakeLocked:
			rec.Status = model.StakeReleased
			rec.Bonus = bonus
			acct.Available += rec.Amount + bonus
			return rec, true, nil
		default:
			return rec, false, ErrRecordNotLocked
		}
	})
}

// Slash forfeits a Locked stake. Slashing an already Slashed record returns
// it unchanged.
func (l *Ledger) Slash(ctx context.Context, recordID string) (model.StakeRecord, error) {
	return l.transition(ctx, recordID, model.OpSlash, func(rec model.StakeRecord, _ *model.Account) (model.StakeRecord, bool, error) {
		switch rec.Status {
		case model.StakeSlashed:
			return rec, false, nil
		case model.StakeLocked:
			rec.Status = model.StakeSlashed
			return rec, true, nil
		default:
			return rec, false, ErrRecordNotLocked
		}
	})
}

type applyFunc func(rec model.StakeRecord, acct *model.Account) (model.StakeRecord, bool, error)

// transition loads the record, takes its owner's stripe and applies fn.
// fn reports whether anything changed; unchanged records are returned as the
// prior result without a commit.
func (l *Ledger) transition(ctx context.Context, recordID string, op model.LedgerOp, fn applyFunc) (model.StakeRecord, error) {
	rec, err := l.store.Record(ctx, recordID)
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("ledger.%s: %w", op, err)
	}

	mu := l.stripe(rec.Owner)
	mu.Lock()
	rec, err = l.store.Record(ctx, recordID)
	if err != nil {
		mu.Unlock()
		return model.StakeRecord{}, fmt.Errorf("ledger.%s: %w", op, err)
	}
	acct, err := l.store.Account(ctx, rec.Owner)
	if err != nil {
		mu.Unlock()
		return model.StakeRecord{}, fmt.Errorf("ledger.%s: %w", op, err)
	}
	acct.Owner = rec.Owner
	from := rec.Status
	next, changed, err := fn(rec, &acct)
	if err != nil || !changed {
		mu.Unlock()
		return next, err
	}

	now := l.now()
	next.UpdatedAt = now
	change := Change{
		Put:     []model.StakeRecord{next},
		Entries: []model.HistoryEntry{entryFor(next, op, from, next.Status, now)},
	}
	if op == model.OpRelease {
		change.Account = &acct
	}
	entries, err := l.store.Commit(ctx, change)
	mu.Unlock()
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("ledger.%s: %w", op, err)
	}
	l.notify(entries)
	return next, nil
}

// Balance sums the owner's available, pending and locked funds.
func (l *Ledger) Balance(ctx context.Context, owner model.Address) (model.Balance, error) {
	acct, err := l.store.Account(ctx, owner)
	if err != nil {
		return model.Balance{}, fmt.Errorf("ledger.balance: %w", err)
	}
	recs, err := l.store.RecordsByOwner(ctx, owner)
	if err != nil {
		return model.Balance{}, fmt.Errorf("ledger.balance: %w", err)
	}
	b := model.Balance{Owner: owner, Available: acct.Available}
	for _, r := range recs {
		switch r.Status {
		case model.StakePending:
			b.Pending += r.Amount
		case model.StakeLocked:
			b.Locked += r.Amount
		}
	}
	return b, nil
}

// Record returns a stake record by id.
func (l *Ledger) Record(ctx context.Context, id string) (model.StakeRecord, error) {
	return l.store.Record(ctx, id)
}

// History returns the audit trail of a record.
func (l *Ledger) History(ctx context.Context, recordID string) ([]model.HistoryEntry, error) {
	return l.store.History(ctx, recordID)
}

func (l *Ledger) lastEntry(ctx context.Context, recordID string, op model.LedgerOp) (model.HistoryEntry, bool) {
	entries, err := l.store.History(ctx, recordID)
	if err != nil {
		return model.HistoryEntry{}, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Op == op {
			return entries[i], true
		}
	}
	return model.HistoryEntry{}, false
}

func (l *Ledger) notify(entries []model.HistoryEntry) {
	for _, e := range entries {
		metrics.RecordLedgerTransition(string(e.Op), e.Amount)
		l.logger.Debug(context.Background(), "ledger transition",
			logger.String("op", string(e.Op)),
			logger.String("record_id", e.RecordID),
			logger.String("owner", e.Owner.String()),
			logger.Int64("amount", e.Amount))
		for _, o := range l.observers {
			o(e)
		}
	}
}

func entryFor(rec model.StakeRecord, op model.LedgerOp, from, to model.StakeStatus, at time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		RecordID:  rec.ID,
		Owner:     rec.Owner,
		ProjectID: rec.Purpose.ProjectID,
		Op:        op,
		From:      from,
		To:        to,
		Amount:    rec.Amount,
		Bonus:     rec.Bonus,
		At:        at,
	}
}
