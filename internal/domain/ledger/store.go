package ledger

import (
	"context"

	"github.com/okian/mindshare/internal/domain/model"
)

// Change is the unit of atomic persistence for one ledger transition.
type Change struct {
	// Account, when set, replaces the owner's account row.
	Account *model.Account
	// Put upserts records.
	Put []model.StakeRecord
	// Delete removes records by id.
	Delete []string
	// Entries are appended to history; the store assigns Seq.
	Entries []model.HistoryEntry
}

// Store is the persistence port the ledger writes through. Only the ledger
// calls Commit.
type Store interface {
	// Account returns the owner's account, or a zero account if unknown.
	Account(ctx context.Context, owner model.Address) (model.Account, error)
	// Record returns a record by id or ErrRecordNotFound.
	Record(ctx context.Context, id string) (model.StakeRecord, error)
	// RecordsByOwner lists the owner's live records.
	RecordsByOwner(ctx context.Context, owner model.Address) ([]model.StakeRecord, error)
	// History lists entries for a record or credit reference in Seq order.
	// An empty id matches nothing.
	History(ctx context.Context, recordID string) ([]model.HistoryEntry, error)
	// Commit applies c atomically and returns the entries with Seq assigned.
	Commit(ctx context.Context, c Change) ([]model.HistoryEntry, error)
}
