// Package model contains domain models passed between layers.
package model

import "time"

// ChainEventKind names a notification reported by the chain/wallet layer.
type ChainEventKind string

// Chain event kinds.
const (
	ChainDeposit           ChainEventKind = "deposit"
	ChainApprovalSubmitted ChainEventKind = "approval_submitted"
	ChainApprovalConfirmed ChainEventKind = "approval_confirmed"
	ChainApprovalFailed    ChainEventKind = "approval_failed"
	ChainStakeConfirmed    ChainEventKind = "stake_confirmed"
	ChainStakeFailed       ChainEventKind = "stake_failed"
)

// Valid reports whether k is a known kind.
func (k ChainEventKind) Valid() bool {
	switch k {
	case ChainDeposit, ChainApprovalSubmitted, ChainApprovalConfirmed,
		ChainApprovalFailed, ChainStakeConfirmed, ChainStakeFailed:
		return true
	}
	return false
}

// ChainEvent is a confirmation or failure reported by the chain collaborator.
// Deposits carry Owner and Amount; funding events carry RecordID.
type ChainEvent struct {
	EventID  string         // unique id for idempotency
	Kind     ChainEventKind // what happened
	RecordID string         // stake record the event refers to
	Owner    Address        // credited account for deposits
	Amount   int64          // deposit amount in base units
	TS       time.Time      // event timestamp
}
