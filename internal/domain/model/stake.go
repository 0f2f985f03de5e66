package model

import "time"

// StakeStatus is the lifecycle state of a StakeRecord.
type StakeStatus string

// Stake statuses. Pending -> Locked on chain confirmation;
// Locked -> Released|Slashed only during settlement.
const (
	StakePending  StakeStatus = "pending"
	StakeLocked   StakeStatus = "locked"
	StakeReleased StakeStatus = "released"
	StakeSlashed  StakeStatus = "slashed"
)

// Terminal reports whether no further transition is possible.
func (s StakeStatus) Terminal() bool {
	return s == StakeReleased || s == StakeSlashed
}

// PurposeKind says what a stake backs.
type PurposeKind string

// Purpose kinds.
const (
	PurposePrediction PurposeKind = "prediction"
	PurposeReview     PurposeKind = "review"
)

// Purpose references the prediction or review a stake is committed to.
type Purpose struct {
	Kind      PurposeKind `json:"kind"`
	RefID     string      `json:"ref_id"`
	ProjectID string      `json:"project_id"`
	RoundID   string      `json:"round_id,omitempty"`
}

// StakeRecord is a single stake owned by the ledger.
type StakeRecord struct {
	ID        string      `json:"id"`
	Owner     Address     `json:"owner"`
	Purpose   Purpose     `json:"purpose"`
	Amount    int64       `json:"amount"`
	Bonus     int64       `json:"bonus"`
	Status    StakeStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Account holds an owner's unlocked balance.
type Account struct {
	Owner     Address `json:"owner"`
	Available int64   `json:"available"`
}

// Balance summarises an owner's funds across record states.
type Balance struct {
	Owner     Address `json:"owner"`
	Available int64   `json:"available"`
	Pending   int64   `json:"pending"`
	Locked    int64   `json:"locked"`
}

// LedgerOp names a ledger transition.
type LedgerOp string

// Ledger operations recorded in history.
const (
	OpDeposit LedgerOp = "deposit"
	OpCredit  LedgerOp = "credit"
	OpLock    LedgerOp = "lock"
	OpConfirm LedgerOp = "confirm"
	OpFail    LedgerOp = "fail"
	OpRelease LedgerOp = "release"
	OpSlash   LedgerOp = "slash"
)

// HistoryEntry is an immutable audit line for one ledger transition.
// Deposits and credits have no RecordID.
type HistoryEntry struct {
	Seq       int64       `json:"seq"`
	RecordID  string      `json:"record_id,omitempty"`
	Owner     Address     `json:"owner"`
	ProjectID string      `json:"project_id,omitempty"`
	Op        LedgerOp    `json:"op"`
	From      StakeStatus `json:"from,omitempty"`
	To        StakeStatus `json:"to,omitempty"`
	Amount    int64       `json:"amount"`
	Bonus     int64       `json:"bonus"`
	At        time.Time   `json:"at"`
}
