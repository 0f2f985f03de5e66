package model

import "time"

// RoundStatus is the lifecycle state of a PredictionRound.
type RoundStatus string

// Round statuses; transitions are monotonic Open -> Settling -> Settled.
const (
	RoundOpen     RoundStatus = "open"
	RoundSettling RoundStatus = "settling"
	RoundSettled  RoundStatus = "settled"
)

// Round is a weekly prediction window.
type Round struct {
	ID        string      `json:"id"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	Status    RoundStatus `json:"status"`
}

// Outcome is the terminal judgement written once at settlement.
type Outcome string

// Prediction outcomes. OutcomeVoid marks a prediction whose funding failed
// or never confirmed; it no longer counts as active.
const (
	OutcomePending Outcome = ""
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeVoid    Outcome = "void"
)

// Prediction is a user's staked guess at a project's closing rank.
type Prediction struct {
	ID            string    `json:"id"`
	RoundID       string    `json:"round_id"`
	User          Address   `json:"user"`
	ProjectID     string    `json:"project_id"`
	PredictedRank int       `json:"predicted_rank"`
	StakeAmount   int64     `json:"stake_amount"`
	StakeRecordID string    `json:"stake_record_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	IsEarlyBird   bool      `json:"is_early_bird"`
	Outcome       Outcome   `json:"outcome,omitempty"`
}

// Active reports whether the prediction still occupies its (user, project, round) slot.
func (p Prediction) Active() bool { return p.Outcome != OutcomeVoid }

// Payout is one line of a settlement result.
type Payout struct {
	PredictionID  string  `json:"prediction_id"`
	StakeRecordID string  `json:"stake_record_id"`
	User          Address `json:"user"`
	Stake         int64   `json:"stake"`
	EarlyBird     int64   `json:"early_bird_bonus"`
	Share         int64   `json:"share"`
	Total         int64   `json:"total"`
	Outcome       Outcome `json:"outcome"`
}

// SettlementResult is the stored outcome of settling a round.
type SettlementResult struct {
	RoundID        string         `json:"round_id"`
	FinalRanks     map[string]int `json:"final_ranks"`
	TotalStaked    int64          `json:"total_staked"`
	RewardPool     int64          `json:"reward_pool"`
	EarlyBirdBonus int64          `json:"early_bird_bonus"`
	PlatformFee    int64          `json:"platform_fee"`
	Payouts        []Payout       `json:"payouts"`
	TotalPaid      int64          `json:"total_paid"`
	TotalForfeited int64          `json:"total_forfeited"`
	Voided         []string       `json:"voided,omitempty"`
	SettledAt      time.Time      `json:"settled_at"`
}
