package market

import (
	"context"

	"github.com/okian/mindshare/internal/domain/model"
)

// Store is the persistence port for rounds, predictions and settlement
// results.
type Store interface {
	SaveRound(ctx context.Context, r model.Round) error
	// Round returns ErrRoundNotFound for unknown ids.
	Round(ctx context.Context, id string) (model.Round, error)
	// LatestRound returns the round with the latest start, or ErrRoundNotFound.
	LatestRound(ctx context.Context) (model.Round, error)

	SavePrediction(ctx context.Context, p model.Prediction) error
	// Predictions lists a round's predictions by submission time, then id.
	Predictions(ctx context.Context, roundID string) ([]model.Prediction, error)
	// PredictionByStake returns ErrPredictionNotFound when no prediction
	// references the record.
	PredictionByStake(ctx context.Context, recordID string) (model.Prediction, error)

	// SaveSettlementPlan stores the frozen result a Settling round is paid
	// out from.
	SaveSettlementPlan(ctx context.Context, res model.SettlementResult) error
	// SettlementPlan returns ErrPlanNotFound when no plan was frozen.
	SettlementPlan(ctx context.Context, roundID string) (model.SettlementResult, error)

	// CompleteSettlement stores the judged predictions, the result and the
	// Settled round in one step and drops the frozen plan.
	CompleteSettlement(ctx context.Context, r model.Round, preds []model.Prediction, res model.SettlementResult) error
	// Result returns ErrResultNotFound for unsettled rounds.
	Result(ctx context.Context, roundID string) (model.SettlementResult, error)
}

// Stakes is the slice of the ledger the market needs.
type Stakes interface {
	Lock(ctx context.Context, owner model.Address, purpose model.Purpose, amount int64) (model.StakeRecord, error)
	Fail(ctx context.Context, recordID string) (model.StakeRecord, error)
}

// Catalog answers which projects exist and how many share a category.
type Catalog interface {
	Category(projectID string) (string, bool)
	CategorySize(category string) int
}
