package market

import "errors"

// Sentinel kinds for market validation.
var (
	ErrRoundClosed          = errors.New("round closed")
	ErrInvalidRank          = errors.New("invalid predicted rank")
	ErrDuplicatePrediction  = errors.New("duplicate prediction")
	ErrUnknownProject       = errors.New("unknown project")
	ErrRoundNotFound        = errors.New("round not found")
	ErrRoundAlreadySettling = errors.New("round already settling")
	ErrPredictionNotFound   = errors.New("prediction not found")
	ErrResultNotFound       = errors.New("settlement result not found")
	ErrPlanNotFound         = errors.New("settlement plan not found")
)
