package api

import (
	"errors"
	"net/http"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrMissingUser  = errors.New("missing " + userHeader + " header")
	ErrBackpressure = errors.New("backpressure")
	ErrRateLimited  = errors.New("rate limited")
)

type mapping struct {
	err    error
	status int
	code   string
}

var mappings = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ErrMissingUser, http.StatusUnauthorized, "missing_user"},
	{ErrBackpressure, http.StatusTooManyRequests, "backpressure"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{queue.ErrFull, http.StatusTooManyRequests, "backpressure"},
	{queue.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},

	{model.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},

	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{ledger.ErrRecordNotFound, http.StatusNotFound, "record_not_found"},
	{ledger.ErrRecordNotPending, http.StatusConflict, "record_not_pending"},
	{ledger.ErrRecordNotLocked, http.StatusConflict, "record_not_locked"},

	{market.ErrInvalidRank, http.StatusBadRequest, "invalid_rank"},
	{market.ErrUnknownProject, http.StatusBadRequest, "unknown_project"},
	{market.ErrRoundClosed, http.StatusConflict, "round_closed"},
	{market.ErrDuplicatePrediction, http.StatusConflict, "duplicate_prediction"},
	{market.ErrRoundAlreadySettling, http.StatusConflict, "round_settling"},
	{market.ErrRoundNotFound, http.StatusNotFound, "round_not_found"},
	{market.ErrPredictionNotFound, http.StatusNotFound, "prediction_not_found"},
	{market.ErrResultNotFound, http.StatusNotFound, "result_not_found"},

	{leaderboard.ErrInvalidProject, http.StatusBadRequest, "invalid_project"},
	{leaderboard.ErrInvalidRating, http.StatusBadRequest, "invalid_rating"},
	{leaderboard.ErrInvalidLimit, http.StatusBadRequest, "invalid_limit"},
	{leaderboard.ErrCategoryClash, http.StatusConflict, "category_clash"},
	{leaderboard.ErrProjectNotFound, http.StatusNotFound, "project_not_found"},

	{reputation.ErrUnknownActivity, http.StatusBadRequest, "unknown_activity"},
	{reputation.ErrMissingSignal, http.StatusBadRequest, "missing_signal"},
}

// classify returns the status and stable code for err. Unknown errors are
// internal.
func classify(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
