package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/mindshare/internal/domain/model"
)

type activityRequest struct {
	User   string   `json:"user"`
	Kind   string   `json:"kind"`
	Signal *float64 `json:"signal,omitempty"`
	At     string   `json:"at,omitempty"`
}

func (a activityRequest) event() (model.ActivityEvent, error) {
	user, err := model.ParseAddress(a.User)
	if err != nil {
		return model.ActivityEvent{}, err
	}
	ev := model.ActivityEvent{User: user, Kind: model.ActivityKind(a.Kind), Signal: a.Signal}
	if a.At != "" {
		ev.At, err = time.Parse(time.RFC3339, a.At)
		if err != nil {
			return model.ActivityEvent{}, fmt.Errorf("%w: invalid at; must be RFC3339", ErrBadRequest)
		}
	}
	if a.Signal != nil && (*a.Signal < 0 || *a.Signal > 100) {
		return model.ActivityEvent{}, fmt.Errorf("%w: signal must be within [0,100]", ErrBadRequest)
	}
	return ev, nil
}

// handleGetReputation serves GET /reputation/{address}.
func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r, "address")
	if err != nil {
		s.writeDomainError(w, r, "api.get_reputation", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reputation.Get(r.Context(), user))
}

// handlePostActivity serves POST /activity.
func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_activity"
	var req activityRequest
	if err := decode(r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	ev, err := req.event()
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	if err := s.deps.Reputation.RecordActivity(r.Context(), ev); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFeeQuote serves GET /fees/quote?address=&amount=.
func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	const op = "api.fee_quote"
	q := r.URL.Query()
	user, err := model.ParseAddress(q.Get("address"))
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil || amount < 0 {
		s.writeDomainError(w, r, op, fmt.Errorf("%w: amount must be a non-negative integer", ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reputation.Quote(r.Context(), user, amount))
}
