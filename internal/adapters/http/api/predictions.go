package api

import (
	"net/http"
	"strings"

	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

// handlePostPrediction serves POST /predictions. The submitting user comes
// from the X-User-Address header.
func (s *Server) handlePostPrediction(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_prediction"
	raw := strings.TrimSpace(r.Header.Get(userHeader))
	if raw == "" {
		s.writeDomainError(w, r, op, ErrMissingUser)
		return
	}
	user, err := model.ParseAddress(raw)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	var req market.SubmitRequest
	if err := decode(r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	req.User = user
	if req.RoundID == "" {
		cur, err := s.deps.Market.Current(r.Context())
		if err != nil {
			s.writeDomainError(w, r, op, err)
			return
		}
		req.RoundID = cur.ID
	}
	p, err := s.deps.Market.Submit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleCurrentRound serves GET /rounds/current.
func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.deps.Market.Current(r.Context())
	if err != nil {
		s.writeDomainError(w, r, "api.current_round", err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// handleGetRound serves GET /rounds/{id}.
func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.deps.Market.Round(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "api.get_round", err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// handleRoundPredictions serves GET /rounds/{id}/predictions.
func (s *Server) handleRoundPredictions(w http.ResponseWriter, r *http.Request) {
	const op = "api.round_predictions"
	id := r.PathValue("id")
	if _, err := s.deps.Market.Round(r.Context(), id); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	preds, err := s.deps.Market.Predictions(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	if preds == nil {
		preds = []model.Prediction{}
	}
	writeJSON(w, http.StatusOK, preds)
}

// handleRoundResult serves GET /rounds/{id}/result.
func (s *Server) handleRoundResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Market.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "api.round_result", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSettleRound serves POST /rounds/{id}/settle. Settling a settled
// round returns the stored result.
func (s *Server) handleSettleRound(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Settler.SettleRound(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "api.settle_round", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
