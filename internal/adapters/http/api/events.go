package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/domain/model"
)

// chainEventRequest mirrors the OpenAPI schema for POST /chain/events.
type chainEventRequest struct {
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	TS       string `json:"ts"`
}

func (e chainEventRequest) event() (model.ChainEvent, error) {
	kind := model.ChainEventKind(e.Kind)
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return model.ChainEvent{}, fmt.Errorf("%w: missing event_id", ErrBadRequest)
	case !kind.Valid():
		return model.ChainEvent{}, fmt.Errorf("%w: unknown kind %q", ErrBadRequest, e.Kind)
	case strings.TrimSpace(e.TS) == "":
		return model.ChainEvent{}, fmt.Errorf("%w: missing ts", ErrBadRequest)
	}
	ts, err := time.Parse(time.RFC3339, e.TS)
	if err != nil {
		return model.ChainEvent{}, fmt.Errorf("%w: invalid ts; must be RFC3339", ErrBadRequest)
	}
	ev := model.ChainEvent{EventID: e.EventID, Kind: kind, RecordID: e.RecordID, Amount: e.Amount, TS: ts}

	if kind == model.ChainDeposit {
		ev.Owner, err = model.ParseAddress(e.Owner)
		if err != nil {
			return model.ChainEvent{}, err
		}
		if e.Amount <= 0 {
			return model.ChainEvent{}, fmt.Errorf("%w: deposit amount must be positive", ErrBadRequest)
		}
		return ev, nil
	}
	if strings.TrimSpace(e.RecordID) == "" {
		return model.ChainEvent{}, fmt.Errorf("%w: missing record_id", ErrBadRequest)
	}
	return ev, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// handlePostChainEvent serves POST /chain/events.
func (s *Server) handlePostChainEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_chain_event"
	var req chainEventRequest
	if err := decode(r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	ev, err := req.event()
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}

	if s.deps.Deduper.SeenAndRecord(r.Context(), ev.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if err := s.deps.Intake.Enqueue(r.Context(), ev); err != nil {
		// the id must be retryable once the queue drains
		s.deps.Deduper.Unrecord(r.Context(), ev.EventID)
		if errors.Is(err, queue.ErrFull) {
			err = fmt.Errorf("%w: %v", ErrBackpressure, err)
		}
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
