package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/model"
)

type projectRequest struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	CreatedAt string `json:"created_at,omitempty"`
}

type reviewRequest struct {
	ProjectID string `json:"project_id"`
	Reviewer  string `json:"reviewer"`
	Rating    int    `json:"rating"`
	Stake     int64  `json:"stake"`
}

// handleGetLeaderboard serves GET /leaderboard?category=&limit=.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	q := r.URL.Query()
	n := s.maxLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeDomainError(w, r, op, leaderboard.ErrInvalidLimit)
			return
		}
		if v > s.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded",
				fmt.Errorf("limit must not exceed %d", s.maxLimit))
			return
		}
		n = v
	}
	entries, err := s.deps.Leaderboard.Top(strings.TrimSpace(q.Get("category")), n)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePostProject serves POST /projects. A known project answers 200.
func (s *Server) handlePostProject(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_project"
	var req projectRequest
	if err := decode(r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	p := model.Project{ID: strings.TrimSpace(req.ID), Category: strings.TrimSpace(req.Category)}
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			s.writeDomainError(w, r, op, fmt.Errorf("%w: invalid created_at; must be RFC3339", ErrBadRequest))
			return
		}
		p.CreatedAt = t
	}
	got, created, err := s.deps.Leaderboard.AddProject(r.Context(), p)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, got)
}

// handlePostReview serves POST /reviews.
func (s *Server) handlePostReview(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_review"
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	reviewer, err := model.ParseAddress(req.Reviewer)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	if req.Stake < 0 {
		s.writeDomainError(w, r, op, fmt.Errorf("%w: stake must not be negative", ErrBadRequest))
		return
	}
	p, err := s.deps.Leaderboard.AddReview(r.Context(), model.Review{
		ProjectID: req.ProjectID,
		Reviewer:  reviewer,
		Rating:    req.Rating,
		Stake:     req.Stake,
	})
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
