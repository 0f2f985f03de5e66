// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/mindshare/internal/domain/dedupe"
	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
	"github.com/okian/mindshare/internal/domain/tier"
	"github.com/okian/mindshare/pkg/logger"
)

const (
	userHeader      = "X-User-Address"
	defaultMaxLimit = 100
	maxBodyBytes    = 1 << 20
)

// Reputation reads scores and records activity.
type Reputation interface {
	Get(ctx context.Context, user model.Address) reputation.Record
	RecordActivity(ctx context.Context, ev model.ActivityEvent) error
	Quote(ctx context.Context, user model.Address, amount int64) tier.Fee
}

// Leaderboard serves rankings and accepts project and review facts.
type Leaderboard interface {
	Top(category string, limit int) ([]leaderboard.Entry, error)
	AddProject(ctx context.Context, p model.Project) (model.Project, bool, error)
	AddReview(ctx context.Context, r model.Review) (model.Project, error)
}

// Market accepts predictions and exposes rounds.
type Market interface {
	Submit(ctx context.Context, req market.SubmitRequest) (model.Prediction, error)
	Current(ctx context.Context) (model.Round, error)
	Round(ctx context.Context, id string) (model.Round, error)
	Predictions(ctx context.Context, roundID string) ([]model.Prediction, error)
	Result(ctx context.Context, roundID string) (model.SettlementResult, error)
}

// Settler settles a round on demand.
type Settler interface {
	SettleRound(ctx context.Context, roundID string) (model.SettlementResult, error)
}

// Balances reads ledger balances.
type Balances interface {
	Balance(ctx context.Context, owner model.Address) (model.Balance, error)
}

// Intake accepts chain events for asynchronous processing.
type Intake interface {
	Enqueue(ctx context.Context, e model.ChainEvent) error
}

// Dependencies bundles what the handlers need. Nil members disable their
// routes.
type Dependencies struct {
	Reputation  Reputation
	Leaderboard Leaderboard
	Market      Market
	Settler     Settler
	Balances    Balances
	Deduper     dedupe.Deduper
	Intake      Intake
	Stats       StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps     Dependencies
	limiter  *ClientLimiter
	maxLimit int
	logger   logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:     deps,
		maxLimit: defaultMaxLimit,
		logger:   logger.OrDiscard("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(HandleHealth, "healthz"))
	if s.deps.Stats != nil {
		mux.HandleFunc("GET /stats", MetricsMiddleware(NewStatsHandler(s.deps.Stats).HandleStats, "stats"))
	}
	if s.deps.Reputation != nil {
		mux.HandleFunc("GET /reputation/{address}", MetricsMiddleware(s.handleGetReputation, "reputation"))
		mux.HandleFunc("POST /activity", MetricsMiddleware(s.limit(s.handlePostActivity, "activity"), "activity"))
		mux.HandleFunc("GET /fees/quote", MetricsMiddleware(s.handleFeeQuote, "fees_quote"))
	}
	if s.deps.Leaderboard != nil {
		mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.handleGetLeaderboard, "leaderboard"))
		mux.HandleFunc("POST /projects", MetricsMiddleware(s.handlePostProject, "projects"))
		mux.HandleFunc("POST /reviews", MetricsMiddleware(s.limit(s.handlePostReview, "reviews"), "reviews"))
	}
	if s.deps.Market != nil {
		mux.HandleFunc("POST /predictions", MetricsMiddleware(s.limit(s.handlePostPrediction, "predictions"), "predictions"))
		mux.HandleFunc("GET /rounds/current", MetricsMiddleware(s.handleCurrentRound, "rounds"))
		mux.HandleFunc("GET /rounds/{id}", MetricsMiddleware(s.handleGetRound, "rounds"))
		mux.HandleFunc("GET /rounds/{id}/predictions", MetricsMiddleware(s.handleRoundPredictions, "rounds"))
		mux.HandleFunc("GET /rounds/{id}/result", MetricsMiddleware(s.handleRoundResult, "rounds"))
	}
	if s.deps.Settler != nil {
		mux.HandleFunc("POST /rounds/{id}/settle", MetricsMiddleware(s.handleSettleRound, "settle"))
	}
	if s.deps.Balances != nil {
		mux.HandleFunc("GET /balances/{address}", MetricsMiddleware(s.handleGetBalance, "balances"))
	}
	if s.deps.Deduper != nil && s.deps.Intake != nil {
		mux.HandleFunc("POST /chain/events", MetricsMiddleware(s.handlePostChainEvent, "chain_events"))
	}
}

func (s *Server) limit(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(endpoint, next)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps err onto a status and a stable code.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", op), logger.String("path", r.URL.Path), logger.Error(err))
	}
	writeError(w, status, code, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, name string) (model.Address, error) {
	return model.ParseAddress(strings.TrimSpace(r.PathValue(name)))
}
