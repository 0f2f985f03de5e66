// Package simulate drives a running node with synthetic projects, deposits,
// predictions and chain confirmations.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/mindshare/internal/client"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

const fundingPoll = 50 * time.Millisecond

// API is the part of the node the simulation talks to.
type API interface {
	Health(ctx context.Context) error
	AddProject(ctx context.Context, id, category string) (model.Project, bool, error)
	SendChainEvent(ctx context.Context, ev client.ChainEvent) (client.Ack, error)
	Balance(ctx context.Context, owner model.Address) (model.Balance, error)
	CurrentRound(ctx context.Context) (model.Round, error)
	Predict(ctx context.Context, user model.Address, p client.Prediction) (model.Prediction, error)
	Settle(ctx context.Context, roundID string) (model.SettlementResult, error)
}

// Report summarizes a run.
type Report struct {
	Projects    int64                   `json:"projects"`
	Users       int                     `json:"users"`
	Deposits    int64                   `json:"deposits"`
	Predictions int64                   `json:"predictions"`
	Rejected    int64                   `json:"rejected"`
	Confirmed   int64                   `json:"confirmed"`
	RoundID     string                  `json:"round_id"`
	Result      *model.SettlementResult `json:"result,omitempty"`
	Duration    time.Duration           `json:"duration"`
}

type plannedPrediction struct {
	user model.Address
	body client.Prediction
}

// Run executes one simulation against api.
func Run(ctx context.Context, api API, cfg Config, log logger.Logger) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	if log == nil {
		log = logger.OrDiscard("simulate")
	}
	started := time.Now()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic load only

	if err := api.Health(ctx); err != nil {
		return Report{}, fmt.Errorf("simulate.health: %w", err)
	}
	round, err := api.CurrentRound(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("simulate.round: %w", err)
	}
	log.Info(ctx, "starting simulation",
		logger.String("round_id", round.ID),
		logger.Int("projects", cfg.Projects),
		logger.Int("users", cfg.Users),
		logger.Int("predictions", cfg.Predictions),
		logger.Int("workers", cfg.Workers))

	report := Report{Users: cfg.Users, RoundID: round.ID}
	projects, sizes := layout(cfg)
	users := make([]model.Address, cfg.Users)
	for i := range users {
		users[i] = newAddress()
	}

	var created, deposits atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for id, category := range projects {
		g.Go(func() error {
			if _, _, err := api.AddProject(gctx, id, category); err != nil {
				return fmt.Errorf("simulate.project %s: %w", id, err)
			}
			created.Add(1)
			return nil
		})
	}
	for _, u := range users {
		g.Go(func() error {
			ev := client.ChainEvent{EventID: uuid.NewString(), Kind: string(model.ChainDeposit), Owner: string(u), Amount: cfg.Deposit}
			if _, err := api.SendChainEvent(gctx, ev); err != nil {
				return fmt.Errorf("simulate.deposit: %w", err)
			}
			deposits.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Projects, report.Deposits = created.Load(), deposits.Load()

	if err := awaitFunding(ctx, api, users, cfg.Deposit, cfg.FundingTimeout); err != nil {
		return report, err
	}

	plan := planPredictions(rng, cfg, users, projects, sizes)
	accepted := make([]model.Prediction, len(plan))
	var placed, rejected atomic.Int64
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, p := range plan {
		g.Go(func() error {
			pred, err := api.Predict(gctx, p.user, p.body)
			var apiErr *client.APIError
			switch {
			case errors.As(err, &apiErr) && apiErr.Status < 500:
				rejected.Add(1)
				log.Debug(gctx, "prediction rejected", logger.String("code", apiErr.Code))
				return nil
			case err != nil:
				return fmt.Errorf("simulate.predict: %w", err)
			}
			accepted[i] = pred
			placed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Predictions, report.Rejected = placed.Load(), rejected.Load()

	if cfg.Confirm {
		var confirmed atomic.Int64
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)
		for _, p := range accepted {
			if p.StakeRecordID == "" {
				continue
			}
			g.Go(func() error {
				ev := client.ChainEvent{EventID: uuid.NewString(), Kind: string(model.ChainStakeConfirmed), RecordID: p.StakeRecordID}
				if _, err := api.SendChainEvent(gctx, ev); err != nil {
					return fmt.Errorf("simulate.confirm: %w", err)
				}
				confirmed.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		report.Confirmed = confirmed.Load()
	}

	if cfg.Settle {
		if cfg.Confirm {
			if err := awaitLocked(ctx, api, accepted, cfg.FundingTimeout); err != nil {
				return report, err
			}
		}
		res, err := api.Settle(ctx, round.ID)
		if err != nil {
			return report, fmt.Errorf("simulate.settle: %w", err)
		}
		report.Result = &res
	}

	report.Duration = time.Since(started)
	log.Info(ctx, "simulation finished",
		logger.Int64("predictions", report.Predictions),
		logger.Int64("rejected", report.Rejected),
		logger.Int64("confirmed", report.Confirmed),
		logger.String("duration", report.Duration.String()))
	return report, nil
}

// layout spreads projects round-robin over the categories.
func layout(cfg Config) (map[string]string, map[string]int) {
	projects := make(map[string]string, cfg.Projects)
	sizes := make(map[string]int, len(cfg.Categories))
	for i := 0; i < cfg.Projects; i++ {
		category := cfg.Categories[i%len(cfg.Categories)]
		projects[fmt.Sprintf("%s-%03d", category, i)] = category
		sizes[category]++
	}
	return projects, sizes
}

func planPredictions(rng *rand.Rand, cfg Config, users []model.Address, projects map[string]string, sizes map[string]int) []plannedPrediction {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]plannedPrediction, cfg.Predictions)
	for i := range out {
		id := ids[rng.IntN(len(ids))]
		out[i] = plannedPrediction{
			user: users[rng.IntN(len(users))],
			body: client.Prediction{
				ProjectID:     id,
				PredictedRank: 1 + rng.IntN(sizes[projects[id]]),
				StakeAmount:   1 + rng.Int64N(cfg.MaxStake),
			},
		}
	}
	return out
}

func awaitFunding(ctx context.Context, api API, users []model.Address, want int64, timeout time.Duration) error {
	return poll(ctx, timeout, func() (bool, error) {
		for _, u := range users {
			b, err := api.Balance(ctx, u)
			if err != nil {
				return false, err
			}
			if b.Available+b.Pending+b.Locked < want {
				return false, nil
			}
		}
		return true, nil
	})
}

func awaitLocked(ctx context.Context, api API, preds []model.Prediction, timeout time.Duration) error {
	locked := make(map[model.Address]int64)
	for _, p := range preds {
		if p.StakeRecordID != "" {
			locked[p.User] += p.StakeAmount
		}
	}
	return poll(ctx, timeout, func() (bool, error) {
		for u, want := range locked {
			b, err := api.Balance(ctx, u)
			if err != nil {
				return false, err
			}
			if b.Locked < want {
				return false, nil
			}
		}
		return true, nil
	})
}

func poll(ctx context.Context, timeout time.Duration, done func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(fundingPoll)
	defer ticker.Stop()
	for {
		ok, err := done()
		if err != nil {
			return fmt.Errorf("simulate.poll: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// newAddress derives a fresh account address from a random uuid.
func newAddress() model.Address {
	id := uuid.New()
	return model.MustAddress(common.BytesToAddress(id[:]).Hex())
}
