package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

var (
	alice = model.MustAddress("0x00000000000000000000000000000000000a11ce")
	bob   = model.MustAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
)

// eachStore runs fn against the memory store and an in-memory sqlite store.
func eachStore(t *testing.T, name string, fn func(s Store)) {
	t.Helper()
	ctx := context.Background()
	Convey(name+" (memory)", t, func() {
		fn(NewMemoryStore())
	})
	Convey(name+" (sqlite)", t, func() {
		s, err := Open(ctx, "sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
		So(err, ShouldBeNil)
		Reset(func() { _ = s.Close() })
		fn(s)
	})
}

func TestOpen(t *testing.T) {
	Convey("Given an unknown driver", t, func() {
		_, err := Open(context.Background(), "mongo", "")
		So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)
	})
}

func TestLedgerPort(t *testing.T) {
	ctx := context.Background()

	eachStore(t, "Given a ledger store", func(s Store) {
		Convey("Then an unknown owner has an empty account", func() {
			a, err := s.Account(ctx, alice)
			So(err, ShouldBeNil)
			So(a.Available, ShouldEqual, 0)
			So(a.Owner, ShouldEqual, alice)
		})

		Convey("When a change is committed", func() {
			rec := model.StakeRecord{
				ID:        "rec-1",
				Owner:     alice,
				Purpose:   model.Purpose{Kind: model.PurposePrediction, RefID: "p1", ProjectID: "proj", RoundID: "r1"},
				Amount:    40,
				Status:    model.StakePending,
				CreatedAt: t0,
				UpdatedAt: t0,
			}
			entries, err := s.Commit(ctx, ledger.Change{
				Account: &model.Account{Owner: alice, Available: 60},
				Put:     []model.StakeRecord{rec},
				Entries: []model.HistoryEntry{
					{Owner: alice, Op: model.OpDeposit, Amount: 100, At: t0},
					{RecordID: "rec-1", Owner: alice, ProjectID: "proj", Op: model.OpLock, To: model.StakePending, Amount: 40, At: t0},
				},
			})
			So(err, ShouldBeNil)

			Convey("Then entries get increasing sequence numbers", func() {
				So(len(entries), ShouldEqual, 2)
				So(entries[1].Seq, ShouldBeGreaterThan, entries[0].Seq)
			})

			Convey("Then the account and record read back", func() {
				a, _ := s.Account(ctx, alice)
				So(a.Available, ShouldEqual, 60)
				got, err := s.Record(ctx, "rec-1")
				So(err, ShouldBeNil)
				So(got.Purpose, ShouldResemble, rec.Purpose)
				So(got.CreatedAt.Equal(t0), ShouldBeTrue)
				recs, _ := s.RecordsByOwner(ctx, alice)
				So(len(recs), ShouldEqual, 1)
				others, _ := s.RecordsByOwner(ctx, bob)
				So(others, ShouldBeEmpty)
			})

			Convey("Then history is indexed by record id only", func() {
				h, _ := s.History(ctx, "rec-1")
				So(len(h), ShouldEqual, 1)
				So(h[0].Op, ShouldEqual, model.OpLock)
				h, _ = s.History(ctx, "")
				So(h, ShouldBeEmpty)
			})

			Convey("When the record is deleted", func() {
				_, err := s.Commit(ctx, ledger.Change{Delete: []string{"rec-1"}})
				So(err, ShouldBeNil)
				_, err = s.Record(ctx, "rec-1")
				So(errors.Is(err, ledger.ErrRecordNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestMarketPort(t *testing.T) {
	ctx := context.Background()

	eachStore(t, "Given a market store", func(s Store) {
		Convey("Then missing rounds and results report not found", func() {
			_, err := s.LatestRound(ctx)
			So(errors.Is(err, market.ErrRoundNotFound), ShouldBeTrue)
			_, err = s.Round(ctx, "x")
			So(errors.Is(err, market.ErrRoundNotFound), ShouldBeTrue)
			_, err = s.Result(ctx, "x")
			So(errors.Is(err, market.ErrResultNotFound), ShouldBeTrue)
			_, err = s.PredictionByStake(ctx, "x")
			So(errors.Is(err, market.ErrPredictionNotFound), ShouldBeTrue)
		})

		Convey("When two rounds and predictions are saved", func() {
			r1 := model.Round{ID: "r1", StartTime: t0, EndTime: t0.Add(7 * 24 * time.Hour), Status: model.RoundOpen}
			r2 := model.Round{ID: "r2", StartTime: r1.EndTime, EndTime: r1.EndTime.Add(7 * 24 * time.Hour), Status: model.RoundOpen}
			So(s.SaveRound(ctx, r1), ShouldBeNil)
			So(s.SaveRound(ctx, r2), ShouldBeNil)
			late := model.Prediction{ID: "b", RoundID: "r1", User: bob, ProjectID: "p", PredictedRank: 1, StakeAmount: 5, StakeRecordID: "rec-b", SubmittedAt: t0.Add(time.Hour)}
			early := model.Prediction{ID: "a", RoundID: "r1", User: alice, ProjectID: "p", PredictedRank: 2, StakeAmount: 7, StakeRecordID: "rec-a", SubmittedAt: t0, IsEarlyBird: true}
			So(s.SavePrediction(ctx, late), ShouldBeNil)
			So(s.SavePrediction(ctx, early), ShouldBeNil)

			Convey("Then the latest round is the one that starts last", func() {
				r, err := s.LatestRound(ctx)
				So(err, ShouldBeNil)
				So(r.ID, ShouldEqual, "r2")
			})

			Convey("Then predictions come back in submission order", func() {
				preds, err := s.Predictions(ctx, "r1")
				So(err, ShouldBeNil)
				So(len(preds), ShouldEqual, 2)
				So(preds[0].ID, ShouldEqual, "a")
				So(preds[0].IsEarlyBird, ShouldBeTrue)
				p, err := s.PredictionByStake(ctx, "rec-b")
				So(err, ShouldBeNil)
				So(p.ID, ShouldEqual, "b")
			})

			Convey("When the round settlement completes", func() {
				r1.Status = model.RoundSettled
				early.Outcome = model.OutcomeWon
				late.Outcome = model.OutcomeLost
				res := model.SettlementResult{
					RoundID:     "r1",
					FinalRanks:  map[string]int{"p": 2},
					TotalStaked: 12,
					TotalPaid:   12,
					Payouts:     []model.Payout{{PredictionID: "a", Stake: 7, Share: 5, Total: 12, Outcome: model.OutcomeWon}},
					SettledAt:   t0.Add(8 * 24 * time.Hour),
				}
				So(s.SaveSettlementPlan(ctx, res), ShouldBeNil)
				plan, err := s.SettlementPlan(ctx, "r1")
				So(err, ShouldBeNil)
				So(plan.Payouts, ShouldResemble, res.Payouts)
				So(s.CompleteSettlement(ctx, r1, []model.Prediction{early, late}, res), ShouldBeNil)

				Convey("Then round, outcomes and result are stored together", func() {
					r, _ := s.Round(ctx, "r1")
					So(r.Status, ShouldEqual, model.RoundSettled)
					preds, _ := s.Predictions(ctx, "r1")
					So(preds[0].Outcome, ShouldEqual, model.OutcomeWon)
					So(preds[1].Outcome, ShouldEqual, model.OutcomeLost)
					got, err := s.Result(ctx, "r1")
					So(err, ShouldBeNil)
					So(got.FinalRanks, ShouldResemble, res.FinalRanks)
					So(got.Payouts[0].Total, ShouldEqual, 12)
					_, err = s.SettlementPlan(ctx, "r1")
					So(errors.Is(err, market.ErrPlanNotFound), ShouldBeTrue)
				})
			})

			Convey("Then a plan for an unknown round is refused", func() {
				err := s.SaveSettlementPlan(ctx, model.SettlementResult{RoundID: "zz"})
				So(errors.Is(err, ErrRoundMissing), ShouldBeTrue)
			})

			Convey("Then settling an unknown round fails", func() {
				err := s.CompleteSettlement(ctx, model.Round{ID: "zz"}, nil, model.SettlementResult{})
				So(errors.Is(err, ErrRoundMissing), ShouldBeTrue)
			})
		})
	})
}

func TestActivityPort(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(60 * 24 * time.Hour)
	signal := func(v float64) *float64 { return &v }

	eachStore(t, "Given recorded activity", func(s Store) {
		for _, ev := range []model.ActivityEvent{
			{User: alice, Kind: model.ActivityComment, At: now.Add(-40 * 24 * time.Hour)},
			{User: alice, Kind: model.ActivityComment, At: now.Add(-time.Hour)},
			{User: alice, Kind: model.ActivityVote, At: now.Add(-10 * 24 * time.Hour)},
			{User: alice, Kind: model.ActivityVote, At: now.Add(-24 * time.Hour)},
			{User: alice, Kind: model.ActivityPrediction, At: now},
			{User: alice, Kind: model.ActivityVerification, Signal: signal(80), At: now.Add(-2 * time.Hour)},
			{User: alice, Kind: model.ActivityVerification, Signal: signal(65), At: now.Add(-time.Hour)},
			{User: bob, Kind: model.ActivityComment, At: now},
		} {
			So(s.RecordActivity(ctx, ev), ShouldBeNil)
		}

		Convey("Then counters honour the recent windows and the latest signal", func() {
			a, err := s.Activity(ctx, alice, now)
			So(err, ShouldBeNil)
			So(a.CommentCount, ShouldEqual, 2)
			So(a.RecentComments, ShouldEqual, 1)
			So(a.VoteCount, ShouldEqual, 2)
			So(a.RecentVotes, ShouldEqual, 1)
			So(a.PredictionCount, ShouldEqual, 1)
			So(*a.VerificationSignal, ShouldEqual, 65)
		})

		Convey("Then an unknown user has zero counters", func() {
			a, err := s.Activity(ctx, model.MustAddress("0x00000000000000000000000000000000000000cc"), now)
			So(err, ShouldBeNil)
			So(a, ShouldResemble, model.Activity{})
		})

		Convey("Then counts include every event", func() {
			c, err := s.Counts(ctx)
			So(err, ShouldBeNil)
			So(c.Activity, ShouldEqual, 8)
		})
	})
}

func TestLeaderboardPort(t *testing.T) {
	ctx := context.Background()

	eachStore(t, "Given stored projects and reviews", func(s Store) {
		prev := 3
		So(s.SaveProject(ctx, model.Project{ID: "b", Category: "defi", CreatedAt: t0, TotalStaked: 9}), ShouldBeNil)
		So(s.SaveProject(ctx, model.Project{ID: "a", Category: "defi", CreatedAt: t0}), ShouldBeNil)
		So(s.SaveProject(ctx, model.Project{ID: "b", Category: "defi", CreatedAt: t0, TotalStaked: 12, PreviousRank: &prev}), ShouldBeNil)
		So(s.SaveReview(ctx, model.Review{ProjectID: "a", Reviewer: alice, Rating: 4, Stake: 3, At: t0}), ShouldBeNil)

		Convey("Then projects are upserted and listed by id", func() {
			ps, err := s.Projects(ctx)
			So(err, ShouldBeNil)
			So(len(ps), ShouldEqual, 2)
			So(ps[0].ID, ShouldEqual, "a")
			So(ps[1].TotalStaked, ShouldEqual, 12)
			So(*ps[1].PreviousRank, ShouldEqual, 3)
			So(ps[1].CurrentRank, ShouldBeNil)
		})

		Convey("Then reviews read back", func() {
			rs, err := s.Reviews(ctx)
			So(err, ShouldBeNil)
			So(len(rs), ShouldEqual, 1)
			So(rs[0].Reviewer, ShouldEqual, alice)
			So(rs[0].Rating, ShouldEqual, 4)
		})
	})
}
