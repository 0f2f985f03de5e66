package funding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/domain/funding"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

var (
	alice = model.MustAddress("0x00000000000000000000000000000000000a11ce")
	start = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
)

type catalog struct{}

func (catalog) Category(string) (string, bool) { return "defi", true }
func (catalog) CategorySize(string) int        { return 5 }

func event(kind model.ChainEventKind, record string) model.ChainEvent {
	return model.ChainEvent{EventID: string(kind) + ":" + record, Kind: kind, RecordID: record}
}

func TestFlow(t *testing.T) {
	ctx := context.Background()

	Convey("Given a submitted prediction with a pending stake", t, func() {
		store := repository.NewMemoryStore()
		l := ledger.New(store)
		m := market.New(store, l, catalog{}, market.WithClock(func() time.Time { return start.Add(time.Hour) }))
		r, err := m.OpenRound(ctx, start)
		So(err, ShouldBeNil)
		_, _ = l.Deposit(ctx, alice, 100, "")
		p, err := m.Submit(ctx, market.SubmitRequest{RoundID: r.ID, User: alice, ProjectID: "uni", PredictedRank: 1, StakeAmount: 40})
		So(err, ShouldBeNil)
		rec := p.StakeRecordID
		f := funding.New(l, m)

		Convey("Then the flow starts idle", func() {
			s, err := f.State(ctx, rec)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, funding.StateIdle)
		})

		Convey("When approval and stake confirm in order", func() {
			s1, err1 := f.Apply(ctx, event(model.ChainApprovalSubmitted, rec))
			s2, err2 := f.Apply(ctx, event(model.ChainApprovalConfirmed, rec))
			s3, err3 := f.Apply(ctx, event(model.ChainStakeConfirmed, rec))

			Convey("Then the flow walks to settled and the stake locks", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(err3, ShouldBeNil)
				So([]funding.State{s1, s2, s3}, ShouldResemble,
					[]funding.State{funding.StateApproving, funding.StateLocking, funding.StateSettled})
				got, _ := l.Record(ctx, rec)
				So(got.Status, ShouldEqual, model.StakeLocked)
			})

			Convey("Then a repeated confirmation is a no-op", func() {
				s, err := f.Apply(ctx, event(model.ChainStakeConfirmed, rec))
				So(err, ShouldBeNil)
				So(s, ShouldEqual, funding.StateSettled)
			})

			Convey("Then a late failure is rejected and nothing moves", func() {
				_, err := f.Apply(ctx, event(model.ChainStakeFailed, rec))
				So(errors.Is(err, funding.ErrInvalidTransition), ShouldBeTrue)
				b, _ := l.Balance(ctx, alice)
				So(b.Locked, ShouldEqual, 40)
			})
		})

		Convey("When approval is confirmed without a submitted notice", func() {
			s, err := f.Apply(ctx, event(model.ChainApprovalConfirmed, rec))
			So(err, ShouldBeNil)
			So(s, ShouldEqual, funding.StateLocking)

			Convey("Then approval can no longer be resubmitted", func() {
				_, err := f.Apply(ctx, event(model.ChainApprovalSubmitted, rec))
				So(errors.Is(err, funding.ErrInvalidTransition), ShouldBeTrue)
			})
		})

		Convey("When the approval fails", func() {
			s, err := f.Apply(ctx, event(model.ChainApprovalFailed, rec))

			Convey("Then funds return and the prediction is void", func() {
				So(err, ShouldBeNil)
				So(s, ShouldEqual, funding.StateFailed)
				b, _ := l.Balance(ctx, alice)
				So(b, ShouldResemble, model.Balance{Owner: alice, Available: 100})
				preds, _ := m.Predictions(ctx, r.ID)
				So(preds[0].Outcome, ShouldEqual, model.OutcomeVoid)
			})

			Convey("Then repeating a failure is idempotent and confirming is not allowed", func() {
				s, err := f.Apply(ctx, event(model.ChainStakeFailed, rec))
				So(err, ShouldBeNil)
				So(s, ShouldEqual, funding.StateFailed)
				_, err = f.Apply(ctx, event(model.ChainStakeConfirmed, rec))
				So(errors.Is(err, funding.ErrInvalidTransition), ShouldBeTrue)
			})

			Convey("Then a fresh flow recovers the failed state from the ledger", func() {
				s, err := funding.New(l, m).State(ctx, rec)
				So(err, ShouldBeNil)
				So(s, ShouldEqual, funding.StateFailed)
			})
		})

		Convey("Then malformed events are rejected", func() {
			_, err := f.Apply(ctx, model.ChainEvent{Kind: model.ChainStakeConfirmed})
			So(errors.Is(err, funding.ErrMissingRecord), ShouldBeTrue)
			_, err = f.Apply(ctx, event(model.ChainDeposit, rec))
			So(errors.Is(err, funding.ErrUnknownEvent), ShouldBeTrue)
			_, err = f.Apply(ctx, event(model.ChainStakeConfirmed, "nope"))
			So(errors.Is(err, ledger.ErrRecordNotFound), ShouldBeTrue)
		})
	})
}
