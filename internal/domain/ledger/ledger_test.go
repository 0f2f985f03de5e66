package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/model"
)

var (
	alice = model.MustAddress("0x00000000000000000000000000000000000a11ce")
	bob   = model.MustAddress("0x0000000000000000000000000000000000000b0b")
)

func purpose(project string) model.Purpose {
	return model.Purpose{Kind: model.PurposePrediction, RefID: "p-" + project, ProjectID: project, RoundID: "r1"}
}

func newLedger(opts ...ledger.Option) *ledger.Ledger {
	return ledger.New(repository.NewMemoryStore(), opts...)
}

func TestLock(t *testing.T) {
	ctx := context.Background()

	Convey("Given a user with a balance of 5", t, func() {
		l := newLedger()
		_, err := l.Deposit(ctx, alice, 5, "")
		So(err, ShouldBeNil)

		Convey("When locking 10", func() {
			_, err := l.Lock(ctx, alice, purpose("x"), 10)

			Convey("Then it fails with insufficient funds and creates no record", func() {
				So(errors.Is(err, ledger.ErrInsufficientFunds), ShouldBeTrue)
				b, err := l.Balance(ctx, alice)
				So(err, ShouldBeNil)
				So(b, ShouldResemble, model.Balance{Owner: alice, Available: 5})
			})
		})

		Convey("When locking a non-positive amount", func() {
			_, err0 := l.Lock(ctx, alice, purpose("x"), 0)
			_, errNeg := l.Lock(ctx, alice, purpose("x"), -3)

			Convey("Then it fails with invalid amount", func() {
				So(errors.Is(err0, ledger.ErrInvalidAmount), ShouldBeTrue)
				So(errors.Is(errNeg, ledger.ErrInvalidAmount), ShouldBeTrue)
			})
		})

		Convey("When locking the whole balance", func() {
			rec, err := l.Lock(ctx, alice, purpose("x"), 5)

			Convey("Then a pending record holds the funds", func() {
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.StakePending)
				b, _ := l.Balance(ctx, alice)
				So(b.Available, ShouldEqual, 0)
				So(b.Pending, ShouldEqual, 5)
			})
		})
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pending stake of 40 out of 100", t, func() {
		var observed []model.HistoryEntry
		var mu sync.Mutex
		l := newLedger(ledger.WithObserver(func(e model.HistoryEntry) {
			mu.Lock()
			observed = append(observed, e)
			mu.Unlock()
		}))
		_, err := l.Deposit(ctx, alice, 100, "tx-1")
		So(err, ShouldBeNil)
		rec, err := l.Lock(ctx, alice, purpose("x"), 40)
		So(err, ShouldBeNil)

		Convey("When the funding is confirmed", func() {
			locked, err := l.Confirm(ctx, rec.ID)
			So(err, ShouldBeNil)
			So(locked.Status, ShouldEqual, model.StakeLocked)

			Convey("Then confirming again is a no-op", func() {
				again, err := l.Confirm(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(again.Status, ShouldEqual, model.StakeLocked)
				h, _ := l.History(ctx, rec.ID)
				So(len(h), ShouldEqual, 2)
			})

			Convey("Then release credits stake and bonus exactly once", func() {
				r1, err := l.Release(ctx, rec.ID, 7)
				So(err, ShouldBeNil)
				r2, err := l.Release(ctx, rec.ID, 7)
				So(err, ShouldBeNil)
				So(r2, ShouldResemble, r1)
				b, _ := l.Balance(ctx, alice)
				So(b.Available, ShouldEqual, 107)
				So(b.Locked, ShouldEqual, 0)
			})

			Convey("Then slash forfeits the stake exactly once", func() {
				_, err := l.Slash(ctx, rec.ID)
				So(err, ShouldBeNil)
				_, err = l.Slash(ctx, rec.ID)
				So(err, ShouldBeNil)
				b, _ := l.Balance(ctx, alice)
				So(b.Available, ShouldEqual, 60)
				So(b.Locked, ShouldEqual, 0)
			})

			Convey("Then release after slash is refused", func() {
				_, err := l.Slash(ctx, rec.ID)
				So(err, ShouldBeNil)
				_, err = l.Release(ctx, rec.ID, 0)
				So(errors.Is(err, ledger.ErrRecordNotLocked), ShouldBeTrue)
			})

			Convey("Then failing a locked record is refused", func() {
				_, err := l.Fail(ctx, rec.ID)
				So(errors.Is(err, ledger.ErrRecordNotPending), ShouldBeTrue)
			})
		})

		Convey("When release or slash is attempted on the pending record", func() {
			_, errRelease := l.Release(ctx, rec.ID, 0)
			_, errSlash := l.Slash(ctx, rec.ID)

			Convey("Then both fail with record not locked", func() {
				So(errors.Is(errRelease, ledger.ErrRecordNotLocked), ShouldBeTrue)
				So(errors.Is(errSlash, ledger.ErrRecordNotLocked), ShouldBeTrue)
			})
		})

		Convey("When the funding fails", func() {
			_, err := l.Fail(ctx, rec.ID)
			So(err, ShouldBeNil)

			Convey("Then the funds return and the record is gone", func() {
				b, _ := l.Balance(ctx, alice)
				So(b, ShouldResemble, model.Balance{Owner: alice, Available: 100})
				_, err := l.Record(ctx, rec.ID)
				So(errors.Is(err, ledger.ErrRecordNotFound), ShouldBeTrue)
			})

			Convey("Then failing again is a no-op", func() {
				_, err := l.Fail(ctx, rec.ID)
				So(err, ShouldBeNil)
				b, _ := l.Balance(ctx, alice)
				So(b.Available, ShouldEqual, 100)
			})

			Convey("Then a replayed fail describes the removed record without a status", func() {
				again, err := l.Fail(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, rec.ID)
				So(again.Owner, ShouldEqual, alice)
				So(again.Amount, ShouldEqual, rec.Amount)
				So(again.Status, ShouldEqual, model.StakeStatus(""))
				So(again.Status, ShouldNotEqual, model.StakePending)
			})

			Convey("Then history keeps the lock and the fail", func() {
				h, err := l.History(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(len(h), ShouldEqual, 2)
				So(h[0].Op, ShouldEqual, model.OpLock)
				So(h[1].Op, ShouldEqual, model.OpFail)
				So(h[1].Seq, ShouldBeGreaterThan, h[0].Seq)
			})
		})

		Convey("Then observers saw the deposit and the lock", func() {
			mu.Lock()
			defer mu.Unlock()
			So(len(observed), ShouldEqual, 2)
			So(observed[0].Op, ShouldEqual, model.OpDeposit)
			So(observed[1].Op, ShouldEqual, model.OpLock)
			So(observed[1].ProjectID, ShouldEqual, "x")
		})
	})

	Convey("Given an unknown record", t, func() {
		l := newLedger()
		_, err := l.Confirm(ctx, "missing")
		So(errors.Is(err, ledger.ErrRecordNotFound), ShouldBeTrue)
		_, err = l.Fail(ctx, "missing")
		So(errors.Is(err, ledger.ErrRecordNotFound), ShouldBeTrue)
	})
}

func TestReferencedCredits(t *testing.T) {
	ctx := context.Background()

	Convey("Given a credit with a reference", t, func() {
		l := newLedger()
		_, err := l.Credit(ctx, bob, 9, "fee:r1")
		So(err, ShouldBeNil)

		Convey("When the same reference is credited again", func() {
			b, err := l.Credit(ctx, bob, 9, "fee:r1")

			Convey("Then it is applied only once", func() {
				So(err, ShouldBeNil)
				So(b.Available, ShouldEqual, 9)
			})
		})

		Convey("When deposits carry distinct references", func() {
			_, _ = l.Deposit(ctx, bob, 1, "tx-a")
			b, _ := l.Deposit(ctx, bob, 1, "tx-b")
			So(b.Available, ShouldEqual, 11)
		})
	})
}

func TestConcurrentLocks(t *testing.T) {
	ctx := context.Background()

	Convey("Given a balance of 100 and 50 racing locks of 10", t, func() {
		var seq atomic.Int64
		l := newLedger(
			ledger.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
			ledger.WithIDGenerator(func() string { return fmt.Sprintf("rec-%d", seq.Add(1)) }),
		)
		_, err := l.Deposit(ctx, alice, 100, "")
		So(err, ShouldBeNil)

		var ok, insufficient atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Lock(ctx, alice, purpose("x"), 10)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ledger.ErrInsufficientFunds):
					insufficient.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly ten succeed and nothing is overdrawn", func() {
			So(ok.Load(), ShouldEqual, 10)
			So(insufficient.Load(), ShouldEqual, 40)
			b, _ := l.Balance(ctx, alice)
			So(b.Available, ShouldEqual, 0)
			So(b.Pending, ShouldEqual, 100)
		})
	})
}
