package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"

	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

const week = 7 * 24 * time.Hour

type rounds struct {
	mu   sync.Mutex
	list []model.Round
}

func (r *rounds) Current(context.Context) (model.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return model.Round{}, market.ErrRoundNotFound
	}
	return r.list[len(r.list)-1], nil
}

func (r *rounds) OpenRound(_ context.Context, start time.Time) (model.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.list {
		if x.StartTime.Equal(start) {
			return x, nil
		}
	}
	x := model.Round{ID: start.Format("20060102-1504"), StartTime: start, EndTime: start.Add(week), Status: model.RoundOpen}
	r.list = append(r.list, x)
	return x, nil
}

func (r *rounds) RoundLength() time.Duration { return week }

func (r *rounds) settle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.list {
		if r.list[i].ID == id {
			r.list[i].Status = model.RoundSettled
		}
	}
}

func (r *rounds) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

type settler struct {
	r     *rounds
	err   error
	calls []string
}

func (s *settler) SettleRound(_ context.Context, id string) (model.SettlementResult, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return model.SettlementResult{}, s.err
	}
	s.r.settle(id)
	return model.SettlementResult{RoundID: id}, nil
}

func TestAlign(t *testing.T) {
	Convey("Given a scheduler anchored on a Monday", t, func() {
		s := New(&rounds{}, nil)

		Convey("Then any instant maps to the Monday that starts its week", func() {
			So(s.Align(time.Date(2024, 7, 3, 15, 4, 0, 0, time.UTC)).Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(s.Align(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)).Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(s.Align(time.Date(2023, 12, 27, 0, 0, 0, 0, time.UTC)).Equal(time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})
	})
}

func TestTick(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scheduler over an empty market", t, func() {
		now := time.Date(2024, 7, 3, 12, 0, 0, 0, time.UTC)
		r := &rounds{}
		st := &settler{r: r}
		s := New(r, st, WithClock(func() time.Time { return now }))

		res, err := s.Tick(ctx)
		So(err, ShouldBeNil)
		So(res, ShouldEqual, TickOpened)
		cur, _ := r.Current(ctx)
		So(cur.ID, ShouldEqual, "20240701-0000")

		Convey("When ticking again inside the round", func() {
			res, err := s.Tick(ctx)

			Convey("Then nothing happens", func() {
				So(err, ShouldBeNil)
				So(res, ShouldEqual, TickIdle)
				So(st.calls, ShouldBeEmpty)
			})
		})

		Convey("When the round has ended", func() {
			now = cur.EndTime.Add(time.Minute)
			res, err := s.Tick(ctx)

			Convey("Then it is settled and the next round opens", func() {
				So(err, ShouldBeNil)
				So(res, ShouldEqual, TickSettled)
				So(st.calls, ShouldResemble, []string{"20240701-0000"})
				next, _ := r.Current(ctx)
				So(next.ID, ShouldEqual, "20240708-0000")
			})
		})

		Convey("When settlement fails", func() {
			now = cur.EndTime
			st.err = errors.New("store down")
			res, err := s.Tick(ctx)

			Convey("Then no round opens and the next tick retries", func() {
				So(err, ShouldNotBeNil)
				So(res, ShouldEqual, TickError)
				So(r.count(), ShouldEqual, 1)

				st.err = nil
				res, err = s.Tick(ctx)
				So(err, ShouldBeNil)
				So(res, ShouldEqual, TickSettled)
				So(len(st.calls), ShouldEqual, 2)
				So(r.count(), ShouldEqual, 2)
			})
		})

		Convey("When the service was down for weeks", func() {
			now = cur.EndTime.Add(3 * week)
			_, err := s.Tick(ctx)

			Convey("Then the round containing now opens", func() {
				So(err, ShouldBeNil)
				next, _ := r.Current(ctx)
				So(next.StartTime.Equal(cur.StartTime.Add(4*week)), ShouldBeTrue)
			})
		})
	})
}

func TestStartClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a running scheduler", t, func() {
		r := &rounds{}
		s := New(r, &settler{r: r}, WithInterval(5*time.Millisecond))
		s.Start(context.Background())

		Convey("Then it opens a round and stops cleanly", func() {
			deadline := time.Now().Add(time.Second)
			for r.count() == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(r.count(), ShouldEqual, 1)
			So(s.Close(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
		})
	})
}
