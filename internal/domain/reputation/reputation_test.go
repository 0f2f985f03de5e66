package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/tier"
)

func f64(v float64) *float64 { return &v }

func TestTrustScore(t *testing.T) {
	Convey("Given a breakdown of 80/70/60/40", t, func() {
		b := Breakdown{Predictability: 80, Quality: 70, Consistency: 60, Volatility: 40}

		Convey("Then the trust score is 69, tier 4, fee 0.30%", func() {
			score := TrustScore(b)
			So(score, ShouldEqual, 69)
			So(tier.Classify(score), ShouldEqual, tier.Tier(4))
			So(tier.Percent(tier.FeeMultiplier(tier.Classify(score))), ShouldEqual, "0.30%")
		})
	})

	Convey("Given extreme breakdowns", t, func() {
		Convey("Then the score stays in range", func() {
			So(TrustScore(Breakdown{}), ShouldEqual, 0)
			So(TrustScore(Breakdown{100, 100, 100, 100}), ShouldEqual, 100)
			So(TrustScore(Breakdown{500, 500, 500, 500}), ShouldEqual, 100)
		})
	})
}

func TestScore(t *testing.T) {
	Convey("Given a user with no activity", t, func() {
		b := Score(model.Activity{})

		Convey("Then documented floors apply", func() {
			So(b.Predictability, ShouldEqual, 35) // 0.7 * neutral 50
			So(b.Quality, ShouldEqual, 45)        // 0.9 * neutral 50
			So(b.Consistency, ShouldEqual, 0)
			So(b.Volatility, ShouldEqual, 50)
		})
	})

	Convey("Given a weak signal and no comments", t, func() {
		b := Score(model.Activity{VerificationSignal: f64(10)})

		Convey("Then predictability and quality are floored", func() {
			So(b.Predictability, ShouldEqual, 20)
			So(b.Quality, ShouldEqual, 30)
		})
	})

	Convey("Given an active commenter", t, func() {
		a := model.Activity{
			CommentCount:       20,
			RecentComments:     12,
			VoteCount:          10,
			RecentVotes:        4,
			VerificationSignal: f64(80),
		}
		b := Score(a)

		Convey("Then the frequency bonus is capped at 30", func() {
			So(b.Predictability, ShouldAlmostEqual, 86, 1e-9) // 56 + 30
		})
		Convey("Then the volume adjustment applies above 10 comments", func() {
			So(b.Quality, ShouldAlmostEqual, 77, 1e-9) // 72 + 5
		})
		Convey("Then consistency and volatility are ratios", func() {
			So(b.Consistency, ShouldAlmostEqual, 60, 1e-9)
			So(b.Volatility, ShouldAlmostEqual, 40, 1e-9)
		})
	})

	Convey("Given fewer than three comments", t, func() {
		b := Score(model.Activity{CommentCount: 2, RecentComments: 2})
		So(b.Consistency, ShouldEqual, 20)
	})

	Convey("Given out-of-range inputs", t, func() {
		b := Score(model.Activity{
			CommentCount:       5,
			RecentComments:     50,
			VoteCount:          1,
			RecentVotes:        9,
			VerificationSignal: f64(400),
		})
		Convey("Then every sub-metric stays within 0..100", func() {
			for _, v := range []float64{b.Predictability, b.Quality, b.Consistency, b.Volatility} {
				So(v, ShouldBeBetweenOrEqual, 0, 100)
			}
			So(TrustScore(b), ShouldBeBetweenOrEqual, 0, 100)
		})
	})
}

type fakeActivity struct {
	mu     sync.Mutex
	events []model.ActivityEvent
	err    error
}

func (f *fakeActivity) RecordActivity(_ context.Context, ev model.ActivityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeActivity) Activity(_ context.Context, user model.Address, _ time.Time) (model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Activity{}, f.err
	}
	var a model.Activity
	for _, ev := range f.events {
		if ev.User != user {
			continue
		}
		switch ev.Kind {
		case model.ActivityComment:
			a.CommentCount++
			a.RecentComments++
		case model.ActivityVote:
			a.VoteCount++
			a.RecentVotes++
		case model.ActivityPrediction:
			a.PredictionCount++
		case model.ActivityVerification:
			a.VerificationSignal = ev.Signal
		}
	}
	return a, nil
}

type mapCache struct {
	mu      sync.Mutex
	records map[model.Address]Record
	deletes int
}

func newMapCache() *mapCache { return &mapCache{records: map[model.Address]Record{}} }

func (c *mapCache) Get(_ context.Context, user model.Address) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[user]
	return r, ok, nil
}

func (c *mapCache) Set(_ context.Context, rec Record, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.Address] = rec
	return nil
}

func (c *mapCache) Delete(_ context.Context, user model.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.records, user)
	return nil
}

type staticSignal struct {
	value float64
	err   error
	calls int
}

func (s *staticSignal) Signal(context.Context, model.Address) (float64, error) {
	s.calls++
	return s.value, s.err
}

func TestService(t *testing.T) {
	user := model.MustAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	ctx := context.Background()

	Convey("Given a reputation service with a cache", t, func() {
		now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		store := &fakeActivity{}
		cache := newMapCache()
		svc := NewService(store, WithCache(cache), WithClock(clock), WithTTL(5*time.Minute))

		Convey("When reading an unknown user", func() {
			rec := svc.Get(ctx, user)

			Convey("Then the record is built from floors and cached for the TTL", func() {
				So(rec.Address, ShouldEqual, user)
				So(rec.TrustScore, ShouldBeBetweenOrEqual, 0, 100)
				So(rec.ExpiresAt.Equal(now.Add(5*time.Minute)), ShouldBeTrue)
				So(cache.records, ShouldContainKey, user)
				So(rec.FeeMultiplier.Equal(tier.FeeMultiplier(rec.Tier)), ShouldBeTrue)
			})
		})

		Convey("When activity is recorded after a read", func() {
			first := svc.Get(ctx, user)
			for i := 0; i < 12; i++ {
				So(svc.RecordActivity(ctx, model.ActivityEvent{User: user, Kind: model.ActivityComment}), ShouldBeNil)
			}
			second := svc.Get(ctx, user)

			Convey("Then the cache was invalidated and the score recomputed", func() {
				So(cache.deletes, ShouldEqual, 12)
				So(second.Breakdown.Consistency, ShouldEqual, 100)
				So(second.TrustScore, ShouldBeGreaterThan, first.TrustScore)
			})
		})

		Convey("When the cached record has expired", func() {
			svc.Get(ctx, user)
			now = now.Add(6 * time.Minute)
			rec := svc.Get(ctx, user)

			Convey("Then it is rebuilt with a new expiry", func() {
				So(rec.ExpiresAt.Equal(now.Add(5*time.Minute)), ShouldBeTrue)
			})
		})

		Convey("When an invalid activity is recorded", func() {
			err := svc.RecordActivity(ctx, model.ActivityEvent{User: user, Kind: "like"})
			So(errors.Is(err, ErrUnknownActivity), ShouldBeTrue)
			err = svc.RecordActivity(ctx, model.ActivityEvent{User: user, Kind: model.ActivityVerification})
			So(errors.Is(err, ErrMissingSignal), ShouldBeTrue)
		})
	})

	Convey("Given a failing activity store and signal source", t, func() {
		store := &fakeActivity{err: errors.New("db down")}
		signals := &staticSignal{err: errors.New("timeout")}
		svc := NewService(store, WithSignalSource(signals))

		Convey("Then the read fails open to the floors", func() {
			rec := svc.Get(ctx, user)
			So(rec.Breakdown, ShouldResemble, Score(model.Activity{}))
			So(signals.calls, ShouldEqual, 1)
		})
	})

	Convey("Given an external signal and no stored signal", t, func() {
		signals := &staticSignal{value: 100}
		svc := NewService(&fakeActivity{}, WithSignalSource(signals))

		Convey("Then the external signal is used", func() {
			rec := svc.Get(ctx, user)
			So(rec.Breakdown.Quality, ShouldEqual, 90)
		})

		Convey("Then a stored verification signal takes precedence", func() {
			So(svc.RecordActivity(ctx, model.ActivityEvent{User: user, Kind: model.ActivityVerification, Signal: f64(0)}), ShouldBeNil)
			rec := svc.Get(ctx, user)
			So(rec.Breakdown.Quality, ShouldEqual, 30)
			So(signals.calls, ShouldEqual, 0)
		})
	})

	Convey("Given a fee quote request", t, func() {
		svc := NewService(&fakeActivity{})
		q := svc.Quote(ctx, user, 10_000)
		So(q.Amount, ShouldEqual, 10_000)
		So(q.Fee, ShouldEqual, tier.Quote(10_000, q.Tier).Fee)
	})
}
