package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"

	"github.com/okian/mindshare/internal/adapters/cache"
	"github.com/okian/mindshare/internal/adapters/http/api"
	"github.com/okian/mindshare/internal/adapters/repository"
	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/internal/domain/model"
)

const (
	alice = "0x00000000000000000000000000000000000A11cE"
	bob   = "0x0000000000000000000000000000000000000B0b"
)

var start = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type clock struct{ ns atomic.Int64 }

func (c *clock) now() time.Time      { return time.Unix(0, c.ns.Load()).UTC() }
func (c *clock) set(t time.Time)     { c.ns.Store(t.UnixNano()) }
func (c *clock) add(d time.Duration) { c.ns.Add(int64(d)) }

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

type node struct {
	svc *service.Service
	mux *http.ServeMux
	clk *clock
}

func startNode(mutate func(*config.Config)) *node {
	ctx := context.Background()
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 64
	cfg.SchedulerInterval = time.Hour
	cfg.TreasuryAddress = ""
	if mutate != nil {
		mutate(cfg)
	}
	clk := &clock{}
	clk.set(start.Add(time.Hour))

	svc := service.New(
		service.WithConfig(cfg),
		service.WithStore(repository.NewMemoryStore()),
		service.WithCache(cache.NewMemory()),
		service.WithClock(clk.now),
	)
	So(svc.Start(ctx), ShouldBeNil)
	So(svc.Start(ctx), ShouldBeNil)

	deps, err := svc.Dependencies()
	So(err, ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(deps).Register(ctx, mux)
	return &node{svc: svc, mux: mux, clk: clk}
}

func (n *node) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	So(n.svc.Stop(ctx), ShouldBeNil)
}

func (n *node) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	n.mux.ServeHTTP(w, req)
	return w
}

func (n *node) balance(addr string) model.Balance {
	b, err := n.svc.Ledger().Balance(context.Background(), model.MustAddress(addr))
	So(err, ShouldBeNil)
	return b
}

func chainEvent(id, kind, record, owner string, amount int64) string {
	return fmt.Sprintf(`{"event_id":%q,"kind":%q,"record_id":%q,"owner":%q,"amount":%d,"ts":"2024-07-01T01:00:00Z"}`,
		id, kind, record, owner, amount)
}

func TestServiceLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then it refuses to hand out dependencies and stops quietly", func() {
			_, err := svc.Dependencies()
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.Stop(context.Background()), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given an invalid configuration", t, func() {
		svc := service.New(service.WithConfig(&config.Config{}))

		Convey("Then start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	Convey("Given a running node", t, func() {
		n := startNode(nil)
		Reset(n.stop)

		res, err := n.svc.Scheduler().Tick(ctx)
		So(err, ShouldBeNil)
		So(res, ShouldBeIn, "opened", "idle")
		round, err := n.svc.Market().Current(ctx)
		So(err, ShouldBeNil)
		So(round.ID, ShouldEqual, "20240701-0000")

		So(n.do("POST", "/projects", `{"id":"uni","category":"defi"}`).Code, ShouldEqual, http.StatusCreated)
		So(n.do("POST", "/projects", `{"id":"aave","category":"defi"}`).Code, ShouldEqual, http.StatusCreated)
		So(n.do("POST", "/reviews", `{"project_id":"uni","reviewer":"`+bob+`","rating":5,"stake":10}`).Code, ShouldEqual, http.StatusCreated)

		Convey("When deposits arrive from the chain", func() {
			So(n.do("POST", "/chain/events", chainEvent("tx-1", "deposit", "", alice, 100)).Code, ShouldEqual, http.StatusAccepted)
			So(n.do("POST", "/chain/events", chainEvent("tx-1", "deposit", "", alice, 100)).Code, ShouldEqual, http.StatusOK)
			So(n.do("POST", "/chain/events", chainEvent("tx-2", "deposit", "", bob, 50)).Code, ShouldEqual, http.StatusAccepted)

			Convey("Then balances are credited once", func() {
				So(eventually(func() bool { return n.balance(alice).Available == 100 && n.balance(bob).Available == 50 }), ShouldBeTrue)
			})

			Convey("And a funded prediction settles through the chain and the round", func() {
				So(eventually(func() bool { return n.balance(alice).Available == 100 && n.balance(bob).Available == 50 }), ShouldBeTrue)

				w := n.do("POST", "/predictions", `{"project_id":"uni","predicted_rank":1,"stake_amount":60}`, "X-User-Address", alice)
				So(w.Code, ShouldEqual, http.StatusCreated)
				var pa model.Prediction
				So(json.Unmarshal(w.Body.Bytes(), &pa), ShouldBeNil)

				n.clk.add(48 * time.Hour)
				w = n.do("POST", "/predictions", `{"project_id":"uni","predicted_rank":2,"stake_amount":40}`, "X-User-Address", bob)
				So(w.Code, ShouldEqual, http.StatusCreated)
				var pb model.Prediction
				So(json.Unmarshal(w.Body.Bytes(), &pb), ShouldBeNil)

				p, ok := n.svc.Leaderboard().Project("uni")
				So(ok, ShouldBeTrue)
				So(p.TotalStaked, ShouldEqual, 100)
				rec := n.svc.Reputation().Get(ctx, model.MustAddress(alice))
				So(rec.Breakdown.Predictability, ShouldBeGreaterThanOrEqualTo, 0)

				for _, ev := range []string{
					chainEvent("tx-3", "approval_submitted", pa.StakeRecordID, "", 0),
					chainEvent("tx-4", "approval_confirmed", pa.StakeRecordID, "", 0),
					chainEvent("tx-5", "stake_confirmed", pa.StakeRecordID, "", 0),
					chainEvent("tx-6", "stake_confirmed", pb.StakeRecordID, "", 0),
				} {
					So(n.do("POST", "/chain/events", ev).Code, ShouldEqual, http.StatusAccepted)
				}
				So(eventually(func() bool { return n.balance(alice).Locked == 60 && n.balance(bob).Locked == 40 }), ShouldBeTrue)

				n.clk.set(round.EndTime.Add(time.Minute))
				res, err := n.svc.Scheduler().Tick(ctx)
				So(err, ShouldBeNil)
				So(res, ShouldEqual, "settled")

				result, err := n.svc.Market().Result(ctx, round.ID)
				So(err, ShouldBeNil)
				So(result.TotalStaked, ShouldEqual, 100)
				So(n.balance(alice).Available, ShouldEqual, 140)
				So(n.balance(bob).Available, ShouldEqual, 10)
				So(n.balance(alice).Available+n.balance(bob).Available, ShouldEqual, 150)

				next, err := n.svc.Market().Current(ctx)
				So(err, ShouldBeNil)
				So(next.ID, ShouldEqual, "20240708-0000")

				p, _ = n.svc.Leaderboard().Project("uni")
				So(p.TotalStaked, ShouldEqual, 0)
			})

			Convey("And a failed approval voids the prediction and returns the stake", func() {
				So(eventually(func() bool { return n.balance(alice).Available == 100 }), ShouldBeTrue)
				w := n.do("POST", "/predictions", `{"project_id":"aave","predicted_rank":2,"stake_amount":30}`, "X-User-Address", alice)
				So(w.Code, ShouldEqual, http.StatusCreated)
				var p model.Prediction
				So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)

				So(n.do("POST", "/chain/events", chainEvent("tx-9", "approval_failed", p.StakeRecordID, "", 0)).Code, ShouldEqual, http.StatusAccepted)
				So(eventually(func() bool { return n.balance(alice).Available == 100 }), ShouldBeTrue)

				Convey("Then the slot is free again", func() {
					w := n.do("POST", "/predictions", `{"project_id":"aave","predicted_rank":1,"stake_amount":10}`, "X-User-Address", alice)
					So(w.Code, ShouldEqual, http.StatusCreated)
				})
			})
		})

		Convey("When stats are requested", func() {
			stats := n.svc.GetStats()

			Convey("Then they describe the running node", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["totalProjects"], ShouldEqual, 2)
				So(stats["currentRound"], ShouldNotBeNil)
				So(n.do("GET", "/stats", "").Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}
