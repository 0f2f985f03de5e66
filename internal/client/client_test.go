package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/http/api"
	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/client"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/internal/domain/model"
)

var alice = model.MustAddress("0x00000000000000000000000000000000000a11ce")

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestNew(t *testing.T) {
	Convey("Given base urls", t, func() {
		_, err := client.New("localhost")
		So(errors.Is(err, client.ErrBaseURL), ShouldBeTrue)
		c, err := client.New("http://localhost:8080/", client.WithTimeout(time.Second))
		So(err, ShouldBeNil)
		So(c, ShouldNotBeNil)
	})
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	Convey("Given a node answering with errors", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/rounds/current" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"code":"round_not_found","message":"no open round"}`))
				return
			}
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		Reset(srv.Close)
		c, err := client.New(srv.URL)
		So(err, ShouldBeNil)

		Convey("Then structured errors keep their code", func() {
			_, err := c.CurrentRound(ctx)
			So(client.IsCode(err, "round_not_found"), ShouldBeTrue)
			var apiErr *client.APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Status, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then plain errors fall back to the status text", func() {
			err := c.Health(ctx)
			So(client.IsCode(err, "bad_gateway"), ShouldBeTrue)
		})
	})
}

func TestAgainstNode(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running node", t, func() {
		cfg := config.New()
		cfg.WorkerCount = 1
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(ctx), ShouldBeNil)
		deps, err := svc.Dependencies()
		So(err, ShouldBeNil)
		mux := http.NewServeMux()
		api.NewServer(deps).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		Reset(func() {
			srv.Close()
			_ = svc.Stop(ctx)
		})

		c, err := client.New(srv.URL)
		So(err, ShouldBeNil)
		So(c.Health(ctx), ShouldBeNil)
		So(eventually(func() bool { _, err := c.CurrentRound(ctx); return err == nil }), ShouldBeTrue)

		Convey("When projects and funds are set up", func() {
			_, created, err := c.AddProject(ctx, "uni", "defi")
			So(err, ShouldBeNil)
			So(created, ShouldBeTrue)
			_, created, err = c.AddProject(ctx, "uni", "defi")
			So(err, ShouldBeNil)
			So(created, ShouldBeFalse)

			ack, err := c.SendChainEvent(ctx, client.ChainEvent{EventID: "tx-1", Kind: "deposit", Owner: string(alice), Amount: 100})
			So(err, ShouldBeNil)
			So(ack.Status, ShouldEqual, "accepted")
			ack, err = c.SendChainEvent(ctx, client.ChainEvent{EventID: "tx-1", Kind: "deposit", Owner: string(alice), Amount: 100})
			So(err, ShouldBeNil)
			So(ack.Duplicate, ShouldBeTrue)

			So(eventually(func() bool {
				b, err := c.Balance(ctx, alice)
				return err == nil && b.Available == 100
			}), ShouldBeTrue)

			Convey("Then a prediction can be placed and read back", func() {
				p, err := c.Predict(ctx, alice, client.Prediction{ProjectID: "uni", PredictedRank: 1, StakeAmount: 10})
				So(err, ShouldBeNil)
				So(p.StakeRecordID, ShouldNotBeEmpty)

				preds, err := c.Predictions(ctx, p.RoundID)
				So(err, ShouldBeNil)
				So(len(preds), ShouldEqual, 1)

				_, err = c.Predict(ctx, alice, client.Prediction{ProjectID: "uni", PredictedRank: 1, StakeAmount: 10})
				So(client.IsCode(err, "duplicate_prediction"), ShouldBeTrue)

				entries, err := c.Leaderboard(ctx, "defi", 5)
				So(err, ShouldBeNil)
				So(entries, ShouldNotBeNil)

				rec, err := c.Reputation(ctx, alice)
				So(err, ShouldBeNil)
				So(rec.Address, ShouldEqual, alice)

				fee, err := c.Quote(ctx, alice, 1000)
				So(err, ShouldBeNil)
				So(fee.Amount, ShouldEqual, 1000)

				stats, err := c.Stats(ctx)
				So(err, ShouldBeNil)
				So(stats["started"], ShouldEqual, true)
			})
		})
	})
}
