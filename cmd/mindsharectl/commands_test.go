package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/http/api"
	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/internal/domain/model"
)

const alice = "0x00000000000000000000000000000000000A11cE"

func execute(url string, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--url", url, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a running node", t, func() {
		cfg := config.New()
		cfg.WorkerCount = 1
		svc := service.New(service.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		deps, err := svc.Dependencies()
		convey.So(err, convey.ShouldBeNil)
		mux := http.NewServeMux()
		api.NewServer(deps).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		convey.Reset(func() {
			srv.Close()
			_ = svc.Stop(ctx)
		})

		waitRound := func() bool {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if _, err := execute(srv.URL, "round"); err == nil {
					return true
				}
				time.Sleep(5 * time.Millisecond)
			}
			return false
		}
		convey.So(waitRound(), convey.ShouldBeTrue)

		convey.Convey("When a deposit is reported", func() {
			out, err := execute(srv.URL, "deposit", alice, "75", "--event-id", "tx-cli")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "accepted")

			convey.Convey("Then the balance command shows it", func() {
				var b model.Balance
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) && b.Available != 75 {
					out, err := execute(srv.URL, "balance", alice)
					convey.So(err, convey.ShouldBeNil)
					convey.So(json.Unmarshal([]byte(out), &b), convey.ShouldBeNil)
				}
				convey.So(b.Available, convey.ShouldEqual, 75)
			})

			convey.Convey("Then a repeat is reported as a duplicate", func() {
				out, err := execute(srv.URL, "deposit", alice, "75", "--event-id", "tx-cli")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"duplicate": true`)
			})
		})

		convey.Convey("When arguments are invalid", func() {
			_, err := execute(srv.URL, "deposit", alice, "-3")
			convey.So(err, convey.ShouldNotBeNil)
			_, err = execute(srv.URL, "reputation", "nope")
			convey.So(err, convey.ShouldNotBeNil)
			_, err = execute(srv.URL, "balance")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the read commands run", func() {
			out, err := execute(srv.URL, "reputation", alice)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "trust_score")

			out, err = execute(srv.URL, "leaderboard", "--limit", "5")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "[")
		})

		convey.Convey("When a small simulation runs and settles", func() {
			out, err := execute(srv.URL, "simulate",
				"--projects", "2", "--categories", "defi", "--users", "2",
				"--predictions", "4", "--max-stake", "5", "--workers", "2",
				"--settle", "--funding-timeout", "5s")

			convey.Convey("Then it prints a report with the settlement", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"result"`)
			})

			convey.Convey("Then settling again returns the stored result", func() {
				out, err := execute(srv.URL, "settle")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"total_paid"`)
			})
		})
	})
}
