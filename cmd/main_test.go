package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/pkg/logger"
)

func TestConfigFromEnvironment(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		_ = os.Setenv("MINDSHARE_ADDR", ":9090")
		_ = os.Setenv("MINDSHARE_WORKER_COUNT", "3")
		defer func() {
			_ = os.Unsetenv("MINDSHARE_ADDR")
			_ = os.Unsetenv("MINDSHARE_WORKER_COUNT")
		}()

		convey.Convey("Then the loaded configuration reflects them", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
		})
	})
}

func TestNewHTTPServer(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a service that has not started", t, func() {
		svc := service.New()

		convey.Convey("Then no server is built", func() {
			_, err := newHTTPServer(ctx, config.New(), svc, logger.OrDiscard("test"))
			convey.So(err, convey.ShouldEqual, service.ErrNotStarted)
		})
	})

	convey.Convey("Given a started service", t, func() {
		cfg := config.New()
		cfg.WorkerCount = 1
		cfg.Addr = ":0"
		svc := service.New(service.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv, err := newHTTPServer(ctx, cfg, svc, logger.OrDiscard("test"))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then the server carries the configured timeouts", func() {
			convey.So(srv.Addr, convey.ShouldEqual, ":0")
			convey.So(srv.ReadTimeout, convey.ShouldEqual, readTimeout)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})

		convey.Convey("Then the API and the docs are routed", func() {
			for _, path := range []string{"/healthz", "/leaderboard", "/api-docs", "/openapi.yaml"} {
				w := httptest.NewRecorder()
				srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a cancelled context", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"
		cfg.WorkerCount = 1
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		convey.Convey("Then run starts and shuts down cleanly", func() {
			convey.So(run(ctx, cfg, logger.OrDiscard("test")), convey.ShouldBeNil)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("Then a single sample does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(service.New()) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops return when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(ctx, service.New()) }, convey.ShouldNotPanic)
		})
	})
}
