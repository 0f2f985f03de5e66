// Package verification fetches external verification signals over HTTP
// behind a circuit breaker.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultOpenTime = 30 * time.Second
	defaultTrips    = 5
	maxBody         = 1 << 16
)

type signalResponse struct {
	Address string   `json:"address"`
	Signal  *float64 `json:"signal"`
}

// Client is a reputation.SignalSource reading GET {base}/signals/{address}.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger

	trips    uint32
	openTime time.Duration
}

var _ reputation.SignalSource = (*Client)(nil)

// New builds a client for the service at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger.OrDiscard("verification"),
		trips:    defaultTrips,
		openTime: defaultOpenTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "verification",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.openTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.trips
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoSignal)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateVerificationBreakerState(int(to))
			c.logger.Warn(context.Background(), "verification breaker state changed",
				logger.String("from", from.String()), logger.String("to", to.String()))
		},
	})
	return c
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Signal returns the user's signal in [0,100]. An open breaker fails fast
// with ErrUnavailable.
func (c *Client) Signal(ctx context.Context, user model.Address) (float64, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, user)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("verification.signal: %w", ErrUnavailable)
	}
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (c *Client) fetch(ctx context.Context, user model.Address) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/signals/"+user.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("verification.request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("verification.do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("verification.signal %s: %w", user, ErrNoSignal)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return 0, fmt.Errorf("verification.signal: status %d: %w", resp.StatusCode, ErrBadResponse)
	}

	var body signalResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return 0, fmt.Errorf("verification.decode: %w", err)
	}
	if body.Signal == nil {
		return 0, fmt.Errorf("verification.signal %s: %w", user, ErrNoSignal)
	}
	if *body.Signal < 0 || *body.Signal > 100 {
		return 0, fmt.Errorf("verification.signal %v: %w", *body.Signal, ErrBadResponse)
	}
	return *body.Signal, nil
}
