// Package client is a typed HTTP client for the mindshare API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/mindshare/internal/domain/leaderboard"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
	"github.com/okian/mindshare/internal/domain/tier"
)

const (
	defaultTimeout = 10 * time.Second
	userHeader     = "X-User-Address"
	maxErrorBody   = 4096
)

// Client talks to a running mindshare node.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for the node at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURL, baseURL)
	}
	c := &Client{base: u.String(), http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ack is the answer to a chain event submission.
type Ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// ChainEvent is the wire form of a chain notification.
type ChainEvent struct {
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	TS       string `json:"ts"`
}

// Prediction is the body of a prediction submission.
type Prediction struct {
	RoundID       string `json:"round_id,omitempty"`
	ProjectID     string `json:"project_id"`
	PredictedRank int    `json:"predicted_rank"`
	StakeAmount   int64  `json:"stake_amount"`
}

// Health reports whether the node answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Stats returns the node's runtime statistics.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &out)
	return out, err
}

// Leaderboard returns up to limit entries, optionally for one category.
func (c *Client) Leaderboard(ctx context.Context, category string, limit int) ([]leaderboard.Entry, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []leaderboard.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard?"+q.Encode(), nil, nil, &out)
	return out, err
}

// AddProject registers a project. created is false when it already existed.
func (c *Client) AddProject(ctx context.Context, id, category string) (p model.Project, created bool, err error) {
	body := map[string]string{"id": id, "category": category}
	status, err := c.send(ctx, http.MethodPost, "/projects", nil, body, &p)
	return p, status == http.StatusCreated, err
}

// AddReview submits a review for a project.
func (c *Client) AddReview(ctx context.Context, projectID string, reviewer model.Address, rating int, stake int64) (model.Project, error) {
	body := map[string]any{"project_id": projectID, "reviewer": reviewer, "rating": rating, "stake": stake}
	var p model.Project
	err := c.do(ctx, http.MethodPost, "/reviews", nil, body, &p)
	return p, err
}

// Reputation returns the user's reputation record.
func (c *Client) Reputation(ctx context.Context, user model.Address) (reputation.Record, error) {
	var out reputation.Record
	err := c.do(ctx, http.MethodGet, "/reputation/"+string(user), nil, nil, &out)
	return out, err
}

// Quote returns the fee owed on amount by user.
func (c *Client) Quote(ctx context.Context, user model.Address, amount int64) (tier.Fee, error) {
	q := url.Values{"address": {string(user)}, "amount": {strconv.FormatInt(amount, 10)}}
	var out tier.Fee
	err := c.do(ctx, http.MethodGet, "/fees/quote?"+q.Encode(), nil, nil, &out)
	return out, err
}

// Predict submits a prediction on behalf of user.
func (c *Client) Predict(ctx context.Context, user model.Address, p Prediction) (model.Prediction, error) {
	var out model.Prediction
	err := c.do(ctx, http.MethodPost, "/predictions", http.Header{userHeader: {string(user)}}, p, &out)
	return out, err
}

// CurrentRound returns the open round.
func (c *Client) CurrentRound(ctx context.Context) (model.Round, error) {
	var out model.Round
	err := c.do(ctx, http.MethodGet, "/rounds/current", nil, nil, &out)
	return out, err
}

// Predictions lists a round's predictions.
func (c *Client) Predictions(ctx context.Context, roundID string) ([]model.Prediction, error) {
	var out []model.Prediction
	err := c.do(ctx, http.MethodGet, "/rounds/"+url.PathEscape(roundID)+"/predictions", nil, nil, &out)
	return out, err
}

// Settle settles a round now.
func (c *Client) Settle(ctx context.Context, roundID string) (model.SettlementResult, error) {
	var out model.SettlementResult
	err := c.do(ctx, http.MethodPost, "/rounds/"+url.PathEscape(roundID)+"/settle", nil, nil, &out)
	return out, err
}

// Result returns a settled round's outcome.
func (c *Client) Result(ctx context.Context, roundID string) (model.SettlementResult, error) {
	var out model.SettlementResult
	err := c.do(ctx, http.MethodGet, "/rounds/"+url.PathEscape(roundID)+"/result", nil, nil, &out)
	return out, err
}

// Balance returns an account's available, pending and locked funds.
func (c *Client) Balance(ctx context.Context, owner model.Address) (model.Balance, error) {
	var out model.Balance
	err := c.do(ctx, http.MethodGet, "/balances/"+string(owner), nil, nil, &out)
	return out, err
}

// SendChainEvent forwards a chain notification.
func (c *Client) SendChainEvent(ctx context.Context, ev ChainEvent) (Ack, error) {
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format(time.RFC3339)
	}
	var out Ack
	err := c.do(ctx, http.MethodPost, "/chain/events", nil, ev, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	_, err := c.send(ctx, method, path, header, in, out)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, header http.Header, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("client.encode: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("client.request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client.%s %s: %w", strings.ToLower(method), path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("client.decode: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
