package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	logx "pland/pkg/logx"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a stateless wrapper around the solving service. It never
// retries: the solver is deterministic, a second identical call would
// reproduce the same outcome.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		http:    hc,
		log:     log,
	}
}

// Solve posts the model and decodes the reply. An INFEASIBLE or UNKNOWN
// status is a valid response, not an error; errors are reserved for
// transport failures, timeouts and request rejection.
func (c *Client) Solve(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal solve request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/solve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build solve request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Timeout: c.timeout, Err: err}
		}
		return nil, fmt.Errorf("solver request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Timeout: c.timeout, Err: err}
		}
		return nil, fmt.Errorf("read solver response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rejected(resp.StatusCode, respBody)
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}

	c.log.Debug("solve completed",
		logx.String("status", string(out.Status)),
		logx.Int("variables", len(req.Variables)),
		logx.Int("intervals", len(req.Intervals)),
		logx.Int("constraints", len(req.Constraints)),
		logx.Duration("round_trip", time.Since(started)),
		logx.Float64("wall_time_s", out.WallTime))
	return &out, nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Timeout: c.timeout, Err: err}
		}
		return nil, fmt.Errorf("solver health request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, rejected(resp.StatusCode, body)
	}

	var out Health
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// rejected extracts the service's error envelope. The service wraps
// validation failures as {"detail": {"error": ..., "details": ...}}.
func rejected(status int, body []byte) *RejectedError {
	out := &RejectedError{StatusCode: status}

	var wire struct {
		Detail struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Detail.Error != "" {
		out.Message = wire.Detail.Error
		if wire.Detail.Details != "" {
			out.Message += ": " + wire.Detail.Details
		}
		return out
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	out.Message = msg
	return out
}
