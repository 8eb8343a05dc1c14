package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

// Compile-time interface checks.
var (
	_ circuit.Compiler  = (*Client)(nil)
	_ circuit.Reviewer  = (*Client)(nil)
	_ circuit.Previewer = (*Client)(nil)
)

// errProtocol marks responses that retrying cannot fix.
var errProtocol = errors.New("protocol error")

// Client reaches collaborators served by another process over JSON-RPC.
// Transport failures are retried with exponential backoff; once retries
// are spent the call reports circuit.ErrUnavailable.
type Client struct {
	endpoint  string
	http      *http.Client
	requestID atomic.Int64
	logger    *slog.Logger

	maxTries   uint
	initial    time.Duration
	maxElapsed time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the number of tries per call and the first backoff
// interval.
func WithRetry(maxTries uint, initial time.Duration) ClientOption {
	return func(c *Client) {
		c.maxTries = maxTries
		c.initial = initial
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a collaborator client for the JSON-RPC endpoint, for
// example "http://host:8080/rpc".
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxTries:   4,
		initial:    200 * time.Millisecond,
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.maxTries == 0 {
		c.maxTries = 1
	}
	return c
}

// Compile invokes circuit/compile.
func (c *Client) Compile(ctx context.Context, req circuit.Request) (*circuit.Circuit, error) {
	var out circuit.Circuit
	if err := c.call(ctx, MethodCompile, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Review invokes circuit/review.
func (c *Client) Review(ctx context.Context, ckt *circuit.Circuit) (*circuit.Review, error) {
	var out circuit.Review
	if err := c.call(ctx, MethodReview, ckt, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview invokes circuit/preview.
func (c *Client) Preview(ctx context.Context, ckt *circuit.Circuit) (*circuit.Preview, error) {
	var out circuit.Preview
	if err := c.call(ctx, MethodPreview, ckt, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// nextID returns a monotonically increasing request ID for JSON-RPC calls.
func (c *Client) nextID() int64 {
	return c.requestID.Add(1)
}

// call performs a JSON-RPC 2.0 call over HTTP POST with retries.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("remote: marshal params: %w", err)
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      c.nextID(),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return fmt.Errorf("remote: marshal request: %w", err)
	}

	op := func() (json.RawMessage, error) {
		return c.post(ctx, method, body)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("collaborator call failed, retrying",
				"method", method, "error", err, "next", next)
		}),
	)
	if err != nil {
		return c.classify(ctx, method, err)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("remote: %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// post sends one request. Errors wrapped in backoff.Permanent stop the
// retry loop.
func (c *Client) post(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: create request: %w", errProtocol, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d: %s", errProtocol, resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: unmarshal response: %w", errProtocol, err))
	}
	if rpcResp.Error != nil {
		return nil, backoff.Permanent(&RPCError{
			Method:  method,
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		})
	}
	return rpcResp.Result, nil
}

// classify maps a failed call onto the collaborator error contract.
func (c *Client) classify(ctx context.Context, method string, err error) error {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		switch rpcErr.Code {
		case ErrCodeCompile:
			var data compileErrorData
			if len(rpcErr.Data) > 0 {
				_ = json.Unmarshal(rpcErr.Data, &data)
			}
			return &circuit.CompileError{Message: rpcErr.Message, Line: data.Line}
		case ErrCodeUnavailable, ErrCodeMethodNotFound:
			return circuit.Unavailable("remote "+method, rpcErr)
		}
		return rpcErr
	case ctx.Err() != nil:
		return fmt.Errorf("remote: %s: %w", method, ctx.Err())
	case errors.Is(err, errProtocol):
		return fmt.Errorf("remote: %s: %w", method, err)
	}
	c.logger.Warn("collaborator unreachable", "method", method, "endpoint", c.endpoint, "error", err)
	return circuit.Unavailable("remote "+method, err)
}

// ---------------------------------------------------------------------------
// Runs API
// ---------------------------------------------------------------------------

// Observer talks to a Server's runs API.
type Observer struct {
	base string
	http *http.Client
}

// NewObserver creates an Observer for the server at baseURL. A nil hc uses
// a client without timeout, since event streams are long-lived.
func NewObserver(baseURL string, hc *http.Client) *Observer {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Observer{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Start starts a run on the server.
func (o *Observer) Start(ctx context.Context, req StartRunRequest) (*StartRunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out StartRunResponse
	if err := o.do(httpReq, http.StatusAccepted, &out); err != nil {
		return nil, fmt.Errorf("remote: start run: %w", err)
	}
	return &out, nil
}

// Get fetches the current view of a run.
func (o *Observer) Get(ctx context.Context, id string) (*RunInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/v1/runs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	var out RunInfo
	if err := o.do(httpReq, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("remote: get run: %w", err)
	}
	return &out, nil
}

// Cancel asks the server to stop a run.
func (o *Observer) Cancel(ctx context.Context, id string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, o.base+"/v1/runs/"+id, nil)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	if err := o.do(httpReq, http.StatusAccepted, nil); err != nil {
		return fmt.Errorf("remote: cancel run: %w", err)
	}
	return nil
}

// Watch opens the run's event stream. Events with Seq <= after are
// skipped by the server. The channel closes after the terminal event.
func (o *Observer) Watch(ctx context.Context, id string, after int) (<-chan StreamEvent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/v1/runs/"+id+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		httpReq.Header.Set("Last-Event-ID", fmt.Sprint(after))
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: watch run: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote: watch run: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return ReadEvents(ctx, resp.Body), nil
}

func (o *Observer) do(req *http.Request, want int, out any) error {
	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
