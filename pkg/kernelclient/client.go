// Package kernelclient is the HTTP client for the execution backend.
//
// The backend owns a single remote kernel and exposes three endpoints:
// POST /api/execute, POST /api/restart_kernel and GET /api/kernel_status.
// Client implements notebook.Executor.
package kernelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

const (
	// dialMaxRetryTime bounds retries of requests that never reached the backend.
	dialMaxRetryTime = 5 * time.Second

	readyInitialInterval = 100 * time.Millisecond
	readyMaxInterval     = 2 * time.Second
	readyMaxElapsed      = 30 * time.Second

	errorExcerptLen = 512
)

// Kernel status values reported by /api/kernel_status.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// ErrNotRunning is returned by WaitReady when the kernel never reports running.
var ErrNotRunning = errors.New("kernel not running")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// KernelStatus is the body of /api/kernel_status.
type KernelStatus struct {
	Status   string `json:"status"`
	KernelID string `json:"kernel_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Client talks to the execution backend.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	timeout         time.Duration
	log             *slog.Logger
	newReadyBackoff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithReadyBackoff sets the polling policy used by WaitReady.
func WithReadyBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *Client) { c.newReadyBackoff = newBackoff }
}

// New creates a client for the backend at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Transport: &retryRoundTripper{
				base: http.DefaultTransport,
				newBackoff: func() backoff.BackOff {
					return backoff.NewExponentialBackOff(
						backoff.WithInitialInterval(100*time.Millisecond),
						backoff.WithMaxInterval(1*time.Second),
						backoff.WithMaxElapsedTime(dialMaxRetryTime),
					)
				},
			},
		},
		log: slog.Default().With("component", "kernelclient"),
		newReadyBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(readyInitialInterval),
				backoff.WithMaxInterval(readyMaxInterval),
				backoff.WithMaxElapsedTime(readyMaxElapsed),
			)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// executeWire is the JSON body of /api/execute responses.
type executeWire struct {
	Status  string                `json:"status" jsonschema:"required"`
	Outputs []notebook.WireOutput `json:"outputs,omitempty"`
}

// Execute sends code to the backend for the step's cell and returns the
// decoded response. Transport failures and malformed payloads are errors.
func (c *Client) Execute(ctx context.Context, req notebook.ExecuteRequest) (*notebook.ExecuteResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/execute", req)
	if err != nil {
		return nil, err
	}
	if err := validateExecuteResponse(body); err != nil {
		return nil, err
	}

	var wire struct {
		Status  string            `json:"status"`
		Outputs []json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	outputs, err := notebook.DecodeOutputs(wire.Outputs)
	if err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	c.log.Debug("Execute finished.", "cell_id", req.CellID, "status", wire.Status, "outputs", len(outputs))
	return &notebook.ExecuteResponse{Status: wire.Status, Outputs: outputs}, nil
}

// Restart restarts the backend kernel.
func (c *Client) Restart(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodPost, "/api/restart_kernel", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode restart response: %w", err)
	}
	if resp.Status != "restarted" {
		return fmt.Errorf("restart kernel: status %q: %s", resp.Status, resp.Message)
	}
	c.log.Info("Kernel restarted.")
	return nil
}

// Status reports the backend kernel status.
func (c *Client) Status(ctx context.Context) (KernelStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/kernel_status", nil)
	if err != nil {
		return KernelStatus{}, err
	}
	var st KernelStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return KernelStatus{}, fmt.Errorf("decode kernel status: %w", err)
	}
	return st, nil
}

// WaitReady polls Status until the kernel reports running.
func (c *Client) WaitReady(ctx context.Context) error {
	check := func() error {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if st.Status != StatusRunning {
			return fmt.Errorf("%w: status %q", ErrNotRunning, st.Status)
		}
		return nil
	}
	if err := backoff.Retry(check, backoff.WithContext(c.newReadyBackoff(), ctx)); err != nil {
		return fmt.Errorf("wait ready: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > errorExcerptLen {
			excerpt = excerpt[:errorExcerptLen] + "..."
		}
		return nil, &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: excerpt}
	}
	return data, nil
}

// retryRoundTripper retries requests that failed to dial the backend.
// Requests that reached the backend are never replayed, so code is not
// executed twice.
type retryRoundTripper struct {
	base       http.RoundTripper
	newBackoff func() backoff.BackOff
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	first := true
	attempt := func() (*http.Response, error) {
		r := req
		if !first && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		first = false

		resp, err := rt.base.RoundTrip(r)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" {
				slog.Debug("Retrying backend request due to dial error.", "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}
