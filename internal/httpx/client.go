package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrClosed is returned by Do once Close has been called.
var ErrClosed = errors.New("httpx: client closed")

// DefaultTimeout bounds a single attempt when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// RetryPolicy controls the retry behaviour for transient failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
	RetryIf    func(resp *http.Response, err error) bool
}

// DefaultRetryPolicy performs no retries. Callers opt in through WithRetryPolicy.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 0,
	BaseDelay:  250 * time.Millisecond,
	MaxDelay:   2 * time.Second,
	Jitter:     0.25,
}

// Observer receives one callback per completed attempt.
type Observer interface {
	ObserveRequest(method, op string, status int, elapsed time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithRetryPolicy overrides the default retry configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithTimeout bounds every attempt with its own deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles outgoing attempts to r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithObserver registers a per-attempt observer (metrics).
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client wraps http.Client providing retry and base URL utilities.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	headers     http.Header
	retryPolicy RetryPolicy
	timeout     time.Duration
	limiter     *rate.Limiter
	observer    Observer
	logger      *slog.Logger
	closed      atomic.Bool
}

// Request describes a single outbound request. Path is relative to the base
// URL and must already be escaped.
type Request struct {
	Op           string
	Method       string
	Path         string
	Query        url.Values
	Header       http.Header
	DisableRetry bool
	Body         io.Reader
	GetBody      func() (io.ReadCloser, error)
	// Stream hands back the live body; the timeout then bounds only the wait
	// for response headers and the caller closes the body.
	Stream bool
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpx: invalid base URL %q", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
		if parsed.RawPath != "" {
			parsed.RawPath += "/"
		}
	}

	c := &Client{
		baseURL:     parsed,
		httpClient:  &http.Client{},
		headers:     make(http.Header),
		retryPolicy: DefaultRetryPolicy,
		timeout:     DefaultTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryPolicy.MaxRetries < 0 {
		c.retryPolicy.MaxRetries = 0
	}
	if c.retryPolicy.BaseDelay <= 0 {
		c.retryPolicy.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if c.retryPolicy.MaxDelay <= 0 {
		c.retryPolicy.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return c, nil
}

// BaseURL returns the resolved base URL, always ending in a slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Close releases idle connections. Any later Do call fails with ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// Do executes the provided request and returns the response, or an HTTPError
// for statuses >= 400.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	if req.DisableRetry {
		req.GetBody = nil
	} else if req.GetBody == nil && req.Body != nil {
		// Buffer the body so retries can replay it.
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: read request body: %w", err)
		}
		req.Body = bytes.NewReader(data)
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	fullURL, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	attempt := 0
	backoff := NewBackoff(c.retryPolicy.BaseDelay, c.retryPolicy.MaxDelay, c.retryPolicy.Jitter)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.prepareBody(req, attempt == 0)
		if err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req, fullURL, body)
		if err != nil {
			if !c.shouldRetry(req, attempt, nil, err) {
				return nil, err
			}
			if err := c.wait(ctx, req, &backoff, &attempt, err); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			err = c.handleError(resp)
			if !c.shouldRetry(req, attempt, resp, err) {
				return nil, err
			}
			if err := c.wait(ctx, req, &backoff, &attempt, err); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

func (c *Client) attempt(ctx context.Context, req *Request, fullURL string, body io.ReadCloser) (*http.Response, error) {
	// A streamed body may be read long after the headers arrive, so the
	// timeout only covers the wait for the response headers.
	var (
		attemptCtx  context.Context
		cancel      context.CancelFunc
		headerTimer *time.Timer
	)
	if req.Stream {
		attemptCtx, cancel = context.WithCancel(ctx)
		headerTimer = time.AfterFunc(c.timeout, cancel)
	} else {
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, fullURL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header = cloneHeader(c.headers)
	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if headerTimer != nil && !headerTimer.Stop() {
		if err == nil {
			closeBody(resp.Body)
		}
		resp, err = nil, fmt.Errorf("awaiting response headers: %w", context.DeadlineExceeded)
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveRequest(req.Method, opLabel(req), status, time.Since(start))
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("httpx: %s %s: %w", req.Method, opLabel(req), err)
	}

	if req.Stream && resp.StatusCode < 400 {
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	// Buffer the body so the attempt deadline can be released right away.
	data, err := io.ReadAll(resp.Body)
	closeBody(resp.Body)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("httpx: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func (c *Client) wait(ctx context.Context, req *Request, backoff *Backoff, attempt *int, cause error) error {
	delay := backoff.ForAttempt(*attempt)
	*attempt++
	c.logger.Debug("retrying request",
		"op", opLabel(req),
		"method", req.Method,
		"attempt", *attempt,
		"delay", delay,
		"error", cause,
	)
	return c.sleep(ctx, delay)
}

func (c *Client) prepareBody(req *Request, first bool) (io.ReadCloser, error) {
	if first && req.Body != nil {
		body := req.Body
		req.Body = nil
		if rc, ok := body.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(body), nil
	}
	if req.GetBody != nil {
		return req.GetBody()
	}
	return http.NoBody, nil
}

func (c *Client) shouldRetry(req *Request, attempt int, resp *http.Response, err error) bool {
	if req.DisableRetry {
		return false
	}
	if attempt >= c.retryPolicy.MaxRetries {
		return false
	}
	if c.retryPolicy.RetryIf != nil {
		return c.retryPolicy.RetryIf(resp, err)
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return false
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	full := c.baseURL.JoinPath(strings.TrimPrefix(path, "/"))
	if len(q) > 0 {
		full.RawQuery = q.Encode()
	}
	return full.String(), nil
}

func (c *Client) handleError(resp *http.Response) error {
	defer closeBody(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpx: read error body: %w", err)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: body}
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func opLabel(req *Request) string {
	if req.Op != "" {
		return req.Op
	}
	return "unknown"
}

// BytesBody returns a GetBody func replaying data.
func BytesBody(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}
