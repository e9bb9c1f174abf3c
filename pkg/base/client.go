package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/asyncdeta/deta_sdk_go/internal/detaapi"
	"github.com/asyncdeta/deta_sdk_go/internal/fanout"
	"github.com/asyncdeta/deta_sdk_go/internal/httpx"
	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// DefaultURL is the root of the Base service.
const DefaultURL = "https://database.deta.sh/v1/"

const maxDeleteFanout = 32

// Client provides access to the Bases of one project.
type Client struct {
	backend Backend
	logger  *slog.Logger
	closed  atomic.Bool
}

type settings struct {
	logger   *slog.Logger
	httpOpts []httpx.Option
}

// Option configures a Client.
type Option func(*settings)

// WithLogger sets the logger used for partial-write warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithHTTPClient overrides the underlying *http.Client used by New.
func WithHTTPClient(h *http.Client) Option {
	return WithTransport(httpx.WithHTTPClient(h))
}

// WithTransport passes options through to the transport built by New.
func WithTransport(opts ...httpx.Option) Option {
	return func(s *settings) {
		s.httpOpts = append(s.httpOpts, opts...)
	}
}

func collect(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	s.logger = logger.OrDiscard(s.logger)
	return s
}

// Headers returns the fixed header set of Base requests.
func Headers(projectKey string) http.Header {
	return http.Header{
		"X-API-Key":    {projectKey},
		"Content-Type": {"application/json"},
	}
}

// ProjectURL returns the per-project root under rootURL.
func ProjectURL(rootURL, projectKey string) (string, error) {
	projectID, _, _ := strings.Cut(strings.TrimSpace(projectKey), "_")
	if projectID == "" {
		return "", fmt.Errorf("base: project key is required")
	}
	return strings.TrimRight(rootURL, "/") + "/" + url.PathEscape(projectID) + "/", nil
}

// New constructs an HTTP-backed client for the project owning projectKey.
func New(rootURL, projectKey string, opts ...Option) (*Client, error) {
	endpoint, err := ProjectURL(rootURL, projectKey)
	if err != nil {
		return nil, err
	}
	s := collect(opts)
	httpOpts := append([]httpx.Option{
		httpx.WithHeaders(Headers(projectKey)),
		httpx.WithLogger(s.logger),
	}, s.httpOpts...)
	cl, err := httpx.NewClient(endpoint, httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("base: init transport: %w", err)
	}
	return &Client{backend: &httpBackend{client: cl}, logger: s.logger}, nil
}

// NewWithHTTPClient wraps an httpx.Client already pointed at the project root
// and carrying the Base headers.
func NewWithHTTPClient(httpClient *httpx.Client, opts ...Option) *Client {
	return NewWithBackend(&httpBackend{client: httpClient}, opts...)
}

// NewWithBackend allows callers to supply a custom backend (e.g., mocks).
func NewWithBackend(b Backend, opts ...Option) *Client {
	s := collect(opts)
	return &Client{backend: b, logger: s.logger}
}

// Close releases the transport. Later calls fail with detaerr.ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Base is a handle on one named Base.
type Base struct {
	name   string
	client *Client
}

// Base returns a handle on the named Base. No request is made.
func (c *Client) Base(name string) *Base {
	return &Base{name: name, client: c}
}

// Name returns the Base name.
func (b *Base) Name() string {
	return b.name
}

func (b *Base) check(op string) error {
	if b == nil || b.client == nil || b.client.backend == nil {
		return fmt.Errorf("base: client is nil")
	}
	if b.client.closed.Load() {
		return detaerr.New(op, b.name, detaerr.ErrClientClosed)
	}
	if strings.TrimSpace(b.name) == "" {
		return detaerr.InvalidArgument(op, "", "base name is required")
	}
	return nil
}

func (b *Base) checkKey(op, key string) error {
	if err := b.check(op); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return detaerr.InvalidArgument(op, b.name, "key is required")
	}
	return nil
}

// Get returns the record stored under key, or nil when it does not exist.
func (b *Base) Get(ctx context.Context, key string) (Record, error) {
	if err := b.checkKey("get", key); err != nil {
		return nil, err
	}
	return b.client.backend.Get(ctx, b.name, key)
}

// Put stores up to MaxPutItems records, overwriting existing keys. Items the
// service could not process are logged and reported in PutResult.Failed
// rather than returned as an error.
func (b *Base) Put(ctx context.Context, items ...Record) (*PutResult, error) {
	if err := b.check("put"); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, detaerr.InvalidArgument("put", b.name, "at least one item is required")
	}
	if len(items) > MaxPutItems {
		return nil, detaerr.InvalidArgument("put", b.name, "at most %d items per call, got %d", MaxPutItems, len(items))
	}
	res, err := b.client.backend.Put(ctx, b.name, items)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		b.client.logger.Warn("some items failed because of internal processing error",
			"base", b.name,
			"failed", len(res.Failed),
			"processed", len(res.Processed),
		)
	}
	return res, nil
}

// Insert stores item only if its key is not taken. A duplicate key yields
// detaerr.ErrKeyConflict.
func (b *Base) Insert(ctx context.Context, item Record) (Record, error) {
	if err := b.check("insert"); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, detaerr.InvalidArgument("insert", b.name, "item is required")
	}
	return b.client.backend.Insert(ctx, b.name, item)
}

// Update applies updates to the record under key. A missing key yields
// detaerr.ErrNotFound.
func (b *Base) Update(ctx context.Context, key string, updates *Updates) error {
	if err := b.checkKey("update", key); err != nil {
		return err
	}
	if updates == nil {
		updates = &Updates{}
	}
	return b.client.backend.Update(ctx, b.name, key, updates)
}

// Delete removes the record under key and returns the key. Deleting a missing
// key is not an error.
func (b *Base) Delete(ctx context.Context, key string) (string, error) {
	if err := b.checkKey("delete", key); err != nil {
		return "", err
	}
	if err := b.client.backend.Delete(ctx, b.name, key); err != nil {
		return "", err
	}
	return key, nil
}

// DeleteMany deletes every key concurrently and returns the keys in input
// order once all calls have finished. The first failure in key order is
// returned alongside.
func (b *Base) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	if err := b.check("delete_many"); err != nil {
		return nil, err
	}
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			return nil, detaerr.InvalidArgument("delete_many", b.name, "keys must not be empty")
		}
	}
	errs, err := fanout.Run(ctx, len(keys), fanout.Options{Limit: maxDeleteFanout}, func(ctx context.Context, i int) error {
		return b.client.backend.Delete(ctx, b.name, keys[i])
	})
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), keys...)
	return out, fanout.First(errs)
}

type httpBackend struct {
	client *httpx.Client
}

func (b *httpBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func itemsPath(base string) string {
	return url.PathEscape(base) + "/items"
}

func itemPath(base, key string) string {
	return itemsPath(base) + "/" + url.PathEscape(key)
}

func (b *httpBackend) do(ctx context.Context, op, method, path string, payload any) (*http.Response, []byte, error) {
	if b == nil || b.client == nil {
		return nil, nil, fmt.Errorf("base: http backend not configured")
	}
	req := &httpx.Request{Op: op, Method: method, Path: path}
	if payload != nil {
		body, err := detaapi.Encode(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("base: encode %s payload: %w", op, err)
		}
		req.Body = bytes.NewReader(body)
		req.GetBody = httpx.BytesBody(body)
	}
	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("base: read %s response: %w", op, err)
	}
	return resp, data, nil
}

func (b *httpBackend) Get(ctx context.Context, base, key string) (Record, error) {
	resp, data, err := b.do(ctx, "get", http.MethodGet, itemPath(base, key), nil)
	if err != nil {
		e := detaapi.Classify("get", base, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).WithKey(key)
		if detaerr.IsNotFound(e) {
			return nil, nil
		}
		return nil, e
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("get", base, resp.StatusCode, data).WithKey(key)
	}
	var rec Record
	if err := detaapi.Decode(data, &rec); err != nil {
		return nil, detaerr.New("get", base, fmt.Errorf("decode item: %w", err)).WithKey(key)
	}
	return rec, nil
}

func (b *httpBackend) Put(ctx context.Context, base string, items []Record) (*PutResult, error) {
	resp, data, err := b.do(ctx, "put", http.MethodPut, itemsPath(base), map[string]any{"items": items})
	if err != nil {
		return nil, detaapi.Classify("put", base, err, detaapi.BadRequestOnly, detaerr.ErrUnexpectedStatus)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, detaapi.Unexpected("put", base, resp.StatusCode, data)
	}
	var wire struct {
		Processed struct {
			Items []Record `json:"items"`
		} `json:"processed"`
		Failed struct {
			Items []Record `json:"items"`
		} `json:"failed"`
	}
	if err := detaapi.Decode(data, &wire); err != nil {
		return nil, detaerr.New("put", base, fmt.Errorf("decode put response: %w", err))
	}
	return &PutResult{Processed: wire.Processed.Items, Failed: wire.Failed.Items}, nil
}

func (b *httpBackend) Insert(ctx context.Context, base string, item Record) (Record, error) {
	resp, data, err := b.do(ctx, "insert", http.MethodPost, itemsPath(base), map[string]any{"item": item})
	if err != nil {
		e := detaapi.Classify("insert", base, err, detaapi.StatusMap{
			http.StatusBadRequest: detaerr.ErrBadRequest,
			http.StatusConflict:   detaerr.ErrKeyConflict,
		}, detaerr.ErrUnexpectedStatus).WithKey(item.Key())
		if len(e.Messages) == 0 {
			switch {
			case detaerr.IsKeyConflict(e):
				e.WithMessage("key already exists in Deta base")
			case detaerr.IsBadRequest(e):
				e.WithMessage("invalid insert payload")
			}
		}
		return nil, e
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, detaapi.Unexpected("insert", base, resp.StatusCode, data).WithKey(item.Key())
	}
	var rec Record
	if err := detaapi.Decode(data, &rec); err != nil {
		return nil, detaerr.New("insert", base, fmt.Errorf("decode item: %w", err))
	}
	return rec, nil
}

func (b *httpBackend) Update(ctx context.Context, base, key string, updates *Updates) error {
	resp, data, err := b.do(ctx, "update", http.MethodPatch, itemPath(base, key), updates)
	if err != nil {
		e := detaapi.Classify("update", base, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).WithKey(key)
		if len(e.Messages) == 0 {
			switch {
			case detaerr.IsNotFound(e):
				e.WithMessage("key does not exist in Deta Base")
			case detaerr.IsBadRequest(e):
				e.WithMessage("invalid update payload")
			}
		}
		return e
	}
	if resp.StatusCode != http.StatusOK {
		return detaapi.Unexpected("update", base, resp.StatusCode, data).WithKey(key)
	}
	return nil
}

func (b *httpBackend) Delete(ctx context.Context, base, key string) error {
	resp, data, err := b.do(ctx, "delete", http.MethodDelete, itemPath(base, key), nil)
	if err != nil {
		return detaapi.Classify("delete", base, err, detaapi.BadRequestOnly, detaerr.ErrUnexpectedStatus).WithKey(key)
	}
	if resp.StatusCode != http.StatusOK {
		return detaapi.Unexpected("delete", base, resp.StatusCode, data).WithKey(key)
	}
	return nil
}

func (b *httpBackend) Query(ctx context.Context, base string, req *PageRequest) (*Page, error) {
	resp, data, err := b.do(ctx, "query", http.MethodPost, url.PathEscape(base)+"/query", req)
	if err != nil {
		return nil, detaapi.Classify("query", base, err, detaapi.BadRequestOnly, detaerr.ErrUnexpectedStatus)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("query", base, resp.StatusCode, data)
	}
	var wire struct {
		Paging detaapi.Paging `json:"paging"`
		Items  []Record       `json:"items"`
	}
	if err := detaapi.Decode(data, &wire); err != nil {
		return nil, detaerr.New("query", base, fmt.Errorf("decode page: %w", err))
	}
	return &Page{Items: wire.Items, Cursor: wire.Paging.Last}, nil
}
