package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/asyncdeta/deta_sdk_go/internal/detaapi"
	"github.com/asyncdeta/deta_sdk_go/internal/httpx"
	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	"github.com/asyncdeta/deta_sdk_go/internal/metrics"
	"github.com/asyncdeta/deta_sdk_go/internal/pager"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// DefaultURL is the root of the Drive service.
const DefaultURL = "https://drive.deta.sh/v1/"

// DefaultPartConcurrency bounds the parts of one upload in flight at once.
const DefaultPartConcurrency = 8

// Client provides access to the Drives of one project.
type Client struct {
	backend         Backend
	logger          *slog.Logger
	metrics         *metrics.Metrics
	partConcurrency int
	closed          atomic.Bool
}

type settings struct {
	logger          *slog.Logger
	metrics         *metrics.Metrics
	partConcurrency int
	httpOpts        []httpx.Option
}

// Option configures a Client.
type Option func(*settings)

// WithLogger sets the logger for upload session diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithMetrics records upload outcomes and part counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithPartConcurrency bounds concurrently uploading parts. Values < 1 keep
// the default.
func WithPartConcurrency(n int) Option {
	return func(s *settings) {
		s.partConcurrency = n
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
	if s.partConcurrency < 1 {
		s.partConcurrency = DefaultPartConcurrency
	}
	return s
}

// Headers returns the default header set of Drive requests.
func Headers(projectKey string) http.Header {
	return http.Header{
		"X-API-Key":    {projectKey},
		"Content-Type": {"application/octet-stream"},
	}
}

var jsonHeader = http.Header{"Content-Type": {"application/json"}}

// ProjectURL returns the per-project root under rootURL.
func ProjectURL(rootURL, projectKey string) (string, error) {
	projectID, _, _ := strings.Cut(strings.TrimSpace(projectKey), "_")
	if projectID == "" {
		return "", fmt.Errorf("drive: project key is required")
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
		return nil, fmt.Errorf("drive: init transport: %w", err)
	}
	return newClient(&httpBackend{client: cl}, s), nil
}

// NewWithHTTPClient wraps an httpx.Client already pointed at the project root
// and carrying the Drive headers.
func NewWithHTTPClient(httpClient *httpx.Client, opts ...Option) *Client {
	return NewWithBackend(&httpBackend{client: httpClient}, opts...)
}

// NewWithBackend allows callers to supply a custom backend (e.g., mocks).
func NewWithBackend(b Backend, opts ...Option) *Client {
	return newClient(b, collect(opts))
}

func newClient(b Backend, s settings) *Client {
	return &Client{
		backend:         b,
		logger:          s.logger,
		metrics:         s.metrics,
		partConcurrency: s.partConcurrency,
	}
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

// Drive is a handle on one named Drive.
type Drive struct {
	name   string
	client *Client
}

// Drive returns a handle on the named Drive. No request is made.
func (c *Client) Drive(name string) *Drive {
	return &Drive{name: name, client: c}
}

// Name returns the Drive name.
func (d *Drive) Name() string {
	return d.name
}

func (d *Drive) check(op string) error {
	if d == nil || d.client == nil || d.client.backend == nil {
		return fmt.Errorf("drive: client is nil")
	}
	if d.client.closed.Load() {
		return detaerr.New(op, d.name, detaerr.ErrClientClosed)
	}
	if strings.TrimSpace(d.name) == "" {
		return detaerr.InvalidArgument(op, "", "drive name is required")
	}
	return nil
}

func (d *Drive) checkPath(op, name string) error {
	if err := d.check(op); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return detaerr.InvalidArgument(op, d.name, "file name is required")
	}
	return nil
}

// Pull opens the stored file for reading. The caller must close the stream.
func (d *Drive) Pull(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := d.checkPath("pull", name); err != nil {
		return nil, err
	}
	return d.client.backend.GetFile(ctx, d.name, name)
}

// List returns one page of file names.
func (d *Drive) List(ctx context.Context, opts ListOptions) (*FileList, error) {
	if err := d.check("list"); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Limit > MaxListLimit {
		return nil, detaerr.InvalidArgument("list", d.name, "limit must be in (0, %d], got %d", MaxListLimit, opts.Limit)
	}
	list, err := d.client.backend.ListFiles(ctx, d.name, opts)
	if err != nil {
		return nil, err
	}
	if list.Names == nil {
		list.Names = []string{}
	}
	return list, nil
}

// ListAll returns every file name under prefix, following cursors.
func (d *Drive) ListAll(ctx context.Context, prefix string) ([]string, error) {
	if err := d.check("list"); err != nil {
		return nil, err
	}
	names, err := pager.Collect(ctx, "", func(ctx context.Context, cursor string) ([]string, string, error) {
		list, err := d.client.backend.ListFiles(ctx, d.name, ListOptions{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return list.Names, list.Cursor, nil
	})
	if err != nil {
		if _, ok := err.(*detaerr.Error); ok {
			return nil, err
		}
		return nil, detaerr.New("list", d.name, err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// DeleteMany removes up to MaxDeleteNames files in one request.
func (d *Drive) DeleteMany(ctx context.Context, names []string) (*DeleteResult, error) {
	if err := d.check("delete_many"); err != nil {
		return nil, err
	}
	if len(names) == 0 || len(names) > MaxDeleteNames {
		return nil, detaerr.InvalidArgument("delete_many", d.name, "between 1 and %d names per call, got %d", MaxDeleteNames, len(names))
	}
	return d.client.backend.DeleteFiles(ctx, d.name, names)
}

// Delete removes a single file.
func (d *Drive) Delete(ctx context.Context, name string) (string, error) {
	if err := d.checkPath("delete", name); err != nil {
		return "", err
	}
	res, err := d.client.backend.DeleteFiles(ctx, d.name, []string{name})
	if err != nil {
		return "", err
	}
	if reason, ok := res.Failed[name]; ok {
		return "", detaerr.New("delete", d.name, detaerr.ErrUnexpectedStatus).WithKey(name).WithMessage(reason)
	}
	return name, nil
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

func nameQuery(name string) url.Values {
	return url.Values{"name": {name}}
}

func uploadPath(drive, uploadID string) string {
	return url.PathEscape(drive) + "/uploads/" + url.PathEscape(uploadID)
}

func (b *httpBackend) do(ctx context.Context, req *httpx.Request) (*http.Response, []byte, error) {
	if b == nil || b.client == nil {
		return nil, nil, fmt.Errorf("drive: http backend not configured")
	}
	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("drive: read %s response: %w", req.Op, err)
	}
	return resp, data, nil
}

func withBody(req *httpx.Request, data []byte) *httpx.Request {
	req.Body = bytes.NewReader(data)
	req.GetBody = httpx.BytesBody(data)
	return req
}

func decodeInfo(op, drive, name string, data []byte) (*FileInfo, error) {
	var info FileInfo
	if err := detaapi.Decode(data, &info); err != nil {
		return nil, detaerr.New(op, drive, fmt.Errorf("decode file info: %w", err)).WithKey(name)
	}
	if info.Name == "" {
		info.Name = name
	}
	return &info, nil
}

func (b *httpBackend) PutFile(ctx context.Context, drive, name string, data []byte) (*FileInfo, error) {
	resp, body, err := b.do(ctx, withBody(&httpx.Request{
		Op:     "upload",
		Method: http.MethodPost,
		Path:   url.PathEscape(drive) + "/files",
		Query:  nameQuery(name),
	}, data))
	if err != nil {
		return nil, detaapi.Classify("push", drive, err, detaapi.BadRequestOnly, detaerr.ErrUploadFailed).WithKey(name)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, detaerr.New("push", drive, detaerr.ErrUploadFailed).
			WithStatus(resp.StatusCode, detaapi.ErrorMessages(body)).WithKey(name)
	}
	return decodeInfo("push", drive, name, body)
}

func (b *httpBackend) StartUpload(ctx context.Context, drive, name string) (string, error) {
	resp, body, err := b.do(ctx, &httpx.Request{
		Op:     "upload_init",
		Method: http.MethodPost,
		Path:   url.PathEscape(drive) + "/uploads",
		Query:  nameQuery(name),
	})
	if err != nil {
		return "", detaapi.Classify("push", drive, err, nil, detaerr.ErrUnexpectedStatus).WithKey(name)
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", detaapi.Unexpected("push", drive, resp.StatusCode, body).WithKey(name)
	}
	var wire struct {
		UploadID string `json:"upload_id"`
	}
	if err := detaapi.Decode(body, &wire); err != nil {
		return "", detaerr.New("push", drive, fmt.Errorf("decode upload id: %w", err)).WithKey(name)
	}
	if wire.UploadID == "" {
		return "", detaerr.New("push", drive, detaerr.ErrUnexpectedStatus).
			WithStatus(resp.StatusCode, []string{"upload id missing from response"}).WithKey(name)
	}
	return wire.UploadID, nil
}

func (b *httpBackend) UploadPart(ctx context.Context, drive, name, uploadID string, part int, data []byte) error {
	q := nameQuery(name)
	q.Set("part", strconv.Itoa(part))
	_, _, err := b.do(ctx, withBody(&httpx.Request{
		Op:     "upload_part",
		Method: http.MethodPost,
		Path:   uploadPath(drive, uploadID) + "/parts",
		Query:  q,
	}, data))
	if err != nil {
		return detaapi.Classify("push", drive, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).
			WithKey(name).WithMessage(fmt.Sprintf("part %d failed", part))
	}
	return nil
}

func (b *httpBackend) FinishUpload(ctx context.Context, drive, name, uploadID string, data []byte) (*FileInfo, error) {
	resp, body, err := b.do(ctx, withBody(&httpx.Request{
		Op:     "upload_finish",
		Method: http.MethodPatch,
		Path:   uploadPath(drive, uploadID),
		Query:  nameQuery(name),
	}, data))
	if err != nil {
		return nil, detaapi.Classify("push", drive, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).WithKey(name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("push", drive, resp.StatusCode, body).WithKey(name)
	}
	return decodeInfo("push", drive, name, body)
}

func (b *httpBackend) AbortUpload(ctx context.Context, drive, name, uploadID string) (*FileInfo, error) {
	resp, body, err := b.do(ctx, &httpx.Request{
		Op:     "upload_abort",
		Method: http.MethodDelete,
		Path:   uploadPath(drive, uploadID),
		Query:  nameQuery(name),
	})
	if err != nil {
		return nil, detaapi.Classify("push", drive, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).WithKey(name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("push", drive, resp.StatusCode, body).WithKey(name)
	}
	return decodeInfo("push", drive, name, body)
}

func (b *httpBackend) GetFile(ctx context.Context, drive, name string) (io.ReadCloser, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("drive: http backend not configured")
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Op:     "download",
		Method: http.MethodGet,
		Path:   url.PathEscape(drive) + "/files/download",
		Query:  nameQuery(name),
		Stream: true,
	})
	if err != nil {
		return nil, detaapi.Classify("pull", drive, err, detaapi.BadRequestOrNotFound, detaerr.ErrUnexpectedStatus).WithKey(name)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := httpx.ReadAllAndClose(resp.Body)
		return nil, detaapi.Unexpected("pull", drive, resp.StatusCode, body).WithKey(name)
	}
	return resp.Body, nil
}

func (b *httpBackend) ListFiles(ctx context.Context, drive string, opts ListOptions) (*FileList, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.Cursor != "" {
		q.Set("last", opts.Cursor)
	}
	resp, body, err := b.do(ctx, &httpx.Request{
		Op:     "list",
		Method: http.MethodGet,
		Path:   url.PathEscape(drive) + "/files",
		Query:  q,
		Header: jsonHeader,
	})
	if err != nil {
		return nil, detaapi.Classify("list", drive, err, detaapi.BadRequestOnly, detaerr.ErrUnexpectedStatus)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("list", drive, resp.StatusCode, body)
	}
	var wire struct {
		Paging detaapi.Paging `json:"paging"`
		Names  []string       `json:"names"`
	}
	if err := detaapi.Decode(body, &wire); err != nil {
		return nil, detaerr.New("list", drive, fmt.Errorf("decode file list: %w", err))
	}
	return &FileList{Names: wire.Names, Cursor: wire.Paging.Last}, nil
}

func (b *httpBackend) DeleteFiles(ctx context.Context, drive string, names []string) (*DeleteResult, error) {
	payload, err := detaapi.Encode(map[string]any{"names": names})
	if err != nil {
		return nil, detaerr.New("delete_many", drive, fmt.Errorf("encode names: %w", err))
	}
	resp, body, err := b.do(ctx, withBody(&httpx.Request{
		Op:     "delete_files",
		Method: http.MethodDelete,
		Path:   url.PathEscape(drive) + "/files",
		Header: jsonHeader,
	}, payload))
	if err != nil {
		return nil, detaapi.Classify("delete_many", drive, err, detaapi.BadRequestOnly, detaerr.ErrUnexpectedStatus)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, detaapi.Unexpected("delete_many", drive, resp.StatusCode, body)
	}
	var res DeleteResult
	if err := detaapi.Decode(body, &res); err != nil {
		return nil, detaerr.New("delete_many", drive, fmt.Errorf("decode delete result: %w", err))
	}
	return &res, nil
}
