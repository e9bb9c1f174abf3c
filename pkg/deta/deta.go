// Package deta opens a session against one Deta project. A session owns the
// Base and Drive transports, hands out named handles and releases both
// transports on Close.
package deta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asyncdeta/deta_sdk_go/internal/httpx"
	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	"github.com/asyncdeta/deta_sdk_go/internal/metrics"
	"github.com/asyncdeta/deta_sdk_go/pkg/base"
	"github.com/asyncdeta/deta_sdk_go/pkg/drive"
)

// Runtime modes reported by Mode.
const (
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Deta is an open session for one project.
type Deta struct {
	projectID string
	mode      string
	bases     *base.Client
	drives    *drive.Client
}

type options struct {
	baseURL         string
	driveURL        string
	timeout         time.Duration
	maxRetries      int
	partConcurrency int
	rateLimit       float64
	rateBurst       int
	httpClient      *http.Client
	logger          *slog.Logger
	registerer      prometheus.Registerer
}

// Option configures a session.
type Option func(*options)

// WithBaseURL overrides the Base service root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithDriveURL overrides the Drive service root.
func WithDriveURL(u string) Option {
	return func(o *options) { o.driveURL = u }
}

// WithTimeout bounds every request attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries retries transient failures (429, 5xx, network) up to n
// times. Zero, the default, sends every request exactly once.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithPartConcurrency bounds concurrently uploading parts of one Push.
func WithPartConcurrency(n int) Option {
	return func(o *options) { o.partConcurrency = n }
}

// WithRateLimit throttles outgoing requests per service to r per second.
func WithRateLimit(r float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = r
		o.rateBurst = burst
	}
}

// WithHTTPClient overrides the *http.Client of both transports.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpClient = h }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers request and upload collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func collect(opts []Option) options {
	o := options{
		baseURL:  base.DefaultURL,
		driveURL: drive.DefaultURL,
		timeout:  httpx.DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = logger.OrDiscard(o.logger)
	return o
}

func (o options) metrics() (*metrics.Metrics, error) {
	if o.registerer == nil {
		return nil, nil
	}
	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("deta: register metrics: %w", err)
	}
	return m, nil
}

func (o options) transport(m *metrics.Metrics) []httpx.Option {
	opts := []httpx.Option{
		httpx.WithTimeout(o.timeout),
		httpx.WithRateLimit(o.rateLimit, o.rateBurst),
		httpx.WithLogger(o.logger),
	}
	if o.maxRetries > 0 {
		policy := httpx.DefaultRetryPolicy
		policy.MaxRetries = o.maxRetries
		opts = append(opts, httpx.WithRetryPolicy(policy))
	}
	if o.httpClient != nil {
		opts = append(opts, httpx.WithHTTPClient(o.httpClient))
	}
	if m != nil {
		opts = append(opts, httpx.WithObserver(m))
	}
	return opts
}

// New opens an HTTP session for the project owning projectKey. The project
// id is the key up to its first underscore.
func New(projectKey string, opts ...Option) (*Deta, error) {
	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		return nil, errors.New("deta: project key is required")
	}
	o := collect(opts)
	m, err := o.metrics()
	if err != nil {
		return nil, err
	}
	transport := o.transport(m)

	bases, err := base.New(o.baseURL, projectKey,
		base.WithLogger(o.logger),
		base.WithTransport(transport...),
	)
	if err != nil {
		return nil, fmt.Errorf("deta: %w", err)
	}
	drives, err := drive.New(o.driveURL, projectKey,
		drive.WithLogger(o.logger),
		drive.WithMetrics(m),
		drive.WithPartConcurrency(o.partConcurrency),
		drive.WithTransport(transport...),
	)
	if err != nil {
		_ = bases.Close()
		return nil, fmt.Errorf("deta: %w", err)
	}
	return &Deta{
		projectID: projectID(projectKey),
		mode:      ModeHTTP,
		bases:     bases,
		drives:    drives,
	}, nil
}

// NewWithBackends opens a session over caller supplied backends, e.g. the
// in-memory mocks.
func NewWithBackends(projectKey string, bb base.Backend, db drive.Backend, opts ...Option) (*Deta, error) {
	if bb == nil || db == nil {
		return nil, errors.New("deta: both backends are required")
	}
	o := collect(opts)
	m, err := o.metrics()
	if err != nil {
		return nil, err
	}
	return &Deta{
		projectID: projectID(projectKey),
		mode:      ModeMock,
		bases:     base.NewWithBackend(bb, base.WithLogger(o.logger)),
		drives: drive.NewWithBackend(db,
			drive.WithLogger(o.logger),
			drive.WithMetrics(m),
			drive.WithPartConcurrency(o.partConcurrency),
		),
	}, nil
}

func projectID(projectKey string) string {
	id, _, _ := strings.Cut(strings.TrimSpace(projectKey), "_")
	return id
}

// With opens a session, runs fn and closes the session whatever fn returns.
func With(ctx context.Context, projectKey string, fn func(context.Context, *Deta) error, opts ...Option) (err error) {
	d, err := New(projectKey, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, d.Close())
	}()
	return fn(ctx, d)
}

// Base returns a handle on the named Base.
func (d *Deta) Base(name string) *base.Base {
	return d.bases.Base(name)
}

// Drive returns a handle on the named Drive.
func (d *Deta) Drive(name string) *drive.Drive {
	return d.drives.Drive(name)
}

// Mode reports whether the session talks HTTP or to in-memory backends.
func (d *Deta) Mode() string {
	return d.mode
}

// ProjectID returns the project id derived from the project key.
func (d *Deta) ProjectID() string {
	return d.projectID
}

// Close releases both transports. Calls on handles obtained from this
// session fail with detaerr.ErrClientClosed afterwards. Close is idempotent.
func (d *Deta) Close() error {
	return errors.Join(d.bases.Close(), d.drives.Close())
}
