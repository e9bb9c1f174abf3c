package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRequest(method, op string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, method+" "+op+" "+http.StatusText(status))
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	_, err = NewClient("not a url")
	require.Error(t, err)

	c, err := NewClient("https://database.deta.sh/v1/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://database.deta.sh/v1/abc/", c.BaseURL())
}

func TestBuildURLKeepsBasePath(t *testing.T) {
	c, err := NewClient("https://database.deta.sh/v1/proj/")
	require.NoError(t, err)

	got, err := c.buildURL("/users/items/"+url.PathEscape("a b/c"), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://database.deta.sh/v1/proj/users/items/a%20b%2Fc", got)

	got, err = c.buildURL("files", url.Values{"name": {"dir/x y.txt"}})
	require.NoError(t, err)
	assert.Equal(t, "https://database.deta.sh/v1/proj/files?name=dir%2Fx+y.txt", got)
}

func TestDoMergesHeadersRequestWins(t *testing.T) {
	var gotKey, gotType string
	var typeValues int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotType = r.Header.Get("Content-Type")
		typeValues = len(r.Header.Values("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHeaders(http.Header{
		"X-API-Key":    {"proj_secret"},
		"Content-Type": {"application/octet-stream"},
	}))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Path:   "files",
		Header: http.Header{"Content-Type": {"application/json"}},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "proj_secret", gotKey)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, 1, typeValues)
}

func TestDoReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errors":["not found"]}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "x"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.JSONEq(t, `{"errors":["not found"]}`, string(httpErr.Body))
	assert.EqualError(t, httpErr, `httpx: status 404: {"errors":["not found"]}`)
	assert.False(t, httpErr.Retryable())
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRetryPolicy(RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "retry",
		Body:   strings.NewReader("payload"),
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDefaultPolicyDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoStreamKeepsBodyOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "streamed-bytes")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "dl", Stream: true})
	require.NoError(t, err)
	data, err := ReadAllAndClose(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "streamed-bytes", string(data))
}

func TestDoStreamBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			io.WriteString(w, "chunk")
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithTimeout(200*time.Millisecond))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "dl", Stream: true})
	require.NoError(t, err)
	data, err := ReadAllAndClose(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("chunk", 4), string(data))
}

func TestDoStreamTimesOutWaitingForHeaders(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "dl", Stream: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoStreamCallerCancelStopsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "dl", Stream: true})
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	cancel()
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err)
}

func TestDoNotifiesObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c, err := NewClient(srv.URL, WithObserver(obs))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Op: "upload_init", Method: http.MethodPost, Path: "uploads"})
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, []string{"POST upload_init Accepted"}, obs.calls)
}

func TestDoAfterCloseFails(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDoRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRateLimit(0.001, 1))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "a"})
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, &Request{Method: http.MethodGet, Path: "b"})
	require.Error(t, err)
}

func TestBackoffForAttempt(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 50*time.Millisecond, 0)
	assert.Equal(t, 10*time.Millisecond, b.ForAttempt(0))
	assert.Equal(t, 20*time.Millisecond, b.ForAttempt(1))
	assert.Equal(t, 40*time.Millisecond, b.ForAttempt(2))
	assert.Equal(t, 50*time.Millisecond, b.ForAttempt(3))
	assert.Equal(t, 50*time.Millisecond, b.ForAttempt(100))

	j := NewBackoff(100*time.Millisecond, time.Second, 0.5)
	for i := 0; i < 20; i++ {
		d := j.ForAttempt(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
