package base_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncdeta/deta_sdk_go/pkg/base"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

type seenRequest struct {
	Method string
	Path   string
	Key    string
	Type   string
	Body   map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		mu.Lock()
		seen = append(seen, seenRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Key:    r.Header.Get("X-API-Key"),
			Type:   r.Header.Get("Content-Type"),
			Body:   body,
		})
		mu.Unlock()
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestProjectURLUsesKeyPrefix(t *testing.T) {
	got, err := base.ProjectURL("https://database.deta.sh/v1/", "a0abc_secret_tail")
	require.NoError(t, err)
	assert.Equal(t, "https://database.deta.sh/v1/a0abc/", got)

	got, err = base.ProjectURL("https://database.deta.sh/v1", "nounderscore")
	require.NoError(t, err)
	assert.Equal(t, "https://database.deta.sh/v1/nounderscore/", got)

	_, err = base.ProjectURL(base.DefaultURL, "  ")
	require.Error(t, err)
}

func TestHTTPQueryFollowsCursor(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		switch body["last"] {
		case nil:
			writeJSON(w, http.StatusOK, map[string]any{
				"paging": map[string]any{"size": 1, "last": "k1"},
				"items":  []any{map[string]any{"key": "k1"}},
			})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"paging": map[string]any{"size": 1},
				"items":  []any{map[string]any{"key": "k2"}},
			})
		}
	})

	client, err := base.New(srv.URL+"/v1/", "proj_secret")
	require.NoError(t, err)

	items, err := client.Base("users").Query(context.Background(), base.QueryRequest{
		Predicates: base.Where(base.Predicate{"age?gt": 21}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keysOf(items))

	require.Len(t, *seen, 2)
	first := (*seen)[0]
	assert.Equal(t, http.MethodPost, first.Method)
	assert.Equal(t, "/v1/proj/users/query", first.Path)
	assert.Equal(t, "proj_secret", first.Key)
	assert.Equal(t, "application/json", first.Type)
	assert.Equal(t, []any{map[string]any{"age?gt": float64(21)}}, first.Body["query"])
	assert.NotContains(t, first.Body, "limit")
	assert.Equal(t, "k1", (*seen)[1].Body["last"])
}

func TestHTTPQueryNon200IsRaised(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid query", "bad op"}})
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)

	_, err = client.Base("users").FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, detaerr.IsBadRequest(err))

	var de *detaerr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "invalid query\nbad op", de.Message())
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
}

func TestHTTPQueryUnexpectedSuccessStatus(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusAccepted, map[string]any{"items": []any{}})
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)

	_, err = client.Base("users").Query(context.Background(), base.QueryRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, detaerr.ErrUnexpectedStatus)
}

func TestHTTPGetMissingKeyReturnsNil(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if r.URL.EscapedPath() == "/proj/users/items/a%20b" {
			writeJSON(w, http.StatusOK, map[string]any{"key": "a b", "n": 1})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"key": "zzz"})
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)
	db := client.Base("users")

	got, err := db.Get(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, "a b", got.Key())

	got, err = db.Get(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, *seen, 2)
}

func TestHTTPPutReportsFailedItems(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"processed": map[string]any{"items": []any{map[string]any{"key": "a"}}},
			"failed":    map[string]any{"items": []any{map[string]any{"key": "b"}}},
		})
	})

	var logs bytes.Buffer
	l := slog.New(slog.NewTextHandler(&logs, nil))

	client, err := base.New(srv.URL, "proj_secret", base.WithLogger(l))
	require.NoError(t, err)

	res, err := client.Base("users").Put(context.Background(), rec("a"), rec("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keysOf(res.Processed))
	assert.Equal(t, []string{"b"}, keysOf(res.Failed))
	assert.Contains(t, logs.String(), "level=WARN")

	require.Len(t, *seen, 1)
	assert.Equal(t, http.MethodPut, (*seen)[0].Method)
	assert.Equal(t, "/proj/users/items", (*seen)[0].Path)
	assert.Len(t, (*seen)[0].Body["items"], 2)
}

func TestPutRejectsOversizedBatch(t *testing.T) {
	stub := &stubBackend{}
	db := base.NewWithBackend(stub).Base("users")

	items := make([]base.Record, base.MaxPutItems+1)
	for i := range items {
		items[i] = rec("k")
	}
	_, err := db.Put(context.Background(), items...)
	assert.True(t, detaerr.IsInvalidArgument(err))

	_, err = db.Put(context.Background())
	assert.True(t, detaerr.IsInvalidArgument(err))
}

func TestHTTPInsertConflict(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		item, _ := body["item"].(map[string]any)
		if item["key"] == "dup" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)
	db := client.Base("users")

	got, err := db.Insert(context.Background(), base.Record{"key": "new", "v": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", got["v"])

	_, err = db.Insert(context.Background(), base.Record{"key": "dup"})
	require.Error(t, err)
	assert.True(t, detaerr.IsKeyConflict(err))
	assert.Contains(t, err.Error(), "key already exists in Deta base")
	assert.Equal(t, http.MethodPost, (*seen)[0].Method)
}

func TestHTTPUpdateMissingKey(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if r.URL.Path == "/proj/users/items/gone" {
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"Key not found"}})
			return
		}
		writeJSON(w, http.StatusOK, body)
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)
	db := client.Base("users")

	err = db.Update(context.Background(), "k1", &base.Updates{
		Set:       map[string]any{"name": "ann"},
		Increment: map[string]any{"visits": 1},
		Delete:    []string{"tmp"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, (*seen)[0].Method)
	assert.Equal(t, map[string]any{"name": "ann"}, (*seen)[0].Body["set"])
	assert.Equal(t, []any{"tmp"}, (*seen)[0].Body["delete"])
	assert.NotContains(t, (*seen)[0].Body, "append")

	err = db.Update(context.Background(), "gone", &base.Updates{Set: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, detaerr.IsNotFound(err))
	assert.Contains(t, err.Error(), "Key not found")
}

func TestHTTPDeleteReturnsKey(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"key": "k1"})
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)

	key, err := client.Base("users").Delete(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
	assert.Equal(t, http.MethodDelete, (*seen)[0].Method)
	assert.Equal(t, "/proj/users/items/k1", (*seen)[0].Path)
}

func TestDeleteManyIssuesOneCallPerKey(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, nil)
	})
	client, err := base.New(srv.URL, "proj_secret")
	require.NoError(t, err)

	keys := []string{"k3", "k1", "k2"}
	got, err := client.Base("users").DeleteMany(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	paths := make([]string, 0, len(*seen))
	for _, s := range *seen {
		assert.Equal(t, http.MethodDelete, s.Method)
		paths = append(paths, s.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"/proj/users/items/k1", "/proj/users/items/k2", "/proj/users/items/k3"}, paths)
}

func TestDeleteManyWaitsForAllThenReportsFirstError(t *testing.T) {
	boom := detaerr.New("delete", "users", detaerr.ErrBadRequest)
	stub := &stubBackend{deleteErr: map[string]error{"b": boom, "d": detaerr.New("delete", "users", detaerr.ErrUnexpectedStatus)}}
	db := base.NewWithBackend(stub).Base("users")

	_, err := db.DeleteMany(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.Same(t, boom, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, stub.deleted)
}

func TestHandleRequiresName(t *testing.T) {
	db := base.NewWithBackend(&stubBackend{}).Base(" ")
	_, err := db.Get(context.Background(), "k")
	assert.True(t, detaerr.IsInvalidArgument(err))

	db = base.NewWithBackend(&stubBackend{}).Base("users")
	_, err = db.Delete(context.Background(), "")
	assert.True(t, detaerr.IsInvalidArgument(err))
}
