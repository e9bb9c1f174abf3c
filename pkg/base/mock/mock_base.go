// Package mock provides an in-memory base.Backend for tests, examples and the
// sandbox server.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/asyncdeta/deta_sdk_go/internal/detaapi"
	"github.com/asyncdeta/deta_sdk_go/internal/devseed"
	"github.com/asyncdeta/deta_sdk_go/pkg/base"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// DefaultPageSize matches the service's largest query page.
const DefaultPageSize = base.MaxQueryLimit

// Mock implements base.Backend over per-Base maps.
type Mock struct {
	mu       sync.RWMutex
	bases    map[string]map[string]base.Record
	pageSize int
	newKey   func() string
}

// Option configures the mock instance.
type Option func(*Mock)

// WithPageSize caps the items returned per query page (useful to exercise
// cursor following in tests).
func WithPageSize(n int) Option {
	return func(m *Mock) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithKeyGenerator overrides how keys are assigned to items stored without one.
func WithKeyGenerator(fn func() string) Option {
	return func(m *Mock) {
		if fn != nil {
			m.newKey = fn
		}
	}
}

// New creates an empty mock store.
func New(opts ...Option) *Mock {
	m := &Mock{
		bases:    make(map[string]map[string]base.Record),
		pageSize: DefaultPageSize,
		newKey: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed loads initial records (typically decoded via devseed.LoadBaseSeed).
func (m *Mock) Seed(entries []devseed.BaseSeedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		rec, err := normalize(e.Item)
		if err != nil {
			return fmt.Errorf("mock base: seed %s: %w", e.Base, err)
		}
		key, ok := rec["key"].(string)
		if !ok || key == "" {
			return fmt.Errorf("mock base: seed entry in %s missing string key", e.Base)
		}
		m.table(e.Base)[key] = rec
	}
	return nil
}

// Len reports how many records the named Base holds.
func (m *Mock) Len(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bases[name])
}

func (m *Mock) table(name string) map[string]base.Record {
	t, ok := m.bases[name]
	if !ok {
		t = make(map[string]base.Record)
		m.bases[name] = t
	}
	return t
}

// normalize deep-copies a record through JSON so numbers compare as float64
// the way they do after a round trip to the service.
func normalize(in map[string]any) (base.Record, error) {
	data, err := detaapi.Encode(in)
	if err != nil {
		return nil, err
	}
	var out base.Record
	if err := detaapi.Decode(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = base.Record{}
	}
	return out, nil
}

func badRequest(op, name string, format string, args ...any) *detaerr.Error {
	return detaerr.New(op, name, detaerr.ErrBadRequest).WithStatus(http.StatusBadRequest, []string{fmt.Sprintf(format, args...)})
}

func (m *Mock) Get(ctx context.Context, name, key string) (base.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.bases[name][key]
	if !ok {
		return nil, nil
	}
	return normalize(rec)
}

func (m *Mock) Put(ctx context.Context, name string, items []base.Record) (*base.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) > base.MaxPutItems {
		return nil, badRequest("put", name, "too many items, max %d", base.MaxPutItems)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &base.PutResult{Processed: []base.Record{}}
	t := m.table(name)
	for _, item := range items {
		rec, err := normalize(item)
		if err != nil {
			res.Failed = append(res.Failed, item)
			continue
		}
		key, err := m.assignKey(rec)
		if err != nil {
			res.Failed = append(res.Failed, item)
			continue
		}
		t[key] = rec
		res.Processed = append(res.Processed, rec)
	}
	return res, nil
}

func (m *Mock) assignKey(rec base.Record) (string, error) {
	raw, present := rec["key"]
	if !present || raw == nil {
		key := m.newKey()
		rec["key"] = key
		return key, nil
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("key must be a non-empty string")
	}
	return key, nil
}

func (m *Mock) Insert(ctx context.Context, name string, item base.Record) (base.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := normalize(item)
	if err != nil {
		return nil, badRequest("insert", name, "invalid item: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.assignKey(rec)
	if err != nil {
		return nil, badRequest("insert", name, "%v", err)
	}
	t := m.table(name)
	if _, exists := t[key]; exists {
		return nil, detaerr.New("insert", name, detaerr.ErrKeyConflict).
			WithStatus(http.StatusConflict, []string{fmt.Sprintf("Key '%s' already exists", key)}).WithKey(key)
	}
	t[key] = rec
	return normalize(rec)
}

func (m *Mock) Update(ctx context.Context, name, key string, updates *base.Updates) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bases[name][key]
	if !ok {
		return detaerr.New("update", name, detaerr.ErrNotFound).
			WithStatus(http.StatusNotFound, []string{"Key not found"}).WithKey(key)
	}
	next, err := normalize(current)
	if err != nil {
		return err
	}
	if updates != nil {
		var u base.Updates
		data, err := detaapi.Encode(updates)
		if err == nil {
			err = detaapi.Decode(data, &u)
		}
		if err != nil {
			return badRequest("update", name, "invalid updates: %v", err).WithKey(key)
		}
		if err := applyUpdates(next, &u); err != nil {
			return badRequest("update", name, "%v", err).WithKey(key)
		}
	}
	m.bases[name][key] = next
	return nil
}

func (m *Mock) Delete(ctx context.Context, name, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bases[name], key)
	return nil
}

func (m *Mock) Query(ctx context.Context, name string, req *base.PageRequest) (*base.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		req = &base.PageRequest{}
	}
	if req.Limit < 0 || req.Limit > base.MaxQueryLimit {
		return nil, badRequest("query", name, "limit must be in (0, %d]", base.MaxQueryLimit)
	}
	preds := make([]base.Predicate, 0, len(req.Query))
	for _, p := range req.Query {
		norm, err := normalize(p)
		if err != nil {
			return nil, badRequest("query", name, "invalid query: %v", err)
		}
		if err := validatePredicate(norm); err != nil {
			return nil, badRequest("query", name, "%v", err)
		}
		preds = append(preds, base.Predicate(norm))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.bases[name]
	keys := make([]string, 0, len(t))
	for k := range t {
		if req.Last == "" || k > req.Last {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	size := m.pageSize
	if req.Limit > 0 && req.Limit < size {
		size = req.Limit
	}

	page := &base.Page{Items: []base.Record{}}
	var lastKey string
	for _, k := range keys {
		rec := t[k]
		if !matchAny(rec, preds) {
			continue
		}
		if len(page.Items) == size {
			page.Cursor = lastKey
			break
		}
		cp, err := normalize(rec)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, cp)
		lastKey = k
	}
	return page, nil
}
