package base

import (
	"context"
)

const (
	// MaxQueryLimit is the largest page size the query endpoint accepts.
	MaxQueryLimit = 1000
	// MaxPutItems is the largest batch the put endpoint accepts.
	MaxPutItems = 25
)

// Record is one stored item. The "key" field holds its key.
type Record map[string]any

// Key returns the record key, or "" when it has none.
func (r Record) Key() string {
	k, _ := r["key"].(string)
	return k
}

// Predicate is one query condition object, e.g. {"age?gt": 21}.
type Predicate map[string]any

// Where collects predicates into a query list. Multiple predicates are ORed
// by the service.
func Where(preds ...Predicate) []Predicate {
	return preds
}

// QueryRequest selects records. A nil Limit means "no limit"; an empty Cursor
// means "from the start".
type QueryRequest struct {
	Predicates []Predicate
	Limit      *int
	Cursor     string
}

// Limit returns a pointer for QueryRequest.Limit.
func Limit(n int) *int {
	return &n
}

// PageRequest is the body of one call to the query endpoint.
type PageRequest struct {
	Query []Predicate `json:"query,omitempty"`
	Limit int         `json:"limit,omitempty"`
	Last  string      `json:"last,omitempty"`
}

// Page is one response of the query endpoint. An empty Cursor marks the last page.
type Page struct {
	Items  []Record
	Cursor string
}

// PutResult reports a batch write. Failed items were not stored; the
// service does not say why.
type PutResult struct {
	Processed []Record
	Failed    []Record
}

// Updates describes a partial update applied by Update.
type Updates struct {
	Set       map[string]any `json:"set,omitempty"`
	Increment map[string]any `json:"increment,omitempty"`
	Append    map[string]any `json:"append,omitempty"`
	Prepend   map[string]any `json:"prepend,omitempty"`
	Delete    []string       `json:"delete,omitempty"`
}

// Backend performs single calls against one project. Implementations return
// *detaerr.Error values for service-signalled failures.
type Backend interface {
	Get(ctx context.Context, base, key string) (Record, error)
	Put(ctx context.Context, base string, items []Record) (*PutResult, error)
	Insert(ctx context.Context, base string, item Record) (Record, error)
	Update(ctx context.Context, base, key string, updates *Updates) error
	Delete(ctx context.Context, base, key string) error
	Query(ctx context.Context, base string, req *PageRequest) (*Page, error)
}
