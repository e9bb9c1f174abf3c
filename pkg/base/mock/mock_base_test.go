package mock_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncdeta/deta_sdk_go/internal/devseed"
	"github.com/asyncdeta/deta_sdk_go/pkg/base"
	"github.com/asyncdeta/deta_sdk_go/pkg/base/mock"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

func seeded(t *testing.T, opts ...mock.Option) (*mock.Mock, *base.Base) {
	t.Helper()
	m := mock.New(opts...)
	var entries []devseed.BaseSeedEntry
	for i := 0; i < 7; i++ {
		entries = append(entries, devseed.BaseSeedEntry{
			Base: "users",
			Item: map[string]any{
				"key":  fmt.Sprintf("u%d", i),
				"age":  20 + i,
				"name": fmt.Sprintf("user-%d", i),
				"tags": []any{"t", fmt.Sprintf("g%d", i%2)},
				"addr": map[string]any{"city": []string{"rome", "oslo"}[i%2]},
			},
		})
	}
	require.NoError(t, m.Seed(entries))
	return m, base.NewWithBackend(m).Base("users")
}

func TestQueryPagesThroughMock(t *testing.T) {
	_, db := seeded(t, mock.WithPageSize(3))

	all, err := db.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, "u0", all[0].Key())
	assert.Equal(t, "u6", all[6].Key())

	page, err := db.Query(context.Background(), base.QueryRequest{Limit: base.Limit(2)})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestQueryOperators(t *testing.T) {
	_, db := seeded(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		preds []base.Predicate
		want  int
	}{
		{"eq", base.Where(base.Predicate{"name": "user-3"}), 1},
		{"gt", base.Where(base.Predicate{"age?gt": 23}), 3},
		{"range", base.Where(base.Predicate{"age?r": []int{21, 23}}), 3},
		{"prefix", base.Where(base.Predicate{"name?pfx": "user-"}), 7},
		{"nested", base.Where(base.Predicate{"addr.city": "oslo"}), 3},
		{"contains", base.Where(base.Predicate{"tags?contains": "g1"}), 3},
		{"not contains", base.Where(base.Predicate{"tags?not_contains": "g1"}), 4},
		{"and", base.Where(base.Predicate{"age?gte": 22, "addr.city": "rome"}), 3},
		{"or", base.Where(base.Predicate{"name": "user-0"}, base.Predicate{"name": "user-6"}), 2},
		{"ne", base.Where(base.Predicate{"name?ne": "user-0"}), 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := db.Query(ctx, base.QueryRequest{Predicates: tc.preds})
			require.NoError(t, err)
			assert.Len(t, items, tc.want)
		})
	}
}

func TestQueryRejectsUnknownOperator(t *testing.T) {
	_, db := seeded(t)
	_, err := db.Query(context.Background(), base.QueryRequest{Predicates: base.Where(base.Predicate{"age?between": 1})})
	require.Error(t, err)
	assert.True(t, detaerr.IsBadRequest(err))
}

func TestInsertConflictAndUpdate(t *testing.T) {
	m := mock.New(mock.WithKeyGenerator(func() string { return "generated" }))
	db := base.NewWithBackend(m).Base("items")
	ctx := context.Background()

	got, err := db.Insert(ctx, base.Record{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "generated", got.Key())

	_, err = db.Insert(ctx, base.Record{"key": "generated"})
	assert.True(t, detaerr.IsKeyConflict(err))

	err = db.Update(ctx, "generated", &base.Updates{
		Set:       map[string]any{"meta.color": "red"},
		Increment: map[string]any{"n": 2},
		Append:    map[string]any{"list": []string{"a", "b"}},
		Prepend:   map[string]any{"list": "z"},
	})
	require.NoError(t, err)

	rec, err := db.Get(ctx, "generated")
	require.NoError(t, err)
	assert.Equal(t, float64(3), rec["n"])
	assert.Equal(t, map[string]any{"color": "red"}, rec["meta"])
	assert.Equal(t, []any{"z", "a", "b"}, rec["list"])

	err = db.Update(ctx, "generated", &base.Updates{Delete: []string{"meta.color", "list"}})
	require.NoError(t, err)
	rec, err = db.Get(ctx, "generated")
	require.NoError(t, err)
	assert.NotContains(t, rec, "list")
	assert.Equal(t, map[string]any{}, rec["meta"])

	err = db.Update(ctx, "missing", &base.Updates{Set: map[string]any{"a": 1}})
	assert.True(t, detaerr.IsNotFound(err))

	err = db.Update(ctx, "generated", &base.Updates{Increment: map[string]any{"meta": 1}})
	assert.True(t, detaerr.IsBadRequest(err))
}

func TestPutReportsInvalidKeysAsFailed(t *testing.T) {
	m := mock.New()
	db := base.NewWithBackend(m).Base("items")

	res, err := db.Put(context.Background(), base.Record{"key": "a"}, base.Record{"key": 42})
	require.NoError(t, err)
	assert.Len(t, res.Processed, 1)
	assert.Len(t, res.Failed, 1)
	assert.Equal(t, 1, m.Len("items"))
}

func TestDeleteManyAgainstMock(t *testing.T) {
	m, db := seeded(t)
	keys, err := db.DeleteMany(context.Background(), []string{"u1", "u2", "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "nope"}, keys)
	assert.Equal(t, 5, m.Len("users"))

	rec, err := db.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
