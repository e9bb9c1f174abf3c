package base

import (
	"context"

	"github.com/asyncdeta/deta_sdk_go/internal/pager"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// Query returns the records matching req.
//
// Without a Limit every page is followed until the service stops returning a
// cursor. With a Limit exactly one page is fetched and returned as is; pass
// its cursor back in a later request to continue. Items keep page order and
// are not deduplicated.
func (b *Base) Query(ctx context.Context, req QueryRequest) ([]Record, error) {
	if err := b.check("query"); err != nil {
		return nil, err
	}
	if err := validateLimit("query", b.name, req.Limit); err != nil {
		return nil, err
	}
	preds := normalizePredicates(req.Predicates)

	if req.Limit != nil {
		page, err := b.client.backend.Query(ctx, b.name, &PageRequest{
			Query: preds,
			Limit: *req.Limit,
			Last:  req.Cursor,
		})
		if err != nil {
			return nil, err
		}
		return nonNil(page.Items), nil
	}

	first := true
	items, err := pager.Collect(ctx, req.Cursor, func(ctx context.Context, cursor string) ([]Record, string, error) {
		pr := &PageRequest{Last: cursor}
		// A caller cursor only accompanies the predicates on the first call.
		if req.Cursor == "" || first {
			pr.Query = preds
		}
		first = false
		return b.page(ctx, pr)
	})
	if err != nil {
		return nil, b.wrapPagerErr("query", err)
	}
	return nonNil(items), nil
}

// FetchAll returns every record in the Base, following cursors until the
// last page.
func (b *Base) FetchAll(ctx context.Context) ([]Record, error) {
	if err := b.check("fetch_all"); err != nil {
		return nil, err
	}
	items, err := pager.Collect(ctx, "", func(ctx context.Context, cursor string) ([]Record, string, error) {
		return b.page(ctx, &PageRequest{Last: cursor})
	})
	if err != nil {
		return nil, b.wrapPagerErr("fetch_all", err)
	}
	return nonNil(items), nil
}

func (b *Base) page(ctx context.Context, req *PageRequest) ([]Record, string, error) {
	page, err := b.client.backend.Query(ctx, b.name, req)
	if err != nil {
		return nil, "", err
	}
	return page.Items, page.Cursor, nil
}

func (b *Base) wrapPagerErr(op string, err error) error {
	if _, ok := err.(*detaerr.Error); ok {
		return err
	}
	return detaerr.New(op, b.name, err)
}

func validateLimit(op, collection string, limit *int) error {
	if limit == nil {
		return nil
	}
	if *limit <= 0 || *limit > MaxQueryLimit {
		return detaerr.InvalidArgument(op, collection, "limit must be in (0, %d], got %d", MaxQueryLimit, *limit)
	}
	return nil
}

func normalizePredicates(preds []Predicate) []Predicate {
	if len(preds) == 0 {
		return []Predicate{{}}
	}
	out := make([]Predicate, len(preds))
	for i, p := range preds {
		if p == nil {
			p = Predicate{}
		}
		out[i] = p
	}
	return out
}

func nonNil(items []Record) []Record {
	if items == nil {
		return []Record{}
	}
	return items
}
