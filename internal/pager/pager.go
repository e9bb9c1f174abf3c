// Package pager drives cursor-paginated endpoints to exhaustion.
package pager

import (
	"context"
	"errors"
	"fmt"
)

// ErrStalledCursor is returned when the service hands back the cursor it was
// just given, which would otherwise loop forever.
var ErrStalledCursor = errors.New("pager: cursor did not advance")

// Page fetches one page. cursor is empty on the first call. It returns the
// page items and the continuation cursor, empty on the final page.
type Page[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Collect calls fetch sequentially, feeding each continuation cursor into the
// next call, and concatenates items in page order.
func Collect[T any](ctx context.Context, start string, fetch Page[T]) ([]T, error) {
	var (
		all    []T
		cursor = start
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		if next == cursor {
			return nil, fmt.Errorf("%w: %q", ErrStalledCursor, next)
		}
		cursor = next
	}
}
