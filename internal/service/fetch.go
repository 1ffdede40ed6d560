package service

import (
	"context"
	"eduai_backend/internal/repository"
	"time"
)

type pageFetcher[T any] func(ctx context.Context, page repository.Page) (*repository.PageResult[T], error)

// collect 逐页拉取并追加到同一个切片，单页失败独立重试
func collect[T any](ctx context.Context, fetch pageFetcher[T], pageSize, retries int) ([]T, error) {
	var arena []T
	cursor := ""
	for {
		res, err := fetchPage(ctx, fetch, repository.Page{Cursor: cursor, Limit: pageSize}, retries)
		if err != nil {
			return nil, err
		}
		arena = append(arena, res.Items...)
		if res.Done() || res.NextCursor == cursor {
			return arena, nil
		}
		cursor = res.NextCursor
	}
}

func fetchPage[T any](ctx context.Context, fetch pageFetcher[T], page repository.Page, retries int) (*repository.PageResult[T], error) {
	if retries < 1 {
		retries = 1
	}
	backoff := 20 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, err := fetch(ctx, page)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
