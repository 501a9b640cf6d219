package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"partsdesk/internal/domain"
)

// ProductSearchCache stores search result pages. Invalidate drops every
// cached page at once; it is called whenever stock or the catalog changes.
type ProductSearchCache interface {
	Get(ctx context.Context, key string) (*domain.ProductSearchResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.ProductSearchResponse, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// SearchKey builds the cache key for a normalized search request.
func SearchKey(req domain.ProductSearchRequest) string {
	return fmt.Sprintf("p%d:l%d:s%s:q%s", req.Page, req.Limit, req.Status, strings.ToLower(strings.TrimSpace(req.Search)))
}

type NoopProductSearchCache struct{}

func (NoopProductSearchCache) Get(_ context.Context, _ string) (*domain.ProductSearchResponse, bool, error) {
	return nil, false, nil
}

func (NoopProductSearchCache) Set(_ context.Context, _ string, _ *domain.ProductSearchResponse, _ time.Duration) error {
	return nil
}

func (NoopProductSearchCache) Invalidate(_ context.Context) error {
	return nil
}
