package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsdesk/internal/domain"
)

func TestSearchKeyNormalizesQuery(t *testing.T) {
	a := SearchKey(domain.ProductSearchRequest{Page: 1, Limit: 10, Search: "  Brake "})
	b := SearchKey(domain.ProductSearchRequest{Page: 1, Limit: 10, Search: "brake"})
	c := SearchKey(domain.ProductSearchRequest{Page: 2, Limit: 10, Search: "brake"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNoopCacheNeverHits(t *testing.T) {
	var c ProductSearchCache = NoopProductSearchCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &domain.ProductSearchResponse{}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx))
}

func TestRedisCacheInvalidateDropsPages(t *testing.T) {
	addr := os.Getenv("PARTSDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PARTSDESK_TEST_REDIS_ADDR is not set")
	}
	ctx := context.Background()
	c := NewRedisProductSearchCache(addr, os.Getenv("PARTSDESK_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := SearchKey(domain.ProductSearchRequest{Page: 1, Limit: 5, Search: "cache-test"})
	page := &domain.ProductSearchResponse{
		Products:   []domain.Product{{ID: "prd-1", Name: "Oil Filter", PriceCents: 3200, QuantityRemaining: 4}},
		Pagination: domain.NewPagination(1, 1, 5),
	}
	require.NoError(t, c.Set(ctx, key, page, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, page.Products[0].Name, got.Products[0].Name)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
