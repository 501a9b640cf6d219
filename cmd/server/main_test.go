package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partsdesk/internal/cache"
	"partsdesk/internal/config"
	"partsdesk/internal/store"
	"partsdesk/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", LowStockThreshold: 5})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	require.IsType(t, &memory.Store{}, repo)

	products, total, err := repo.SearchProducts(context.Background(), store.ProductQuery{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, products, 10)
}

func TestOpenSearchCacheFallsBackToNoop(t *testing.T) {
	c, closeFn := openSearchCache(context.Background(), config.Config{}, zap.NewNop())
	assert.Equal(t, cache.NoopProductSearchCache{}, c)
	assert.Nil(t, closeFn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, closeFn = openSearchCache(ctx, config.Config{RedisAddr: "127.0.0.1:1"}, zap.NewNop())
	assert.Equal(t, cache.NoopProductSearchCache{}, c)
	assert.Nil(t, closeFn)
}
