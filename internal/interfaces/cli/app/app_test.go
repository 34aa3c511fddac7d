package app

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/infrastructure/config"
	sharedConfig "courseledger/internal/shared/config"
	"courseledger/internal/shared/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: sharedConfig.ServerConfig{InstanceID: "test-node"},
		Ledger: sharedConfig.LedgerConfig{BaseURL: "http://ledger.invalid/v1"},
		Index:  sharedConfig.IndexConfig{BaseURL: "http://index.invalid"},
		Access: sharedConfig.AccessConfig{IssuerURL: "http://issuer.invalid"},
		Pricing: sharedConfig.PricingConfig{
			Currency:   "USD",
			UnitPrices: map[string]int64{"rust-201": 2000, "go-101": 1000},
		},
	}
}

func TestNewWithoutStores(t *testing.T) {
	a, err := New(testConfig(t), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Journal)
	assert.Nil(t, a.Bus)
	assert.Nil(t, a.Limiter)
	assert.Equal(t, []string{"go-101", "rust-201"}, a.CatalogResources())

	n, err := a.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, a.SubscribeIndexEvents(context.Background()))

	price, err := a.Pricing.Price("rust-201", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), price.Amount)
}

func TestNewWithJournalAndBus(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Database = sharedConfig.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "journal.db")}
	cfg.Redis = sharedConfig.RedisConfig{Host: mr.Host(), Port: port}

	a, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Journal)
	require.NotNil(t, a.Bus)
	require.NotNil(t, a.Limiter)

	entries, err := a.Journal.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := a.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis = sharedConfig.RedisConfig{Host: "127.0.0.1", Port: port}

	_, err = New(cfg, logger.NewNop())
	assert.ErrorContains(t, err, "redis")
}
