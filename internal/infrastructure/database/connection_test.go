package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/shared/config"
	"courseledger/internal/shared/logger"
)

func TestOpenSqlite(t *testing.T) {
	cfg := &config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "journal.db")}

	db, err := Open(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, db.Exec("SELECT 1").Error)
	assert.NoError(t, Close(db))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"}, logger.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}
