package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	db, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"oauth_grants", "oauth_codes", "oauth_tokens"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// Migrations are idempotent.
	require.NoError(t, MigrateSQLite(ctx, db))

	_, err = OpenSQLite(ctx, " ")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestMillis(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	assert.Equal(t, now, FromMillis(ToMillis(now)))
}
