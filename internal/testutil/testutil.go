// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"tiedye/internal/models"
	"tiedye/internal/storage"
	"tiedye/internal/worker"
)

// Epoch is the creation time given to seeded rows.
var Epoch = time.Date(2011, 6, 3, 9, 30, 0, 0, time.UTC)

// NewStorage opens a migrated sqlite database inside t.TempDir().
func NewStorage(t *testing.T) *storage.Storage {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "tiedye.db") + "?_busy_timeout=5000"
	s, err := storage.New(context.Background(), models.DatabaseConfig{Driver: "sqlite3", URL: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// NewRunner returns a unit-of-work runner over a fresh sqlite database.
func NewRunner(t *testing.T) (*storage.Storage, *storage.Runner) {
	t.Helper()
	s := NewStorage(t)
	pool := worker.NewPool("store", 2)
	t.Cleanup(pool.Wait)
	return s, storage.NewRunner(s, pool)
}

// SeedPending inserts a placeholder for owner carrying token.
func SeedPending(t *testing.T, r *storage.Runner, token string, owner models.Owner) *models.PendingPhoto {
	t.Helper()
	p := &models.PendingPhoto{
		Token:     token,
		Owner:     owner,
		Requester: "https://openid.example/editor",
		CreatedAt: Epoch,
	}
	require.NoError(t, r.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		return storage.CreatePendingPhoto(ctx, tx, p)
	}))
	return p
}

// CountRows reports the number of rows in table.
func CountRows(t *testing.T, s *storage.Storage, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

// Photo loads a photo row, failing the test when absent.
func Photo(t *testing.T, r *storage.Runner, id int64) *models.Photo {
	t.Helper()
	var photo *models.Photo
	require.NoError(t, r.Run(context.Background(), func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		photo, err = storage.GetPhoto(ctx, tx, id)
		return err
	}))
	return photo
}
