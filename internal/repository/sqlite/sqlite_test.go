package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"schema_migrations", "api_keys", "tags", "verifications"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	// reopening must not re-run migrations
	require.NoError(t, applyMigrations(s.db))
}

func TestStore_RecordVerification(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordVerification(ctx, "ntag424-aa", t0))
	require.NoError(t, s.RecordVerification(ctx, "ntag424-aa", t0.Add(time.Minute)))

	tag, err := s.GetTag(ctx, "ntag424-aa")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tag.VerificationCount)
	assert.True(t, tag.FirstVerifiedAt.Equal(t0))
	assert.True(t, tag.LastVerifiedAt.Equal(t0.Add(time.Minute)))
	assert.True(t, tag.IsActive)
	assert.Nil(t, tag.RedirectURL)

	_, err = s.GetTag(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordVerification(ctx, "t", time.Now()))
		}()
	}
	wg.Wait()

	tag, err := s.GetTag(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, int64(20), tag.VerificationCount)
}

func TestStore_TagConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.UpdateTagConfig(ctx, "missing", db.TagConfig{}, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.RecordVerification(ctx, "t", now))

	u := "https://example.com/landing"
	tag, err := s.UpdateTagConfig(ctx, "t", db.TagConfig{RedirectURL: &u}, now)
	require.NoError(t, err)
	require.NotNil(t, tag.RedirectURL)
	assert.Equal(t, u, *tag.RedirectURL)
	assert.True(t, tag.IsActive)

	got, err := s.GetRedirectURL(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	off := false
	tag, err = s.UpdateTagConfig(ctx, "t", db.TagConfig{IsActive: &off}, now)
	require.NoError(t, err)
	assert.False(t, tag.IsActive)
	assert.Equal(t, u, *tag.RedirectURL, "untouched fields are preserved")

	_, err = s.GetRedirectURL(ctx, "t")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_APIKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	exp := now.Add(time.Hour)

	k := &db.APIKey{Name: "ci", KeyHash: "hash", Prefix: "nfc_ab", IsActive: true, CreatedAt: now, UpdatedAt: now, ExpiresAt: &exp}
	require.NoError(t, s.CreateAPIKey(ctx, k))
	require.NotEmpty(t, k.ID)

	got, err := s.GetByHash(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))

	revoked, err := s.Revoke(ctx, k.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	_, err = s.Revoke(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.GetByHash(ctx, "other")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_LogVerification(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &db.VerificationRecord{
		TagID:       "t",
		Success:     false,
		IPAddress:   "10.0.0.1",
		UserAgent:   "test",
		GeoLocation: &db.GeoLocation{Latitude: 1, Longitude: 2},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.LogVerification(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	n, err := s.CountVerifications(ctx, "t", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
