// Package sqlite is a single-file Store for local development and small
// deployments. Timestamps are stored as Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct{ db *sql.DB }

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; pragmas below are per connection.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: conn}, nil
}

func applyMigrations(conn *sql.DB) error {
	_, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			migrations = append(migrations, e.Name())
		}
	}
	sort.Strings(migrations)

	for _, name := range migrations {
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("parse version from %s: %w", name, err)
		}

		var count int
		if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.ToSlash(filepath.Join("migrations", name)))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := conn.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := conn.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

const apiKeyColumns = `id, name, key_hash, prefix, is_active, created_at, updated_at, expires_at`

func scanAPIKey(row *sql.Row) (*db.APIKey, error) {
	var (
		k                db.APIKey
		created, updated int64
		expires          sql.NullInt64
	)
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.IsActive, &created, &updated, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.CreatedAt = fromMillis(created)
	k.UpdatedAt = fromMillis(updated)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		k.ExpiresAt = &t
	}
	return &k, nil
}

func (s *Store) GetByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash))
}

func (s *Store) CreateAPIKey(ctx context.Context, k *db.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	var expires sql.NullInt64
	if k.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: millis(*k.ExpiresAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, prefix, is_active, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, k.IsActive, millis(k.CreatedAt), millis(k.UpdatedAt), expires)
	return err
}

func (s *Store) Revoke(ctx context.Context, id string) (*db.APIKey, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0, updated_at = ? WHERE id = ?`,
		millis(time.Now()), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.ErrNotFound
	}
	return scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id))
}

const tagColumns = `tag_id, first_verified_at, last_verified_at, verification_count, redirect_url, is_active, updated_at`

func scanTag(row *sql.Row) (*db.TagRecord, error) {
	var (
		t                    db.TagRecord
		first, last, updated int64
		redirect             sql.NullString
	)
	err := row.Scan(&t.TagID, &first, &last, &t.VerificationCount, &redirect, &t.IsActive, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.FirstVerifiedAt = fromMillis(first)
	t.LastVerifiedAt = fromMillis(last)
	t.UpdatedAt = fromMillis(updated)
	if redirect.Valid {
		t.RedirectURL = &redirect.String
	}
	return &t, nil
}

func (s *Store) GetTag(ctx context.Context, tagID string) (*db.TagRecord, error) {
	return scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE tag_id = ?`, tagID))
}

func (s *Store) RecordVerification(ctx context.Context, tagID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (tag_id, first_verified_at, last_verified_at, verification_count, is_active, updated_at)
		VALUES (?, ?, ?, 1, 1, ?)
		ON CONFLICT (tag_id)
		DO UPDATE SET verification_count = verification_count + 1,
		              last_verified_at = excluded.last_verified_at`,
		tagID, millis(at), millis(at), millis(at))
	return err
}

func (s *Store) UpdateTagConfig(ctx context.Context, tagID string, cfg db.TagConfig, at time.Time) (*db.TagRecord, error) {
	var (
		redirect sql.NullString
		active   sql.NullBool
	)
	if cfg.RedirectURL != nil {
		redirect = sql.NullString{String: *cfg.RedirectURL, Valid: true}
	}
	if cfg.IsActive != nil {
		active = sql.NullBool{Bool: *cfg.IsActive, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tags SET
			redirect_url = COALESCE(?, redirect_url),
			is_active = COALESCE(?, is_active),
			updated_at = ?
		WHERE tag_id = ?`,
		redirect, active, millis(at), tagID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.ErrNotFound
	}
	return s.GetTag(ctx, tagID)
}

func (s *Store) GetRedirectURL(ctx context.Context, tagID string) (string, error) {
	var u string
	err := s.db.QueryRowContext(ctx, `
		SELECT redirect_url FROM tags
		WHERE tag_id = ? AND is_active = 1 AND redirect_url IS NOT NULL AND redirect_url <> ''`, tagID).Scan(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	return u, err
}

func (s *Store) LogVerification(ctx context.Context, rec *db.VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	var geo sql.NullString
	if rec.GeoLocation != nil {
		b, err := json.Marshal(rec.GeoLocation)
		if err != nil {
			return err
		}
		geo = sql.NullString{String: string(b), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, tag_id, success, metadata, ip_address, user_agent, geolocation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TagID, rec.Success, string(metadata), rec.IPAddress, rec.UserAgent, geo, millis(rec.CreatedAt))
	return err
}

// CountVerifications returns how many audit rows exist for a tag.
func (s *Store) CountVerifications(ctx context.Context, tagID string, success bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verifications WHERE tag_id = ? AND success = ?`, tagID, success).Scan(&n)
	return n, err
}

var _ repository.Store = (*Store)(nil)
