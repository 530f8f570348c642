// Package postgres is the production Store backed by PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct{ pool *pgxpool.Pool }

func New(ctx context.Context, dsn string) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pcfg.MaxConns < 4 {
		pcfg.MaxConns = 4
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies embedded migrations that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("parse version from %s: %w", name, err)
		}

		var applied bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if applied {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

const apiKeyColumns = `id::text, name, key_hash, prefix, is_active, created_at, updated_at, expires_at`

func scanAPIKey(row pgx.Row) (*db.APIKey, error) {
	var k db.APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.IsActive, &k.CreatedAt, &k.UpdatedAt, &k.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) GetByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	return scanAPIKey(s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
}

func (s *Store) CreateAPIKey(ctx context.Context, k *db.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash, prefix, is_active, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, k.IsActive, k.CreatedAt, k.UpdatedAt, k.ExpiresAt)
	return err
}

func (s *Store) Revoke(ctx context.Context, id string) (*db.APIKey, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return scanAPIKey(s.pool.QueryRow(ctx, `
		UPDATE api_keys SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+apiKeyColumns, id))
}

const tagColumns = `tag_id, first_verified_at, last_verified_at, verification_count, redirect_url, is_active, updated_at`

func scanTag(row pgx.Row) (*db.TagRecord, error) {
	var t db.TagRecord
	err := row.Scan(&t.TagID, &t.FirstVerifiedAt, &t.LastVerifiedAt, &t.VerificationCount, &t.RedirectURL, &t.IsActive, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTag(ctx context.Context, tagID string) (*db.TagRecord, error) {
	return scanTag(s.pool.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE tag_id = $1`, tagID))
}

func (s *Store) RecordVerification(ctx context.Context, tagID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tags (tag_id, first_verified_at, last_verified_at, verification_count, is_active, updated_at)
		VALUES ($1, $2, $2, 1, TRUE, $2)
		ON CONFLICT (tag_id)
		DO UPDATE SET verification_count = tags.verification_count + 1,
		              last_verified_at = EXCLUDED.last_verified_at`,
		tagID, at)
	return err
}

func (s *Store) UpdateTagConfig(ctx context.Context, tagID string, cfg db.TagConfig, at time.Time) (*db.TagRecord, error) {
	return scanTag(s.pool.QueryRow(ctx, `
		UPDATE tags SET
			redirect_url = COALESCE($2, redirect_url),
			is_active = COALESCE($3, is_active),
			updated_at = $4
		WHERE tag_id = $1
		RETURNING `+tagColumns,
		tagID, cfg.RedirectURL, cfg.IsActive, at))
}

func (s *Store) GetRedirectURL(ctx context.Context, tagID string) (string, error) {
	var u string
	err := s.pool.QueryRow(ctx, `
		SELECT redirect_url FROM tags
		WHERE tag_id = $1 AND is_active AND redirect_url IS NOT NULL AND redirect_url <> ''`, tagID).Scan(&u)
	if errors.Is(err, pgx.ErrNoRows) {
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
	var geo []byte
	if rec.GeoLocation != nil {
		if geo, err = json.Marshal(rec.GeoLocation); err != nil {
			return err
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verifications (id, tag_id, success, metadata, ip_address, user_agent, geolocation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.TagID, rec.Success, metadata, rec.IPAddress, rec.UserAgent, geo, rec.CreatedAt)
	return err
}

var _ repository.Store = (*Store)(nil)
