package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/nfcverify/internal/db"
)

var ErrNotFound = errors.New("repository: not found")

type APIKeyRepository interface {
	// GetByHash returns the key whatever its state; callers check IsActive.
	GetByHash(ctx context.Context, keyHash string) (*db.APIKey, error)
	CreateAPIKey(ctx context.Context, apiKey *db.APIKey) error
	// Revoke deactivates the key and returns the updated record.
	Revoke(ctx context.Context, id string) (*db.APIKey, error)
}

type TagRepository interface {
	GetTag(ctx context.Context, tagID string) (*db.TagRecord, error)
	// RecordVerification creates the tag with a count of one or increments
	// its counter, atomically.
	RecordVerification(ctx context.Context, tagID string, at time.Time) error
	UpdateTagConfig(ctx context.Context, tagID string, cfg db.TagConfig, at time.Time) (*db.TagRecord, error)
	// GetRedirectURL only considers active tags with a configured URL.
	GetRedirectURL(ctx context.Context, tagID string) (string, error)
}

type VerificationRepository interface {
	LogVerification(ctx context.Context, record *db.VerificationRecord) error
}

// Store is everything a backing database provides.
type Store interface {
	APIKeyRepository
	TagRepository
	VerificationRepository
	Ping(ctx context.Context) error
	Close() error
}
