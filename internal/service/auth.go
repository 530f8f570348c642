package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/auth"
	"github.com/raakeshmj/nfcverify/internal/cache"
	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/logging"
	"github.com/raakeshmj/nfcverify/internal/metrics"
	"github.com/raakeshmj/nfcverify/internal/repository"
)

const apiKeyCachePrefix = "apikey:"

// errLookupMiss moves a key lookup on to the next source.
var errLookupMiss = errors.New("lookup miss")

type keySource struct {
	name   string
	lookup func(ctx context.Context, keyHash string) (*db.APIKey, error)
}

// KeyService authenticates, issues and revokes API keys.
type KeyService struct {
	apiKeyRepo repository.APIKeyRepository
	cache      cache.Client
	cacheTTL   time.Duration
	metrics    *metrics.Collector
	logger     *zap.Logger
	group      singleflight.Group
	now        func() time.Time
}

func NewKeyService(k repository.APIKeyRepository, c cache.Client, ttl time.Duration, m *metrics.Collector, logger *zap.Logger) *KeyService {
	return &KeyService{
		apiKeyRepo: k,
		cache:      c,
		cacheTTL:   ttl,
		metrics:    m,
		logger:     logger.With(logging.Component("keys")),
		now:        time.Now,
	}
}

// Authenticate resolves a raw key to its record. Sources are tried in order:
// the cache first, where a miss or a cache failure moves on, then the store,
// whose errors are returned. Only keys that pass every check are cached.
func (s *KeyService) Authenticate(ctx context.Context, rawKey string) (*db.APIKey, error) {
	if rawKey == "" {
		return nil, s.reject(apperr.ReasonMissing, rawKey)
	}
	if len(rawKey) < auth.MinKeyLength {
		return nil, s.reject(apperr.ReasonInvalidFormat, rawKey)
	}

	hashed := auth.HashAPIKey(rawKey)
	sources := []keySource{
		{name: metrics.SourceCache, lookup: s.fromCache},
		{name: metrics.SourceStore, lookup: s.fromStore},
	}

	var (
		apiKey *db.APIKey
		source string
	)
	for _, src := range sources {
		k, err := src.lookup(ctx, hashed)
		if errors.Is(err, errLookupMiss) {
			continue
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.reject(apperr.ReasonInvalid, rawKey)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup api key: %w", err)
		}
		apiKey, source = k, src.name
		break
	}
	if apiKey == nil {
		return nil, s.reject(apperr.ReasonInvalid, rawKey)
	}

	if !apiKey.IsActive {
		return nil, s.reject(apperr.ReasonInvalid, rawKey)
	}
	if apiKey.Expired(s.now()) {
		s.logger.Warn("api key has expired", logging.KeyID(apiKey.ID))
		return nil, s.reject(apperr.ReasonExpired, rawKey)
	}

	s.metrics.KeyLookup(source)
	if source != metrics.SourceCache {
		if err := cache.SetJSON(ctx, s.cache, apiKeyCachePrefix+hashed, apiKey, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache api key", logging.KeyID(apiKey.ID), zap.Error(err))
		}
	}
	return apiKey, nil
}

func (s *KeyService) fromCache(ctx context.Context, keyHash string) (*db.APIKey, error) {
	var k db.APIKey
	err := cache.GetJSON(ctx, s.cache, apiKeyCachePrefix+keyHash, &k)
	if err == nil {
		k.KeyHash = keyHash
		return &k, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("api key cache unavailable, falling back to store", zap.Error(err))
	}
	return nil, errLookupMiss
}

// fromStore coalesces concurrent lookups of the same key.
func (s *KeyService) fromStore(ctx context.Context, keyHash string) (*db.APIKey, error) {
	// The shared lookup must not fail every waiter when the first caller
	// goes away.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(keyHash, func() (interface{}, error) {
		return s.apiKeyRepo.GetByHash(lookupCtx, keyHash)
	})
	if err != nil {
		return nil, err
	}
	k := *v.(*db.APIKey)
	return &k, nil
}

func (s *KeyService) reject(reason apperr.AuthReason, rawKey string) error {
	s.metrics.AuthFailure(string(reason))
	s.logger.Debug("api key rejected", zap.String("reason", string(reason)), logging.MaskedKey(rawKey))
	return apperr.Authentication(reason)
}

// CreateAPIKey issues a key. The raw key is returned once and never stored.
func (s *KeyService) CreateAPIKey(ctx context.Context, name string, expiresAt *time.Time) (*db.APIKey, string, error) {
	rawKey, keyHash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	apiKey := &db.APIKey{
		Name:      name,
		KeyHash:   keyHash,
		Prefix:    prefix,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := s.apiKeyRepo.CreateAPIKey(ctx, apiKey); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("api key created", logging.KeyID(apiKey.ID), zap.String("name", name))
	return apiKey, rawKey, nil
}

// RevokeAPIKey deactivates a key and drops it from the cache so it stops
// working immediately on this cache.
func (s *KeyService) RevokeAPIKey(ctx context.Context, id string) (*db.APIKey, error) {
	apiKey, err := s.apiKeyRepo.Revoke(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("NOT_FOUND", "API key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("revoke api key: %w", err)
	}

	if err := s.cache.Delete(ctx, apiKeyCachePrefix+apiKey.KeyHash); err != nil {
		s.logger.Warn("failed to evict revoked api key from cache", logging.KeyID(id), zap.Error(err))
	}
	s.logger.Info("api key revoked", logging.KeyID(id))
	return apiKey, nil
}
