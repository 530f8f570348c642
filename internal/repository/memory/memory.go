package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/repository"
)

type MemoryRepository struct {
	apiKeys       map[string]*db.APIKey // Map keyHash -> APIKey
	tags          map[string]*db.TagRecord
	verifications []db.VerificationRecord
	mu            sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		apiKeys: make(map[string]*db.APIKey),
		tags:    make(map[string]*db.TagRecord),
	}
}

// APIKey Repo Implementation
func (r *MemoryRepository) GetByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.apiKeys[keyHash]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) CreateAPIKey(ctx context.Context, apiKey *db.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if apiKey.ID == "" {
		apiKey.ID = uuid.NewString()
	}
	cp := *apiKey
	r.apiKeys[apiKey.KeyHash] = &cp
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string) (*db.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.apiKeys {
		if k.ID == id {
			k.IsActive = false
			k.UpdatedAt = time.Now().UTC()
			cp := *k
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Tag Repo Implementation
func (r *MemoryRepository) GetTag(ctx context.Context, tagID string) (*db.TagRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tags[tagID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) RecordVerification(ctx context.Context, tagID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tags[tagID]; ok {
		t.VerificationCount++
		t.LastVerifiedAt = at
		return nil
	}
	r.tags[tagID] = &db.TagRecord{
		TagID:             tagID,
		FirstVerifiedAt:   at,
		LastVerifiedAt:    at,
		VerificationCount: 1,
		IsActive:          true,
		UpdatedAt:         at,
	}
	return nil
}

func (r *MemoryRepository) UpdateTagConfig(ctx context.Context, tagID string, cfg db.TagConfig, at time.Time) (*db.TagRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[tagID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cfg.RedirectURL != nil {
		u := *cfg.RedirectURL
		t.RedirectURL = &u
	}
	if cfg.IsActive != nil {
		t.IsActive = *cfg.IsActive
	}
	t.UpdatedAt = at
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) GetRedirectURL(ctx context.Context, tagID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tags[tagID]
	if !ok || !t.IsActive || t.RedirectURL == nil || *t.RedirectURL == "" {
		return "", repository.ErrNotFound
	}
	return *t.RedirectURL, nil
}

// Verification Repo Implementation
func (r *MemoryRepository) LogVerification(ctx context.Context, record *db.VerificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.verifications = append(r.verifications, *record)
	return nil
}

// Verifications returns a copy of the audit trail, oldest first.
func (r *MemoryRepository) Verifications() []db.VerificationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]db.VerificationRecord, len(r.verifications))
	copy(out, r.verifications)
	return out
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

// Interface check
var _ repository.Store = (*MemoryRepository)(nil)
