package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/cache"
	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/metrics"
	"github.com/raakeshmj/nfcverify/internal/repository/memory"
	"github.com/raakeshmj/nfcverify/internal/sdm"
)

type stubBackend struct {
	calls atomic.Int32
	reply *sdm.Reply
	err   error
}

func (b *stubBackend) Verify(ctx context.Context, msg db.SumMessage) (*sdm.Reply, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	r := *b.reply
	return &r, nil
}

func newVerificationService(t *testing.T, backend Backend, repo *memory.MemoryRepository) *VerificationService {
	t.Helper()
	return NewVerificationService(backend, repo, repo, cache.NewMemoryCache(), 5*time.Minute,
		metrics.NewCollector(prometheus.NewRegistry()), zaptest.NewLogger(t))
}

const scanURL = "https://adaki.me/v?picc=E2347894F792312B&cmac=D3A2910582F48A15"

func TestVerificationService_RepeatWithinTTL(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()
	msg := db.SumMessage{Type: "tag", Data: scanURL}

	first, err := svc.Verify(ctx, msg, "10.0.0.1", "ua", nil)
	require.NoError(t, err)
	assert.True(t, first.IsValid)
	assert.Equal(t, "ntag424-e2347894", first.TagID)
	assert.Equal(t, string(sdm.TagTypeStandard), first.Metadata.TagType)
	assert.Equal(t, sdm.ScanMethodURL, first.Metadata.ScanMethod)

	second, err := svc.Verify(ctx, msg, "10.0.0.1", "ua", nil)
	require.NoError(t, err)
	assert.Equal(t, first.TagID, second.TagID)

	assert.Equal(t, int32(1), backend.calls.Load())

	rows := repo.Verifications()
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Success)
	assert.True(t, rows[1].Success)

	tag, err := repo.GetTag(ctx, "ntag424-e2347894")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tag.VerificationCount)
}

func TestVerificationService_DifferentMessageMissesCache(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()

	_, err := svc.Verify(ctx, db.SumMessage{Type: "tag", Data: "picc=E2347894F792312B&cmac=AAAA"}, "", "", nil)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, db.SumMessage{Type: "tag", Data: "picc=E2347894F792312B&cmac=BBBB"}, "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestVerificationService_URLAndQueryShareCacheEntry(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()

	_, err := svc.Verify(ctx, db.SumMessage{Type: "tag", Data: scanURL}, "", "", nil)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, db.SumMessage{Type: "tag", Data: "picc=E2347894F792312B&cmac=D3A2910582F48A15"}, "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestVerificationService_BackendTagIDWins(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true, TagID: "backend-tag"}}
	svc := newVerificationService(t, backend, repo)

	res, err := svc.Verify(context.Background(), db.SumMessage{Type: "tag", Data: "picc=AA11BB22&cmac=CC"}, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "backend-tag", res.TagID)
}

func TestVerificationService_NoTagID(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)

	_, err := svc.Verify(context.Background(), db.SumMessage{Type: "tag", Data: "cmac=CC"}, "", "", nil)
	var ve *apperr.VerificationError
	require.True(t, errors.As(err, &ve))

	rows := repo.Verifications()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, unknownTagID, rows[0].TagID)
}

func TestVerificationService_RedirectAndGeo(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()
	geo := &db.GeoLocation{Latitude: 40.7128, Longitude: -74.006}

	require.NoError(t, repo.RecordVerification(ctx, "ntag424-e2347894", time.Now()))
	u := "https://example.com/landing"
	_, err := repo.UpdateTagConfig(ctx, "ntag424-e2347894", db.TagConfig{RedirectURL: &u}, time.Now())
	require.NoError(t, err)

	res, err := svc.Verify(ctx, db.SumMessage{Type: "tag", Data: scanURL}, "", "", geo)
	require.NoError(t, err)
	assert.Equal(t, u, res.EffectiveRedirectURL())
	assert.Equal(t, geo, res.Metadata.GeoLocation)

	rows := repo.Verifications()
	require.Len(t, rows, 1)
	assert.Equal(t, geo, rows[0].GeoLocation)
}

func TestVerificationService_BackendRedirectKept(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true, RedirectURL: "https://backend.example"}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()

	require.NoError(t, repo.RecordVerification(ctx, "ntag424-e2347894", time.Now()))
	u := "https://stored.example"
	_, err := repo.UpdateTagConfig(ctx, "ntag424-e2347894", db.TagConfig{RedirectURL: &u}, time.Now())
	require.NoError(t, err)

	res, err := svc.Verify(ctx, db.SumMessage{Type: "tag", Data: scanURL}, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example", res.EffectiveRedirectURL())
}

func TestVerificationService_InvalidCMACIsAudited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid CMAC"))
	}))
	defer srv.Close()

	repo := memory.New()
	client := sdm.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	svc := newVerificationService(t, client, repo)

	_, err := svc.Verify(context.Background(), db.SumMessage{Type: "tag", Data: "picc=E2347894F792312B&cmac=0000"}, "10.0.0.2", "ua", nil)
	require.Error(t, err)
	c := apperr.Classify(err)
	assert.Equal(t, http.StatusUnauthorized, c.Status)
	assert.Equal(t, "VERIFICATION_FAILED", c.Code)

	rows := repo.Verifications()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, "ntag424-e2347894", rows[0].TagID)
	assert.Equal(t, "10.0.0.2", rows[0].IPAddress)

	_, err = repo.GetTag(context.Background(), "ntag424-e2347894")
	assert.Error(t, err, "failed verifications never create tag records")
}

func TestVerificationService_FailuresAreNotCached(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{err: apperr.ServiceUnavailable(errors.New("dial tcp: refused"))}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()
	msg := db.SumMessage{Type: "tag", Data: scanURL}

	_, err := svc.Verify(ctx, msg, "", "", nil)
	require.Error(t, err)

	backend.err = nil
	backend.reply = &sdm.Reply{Success: true}
	_, err = svc.Verify(ctx, msg, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestVerificationService_CancelledRequestStillAudits(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Verify(ctx, db.SumMessage{Type: "tag", Data: scanURL}, "", "", nil)
	require.NoError(t, err)
	cancel()

	_, err = svc.Verify(ctx, db.SumMessage{Type: "tag", Data: scanURL}, "", "", nil)
	require.NoError(t, err, "cached hit needs no backend call")
	assert.Len(t, repo.Verifications(), 2)
}

func TestVerificationService_TagStatisticsAndConfig(t *testing.T) {
	repo := memory.New()
	svc := newVerificationService(t, &stubBackend{}, repo)
	ctx := context.Background()

	_, err := svc.GetTagStatistics(ctx, "missing")
	assert.Equal(t, "TAG_NOT_FOUND", apperr.Classify(err).Code)

	active := false
	_, err = svc.UpdateTagConfiguration(ctx, "missing", db.TagConfig{IsActive: &active})
	assert.Equal(t, "TAG_NOT_FOUND", apperr.Classify(err).Code)

	require.NoError(t, repo.RecordVerification(ctx, "t", time.Now()))
	tag, err := svc.UpdateTagConfiguration(ctx, "t", db.TagConfig{IsActive: &active})
	require.NoError(t, err)
	assert.False(t, tag.IsActive)

	tag, err = svc.GetTagStatistics(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.VerificationCount)
}

func TestVerificationService_DifferentSignatureMissesCache(t *testing.T) {
	repo := memory.New()
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}
	svc := newVerificationService(t, backend, repo)
	ctx := context.Background()
	data := "picc=E2347894F792312B&enc=AA"

	_, err := svc.Verify(ctx, db.SumMessage{Type: "query", Data: data, Signature: "D3A2910582F48A15"}, "", "ua", nil)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, db.SumMessage{Type: "query", Data: data, Signature: "0000000000000000"}, "", "ua", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), backend.calls.Load())
}

// brokenRepo fails every bookkeeping write and redirect lookup.
type brokenRepo struct {
	*memory.MemoryRepository
}

var errRepoDown = errors.New("connection reset by peer")

func (brokenRepo) LogVerification(context.Context, *db.VerificationRecord) error {
	return errRepoDown
}

func (brokenRepo) RecordVerification(context.Context, string, time.Time) error {
	return errRepoDown
}

func (brokenRepo) GetRedirectURL(context.Context, string) (string, error) {
	return "", errRepoDown
}

func TestVerificationService_BookkeepingFailuresAreSwallowed(t *testing.T) {
	repo := brokenRepo{memory.New()}
	backend := &stubBackend{reply: &sdm.Reply{Success: true}}

	core, logs := observer.New(zap.WarnLevel)
	svc := NewVerificationService(backend, repo, repo, cache.NewMemoryCache(), 5*time.Minute,
		metrics.NewCollector(prometheus.NewRegistry()), zap.New(core))

	result, err := svc.Verify(context.Background(), db.SumMessage{Type: "tag", Data: scanURL}, "10.0.0.9", "ua", nil)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "ntag424-e2347894", result.TagID)
	assert.Empty(t, result.RedirectURL)

	assert.Equal(t, 1, logs.FilterMessage("failed to log verification").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to update tag record").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to look up redirect url").Len())
}

func TestVerificationService_BackendTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	repo := memory.New()
	client := sdm.NewClient(srv.URL, 50*time.Millisecond, nil, zap.NewNop())
	svc := newVerificationService(t, client, repo)

	_, err := svc.Verify(context.Background(), db.SumMessage{Type: "tag", Data: scanURL}, "", "", nil)
	var ve *apperr.VerificationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Unavailable)

	rows := repo.Verifications()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
}
