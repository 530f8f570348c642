package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/cache"
	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/logging"
	"github.com/raakeshmj/nfcverify/internal/metrics"
	"github.com/raakeshmj/nfcverify/internal/repository"
	"github.com/raakeshmj/nfcverify/internal/sdm"
)

const (
	verificationCachePrefix = "verify:"
	unknownTagID            = "unknown-tag"
	bookkeepingTimeout      = 5 * time.Second
)

// Backend verifies a normalized SUM message.
type Backend interface {
	Verify(ctx context.Context, msg db.SumMessage) (*sdm.Reply, error)
}

type VerificationService struct {
	backend  Backend
	tags     repository.TagRepository
	logs     repository.VerificationRepository
	cache    cache.Client
	cacheTTL time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

func NewVerificationService(
	backend Backend,
	tags repository.TagRepository,
	logs repository.VerificationRepository,
	c cache.Client,
	cacheTTL time.Duration,
	m *metrics.Collector,
	logger *zap.Logger,
) *VerificationService {
	return &VerificationService{
		backend:  backend,
		tags:     tags,
		logs:     logs,
		cache:    c,
		cacheTTL: cacheTTL,
		metrics:  m,
		logger:   logger.With(logging.Component("verification")),
		now:      time.Now,
	}
}

// scan is everything derived locally from one SUM message.
type scan struct {
	msg        db.SumMessage
	tagType    sdm.TagType
	scanMethod string
	derivedID  string
}

func (s *VerificationService) inspect(msg db.SumMessage) scan {
	normalized := sdm.Preprocess(msg, s.logger)
	params := sdm.ParseParameters(normalized.Data)
	tagType := sdm.DetermineTagType(params)
	derivedID, _ := sdm.ExtractTagID(params, tagType)
	return scan{
		msg:        normalized,
		tagType:    tagType,
		scanMethod: sdm.ScanMethod(msg.Data),
		derivedID:  derivedID,
	}
}

// cacheKey binds a cached result to the exact message and signature, so a
// reused tag id with a different (forged) cmac never hits another scan's result.
func (sc scan) cacheKey() string {
	id := sc.derivedID
	if id == "" {
		id = "msg"
	}
	sum := sha256.Sum256([]byte(sc.msg.Data + "\x00" + sc.msg.Signature))
	return verificationCachePrefix + id + ":" + hex.EncodeToString(sum[:16])
}

// Verify checks one scan. A cached valid result skips only the backend call;
// the attempt is always audited and valid scans always bump the tag counter.
func (s *VerificationService) Verify(ctx context.Context, msg db.SumMessage, ipAddress, userAgent string, geo *db.GeoLocation) (*db.VerificationResult, error) {
	sc := s.inspect(msg)
	key := sc.cacheKey()

	source := metrics.SourceCache
	result, err := s.cached(ctx, key)
	if err != nil {
		source = metrics.SourceBackend
		// In-flight backend checks complete even if the client disconnects.
		result, err = s.callBackend(context.WithoutCancel(ctx), sc)
	}

	// Bookkeeping outlives the caller's connection.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err != nil {
		s.recordFailure(bctx, sc, err, ipAddress, userAgent, geo)
		return nil, err
	}

	result.Metadata.GeoLocation = geo
	s.audit(bctx, result.TagID, true, result.Metadata, ipAddress, userAgent, geo)

	if err := s.tags.RecordVerification(bctx, result.TagID, s.now().UTC()); err != nil {
		s.logger.Error("failed to update tag record", logging.TagID(result.TagID), zap.Error(err))
	}

	if result.EffectiveRedirectURL() == "" {
		u, err := s.tags.GetRedirectURL(bctx, result.TagID)
		switch {
		case err == nil:
			result.RedirectURL = u
			result.Metadata.RedirectURL = u
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Warn("failed to look up redirect url", logging.TagID(result.TagID), zap.Error(err))
		}
	}

	if source == metrics.SourceBackend {
		if err := cache.SetJSON(bctx, s.cache, key, result, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache verification result", logging.TagID(result.TagID), zap.Error(err))
		}
	}

	s.metrics.Verification(metrics.OutcomeValid, source)
	s.logger.Info("tag verified", logging.TagID(result.TagID), zap.String("source", source))
	return result, nil
}

func (s *VerificationService) cached(ctx context.Context, key string) (*db.VerificationResult, error) {
	var result db.VerificationResult
	err := cache.GetJSON(ctx, s.cache, key, &result)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("verification cache unavailable", zap.Error(err))
		}
		return nil, err
	}
	if !result.IsValid {
		return nil, cache.ErrNotFound
	}
	return &result, nil
}

func (s *VerificationService) callBackend(ctx context.Context, sc scan) (*db.VerificationResult, error) {
	reply, err := s.backend.Verify(ctx, sc.msg)
	if err != nil {
		return nil, err
	}
	if reply == nil || !reply.Success {
		return nil, apperr.VerificationFailed("Tag verification failed", nil)
	}

	tagID := reply.TagID
	if tagID == "" {
		tagID = sc.derivedID
	}
	if tagID == "" {
		return nil, apperr.VerificationFailed("Tag verification failed", errors.New("no tag identifier in reply or message"))
	}

	md := reply.Metadata
	md.TagType = string(sc.tagType)
	md.ScanMethod = sc.scanMethod
	if reply.RedirectURL != "" {
		md.RedirectURL = reply.RedirectURL
	}

	return &db.VerificationResult{
		IsValid:     true,
		TagID:       tagID,
		Timestamp:   s.now().UTC(),
		Metadata:    md,
		RedirectURL: reply.RedirectURL,
	}, nil
}

func (s *VerificationService) recordFailure(ctx context.Context, sc scan, err error, ipAddress, userAgent string, geo *db.GeoLocation) {
	tagID := sc.derivedID
	if tagID == "" {
		tagID = unknownTagID
	}

	outcome := metrics.OutcomeError
	var ve *apperr.VerificationError
	if errors.As(err, &ve) {
		outcome = metrics.OutcomeRejected
		if ve.Unavailable {
			outcome = metrics.OutcomeUnavailable
		}
	}
	s.metrics.Verification(outcome, metrics.SourceBackend)
	s.logger.Warn("tag verification failed", logging.TagID(tagID), zap.String("outcome", outcome), zap.Error(err))

	md := db.VerificationMetadata{
		TagType:     string(sc.tagType),
		ScanMethod:  sc.scanMethod,
		GeoLocation: geo,
	}
	s.audit(ctx, tagID, false, md, ipAddress, userAgent, geo)
}

func (s *VerificationService) audit(ctx context.Context, tagID string, success bool, md db.VerificationMetadata, ipAddress, userAgent string, geo *db.GeoLocation) {
	rec := &db.VerificationRecord{
		TagID:       tagID,
		Success:     success,
		Metadata:    md,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		GeoLocation: geo,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.logs.LogVerification(ctx, rec); err != nil {
		s.logger.Error("failed to log verification", logging.TagID(tagID), zap.Bool("success", success), zap.Error(err))
	}
}

func (s *VerificationService) GetTagStatistics(ctx context.Context, tagID string) (*db.TagRecord, error) {
	tag, err := s.tags.GetTag(ctx, tagID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("TAG_NOT_FOUND", "Tag not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return tag, nil
}

func (s *VerificationService) UpdateTagConfiguration(ctx context.Context, tagID string, cfg db.TagConfig) (*db.TagRecord, error) {
	tag, err := s.tags.UpdateTagConfig(ctx, tagID, cfg, s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("TAG_NOT_FOUND", "Tag not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update tag config: %w", err)
	}
	s.logger.Info("tag configuration updated", logging.TagID(tagID),
		zap.Bool("has_redirect_url", tag.RedirectURL != nil), zap.Bool("is_active", tag.IsActive))
	return tag, nil
}
