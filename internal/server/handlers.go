package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/audit"
	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/logging"
	"github.com/raakeshmj/nfcverify/internal/middleware"
	"github.com/raakeshmj/nfcverify/internal/receipt"
	"github.com/raakeshmj/nfcverify/internal/validation"
)

var (
	errRouteNotFound   = apperr.NotFound("NOT_FOUND", "The requested resource was not found")
	errMissingTagID    = apperr.Validation("MISSING_TAG_ID", "Tag ID is required")
	errMissingKeyID    = apperr.Validation("MISSING_ID", "API key ID is required")
	errMissingReceipt  = apperr.Validation("MISSING_RECEIPT", "A receipt token is required")
	errReceiptDisabled = apperr.NotFound("RECEIPTS_DISABLED", "Verification receipts are not enabled")
)

const readyTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"timestamp":   timestamp(),
		"version":     Version,
		"environment": s.cfg.Env,
	})
}

// handleReady reports whether the store and cache answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"store": "ok", "cache": "ok"}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store unavailable", zap.Error(err))
		checks["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := s.cache.Ping(ctx); err != nil {
		s.logger.Warn("readiness: cache unavailable", zap.Error(err))
		checks["cache"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"success":   status == http.StatusOK,
		"checks":    checks,
		"timestamp": timestamp(),
	})
}

type verifyResponse struct {
	TagID       string                  `json:"tagId"`
	IsValid     bool                    `json:"isValid"`
	Metadata    db.VerificationMetadata `json:"metadata"`
	VerifiedAt  string                  `json:"verifiedAt"`
	RedirectURL string                  `json:"redirectUrl,omitempty"`
	Receipt     string                  `json:"receipt,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, validation.ErrInvalidFormat)
		return
	}

	msg, err := validation.ValidateSumMessage(body["sumMessage"])
	if err != nil {
		s.logger.Warn("invalid sum message format", logging.Path(r.URL.Path))
		s.writeError(w, r, err)
		return
	}

	var geo *db.GeoLocation
	if raw, present := body["geoLocation"]; present && raw != nil {
		if geo, err = validation.ValidateGeoLocation(raw); err != nil {
			s.logger.Warn("invalid geolocation format", logging.Path(r.URL.Path))
			s.writeError(w, r, err)
			return
		}
	}

	userAgent := r.UserAgent()
	if userAgent == "" {
		userAgent = "Unknown"
	}

	result, err := s.verifier.Verify(r.Context(), msg, clientIP(r), userAgent, geo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := verifyResponse{
		TagID:       result.TagID,
		IsValid:     result.IsValid,
		Metadata:    result.Metadata,
		VerifiedAt:  result.Timestamp.UTC().Format(time.RFC3339Nano),
		RedirectURL: result.EffectiveRedirectURL(),
	}
	if s.signer != nil {
		token, err := s.signer.Issue(result)
		if err != nil {
			s.logger.Error("failed to issue receipt", logging.TagID(result.TagID), zap.Error(err))
		} else {
			resp.Receipt = token
		}
	}

	s.respond(w, http.StatusOK, resp, "NFC tag successfully verified")
}

func (s *Server) handleTagStats(w http.ResponseWriter, r *http.Request) {
	tagID := strings.TrimSpace(chi.URLParam(r, "tagId"))
	if tagID == "" {
		s.writeError(w, r, errMissingTagID)
		return
	}

	record, err := s.verifier.GetTagStatistics(r.Context(), tagID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, record, "")
}

func (s *Server) handleTagConfig(w http.ResponseWriter, r *http.Request) {
	tagID := strings.TrimSpace(chi.URLParam(r, "tagId"))
	if tagID == "" {
		s.writeError(w, r, errMissingTagID)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := validation.ValidateTagConfig(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.verifier.UpdateTagConfiguration(r.Context(), tagID, cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	meta := map[string]interface{}{}
	if cfg.RedirectURL != nil {
		meta["redirect_url"] = *cfg.RedirectURL
	}
	if cfg.IsActive != nil {
		meta["is_active"] = *cfg.IsActive
	}
	s.recordAudit(r, audit.ActionTagConfig, "tag:"+tagID, http.StatusOK, meta)

	s.respond(w, http.StatusOK, record, "Tag configuration updated successfully")
}

type receiptResponse struct {
	TagID      string    `json:"tagId"`
	IsValid    bool      `json:"isValid"`
	VerifiedAt time.Time `json:"verifiedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s *Server) handleReceiptVerify(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		s.writeError(w, r, errReceiptDisabled)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, _ := body["receipt"].(string)
	if token == "" {
		s.writeError(w, r, errMissingReceipt)
		return
	}

	claims, err := s.signer.Verify(token)
	switch {
	case errors.Is(err, receipt.ErrExpiredReceipt):
		s.writeError(w, r, apperr.VerificationFailed("Receipt has expired", err))
		return
	case err != nil:
		s.writeError(w, r, apperr.VerificationFailed("Receipt is not valid", err))
		return
	}

	resp := receiptResponse{
		TagID:      claims.TagID,
		IsValid:    claims.IsValid,
		VerifiedAt: claims.VerifiedAt,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	s.respond(w, http.StatusOK, resp, "Receipt is valid")
}

type createKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name, expiresAt, err := validation.ValidateKeyRequest(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	apiKey, rawKey, err := s.keys.CreateAPIKey(r.Context(), name, expiresAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Don't log the key itself!
	s.recordAudit(r, audit.ActionKeyCreate, "apikey:"+apiKey.ID, http.StatusCreated, map[string]interface{}{
		"key_name": name,
		"prefix":   apiKey.Prefix,
	})

	s.respond(w, http.StatusCreated, createKeyResponse{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		Prefix:    apiKey.Prefix,
		ExpiresAt: apiKey.ExpiresAt,
	}, "API key created successfully. Store this key securely as it won't be shown again.")
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, r, errMissingKeyID)
		return
	}

	if _, err := s.keys.RevokeAPIKey(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordAudit(r, audit.ActionKeyRevoke, "apikey:"+id, http.StatusOK, nil)
	s.respond(w, http.StatusOK, nil, "API key revoked successfully")
}

func (s *Server) recordAudit(r *http.Request, action, resource string, status int, meta map[string]interface{}) {
	entry := audit.LogEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Resource:  resource,
		Status:    status,
		Metadata:  meta,
	}
	if k, ok := middleware.APIKeyFromContext(r.Context()); ok {
		entry.ActorID = k.ID
	}
	s.audit.Log(entry)
}

// clientIP strips the port chi's RealIP leaves on RemoteAddr when no proxy
// header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
