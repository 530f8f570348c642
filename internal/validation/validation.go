// Package validation checks request payloads at the HTTP boundary. Bodies are
// decoded into generic JSON values first so that wrong types can be told apart
// from missing fields.
package validation

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/auth"
	"github.com/raakeshmj/nfcverify/internal/db"
)

var (
	ErrInvalidFormat      = apperr.Validation("INVALID_FORMAT", "Invalid SUM message format")
	ErrInvalidGeoLocation = apperr.Validation("INVALID_GEOLOCATION", "Invalid geolocation format")
)

// ValidateSumMessage requires an object with non-empty string type and data,
// and a string signature when one is present.
func ValidateSumMessage(v any) (db.SumMessage, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return db.SumMessage{}, ErrInvalidFormat
	}

	typ, ok := obj["type"].(string)
	if !ok || typ == "" {
		return db.SumMessage{}, ErrInvalidFormat
	}
	data, ok := obj["data"].(string)
	if !ok || data == "" {
		return db.SumMessage{}, ErrInvalidFormat
	}

	msg := db.SumMessage{Type: typ, Data: data}
	if raw, present := obj["signature"]; present {
		sig, ok := raw.(string)
		if !ok {
			return db.SumMessage{}, ErrInvalidFormat
		}
		msg.Signature = sig
	}
	return msg, nil
}

// ValidateGeoLocation requires numeric latitude in [-90, 90] and longitude in
// [-180, 180].
func ValidateGeoLocation(v any) (*db.GeoLocation, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidGeoLocation
	}

	lat, ok := number(obj["latitude"])
	if !ok || lat < -90 || lat > 90 {
		return nil, ErrInvalidGeoLocation
	}
	lng, ok := number(obj["longitude"])
	if !ok || lng < -180 || lng > 180 {
		return nil, ErrInvalidGeoLocation
	}
	return &db.GeoLocation{Latitude: lat, Longitude: lng}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ValidateAPIKeyFormat is the cheap pre-check run before any lookup.
func ValidateAPIKeyFormat(raw string) bool {
	return len(raw) >= auth.MinKeyLength
}

// ValidateTagConfig checks an operator update. Absent fields stay nil.
func ValidateTagConfig(body map[string]any) (db.TagConfig, error) {
	var cfg db.TagConfig

	if raw, present := body["redirectUrl"]; present {
		s, ok := raw.(string)
		if !ok {
			return cfg, apperr.Validation("INVALID_REDIRECT_URL", "Redirect URL must be a string")
		}
		if !ValidateURL(s) {
			return cfg, apperr.Validation("INVALID_REDIRECT_URL", "Invalid URL format")
		}
		cfg.RedirectURL = &s
	}

	if raw, present := body["isActive"]; present {
		b, ok := raw.(bool)
		if !ok {
			return cfg, apperr.Validation("INVALID_IS_ACTIVE", "isActive must be a boolean")
		}
		cfg.IsActive = &b
	}
	return cfg, nil
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ValidateKeyRequest checks the body of an API key issuance request.
func ValidateKeyRequest(body map[string]any) (string, *time.Time, error) {
	name, ok := body["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", nil, apperr.Validation("INVALID_NAME", "A valid name is required for the API key")
	}

	raw, present := body["expiresAt"]
	if !present || raw == nil || raw == "" {
		return name, nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", nil, apperr.Validation("INVALID_DATE", "Invalid expiration date format")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return name, &t, nil
		}
	}
	return "", nil, apperr.Validation("INVALID_DATE", "Invalid expiration date format")
}
