package db

import (
	"time"
)

// SumMessage is the caller-supplied envelope for one NFC scan.
type SumMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Signature string `json:"signature,omitempty"`
}

type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TamperStatus is only reported for TagTamper tags.
type TamperStatus string

const (
	TamperStatusIntact   TamperStatus = "intact"
	TamperStatusTampered TamperStatus = "tampered"
)

// VerificationMetadata enumerates everything the service knows about a scan.
// Fields the backend did not report stay at their zero value and are omitted.
type VerificationMetadata struct {
	TagType        string       `json:"tagType,omitempty"`    // "tag" | "tagtt"
	ScanMethod     string       `json:"scanMethod,omitempty"` // "url" | "query"
	EncryptionMode string       `json:"encryptionMode,omitempty"`
	TamperStatus   TamperStatus `json:"tamperStatus,omitempty"`
	UID            string       `json:"uid,omitempty"`
	ReadCounter    *int64       `json:"readCounter,omitempty"`
	FileDataHex    string       `json:"fileDataHex,omitempty"`
	FileDataText   string       `json:"fileDataText,omitempty"`
	RedirectURL    string       `json:"redirectUrl,omitempty"`
	GeoLocation    *GeoLocation `json:"geoLocation,omitempty"`
}

type VerificationResult struct {
	IsValid     bool                 `json:"isValid"`
	TagID       string               `json:"tagId"`
	Timestamp   time.Time            `json:"timestamp"`
	Metadata    VerificationMetadata `json:"metadata"`
	RedirectURL string               `json:"redirectUrl,omitempty"`
}

// EffectiveRedirectURL prefers the backend-provided URL over the stored one.
func (r *VerificationResult) EffectiveRedirectURL() string {
	if r.RedirectURL != "" {
		return r.RedirectURL
	}
	return r.Metadata.RedirectURL
}

type TagRecord struct {
	TagID             string    `json:"tag_id" db:"tag_id"`
	FirstVerifiedAt   time.Time `json:"first_verified_at" db:"first_verified_at"`
	LastVerifiedAt    time.Time `json:"last_verified_at" db:"last_verified_at"`
	VerificationCount int64     `json:"verification_count" db:"verification_count"`
	RedirectURL       *string   `json:"redirect_url" db:"redirect_url"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// TagConfig carries an operator update; nil fields are left untouched.
type TagConfig struct {
	RedirectURL *string
	IsActive    *bool
}

type VerificationRecord struct {
	ID          string               `json:"id" db:"id"`
	TagID       string               `json:"tag_id" db:"tag_id"`
	Success     bool                 `json:"success" db:"success"`
	Metadata    VerificationMetadata `json:"metadata" db:"metadata"`
	IPAddress   string               `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string               `json:"user_agent,omitempty" db:"user_agent"`
	GeoLocation *GeoLocation         `json:"geolocation,omitempty" db:"geolocation"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
}

type APIKey struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	KeyHash   string     `json:"-" db:"key_hash"`    // SHA256 hash of the raw key
	Prefix    string     `json:"prefix" db:"prefix"` // First few chars clear for identification
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Expired reports whether the key has a deadline that lies before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
