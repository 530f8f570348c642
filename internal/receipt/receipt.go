// Package receipt issues short-lived signed proofs of a successful tag
// verification, so a redirect landing page can trust the scan without
// calling the backend again.
package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/raakeshmj/nfcverify/internal/db"
)

var (
	ErrInvalidReceipt = errors.New("invalid receipt")
	ErrExpiredReceipt = errors.New("receipt has expired")
)

const issuer = "nfcverify"

type Claims struct {
	TagID      string    `json:"tagId"`
	IsValid    bool      `json:"isValid"`
	VerifiedAt time.Time `json:"verifiedAt"`
	jwt.RegisteredClaims
}

type Signer struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewSigner(secretKey string, ttl time.Duration) *Signer {
	return &Signer{secretKey: []byte(secretKey), ttl: ttl, now: time.Now}
}

// Issue signs a receipt for a valid result.
func (s *Signer) Issue(result *db.VerificationResult) (string, error) {
	if result == nil || !result.IsValid {
		return "", ErrInvalidReceipt
	}
	now := s.now()
	claims := Claims{
		TagID:      result.TagID,
		IsValid:    result.IsValid,
		VerifiedAt: result.Timestamp.UTC(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   result.TagID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredReceipt
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidReceipt
	}

	return claims, nil
}
