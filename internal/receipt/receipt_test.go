package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/nfcverify/internal/db"
)

func validResult() *db.VerificationResult {
	return &db.VerificationResult{
		IsValid:   true,
		TagID:     "ntag424-e2347894",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Minute)

	token, err := s.Issue(validResult())
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ntag424-e2347894", claims.TagID)
	assert.True(t, claims.IsValid)
	assert.True(t, claims.VerifiedAt.Equal(validResult().Timestamp))
}

func TestSigner_RejectsInvalidResult(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	_, err := s.Issue(&db.VerificationResult{TagID: "x"})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestSigner_WrongSecret(t *testing.T) {
	token, err := NewSigner("secret", time.Minute).Issue(validResult())
	require.NoError(t, err)

	_, err = NewSigner("other", time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestSigner_Expired(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	token, err := s.Issue(validResult())
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredReceipt)
}
