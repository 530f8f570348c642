package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/db"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestValidateSumMessage(t *testing.T) {
	msg, err := ValidateSumMessage(decode(t, `{"type":"tag","data":"picc=AA","signature":"BB"}`))
	require.NoError(t, err)
	assert.Equal(t, db.SumMessage{Type: "tag", Data: "picc=AA", Signature: "BB"}, msg)

	_, err = ValidateSumMessage(decode(t, `{"type":"tag","data":"picc=AA"}`))
	assert.NoError(t, err)

	invalid := []string{
		`null`,
		`[]`,
		`"tag"`,
		`{"data":"picc=AA"}`,
		`{"type":"","data":"picc=AA"}`,
		`{"type":"tag","data":""}`,
		`{"type":1,"data":"picc=AA"}`,
		`{"type":"tag","data":"picc=AA","signature":5}`,
	}
	for _, in := range invalid {
		_, err := ValidateSumMessage(decode(t, in))
		assert.ErrorIs(t, err, ErrInvalidFormat, in)
	}
}

func TestValidateGeoLocation(t *testing.T) {
	geo, err := ValidateGeoLocation(decode(t, `{"latitude":90,"longitude":180}`))
	require.NoError(t, err)
	assert.Equal(t, &db.GeoLocation{Latitude: 90, Longitude: 180}, geo)

	_, err = ValidateGeoLocation(decode(t, `{"latitude":-90,"longitude":-180}`))
	assert.NoError(t, err)

	_, err = ValidateGeoLocation(map[string]any{"latitude": json.Number("1.5"), "longitude": json.Number("2")})
	assert.NoError(t, err)

	invalid := []string{
		`{"latitude":91,"longitude":0}`,
		`{"latitude":0,"longitude":180.5}`,
		`{"latitude":"x","longitude":0}`,
		`{"latitude":0}`,
		`["x"]`,
		`"x"`,
	}
	for _, in := range invalid {
		_, err := ValidateGeoLocation(decode(t, in))
		assert.ErrorIs(t, err, ErrInvalidGeoLocation, in)
	}
}

func TestValidateURL(t *testing.T) {
	assert.True(t, ValidateURL("https://example.com/landing"))
	assert.True(t, ValidateURL("http://example.com"))
	assert.False(t, ValidateURL("ftp://example.com"))
	assert.False(t, ValidateURL("javascript:alert(1)"))
	assert.False(t, ValidateURL("not a url"))
}

func TestValidateAPIKeyFormat(t *testing.T) {
	assert.False(t, ValidateAPIKeyFormat("short"))
	assert.True(t, ValidateAPIKeyFormat("abcdefghijklmnopqrst"))
}

func TestValidateTagConfig(t *testing.T) {
	cfg, err := ValidateTagConfig(map[string]any{"redirectUrl": "https://example.com", "isActive": false})
	require.NoError(t, err)
	require.NotNil(t, cfg.RedirectURL)
	require.NotNil(t, cfg.IsActive)
	assert.Equal(t, "https://example.com", *cfg.RedirectURL)
	assert.False(t, *cfg.IsActive)

	cfg, err = ValidateTagConfig(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, cfg.RedirectURL)
	assert.Nil(t, cfg.IsActive)

	_, err = ValidateTagConfig(map[string]any{"redirectUrl": "ftp://x"})
	assert.Equal(t, "INVALID_REDIRECT_URL", apperr.Classify(err).Code)

	_, err = ValidateTagConfig(map[string]any{"redirectUrl": 3.0})
	assert.Equal(t, "INVALID_REDIRECT_URL", apperr.Classify(err).Code)

	_, err = ValidateTagConfig(map[string]any{"isActive": "yes"})
	assert.Equal(t, "INVALID_IS_ACTIVE", apperr.Classify(err).Code)
}

func TestValidateKeyRequest(t *testing.T) {
	name, exp, err := ValidateKeyRequest(map[string]any{"name": "ci"})
	require.NoError(t, err)
	assert.Equal(t, "ci", name)
	assert.Nil(t, exp)

	_, exp, err = ValidateKeyRequest(map[string]any{"name": "ci", "expiresAt": "2030-01-02T03:04:05Z"})
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.True(t, exp.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, _, err = ValidateKeyRequest(map[string]any{"name": ""})
	assert.Equal(t, "INVALID_NAME", apperr.Classify(err).Code)

	_, _, err = ValidateKeyRequest(map[string]any{"name": "ci", "expiresAt": "tomorrow"})
	assert.Equal(t, "INVALID_DATE", apperr.Classify(err).Code)
}
