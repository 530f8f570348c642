package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// MinKeyLength is the shortest raw key worth looking up. Anything shorter
// cannot have been issued by GenerateAPIKey.
const MinKeyLength = 20

const keyPrefix = "nfc_"

// API Key Generation (Secure Random + SHA256 Hash)
// Returns: rawKey (to show user once), keyHash (to store), prefix (to store)
func GenerateAPIKey() (string, string, string, error) {
	bytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	rawKey := keyPrefix + base64.RawURLEncoding.EncodeToString(bytes)
	prefix := rawKey[:len(keyPrefix)+6]

	return rawKey, HashAPIKey(rawKey), prefix, nil
}

// HashAPIKey returns the SHA256 hash of the raw key. Keys are looked up by
// this value, so it must stay deterministic.
func HashAPIKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

func ValidateAPIKey(rawKey, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(rawKey)), []byte(storedHash)) == 1
}
