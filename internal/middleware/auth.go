package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/raakeshmj/nfcverify/internal/db"
)

type ContextKey string

const (
	APIKeyContextKey    ContextKey = "api_key"
	keyHolderContextKey ContextKey = "api_key_holder"
	apiKeyHeader                   = "X-API-Key"
)

// keyHolder lets outer middleware see which key authenticated a request,
// since the key itself is only attached to the derived inner request.
type keyHolder struct {
	id string
}

// ErrorWriter renders an error as the API's JSON envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*db.APIKey, error)
}

type AuthMiddleware struct {
	provider Authenticator
	writeErr ErrorWriter
}

func NewAuth(provider Authenticator, writeErr ErrorWriter) *AuthMiddleware {
	return &AuthMiddleware{
		provider: provider,
		writeErr: writeErr,
	}
}

// Require rejects requests without a valid X-API-Key.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return m.handle(next, true)
}

// Optional lets anonymous requests through; a supplied key must still be valid.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return m.handle(next, false)
}

func (m *AuthMiddleware) handle(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if rawKey == "" && !required {
			next.ServeHTTP(w, r)
			return
		}

		apiKey, err := m.provider.Authenticate(r.Context(), rawKey)
		if err != nil {
			m.writeErr(w, r, err)
			return
		}

		if h, ok := r.Context().Value(keyHolderContextKey).(*keyHolder); ok {
			h.id = apiKey.ID
		}
		ctx := context.WithValue(r.Context(), APIKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyFromContext returns the authenticated key, if any.
func APIKeyFromContext(ctx context.Context) (*db.APIKey, bool) {
	k, ok := ctx.Value(APIKeyContextKey).(*db.APIKey)
	return k, ok
}
