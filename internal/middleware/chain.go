package middleware

import "net/http"

// Middleware wraps an http.Handler. It is assignable to chi's middleware type.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware runs first. Nil entries are
// skipped, which lets callers leave optional guards unset.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}
