package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/logging"
)

// AccessLog writes one structured line per request. The API key is never
// logged; only the authenticated key id is.
func AccessLog(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			holder := &keyHolder{}
			r = r.WithContext(context.WithValue(r.Context(), keyHolderContextKey, holder))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					logging.Method(r.Method),
					logging.Path(r.URL.Path),
					logging.Status(status),
					logging.RemoteIP(r.RemoteAddr),
					logging.RequestID(chimw.GetReqID(r.Context())),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				}
				if holder.id != "" {
					fields = append(fields, logging.KeyID(holder.id))
				}

				switch {
				case status >= 500:
					logger.Error("request", fields...)
				case status >= 400:
					logger.Warn("request", fields...)
				default:
					logger.Info("request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
