package log

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Logger logs one line per request served by a chi router. It must be
// mounted after middleware.RequestID to carry the request id.
func Logger(l *zap.Logger, name string) func(next http.Handler) http.Handler {
	if l == nil {
		panic("log.Logger received a nil *zap.Logger")
	}

	logger := l.WithOptions(zap.AddCallerSkip(1)).Sugar().Named(name)

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				kv := []any{
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"latency", time.Since(start),
				}

				switch {
				case status >= http.StatusInternalServerError:
					logger.Errorw("request failed", kv...)
				case status >= http.StatusBadRequest:
					logger.Warnw("request rejected", kv...)
				case isScrape(r):
					logger.Debugw("request served", kv...)
				default:
					logger.Infow("request served", kv...)
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// isScrape matches the periodic scrapes and health checks of the metrics server.
func isScrape(r *http.Request) bool {
	return r.Method == http.MethodGet && (r.URL.Path == "/healthz" || r.URL.Path == "/metrics")
}
