package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
)

const clientTagKey contextKey = "client_tag"

// clientTag is filled in by Authenticate once the API key resolves, so the
// access log can attribute the request even though RequestLogger wraps the
// auth middleware from the outside.
type clientTag struct {
	id   int
	name string
}

// statusRecorder captures the status code and body size written by the
// handler chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// RequestLogger emits one structured log line per completed request,
// carrying the correlation id and, on authenticated routes, the resolved
// client identity.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			tag := &clientTag{}
			r = r.WithContext(context.WithValue(r.Context(), clientTagKey, tag))

			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("latency", time.Since(start)),
				zap.String("correlation_id", GetCorrelationID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if tag.id != 0 {
				fields = append(fields,
					zap.Int("client_id", tag.id),
					zap.String("client_name", tag.name))
			}
			logger.Info("http request", fields...)
		})
	}
}

// tagClient records the authenticated client for the access log line.
func tagClient(ctx context.Context, client *domain.APIClient) {
	if tag, ok := ctx.Value(clientTagKey).(*clientTag); ok && client != nil {
		tag.id = client.ID
		tag.name = client.Name
	}
}
