package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Caller-supplied ids are capped so a hostile header cannot bloat every log
// line and audit row downstream.
const maxCorrelationIDLen = 64

// CorrelationID tags the request with an id that follows it through the
// dispatch pipeline: the access log, the handler logs and the audit trail
// all pick it up from the context. Callers may bring their own id in
// X-Correlation-ID; otherwise one is minted. Either way the id is echoed
// back in the response header.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		switch {
		case id == "":
			id = uuid.NewString()
		case len(id) > maxCorrelationIDLen:
			id = id[:maxCorrelationIDLen]
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID returns the id stored by CorrelationID, or "" when the
// middleware did not run.
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
