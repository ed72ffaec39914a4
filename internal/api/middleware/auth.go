package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
)

const clientKey contextKey = "api_client"

// Prometheus hook for rejected requests; injected by the router.
type RateLimitObserver func()

// Authenticate resolves the X-API-Key header to an active client and
// consumes one slot from its rate-limit window. Denied requests carry the
// X-RateLimit-* headers so callers can back off intelligently.
func Authenticate(limiter *ratelimiter.ClientLimiter, onRateLimited RateLimitObserver, logger *zap.Logger) func(http.Handler) http.Handler {
	if onRateLimited == nil {
		onRateLimited = func() {}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized, domain.ErrMissingAPIKey)
				return
			}

			res, err := limiter.Check(r.Context(), domain.HashAPIKey(key))
			if err != nil {
				logger.Error("rate limit check failed",
					zap.String("correlation_id", GetCorrelationID(r.Context())),
					zap.Error(err))
				writeAuthError(w, http.StatusInternalServerError,
					&domain.Error{Code: "INTERNAL", Message: "internal server error"})
				return
			}

			if res.Client != nil {
				tagClient(r.Context(), res.Client)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if res.Err != nil {
				switch res.Err.Code {
				case domain.ErrInvalidAPIKey.Code:
					writeAuthError(w, http.StatusUnauthorized, res.Err)
				case domain.ErrClientInactive.Code:
					writeAuthError(w, http.StatusForbidden, res.Err)
				case domain.ErrRateLimitExceeded.Code:
					onRateLimited()
					w.Header().Set("Retry-After", "60")
					writeAuthError(w, http.StatusTooManyRequests, res.Err)
				default:
					writeAuthError(w, http.StatusForbidden, res.Err)
				}
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, res.Client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClient retrieves the authenticated client stored by Authenticate.
func GetClient(ctx context.Context) *domain.APIClient {
	c, _ := ctx.Value(clientKey).(*domain.APIClient)
	return c
}

func writeAuthError(w http.ResponseWriter, status int, err *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + err.Message + `","code":"` + err.Code + `"}`))
}
