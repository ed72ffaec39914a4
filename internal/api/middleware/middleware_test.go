package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
)

func TestCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("handler did not receive a correlation id")
	}
	if rec.Header().Get("X-Correlation-ID") != seen {
		t.Fatal("response header does not echo the generated id")
	}
}

func TestCorrelationID_KeepsCallerID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "caller-supplied-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "caller-supplied-id" {
		t.Fatalf("correlation id = %q, want caller's", seen)
	}
}

func TestCorrelationID_TruncatesOversizedID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", strings.Repeat("x", 500))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != maxCorrelationIDLen {
		t.Fatalf("correlation id length = %d, want %d", len(seen), maxCorrelationIDLen)
	}
}

func authChain(t *testing.T, logger *zap.Logger) http.Handler {
	t.Helper()
	client := &domain.APIClient{
		ID:         7,
		Name:       "acme",
		APIKeyHash: domain.HashAPIKey("test-key"),
		Active:     true,
		RateLimit:  100,
	}
	limiter := ratelimiter.NewClientLimiter(
		repository.NewMockClientRepository(client),
		ratelimiter.NewMemoryBucketStore(), 100)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return RequestLogger(logger)(Authenticate(limiter, nil, logger)(inner))
}

func TestRequestLogger_AttributesAuthenticatedClient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := authChain(t, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["client_id"] != int64(7) {
		t.Fatalf("client_id = %v, want 7", fields["client_id"])
	}
	if fields["client_name"] != "acme" {
		t.Fatalf("client_name = %v, want acme", fields["client_name"])
	}
	if fields["status"] != int64(http.StatusNoContent) {
		t.Fatalf("status field = %v", fields["status"])
	}
}

func TestRequestLogger_NoClientFieldsWhenAuthFails(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := authChain(t, zap.New(core))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["client_id"]; ok {
		t.Fatal("unauthenticated request must not carry client fields")
	}
}
