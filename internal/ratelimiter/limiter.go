package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Window is the fixed rate-limit window length.
const Window = 60 * time.Second

// Result is the outcome of a rate-limit check, including everything the
// ingress layer needs to write X-RateLimit-* headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Client    *domain.APIClient // nil when the key did not resolve
	Err       *domain.Error     // nil when allowed
}

// ClientLimiter enforces a per-client fixed 60-second window counter.
// The counter state lives behind BucketStore so a shared store (redis) can
// replace the process-local map when the service scales horizontally.
type ClientLimiter struct {
	clients      repository.ClientRepository
	store        BucketStore
	defaultLimit int
}

func NewClientLimiter(clients repository.ClientRepository, store BucketStore, defaultLimit int) *ClientLimiter {
	return &ClientLimiter{clients: clients, store: store, defaultLimit: defaultLimit}
}

// Check resolves the API key hash to a client and consumes one slot from
// its window. A denied result carries the error code for the 401/403/429
// response.
func (l *ClientLimiter) Check(ctx context.Context, apiKeyHash string) (Result, error) {
	client, err := l.clients.GetByAPIKeyHash(ctx, apiKeyHash)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Err: domain.ErrInvalidAPIKey}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !client.Active {
		return Result{Client: client, Err: domain.ErrClientInactive}, nil
	}

	limit := client.RateLimit
	if limit <= 0 {
		limit = l.defaultLimit
	}

	now := time.Now().UTC()
	count, windowStart, err := l.store.Incr(ctx, client.ID, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Limit:   limit,
		ResetAt: windowStart.Add(Window),
		Client:  client,
	}
	if count > limit {
		res.Remaining = 0
		res.Err = domain.ErrRateLimitExceeded
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}
