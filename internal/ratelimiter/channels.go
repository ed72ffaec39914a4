package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/dispatch/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per delivery channel,
// throttling outbound provider calls independently of the per-client API
// window. Burst is set equal to the rate so no extra burst capacity is
// allowed beyond the configured per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// NewChannelLimiters creates a ChannelLimiters with ratePerSec tokens per
// second per channel.
func NewChannelLimiters(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.Channels()))
	for _, ch := range domain.Channels() {
		limiters[ch] = rate.NewLimiter(r, burst)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token. Called by each
// worker immediately before the provider send. Returns a non-nil error only
// if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	lim, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}
