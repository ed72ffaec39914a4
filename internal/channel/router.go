package channel

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// DefaultFallback maps each channel to the channel tried next when the
// primary send fails with a retryable error.
var DefaultFallback = map[domain.Channel]domain.Channel{
	domain.ChannelEmail:    domain.ChannelSMS,
	domain.ChannelSMS:      domain.ChannelEmail,
	domain.ChannelTelegram: domain.ChannelEmail,
	domain.ChannelWhatsApp: domain.ChannelTelegram,
}

// Router owns the adapter registry and routes each send through the
// enabled/daily-cap gates before handing it to a provider adapter.
type Router struct {
	adapters map[domain.Channel]Adapter
	configs  repository.ChannelConfigRepository
	fallback map[domain.Channel]domain.Channel
	logger   *zap.Logger
}

func NewRouter(configs repository.ChannelConfigRepository, logger *zap.Logger, adapters ...Adapter) *Router {
	r := &Router{
		adapters: make(map[domain.Channel]Adapter, len(adapters)),
		configs:  configs,
		fallback: DefaultFallback,
		logger:   logger,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Send routes one attempt through a single channel. Gate failures
// (unknown, disabled, daily cap) come back as non-retryable results so the
// caller can decide whether a fallback channel applies.
func (r *Router) Send(ctx context.Context, ch domain.Channel, recipient, subject, body string) SendResult {
	adapter, ok := r.adapters[ch]
	if !ok {
		return failure(ch, "UNKNOWN_CHANNEL", "no adapter registered for channel "+string(ch), false)
	}

	cfg, err := r.configs.Get(ctx, ch)
	if err != nil {
		return failure(ch, "CHANNEL_CONFIG_ERROR", err.Error(), true)
	}
	if !cfg.Enabled {
		return failure(ch, "CHANNEL_DISABLED", "channel "+string(ch)+" is disabled", false)
	}
	if cfg.DailyLimitReached() {
		return failure(ch, "DAILY_LIMIT_EXCEEDED", "daily send limit reached for "+string(ch), false)
	}

	msgID, err := adapter.Send(ctx, recipient, subject, body)
	if err != nil {
		var chErr *Error
		if errors.As(err, &chErr) {
			return failure(ch, chErr.Code, chErr.Message, chErr.Retryable)
		}
		return failure(ch, "SEND_ERROR", err.Error(), true)
	}

	if err := r.configs.IncrementDailySent(ctx, ch); err != nil {
		r.logger.Warn("failed to bump daily counter",
			zap.String("channel", string(ch)), zap.Error(err))
	}
	return SendResult{OK: true, ProviderMsgID: msgID, UsedChannel: ch}
}

// SendWithFallback tries the primary channel and, when the failure is
// retryable, one fallback channel. Terminal failures never trigger the
// fallback: a bad recipient on the primary channel is just as bad on any
// other. The returned result carries the channel that actually handled
// the send.
func (r *Router) SendWithFallback(ctx context.Context, ch domain.Channel, recipient, subject, body string) SendResult {
	primary := r.Send(ctx, ch, recipient, subject, body)
	if primary.OK || !primary.Retryable {
		return primary
	}

	next, ok := r.fallback[ch]
	if !ok || next == ch {
		return primary
	}

	r.logger.Info("falling back to secondary channel",
		zap.String("from", string(ch)),
		zap.String("to", string(next)),
		zap.String("error_code", primary.ErrorCode))

	secondary := r.Send(ctx, next, recipient, subject, body)
	if secondary.OK {
		return secondary
	}
	// Report the primary failure; the fallback was opportunistic.
	return primary
}

// HealthCheckAll probes every configured adapter and records the outcome.
// Unconfigured adapters are skipped rather than reported unhealthy, so a
// deployment without WhatsApp credentials does not look degraded.
func (r *Router) HealthCheckAll(ctx context.Context) map[domain.Channel]domain.HealthStatus {
	out := make(map[domain.Channel]domain.HealthStatus, len(r.adapters))
	now := time.Now().UTC()

	for ch, adapter := range r.adapters {
		if !adapter.IsConfigured() {
			continue
		}
		status := domain.HealthUnhealthy
		if adapter.HealthCheck(ctx) {
			status = domain.HealthHealthy
		}
		out[ch] = status
		if err := r.configs.SetHealth(ctx, ch, status, now); err != nil {
			r.logger.Warn("failed to record channel health",
				zap.String("channel", string(ch)), zap.Error(err))
		}
	}
	return out
}
