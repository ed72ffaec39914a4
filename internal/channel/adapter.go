// Package channel contains the provider adapters and the router that
// dispatches sends across them.
package channel

import (
	"context"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Error is a classified provider failure. Retryable failures count against
// the notification's retry budget; terminal ones fail the row immediately.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string { return e.Message }

// Adapter turns an abstract send into a concrete provider interaction.
// Implementations must mask recipients in every log line they produce.
type Adapter interface {
	// Send delivers the message and returns the provider's message id,
	// which may be empty when the provider does not issue one.
	// Failures are reported as *Error.
	Send(ctx context.Context, recipient, subject, body string) (string, error)

	// HealthCheck pings the provider.
	HealthCheck(ctx context.Context) bool

	// Name returns the channel label this adapter serves.
	Name() domain.Channel

	// IsEnabled reads the channel's config row.
	IsEnabled(ctx context.Context) bool

	// IsConfigured reports whether credentials are present.
	IsConfigured() bool
}

// SendResult is the uniform outcome the dispatcher maps onto the
// notification state machine.
type SendResult struct {
	OK            bool
	ProviderMsgID string
	ErrorCode     string
	ErrorMessage  string
	Retryable     bool
	UsedChannel   domain.Channel
}

func failure(ch domain.Channel, code, message string, retryable bool) SendResult {
	return SendResult{
		ErrorCode:    code,
		ErrorMessage: message,
		Retryable:    retryable,
		UsedChannel:  ch,
	}
}
