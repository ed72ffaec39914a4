package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
)

// WhatsAppAdapter is a placeholder until a WhatsApp Business provider is
// integrated. Every send fails terminally so the router can fall back.
type WhatsAppAdapter struct {
	logger *zap.Logger
}

func NewWhatsAppAdapter(logger *zap.Logger) *WhatsAppAdapter {
	return &WhatsAppAdapter{logger: logger}
}

func (a *WhatsAppAdapter) Name() domain.Channel { return domain.ChannelWhatsApp }

func (a *WhatsAppAdapter) IsConfigured() bool { return false }

func (a *WhatsAppAdapter) IsEnabled(ctx context.Context) bool { return false }

func (a *WhatsAppAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	a.logger.Warn("whatsapp send attempted without a configured provider",
		zap.String("recipient", domain.MaskRecipient(domain.ChannelWhatsApp, recipient)))
	return "", &Error{
		Code:      "NOT_CONFIGURED",
		Message:   "WhatsApp provider is not configured",
		Retryable: false,
	}
}

func (a *WhatsAppAdapter) HealthCheck(ctx context.Context) bool { return false }

var _ Adapter = (*WhatsAppAdapter)(nil)
