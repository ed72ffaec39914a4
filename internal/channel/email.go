package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// EmailConfig carries the SMTP credentials handed to the adapter at
// construction. Credentials never come from mutable global state.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailAdapter delivers notifications over SMTP.
type EmailAdapter struct {
	cfg     EmailConfig
	configs repository.ChannelConfigRepository
	logger  *zap.Logger
}

func NewEmailAdapter(cfg EmailConfig, configs repository.ChannelConfigRepository, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, configs: configs, logger: logger}
}

func (a *EmailAdapter) Name() domain.Channel { return domain.ChannelEmail }

func (a *EmailAdapter) IsConfigured() bool {
	return a.cfg.Host != "" && a.cfg.From != ""
}

func (a *EmailAdapter) IsEnabled(ctx context.Context) bool {
	cfg, err := a.configs.Get(ctx, domain.ChannelEmail)
	return err == nil && cfg.Enabled
}

func (a *EmailAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := domain.MaskRecipient(domain.ChannelEmail, recipient)
	a.logger.Info("sending email", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", &Error{Code: "NOT_CONFIGURED", Message: "SMTP is not configured", Retryable: false}
	}

	if subject == "" {
		subject = "Notification"
	}
	msg := buildMIMEMessage(a.cfg.From, recipient, subject, body)

	if err := a.deliver(ctx, recipient, msg); err != nil {
		a.logger.Warn("email send failed", zap.String("recipient", masked), zap.Error(err))
		return "", classifySMTPError(err)
	}

	// SMTP has no provider-side id; synthesize a stable reference.
	msgID := fmt.Sprintf("email-%d", time.Now().UnixMilli())
	a.logger.Info("email sent", zap.String("recipient", masked), zap.String("provider_msg_id", msgID))
	return msgID, nil
}

// deliver speaks the SMTP session by hand so the dial honours ctx and the
// configured timeout; smtp.SendMail offers neither.
func (a *EmailAdapter) deliver(ctx context.Context, recipient string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	dialer := &net.Dialer{Timeout: a.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if a.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, a.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: a.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if a.cfg.Username != "" {
		auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(a.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}
	return client.Quit()
}

func (a *EmailAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	dialer := &net.Dialer{Timeout: a.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.logger.Warn("email health check failed", zap.Error(err))
		return false
	}
	conn.Close()
	return true
}

// buildMIMEMessage assembles the raw message. The body is sent as HTML only
// when it carries one of the HTML sentinels.
func buildMIMEMessage(from, to, subject, body string) []byte {
	contentType := "text/plain; charset=\"UTF-8\""
	if IsHTML(body) {
		contentType = "text/html; charset=\"UTF-8\""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

var htmlSentinels = []string{"<!doctype", "<html", "<p>", "<div", "<br"}

// IsHTML reports whether the body should be sent with an HTML content type.
func IsHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, sentinel := range htmlSentinels {
		if strings.Contains(lower, sentinel) {
			return true
		}
	}
	return false
}

var terminalSMTPFragments = []string{
	"invalid address",
	"invalid recipient",
	"user unknown",
	"no such user",
	"mailbox unavailable",
}

// classifySMTPError sorts SMTP refusals: address problems are terminal,
// transport and protocol errors are worth retrying.
func classifySMTPError(err error) *Error {
	lower := strings.ToLower(err.Error())
	for _, fragment := range terminalSMTPFragments {
		if strings.Contains(lower, fragment) {
			return &Error{Code: "INVALID_RECIPIENT", Message: err.Error(), Retryable: false}
		}
	}
	return &Error{Code: "SMTP_ERROR", Message: err.Error(), Retryable: true}
}

var _ Adapter = (*EmailAdapter)(nil)
