package domain

import (
	"regexp"
	"strings"
	"time"
)

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelTelegram Channel = "TELEGRAM"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelTelegram, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// Channels lists every delivery channel in registration order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelTelegram, ChannelSMS, ChannelWhatsApp}
}

// Priority controls delivery ordering. High is processed first.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification.
//
//	PENDING  -> SENDING   (lease taken by a worker)
//	SENDING  -> SENT      (provider accepted)
//	SENDING  -> PENDING   (transient failure, retry scheduled)
//	SENDING  -> FAILED    (terminal failure or retries exhausted)
//	SENT     -> DELIVERED (provider ack, when the provider reports one)
//	PENDING/SENDING -> EXPIRED (expires_at passed before delivery)
//
// SENT, DELIVERED, FAILED and EXPIRED are terminal; the only way out is the
// explicit force-retry operation, which resets the row to PENDING.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether s -> next is a legal lifecycle move.
// Force-retry bypasses this check and is the only exception.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSending || next == StatusExpired
	case StatusSending:
		return next == StatusSent || next == StatusFailed ||
			next == StatusPending || next == StatusExpired
	case StatusSent:
		return next == StatusDelivered
	}
	return false
}

// Notification is the central persisted entity.
type Notification struct {
	ID             string         `json:"id"`
	ClientID       int            `json:"client_id"`
	Channel        Channel        `json:"channel"`
	Recipient      string         `json:"recipient"`
	Subject        *string        `json:"subject,omitempty"`
	Body           string         `json:"body"`
	Status         Status         `json:"status"`
	Priority       Priority       `json:"priority"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	ErrorCode      *string        `json:"error_code,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	ProviderMsgID  *string        `json:"provider_message_id,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	CallbackURL    *string        `json:"callback_url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// SendRequest is the inbound payload for POST /api/v1/send.
type SendRequest struct {
	Channel           Channel           `json:"channel"`
	Recipient         string            `json:"recipient"`
	Subject           string            `json:"subject,omitempty"`
	Message           string            `json:"message,omitempty"`
	TemplateCode      string            `json:"template_code,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	Priority          Priority          `json:"priority,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	CallbackURL       string            `json:"callback_url,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{3,}$`)
	chatIDPattern = regexp.MustCompile(`^(@[A-Za-z0-9_]{3,}|-?[0-9]+)$`)
)

// Validate checks the request against the ingress rules. The body and
// subject checks are relaxed when a template code is supplied; the
// dispatcher re-checks after rendering.
func (r *SendRequest) Validate() error {
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.Recipient == "" || len(r.Recipient) > 255 {
		return ErrRecipientFormat
	}
	if err := validateRecipient(r.Channel, r.Recipient); err != nil {
		return err
	}
	if len(r.Subject) > 500 {
		return ErrSubjectTooLong
	}
	if r.Channel == ChannelEmail && r.Subject == "" && r.TemplateCode == "" {
		return ErrMissingSubject
	}
	if r.Message == "" && r.TemplateCode == "" {
		return ErrMissingBody
	}
	if len(r.IdempotencyKey) > 255 {
		return ErrIdempotencyKeyTooLong
	}
	if len(r.CallbackURL) > 500 {
		return ErrCallbackURLTooLong
	}
	return nil
}

func validateRecipient(ch Channel, recipient string) error {
	switch ch {
	case ChannelEmail:
		at := strings.Index(recipient, "@")
		if at < 1 || at == len(recipient)-1 || strings.ContainsAny(recipient, " \t") {
			return ErrRecipientFormat
		}
	case ChannelSMS, ChannelWhatsApp:
		if !phonePattern.MatchString(recipient) {
			return ErrRecipientFormat
		}
	case ChannelTelegram:
		if !chatIDPattern.MatchString(recipient) {
			return ErrRecipientFormat
		}
	}
	return nil
}

// SubmitResponse is returned with 202 Accepted from POST /api/v1/send.
type SubmitResponse struct {
	NotificationID string    `json:"notification_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatusResponse is returned from GET /api/v1/status/{id}.
// The recipient is masked.
type StatusResponse struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	Channel       Channel    `json:"channel"`
	Recipient     string     `json:"recipient"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	ProviderMsgID *string    `json:"provider_message_id,omitempty"`
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	ClientID *int
	Status   *Status
	Channel  *Channel
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}
