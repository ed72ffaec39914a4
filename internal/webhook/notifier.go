// Package webhook delivers signed callbacks to client-supplied URLs on
// terminal notification events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Event is the terminal outcome reported to the callback URL.
type Event string

const (
	EventSent   Event = "SENT"
	EventFailed Event = "FAILED"
)

// Payload is the JSON body posted to the callback URL.
type Payload struct {
	Event             Event          `json:"event"`
	NotificationID    string         `json:"notification_id"`
	Channel           domain.Channel `json:"channel"`
	Recipient         string         `json:"recipient"`
	Status            string         `json:"status"`
	Timestamp         string         `json:"timestamp"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	RetryCount        *int           `json:"retry_count,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
}

// Notifier posts signed webhooks. Delivery is best-effort: failures are
// logged and dropped, and a circuit breaker sheds calls when the
// destination is persistently down so workers do not burn their timeout
// budget on a dead endpoint.
type Notifier struct {
	secret     []byte
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	now        func() time.Time
}

func NewNotifier(secret string, timeout time.Duration, logger *zap.Logger) *Notifier {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Notifier{
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
		now:        time.Now,
	}
}

// Fire posts the event to the notification's callback URL, if any.
// usedChannel is the channel that actually carried the send; it may differ
// from the notification's channel after a fallback.
func (n *Notifier) Fire(ctx context.Context, notif *domain.Notification, event Event, usedChannel domain.Channel) {
	if notif.CallbackURL == nil || *notif.CallbackURL == "" {
		return
	}

	ch := notif.Channel
	if usedChannel != "" {
		ch = usedChannel
	}

	payload := Payload{
		Event:          event,
		NotificationID: notif.ID,
		Channel:        ch,
		Recipient:      domain.MaskRecipient(notif.Channel, notif.Recipient),
		Status:         string(event),
		Timestamp:      n.now().UTC().Format(time.RFC3339),
		Metadata:       notif.Metadata,
	}
	switch event {
	case EventFailed:
		if notif.ErrorMessage != nil {
			payload.ErrorMessage = *notif.ErrorMessage
		}
		if notif.ErrorCode != nil {
			payload.ErrorCode = *notif.ErrorCode
		}
		rc := notif.RetryCount
		payload.RetryCount = &rc
	case EventSent:
		if notif.ProviderMsgID != nil {
			payload.ProviderMessageID = *notif.ProviderMsgID
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook payload marshal failed",
			zap.String("notification_id", notif.ID), zap.Error(err))
		return
	}

	_, err = n.breaker.Execute(func() (any, error) {
		return nil, n.post(ctx, *notif.CallbackURL, body, event)
	})
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("notification_id", notif.ID),
			zap.String("event", string(event)),
			zap.Error(err))
		return
	}
	n.logger.Info("webhook delivered",
		zap.String("notification_id", notif.ID),
		zap.String("event", string(event)))
}

func (n *Notifier) post(ctx context.Context, url string, body []byte, event Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", n.Sign(body))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", n.now().UnixMilli()))
	req.Header.Set("X-Webhook-Event", string(event))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the payload signature: "sha256=" plus the base64 HMAC-SHA256
// of the payload bytes under the shared secret.
func (n *Notifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(payload)
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
