package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

func newTelegramTestAdapter(t *testing.T, handler http.HandlerFunc) *TelegramAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTelegramAdapter(TelegramConfig{
		BotToken: "test-token",
		APIURL:   srv.URL,
		Timeout:  2 * time.Second,
	}, repository.NewMockChannelConfigRepository(), zap.NewNop())
}

func TestTelegramAdapter_Send(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any

	a := newTelegramTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":12345}}`))
	})

	msgID, err := a.Send(context.Background(), "@someone", "Alert", "body text")
	if err != nil {
		t.Fatal(err)
	}
	if msgID != "12345" {
		t.Fatalf("msgID = %q, want 12345", msgID)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotPayload["chat_id"] != "@someone" {
		t.Fatalf("chat_id = %v", gotPayload["chat_id"])
	}
	if gotPayload["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode = %v", gotPayload["parse_mode"])
	}
	text, _ := gotPayload["text"].(string)
	if text != "*Alert*\n\nbody text" {
		t.Fatalf("text = %q", text)
	}
}

func TestTelegramAdapter_SendNoSubject(t *testing.T) {
	var gotPayload map[string]any
	a := newTelegramTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	if _, err := a.Send(context.Background(), "12345", "", "just body"); err != nil {
		t.Fatal(err)
	}
	if gotPayload["text"] != "just body" {
		t.Fatalf("text = %v", gotPayload["text"])
	}
}

func TestTelegramAdapter_SendErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCode      string
		wantRetryable bool
	}{
		{"bad chat id", http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`, "INVALID_RECIPIENT", false},
		{"blocked by user", http.StatusForbidden, `{"ok":false,"description":"Forbidden: bot was blocked by the user"}`, "INVALID_RECIPIENT", false},
		{"bad markdown", http.StatusBadRequest, `{"ok":false,"description":"Bad Request: can't parse entities"}`, "API_ERROR", false},
		{"throttled", http.StatusTooManyRequests, `{"ok":false,"description":"Too Many Requests"}`, "SERVER_ERROR", true},
		{"server error", http.StatusBadGateway, `{"ok":false}`, "SERVER_ERROR", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTelegramTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := a.Send(context.Background(), "12345", "", "body")
			var chErr *Error
			if !errors.As(err, &chErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if chErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", chErr.Code, tt.wantCode)
			}
			if chErr.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", chErr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestTelegramAdapter_NotConfigured(t *testing.T) {
	a := NewTelegramAdapter(TelegramConfig{}, repository.NewMockChannelConfigRepository(), zap.NewNop())

	if a.IsConfigured() {
		t.Fatal("adapter without a token should not be configured")
	}
	_, err := a.Send(context.Background(), "12345", "", "body")
	var chErr *Error
	if !errors.As(err, &chErr) || chErr.Code != "NOT_CONFIGURED" {
		t.Fatalf("expected NOT_CONFIGURED, got %v", err)
	}
	if chErr.Retryable {
		t.Fatal("NOT_CONFIGURED must be terminal")
	}
}

func TestTelegramAdapter_HealthCheck(t *testing.T) {
	a := newTelegramTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/getMe" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if !a.HealthCheck(context.Background()) {
		t.Fatal("expected healthy")
	}

	down := newTelegramTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false}`))
	})
	if down.HealthCheck(context.Background()) {
		t.Fatal("expected unhealthy")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := EscapeMarkdown("a_b*c[d`e")
	want := `a\_b\*c\[d` + "\\`e"
	if got != want {
		t.Fatalf("EscapeMarkdown = %q, want %q", got, want)
	}
}

func TestTelegramAdapter_IsEnabled(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	a := NewTelegramAdapter(TelegramConfig{BotToken: "x"}, configs, zap.NewNop())

	if !a.IsEnabled(context.Background()) {
		t.Fatal("telegram should be enabled by default")
	}
	configs.Set(&domain.ChannelConfig{Channel: domain.ChannelTelegram, Enabled: false})
	if a.IsEnabled(context.Background()) {
		t.Fatal("disabled config row should disable the adapter")
	}
}
