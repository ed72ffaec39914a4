package domain

import (
	"errors"
	"testing"
)

func validRequest() *SendRequest {
	return &SendRequest{
		Channel:   ChannelEmail,
		Recipient: "user@example.com",
		Subject:   "Hello",
		Message:   "Hi there",
	}
}

func TestSendRequest_Validate(t *testing.T) {
	longString := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'a'
		}
		return string(b)
	}

	tests := []struct {
		name    string
		mutate  func(*SendRequest)
		wantErr error
	}{
		{"valid email", func(r *SendRequest) {}, nil},
		{"valid sms", func(r *SendRequest) {
			r.Channel = ChannelSMS
			r.Recipient = "+15551234567"
			r.Subject = ""
		}, nil},
		{"valid telegram username", func(r *SendRequest) {
			r.Channel = ChannelTelegram
			r.Recipient = "@some_user"
			r.Subject = ""
		}, nil},
		{"valid telegram numeric chat", func(r *SendRequest) {
			r.Channel = ChannelTelegram
			r.Recipient = "-1001234567890"
			r.Subject = ""
		}, nil},
		{"unknown channel", func(r *SendRequest) { r.Channel = "PIGEON" }, ErrInvalidChannel},
		{"unknown priority", func(r *SendRequest) { r.Priority = "URGENT" }, ErrInvalidPriority},
		{"empty recipient", func(r *SendRequest) { r.Recipient = "" }, ErrRecipientFormat},
		{"recipient too long", func(r *SendRequest) { r.Recipient = longString(250) + "@example.com" }, ErrRecipientFormat},
		{"email without at sign", func(r *SendRequest) { r.Recipient = "nobody" }, ErrRecipientFormat},
		{"email with whitespace", func(r *SendRequest) { r.Recipient = "a b@example.com" }, ErrRecipientFormat},
		{"sms with letters", func(r *SendRequest) {
			r.Channel = ChannelSMS
			r.Recipient = "call-me-maybe"
		}, ErrRecipientFormat},
		{"telegram bad handle", func(r *SendRequest) {
			r.Channel = ChannelTelegram
			r.Recipient = "@x"
		}, ErrRecipientFormat},
		{"subject too long", func(r *SendRequest) { r.Subject = longString(501) }, ErrSubjectTooLong},
		{"email missing subject", func(r *SendRequest) { r.Subject = "" }, ErrMissingSubject},
		{"email missing subject but templated", func(r *SendRequest) {
			r.Subject = ""
			r.TemplateCode = "welcome"
		}, nil},
		{"missing body", func(r *SendRequest) { r.Message = "" }, ErrMissingBody},
		{"missing body but templated", func(r *SendRequest) {
			r.Message = ""
			r.TemplateCode = "welcome"
		}, nil},
		{"idempotency key too long", func(r *SendRequest) { r.IdempotencyKey = longString(256) }, ErrIdempotencyKeyTooLong},
		{"callback url too long", func(r *SendRequest) { r.CallbackURL = "https://" + longString(500) }, ErrCallbackURLTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSendRequest_Validate_DefaultsPriority(t *testing.T) {
	req := validRequest()
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	if req.Priority != PriorityNormal {
		t.Fatalf("expected default priority NORMAL, got %s", req.Priority)
	}
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSending, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusSent, false},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusPending, true},
		{StatusSending, StatusFailed, true},
		{StatusSending, StatusExpired, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusExpired, StatusSending, false},
		{StatusDelivered, StatusSent, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusSent, StatusDelivered, StatusFailed, StatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusSending} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAPIClient_ChannelAllowed(t *testing.T) {
	open := &APIClient{}
	if !open.ChannelAllowed(ChannelSMS) {
		t.Fatal("empty allowed set should permit every channel")
	}

	restricted := &APIClient{AllowedChannels: []Channel{ChannelEmail, ChannelTelegram}}
	if !restricted.ChannelAllowed(ChannelEmail) {
		t.Fatal("EMAIL should be allowed")
	}
	if restricted.ChannelAllowed(ChannelSMS) {
		t.Fatal("SMS should not be allowed")
	}
}
