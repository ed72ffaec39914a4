package domain

import "testing"

func TestMaskRecipient(t *testing.T) {
	tests := []struct {
		name      string
		channel   Channel
		recipient string
		want      string
	}{
		{"email normal", ChannelEmail, "johndoe@example.com", "jo***@example.com"},
		{"email short local", ChannelEmail, "ab@example.com", "***@example.com"},
		{"email single char local", ChannelEmail, "a@example.com", "***@example.com"},
		{"email no at sign", ChannelEmail, "not-an-email", "***"},
		{"phone", ChannelSMS, "+15551234567", "+155***67"},
		{"phone short", ChannelSMS, "12345", "***"},
		{"telegram handle", ChannelTelegram, "@some_user", "@som***er"},
		{"whatsapp", ChannelWhatsApp, "+905551112233", "+905***33"},
		{"empty", ChannelSMS, "", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskRecipient(tt.channel, tt.recipient); got != tt.want {
				t.Fatalf("MaskRecipient(%s, %q) = %q, want %q", tt.channel, tt.recipient, got, tt.want)
			}
		})
	}
}
