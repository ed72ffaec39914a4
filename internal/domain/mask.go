package domain

import "strings"

// MaskRecipient redacts a recipient for API responses, logs and webhook
// payloads. Email addresses keep the first two characters of the local part
// and the full domain; everything else shows the first four and last two
// characters, or "***" when shorter than six.
func MaskRecipient(ch Channel, recipient string) string {
	if recipient == "" {
		return "***"
	}
	if ch == ChannelEmail {
		at := strings.Index(recipient, "@")
		if at < 0 {
			return "***"
		}
		if at <= 2 {
			return "***" + recipient[at:]
		}
		return recipient[:2] + "***" + recipient[at:]
	}
	if len(recipient) < 6 {
		return "***"
	}
	return recipient[:4] + "***" + recipient[len(recipient)-2:]
}
