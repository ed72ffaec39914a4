package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// APIClient is an external system allowed to submit notifications.
// Only the SHA-256 hash of the API key is stored; the prefix (first 8
// characters of the plain key) exists for display in admin tooling.
type APIClient struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	APIKeyHash      string     `json:"-"`
	APIKeyPrefix    string     `json:"api_key_prefix"`
	Active          bool       `json:"active"`
	RateLimit       int        `json:"rate_limit"`
	AllowedChannels []Channel  `json:"allowed_channels,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// ChannelAllowed reports whether the client may use the channel.
// An empty allowed set means all channels.
func (c *APIClient) ChannelAllowed(ch Channel) bool {
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, allowed := range c.AllowedChannels {
		if allowed == ch {
			return true
		}
	}
	return false
}

// HashAPIKey returns the lowercase hex SHA-256 of a plaintext API key.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
