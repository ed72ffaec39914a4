package domain

import "time"

// HealthStatus is the last observed health of a channel's provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// ChannelConfig is the per-channel singleton configuration row.
// Credentials are opaque to the core; adapters receive their secrets from
// startup configuration and consult this row only for the enabled flag and
// daily cap.
type ChannelConfig struct {
	Channel         Channel        `json:"channel"`
	Enabled         bool           `json:"enabled"`
	ProviderName    string         `json:"provider_name"`
	Credentials     []byte         `json:"-"`
	Settings        map[string]any `json:"settings,omitempty"`
	Priority        int            `json:"priority"`
	DailyLimit      *int           `json:"daily_limit,omitempty"`
	DailySentCount  int            `json:"daily_sent_count"`
	HealthStatus    HealthStatus   `json:"health_status"`
	LastHealthCheck *time.Time     `json:"last_health_check,omitempty"`
}

// DailyLimitReached reports whether today's counter has hit the cap.
func (c *ChannelConfig) DailyLimitReached() bool {
	return c.DailyLimit != nil && c.DailySentCount >= *c.DailyLimit
}
