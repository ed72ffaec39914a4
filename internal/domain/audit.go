package domain

import "time"

// AuditAction identifies what was done.
type AuditAction string

const (
	AuditSendNotification AuditAction = "SEND_NOTIFICATION"
	AuditForceRetry       AuditAction = "FORCE_RETRY"
)

// AuditRecord is a best-effort trail entry. Writes must never fail the
// operation they describe.
type AuditRecord struct {
	ID        string      `json:"id"`
	Action    AuditAction `json:"action"`
	EntityID  string      `json:"entity_id"`
	ClientID  *int        `json:"client_id,omitempty"`
	ClientIP  string      `json:"client_ip,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
