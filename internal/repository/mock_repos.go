package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
	GetErr    error

	// IdempotencyMisses makes the next N GetByIdempotencyKey calls report
	// ErrNotFound, simulating the window where a concurrent submit has not
	// committed yet.
	IdempotencyMisses int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{notifications: make(map[string]*domain.Notification)}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.IdempotencyKey != nil {
		for _, existing := range m.notifications {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *n.IdempotencyKey {
				return domain.ErrDuplicateIdempotency
			}
		}
	}
	clone := *n
	m.notifications[n.ID] = &clone
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IdempotencyMisses > 0 {
		m.IdempotencyMisses--
		return nil, domain.ErrNotFound
	}
	for _, n := range m.notifications {
		if n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Notification
	for _, n := range m.notifications {
		if f.ClientID != nil && n.ClientID != *f.ClientID {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Channel != nil && n.Channel != *f.Channel {
			continue
		}
		clone := *n
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return nil, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MockNotificationRepository) Lease(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status != domain.StatusPending {
		return false, nil
	}
	n.Status = domain.StatusSending
	n.NextRetryAt = nil
	n.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockNotificationRepository) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status != domain.StatusSending {
		return domain.ErrInvalidTransition
	}
	n.Status = domain.StatusSent
	n.SentAt = &sentAt
	n.NextRetryAt = nil
	n.ErrorCode, n.ErrorMessage = nil, nil
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockNotificationRepository) SetProviderMessageID(_ context.Context, id, providerMsgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.ProviderMsgID = &providerMsgID
	}
	return nil
}

func (m *MockNotificationRepository) MarkFailed(_ context.Context, id, errorCode, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	n.Status = domain.StatusFailed
	n.NextRetryAt = nil
	n.ErrorCode, n.ErrorMessage = &errorCode, &errorMessage
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockNotificationRepository) ScheduleRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status != domain.StatusSending || retryCount > n.MaxRetries {
		return domain.ErrInvalidTransition
	}
	n.Status = domain.StatusPending
	n.RetryCount = retryCount
	n.NextRetryAt = &nextRetryAt
	n.ErrorCode, n.ErrorMessage = &errorCode, &errorMessage
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockNotificationRepository) LeaseDueRetries(_ context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Notification
	for _, n := range m.notifications {
		if n.Status != domain.StatusPending || n.NextRetryAt == nil || n.NextRetryAt.After(now) {
			continue
		}
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			continue
		}
		due = append(due, n)
	}
	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := priorityRank(due[i].Priority), priorityRank(due[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	leased := make([]*domain.Notification, len(due))
	for i, n := range due {
		n.Status = domain.StatusSending
		n.NextRetryAt = nil
		n.UpdatedAt = time.Now().UTC()
		clone := *n
		leased[i] = &clone
	}
	return leased, nil
}

func (m *MockNotificationRepository) ExpireOverdue(_ context.Context, now time.Time) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, msg := "EXPIRED", "notification expired before delivery"
	var expired []*domain.Notification
	for _, n := range m.notifications {
		if (n.Status == domain.StatusPending || n.Status == domain.StatusSending) &&
			n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			n.Status = domain.StatusExpired
			n.NextRetryAt = nil
			n.ErrorCode, n.ErrorMessage = &code, &msg
			n.UpdatedAt = time.Now().UTC()
			clone := *n
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}

func (m *MockNotificationRepository) ReleaseStaleLeases(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	now := time.Now().UTC()
	next := now.Add(time.Second)
	for _, n := range m.notifications {
		if n.Status == domain.StatusSending && n.UpdatedAt.Before(olderThan) {
			n.Status = domain.StatusPending
			n.NextRetryAt = &next
			n.UpdatedAt = now
			released++
		}
	}
	return released, nil
}

func (m *MockNotificationRepository) ForceRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return false, nil
	}
	if n.Status != domain.StatusFailed && n.Status != domain.StatusExpired {
		return false, nil
	}
	now := time.Now().UTC()
	next := now.Add(time.Second)
	n.Status = domain.StatusPending
	n.RetryCount = 0
	n.NextRetryAt = &next
	n.ErrorCode, n.ErrorMessage = nil, nil
	n.UpdatedAt = now
	return true, nil
}

// MockClientRepository is an in-memory ClientRepository keyed by api_key_hash.
type MockClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*domain.APIClient
}

func NewMockClientRepository(clients ...*domain.APIClient) *MockClientRepository {
	m := &MockClientRepository{clients: make(map[string]*domain.APIClient)}
	for _, c := range clients {
		m.clients[c.APIKeyHash] = c
	}
	return m
}

func (m *MockClientRepository) GetByAPIKeyHash(_ context.Context, hash string) (*domain.APIClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MockClientRepository) TouchLastUsed(_ context.Context, clientID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, c := range m.clients {
		if c.ID == clientID {
			c.LastUsedAt = &now
		}
	}
	return nil
}

// MockTemplateRepository is an in-memory TemplateRepository.
type MockTemplateRepository struct {
	templates []*domain.MessageTemplate
}

func NewMockTemplateRepository(templates ...*domain.MessageTemplate) *MockTemplateRepository {
	return &MockTemplateRepository{templates: templates}
}

func (m *MockTemplateRepository) GetActiveByCodeAndChannel(_ context.Context, code string, channel domain.Channel) (*domain.MessageTemplate, error) {
	for _, t := range m.templates {
		if t.Code == code && t.Channel == channel && t.Active {
			clone := *t
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

// MockChannelConfigRepository is an in-memory ChannelConfigRepository with
// every channel enabled unless configured otherwise.
type MockChannelConfigRepository struct {
	mu      sync.RWMutex
	configs map[domain.Channel]*domain.ChannelConfig
}

func NewMockChannelConfigRepository() *MockChannelConfigRepository {
	m := &MockChannelConfigRepository{configs: make(map[domain.Channel]*domain.ChannelConfig)}
	for _, ch := range domain.Channels() {
		m.configs[ch] = &domain.ChannelConfig{
			Channel:      ch,
			Enabled:      ch != domain.ChannelWhatsApp,
			HealthStatus: domain.HealthUnknown,
		}
	}
	return m
}

// Set replaces a channel's config; used by tests to disable channels or
// install daily limits.
func (m *MockChannelConfigRepository) Set(cfg *domain.ChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Channel] = cfg
}

func (m *MockChannelConfigRepository) Get(_ context.Context, channel domain.Channel) (*domain.ChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[channel]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MockChannelConfigRepository) IncrementDailySent(_ context.Context, channel domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[channel]; ok {
		c.DailySentCount++
	}
	return nil
}

func (m *MockChannelConfigRepository) SetHealth(_ context.Context, channel domain.Channel, status domain.HealthStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[channel]; ok {
		c.HealthStatus = status
		c.LastHealthCheck = &at
	}
	return nil
}

// MockAuditRepository collects audit records in memory.
type MockAuditRepository struct {
	mu      sync.Mutex
	Records []*domain.AuditRecord
}

func NewMockAuditRepository() *MockAuditRepository { return &MockAuditRepository{} }

func (m *MockAuditRepository) Record(_ context.Context, rec *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.Records = append(m.Records, &clone)
	return nil
}
