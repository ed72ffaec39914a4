package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/dispatch/internal/domain"
)

type pgClientRepository struct {
	pool *pgxpool.Pool
}

// NewPgClientRepository returns a ClientRepository backed by PostgreSQL.
func NewPgClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &pgClientRepository{pool: pool}
}

func (r *pgClientRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*domain.APIClient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, active, rate_limit,
		       allowed_channels, created_at, last_used_at
		FROM api_clients WHERE api_key_hash = $1`, hash)

	var c domain.APIClient
	var allowed []string
	err := row.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Active,
		&c.RateLimit, &allowed, &c.CreatedAt, &c.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client by key hash: %w", err)
	}

	for _, a := range allowed {
		c.AllowedChannels = append(c.AllowedChannels, domain.Channel(a))
	}
	return &c, nil
}

func (r *pgClientRepository) TouchLastUsed(ctx context.Context, clientID int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE api_clients SET last_used_at = NOW() WHERE id = $1`, clientID)
	return err
}

type pgTemplateRepository struct {
	pool *pgxpool.Pool
}

// NewPgTemplateRepository returns a TemplateRepository backed by PostgreSQL.
func NewPgTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &pgTemplateRepository{pool: pool}
}

func (r *pgTemplateRepository) GetActiveByCodeAndChannel(ctx context.Context, code string, channel domain.Channel) (*domain.MessageTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, channel, subject_template, body_template,
		       variables, active, created_at, updated_at
		FROM message_templates
		WHERE code = $1 AND channel = $2 AND active`, code, channel)

	var t domain.MessageTemplate
	var subject *string
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Channel, &subject,
		&t.BodyTemplate, &t.Variables, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if subject != nil {
		t.SubjectTemplate = *subject
	}
	return &t, nil
}

type pgChannelConfigRepository struct {
	pool *pgxpool.Pool
}

// NewPgChannelConfigRepository returns a ChannelConfigRepository backed by PostgreSQL.
func NewPgChannelConfigRepository(pool *pgxpool.Pool) ChannelConfigRepository {
	return &pgChannelConfigRepository{pool: pool}
}

func (r *pgChannelConfigRepository) Get(ctx context.Context, channel domain.Channel) (*domain.ChannelConfig, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT channel, enabled, provider_name, credentials, settings, priority,
		       daily_limit, daily_sent_count, health_status, last_health_check
		FROM channel_configs WHERE channel = $1`, channel)

	var c domain.ChannelConfig
	err := row.Scan(&c.Channel, &c.Enabled, &c.ProviderName, &c.Credentials,
		&c.Settings, &c.Priority, &c.DailyLimit, &c.DailySentCount,
		&c.HealthStatus, &c.LastHealthCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel config: %w", err)
	}
	return &c, nil
}

func (r *pgChannelConfigRepository) IncrementDailySent(ctx context.Context, channel domain.Channel) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_configs SET daily_sent_count = daily_sent_count + 1
		WHERE channel = $1`, channel)
	return err
}

func (r *pgChannelConfigRepository) SetHealth(ctx context.Context, channel domain.Channel, status domain.HealthStatus, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_configs SET health_status = $2, last_health_check = $3
		WHERE channel = $1`, channel, status, at)
	return err
}

type pgAuditRepository struct {
	pool *pgxpool.Pool
}

// NewPgAuditRepository returns an AuditRepository backed by PostgreSQL.
func NewPgAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &pgAuditRepository{pool: pool}
}

func (r *pgAuditRepository) Record(ctx context.Context, rec *domain.AuditRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, entity_id, client_id, client_ip, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.Action, rec.EntityID, rec.ClientID, rec.ClientIP, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
