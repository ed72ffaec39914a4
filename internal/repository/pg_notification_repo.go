package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/dispatch/internal/domain"
)

const notificationColumns = `id, client_id, channel, recipient, subject, body, status, priority,
	retry_count, max_retries, next_retry_at, error_code, error_message,
	provider_msg_id, idempotency_key, callback_url, metadata,
	created_at, updated_at, sent_at, expires_at`

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, client_id, channel, recipient, subject, body, status, priority,
			 retry_count, max_retries, idempotency_key, callback_url, metadata,
			 created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		n.ID, n.ClientID, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.Priority,
		n.RetryCount, n.MaxRetries, n.IdempotencyKey, n.CallbackURL, n.Metadata,
		n.CreatedAt, n.UpdatedAt, n.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			strings.Contains(pgErr.ConstraintName, "idempotency_key") {
			return domain.ErrDuplicateIdempotency
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = $1`, key)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM notifications" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(
		`SELECT `+notificationColumns+` FROM notifications%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

func (r *pgNotificationRepository) Lease(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'SENDING', next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return false, fmt.Errorf("lease notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'SENT', sent_at = $2, next_retry_at = NULL,
		    error_code = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'SENDING'`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *pgNotificationRepository) SetProviderMessageID(ctx context.Context, id, providerMsgID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET provider_msg_id = $2, updated_at = NOW()
		WHERE id = $1`, id, providerMsgID)
	return err
}

func (r *pgNotificationRepository) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'FAILED', next_retry_at = NULL,
		    error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING','SENDING')`, id, errorCode, errorMessage)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *pgNotificationRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', retry_count = $2, next_retry_at = $3,
		    error_code = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'SENDING' AND $2 <= max_retries`,
		id, retryCount, nextRetryAt, errorCode, errorMessage)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *pgNotificationRepository) LeaseDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	// SKIP LOCKED keeps concurrent sweepers from leasing the same rows.
	// The CTE carries next_retry_at through because the UPDATE nulls it on
	// the row itself; it is the only surviving sort key for the batch.
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id, next_retry_at FROM notifications
			WHERE status = 'PENDING'
			  AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			  AND (expires_at IS NULL OR expires_at > $1)
			ORDER BY CASE priority WHEN 'HIGH' THEN 2 WHEN 'NORMAL' THEN 1 ELSE 0 END DESC,
			         next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notifications n
		SET status = 'SENDING', next_retry_at = NULL, updated_at = NOW()
		FROM due WHERE n.id = due.id
		RETURNING `+qualified("n", notificationColumns)+`, due.next_retry_at`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lease due retries: %w", err)
	}
	defer rows.Close()

	var batch []leasedRetry
	for rows.Next() {
		var n domain.Notification
		var dueAt time.Time
		if err := rows.Scan(append(notificationFields(&n), &dueAt)...); err != nil {
			return nil, err
		}
		batch = append(batch, leasedRetry{n: &n, dueAt: dueAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderLeased(batch), nil
}

func (r *pgNotificationRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET status = 'EXPIRED', next_retry_at = NULL,
		    error_code = 'EXPIRED', error_message = 'notification expired before delivery',
		    updated_at = NOW()
		WHERE status IN ('PENDING','SENDING')
		  AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+notificationColumns, now)
	if err != nil {
		return nil, fmt.Errorf("expire overdue: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) ReleaseStaleLeases(ctx context.Context, olderThan time.Time) (int, error) {
	// next_retry_at stays strictly ahead of updated_at on released rows.
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', next_retry_at = NOW() + interval '1 second', updated_at = NOW()
		WHERE status = 'SENDING' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stale leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgNotificationRepository) ForceRetry(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', retry_count = 0,
		    next_retry_at = NOW() + interval '1 second',
		    error_code = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('FAILED','EXPIRED')`, id)
	if err != nil {
		return false, fmt.Errorf("force retry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ---- helpers ----

// notificationFields returns the scan destinations matching
// notificationColumns, in order.
func notificationFields(n *domain.Notification) []any {
	return []any{
		&n.ID, &n.ClientID, &n.Channel, &n.Recipient, &n.Subject, &n.Body,
		&n.Status, &n.Priority, &n.RetryCount, &n.MaxRetries, &n.NextRetryAt,
		&n.ErrorCode, &n.ErrorMessage, &n.ProviderMsgID, &n.IdempotencyKey,
		&n.CallbackURL, &n.Metadata, &n.CreatedAt, &n.UpdatedAt, &n.SentAt, &n.ExpiresAt,
	}
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	if err := row.Scan(notificationFields(&n)...); err != nil {
		return nil, err
	}
	return &n, nil
}

// leasedRetry pairs a leased row with the next_retry_at it was due on.
type leasedRetry struct {
	n     *domain.Notification
	dueAt time.Time
}

// orderLeased restores the sweep order, priority tier first and earliest
// due time within a tier; UPDATE ... RETURNING does not preserve the CTE
// ordering.
func orderLeased(batch []leasedRetry) []*domain.Notification {
	sort.SliceStable(batch, func(i, j int) bool {
		pi, pj := priorityRank(batch[i].n.Priority), priorityRank(batch[j].n.Priority)
		if pi != pj {
			return pi > pj
		}
		return batch[i].dueAt.Before(batch[j].dueAt)
	})
	out := make([]*domain.Notification, len(batch))
	for i, row := range batch {
		out[i] = row.n
	}
	return out
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func priorityRank(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return 2
	case domain.PriorityNormal:
		return 1
	}
	return 0
}

// qualified prefixes every column in a comma-separated list with an alias.
func qualified(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
