package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionRepository.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, fiduciary_id, name, url, secret_enc, events, active, created_at, updated_at`

// Create inserts a new subscription, enforcing the per-fiduciary cap.
// An advisory lock on the fiduciary ID serializes concurrent creations
// so two requests cannot both pass the count check.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription, maxPerFiduciary int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sub.FiduciaryID); err != nil {
		return fmt.Errorf("acquire fiduciary lock: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_subscriptions WHERE fiduciary_id = $1`,
		sub.FiduciaryID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	if count >= maxPerFiduciary {
		return apperror.ErrWebhookLimitReached(maxPerFiduciary)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO webhook_subscriptions (id, fiduciary_id, name, url, secret_enc, events, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.FiduciaryID, sub.Name, sub.URL, sub.SecretEnc,
		eventStrings(sub.Events), sub.Active, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create subscription: %w", err)
	}
	return nil
}

// GetByIDForFiduciary fetches a subscription scoped to its owner.
func (r *SubscriptionRepo) GetByIDForFiduciary(ctx context.Context, id uuid.UUID, fiduciaryID int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE id = $1 AND fiduciary_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, fiduciaryID), "get subscription by id for fiduciary")
}

// GetByID fetches a subscription without owner scoping. Only the retry
// sweeper uses this, to re-check a subscription before redelivery.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id), "get subscription by id")
}

// ListByFiduciary returns all subscriptions of a fiduciary, newest first.
func (r *SubscriptionRepo) ListByFiduciary(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE fiduciary_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, fiduciaryID)
}

// ListActiveByFiduciary returns only active subscriptions, for fan-out.
func (r *SubscriptionRepo) ListActiveByFiduciary(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE fiduciary_id = $1 AND active ORDER BY created_at DESC`
	return r.list(ctx, query, fiduciaryID)
}

// Update updates mutable subscription fields. The caller's UpdatedAt is
// persisted as-is so the row matches the representation returned to the
// client.
func (r *SubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `UPDATE webhook_subscriptions
		SET name=$1, url=$2, events=$3, active=$4, updated_at=$5
		WHERE id=$6`
	_, err := r.pool.Exec(ctx, query,
		sub.Name, sub.URL, eventStrings(sub.Events), sub.Active, sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// UpdateSecret replaces the encrypted signing secret.
func (r *SubscriptionRepo) UpdateSecret(ctx context.Context, id uuid.UUID, secretEnc string) error {
	query := `UPDATE webhook_subscriptions SET secret_enc=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, secretEnc, id)
	if err != nil {
		return fmt.Errorf("update subscription secret: %w", err)
	}
	return nil
}

// Delete removes the subscription; delivery history cascades.
func (r *SubscriptionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) scanOne(row pgx.Row, op string) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var events []string
	err := row.Scan(
		&sub.ID, &sub.FiduciaryID, &sub.Name, &sub.URL, &sub.SecretEnc,
		&events, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.Events = eventTypes(events)
	return sub, nil
}

func (r *SubscriptionRepo) list(ctx context.Context, query string, fiduciaryID int64) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, fiduciaryID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var events []string
		if err := rows.Scan(
			&sub.ID, &sub.FiduciaryID, &sub.Name, &sub.URL, &sub.SecretEnc,
			&events, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Events = eventTypes(events)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func eventStrings(events []domain.EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func eventTypes(events []string) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = domain.EventType(e)
	}
	return out
}
