package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeliveryRepo implements ports.DeliveryRepository.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

const deliveryColumns = `id, subscription_id, event_type, payload, status, response_code, response_body, error_message, attempt_count, next_retry_at, created_at, updated_at, delivered_at`

// Create inserts a new delivery record.
func (r *DeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	query := `INSERT INTO webhook_deliveries (id, subscription_id, event_type, payload, status, response_code, response_body, error_message, attempt_count, next_retry_at, created_at, updated_at, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.SubscriptionID, d.EventType, d.Payload, d.Status,
		d.ResponseCode, d.ResponseBody, d.ErrorMessage,
		d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Update persists the delivery record's current state.
func (r *DeliveryRepo) Update(ctx context.Context, d *domain.Delivery) error {
	query := `UPDATE webhook_deliveries
		SET status=$1, response_code=$2, response_body=$3, error_message=$4, attempt_count=$5, next_retry_at=$6, delivered_at=$7, updated_at=NOW()
		WHERE id=$8`

	_, err := r.pool.Exec(ctx, query,
		d.Status, d.ResponseCode, d.ResponseBody, d.ErrorMessage,
		d.AttemptCount, d.NextRetryAt, d.DeliveredAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

// ListBySubscription returns delivery records newest first.
func (r *DeliveryRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM webhook_deliveries WHERE subscription_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// ClaimDue atomically transitions due failed records to retrying and
// returns them. SKIP LOCKED keeps concurrent sweep runs from claiming
// the same record; inactive subscriptions are skipped.
func (r *DeliveryRepo) ClaimDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Delivery, error) {
	query := `UPDATE webhook_deliveries d
		SET status = 'retrying', next_retry_at = NULL, updated_at = NOW()
		WHERE d.id IN (
			SELECT w.id FROM webhook_deliveries w
			JOIN webhook_subscriptions s ON s.id = w.subscription_id
			WHERE w.status = 'failed'
			  AND w.next_retry_at IS NOT NULL
			  AND w.next_retry_at <= $1
			  AND w.attempt_count < $2
			  AND s.active
			ORDER BY w.next_retry_at
			LIMIT $3
			FOR UPDATE OF w SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := r.pool.Query(ctx, query, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// ReclaimStalled flips records stuck in a non-terminal in-flight state
/// to failed: pending records whose delivery never concluded, and
// retrying records claimed by a sweep whose redelivery never persisted
// an outcome (pool shutdown, crash, transient fetch error). Staleness is
// judged by updated_at, which every transition touches, so a record is
// only reclaimed once it has sat untouched past cutoff. Records with
// attempt budget left get next_retry_at = retryAt so the retry sweep
// picks them up; exhausted ones stay terminal.
func (r *DeliveryRepo) ReclaimStalled(ctx context.Context, cutoff, retryAt time.Time, maxAttempts int) (int64, error) {
	query := `UPDATE webhook_deliveries
		SET status = 'failed',
			error_message = COALESCE(error_message, 'delivery interrupted'),
			next_retry_at = CASE WHEN attempt_count < $1 THEN $2 ELSE NULL END,
			updated_at = NOW()
		WHERE status IN ('pending', 'retrying') AND updated_at < $3`

	tag, err := r.pool.Exec(ctx, query, maxAttempts, retryAt, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stalled deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeliveries(rows pgx.Rows) ([]domain.Delivery, error) {
	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(
			&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload, &d.Status,
			&d.ResponseCode, &d.ResponseBody, &d.ErrorMessage,
			&d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt, &d.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
