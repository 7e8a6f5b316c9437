package ports

import (
	"context"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"

	"github.com/google/uuid"
)

// SubscriptionRepository defines persistence operations for webhook
// subscriptions. Every owner-facing lookup is scoped by fiduciary ID so
// a subscription ID alone never grants access.
type SubscriptionRepository interface {
	// Create inserts the subscription, enforcing the per-fiduciary
	// registration cap atomically. Returns apperror WH_005 (limit
	// reached) when the fiduciary already owns maxPerFiduciary live
	// subscriptions.
	Create(ctx context.Context, sub *domain.Subscription, maxPerFiduciary int) error
	GetByIDForFiduciary(ctx context.Context, id uuid.UUID, fiduciaryID int64) (*domain.Subscription, error)
	// GetByID is unscoped; used only by the retry sweeper to re-check a
	// subscription before redelivery.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	ListByFiduciary(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error)
	ListActiveByFiduciary(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
	UpdateSecret(ctx context.Context, id uuid.UUID, secretEnc string) error
	// Delete removes the subscription; delivery history goes with it via
	// FK cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeliveryRepository defines persistence operations for delivery records.
type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	Update(ctx context.Context, d *domain.Delivery) error
	// ListBySubscription returns records newest first, at most limit.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, error)
	// ClaimDue atomically transitions up to limit records from failed to
	// retrying where next_retry_at <= now, attempts remain, and the
	// owning subscription is still active. Claimed records are returned;
	// concurrent sweeps never claim the same record.
	ClaimDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Delivery, error)
	// ReclaimStalled flips records stuck non-terminal in flight (pending,
	// or retrying after a claim whose redelivery never concluded) and
	// untouched since before cutoff to failed, scheduling a retry at
	// retryAt for those with attempt budget left. Returns the number
	// reclaimed.
	ReclaimStalled(ctx context.Context, cutoff, retryAt time.Time, maxAttempts int) (int64, error)
}

// AuditRepository persists management audit trail entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}
