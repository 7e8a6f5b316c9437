package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/pkg/apperror"

	"github.com/google/uuid"
)

// In-memory repository implementations backing the integration stack.
// They mirror the PostgreSQL repos' contracts: nil,nil on not-found,
// WH_005 on the registration cap, atomic claim semantics under a mutex.

type inMemorySubscriptionRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*domain.Subscription
}

func newInMemorySubscriptionRepo() *inMemorySubscriptionRepo {
	return &inMemorySubscriptionRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *inMemorySubscriptionRepo) Create(_ context.Context, sub *domain.Subscription, maxPerFiduciary int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.subs {
		if s.FiduciaryID == sub.FiduciaryID {
			count++
		}
	}
	if count >= maxPerFiduciary {
		return apperror.ErrWebhookLimitReached(maxPerFiduciary)
	}
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *inMemorySubscriptionRepo) GetByIDForFiduciary(_ context.Context, id uuid.UUID, fiduciaryID int64) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.FiduciaryID != fiduciaryID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySubscriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySubscriptionRepo) ListByFiduciary(_ context.Context, fiduciaryID int64) ([]domain.Subscription, error) {
	return r.list(fiduciaryID, false), nil
}

func (r *inMemorySubscriptionRepo) ListActiveByFiduciary(_ context.Context, fiduciaryID int64) ([]domain.Subscription, error) {
	return r.list(fiduciaryID, true), nil
}

func (r *inMemorySubscriptionRepo) list(fiduciaryID int64, activeOnly bool) []domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscription
	for _, s := range r.subs {
		if s.FiduciaryID != fiduciaryID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *inMemorySubscriptionRepo) Update(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *inMemorySubscriptionRepo) UpdateSecret(_ context.Context, id uuid.UUID, secretEnc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		s.SecretEnc = secretEnc
	}
	return nil
}

func (r *inMemorySubscriptionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

type inMemoryDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*domain.Delivery
	subRepo    *inMemorySubscriptionRepo
}

func newInMemoryDeliveryRepo(subRepo *inMemorySubscriptionRepo) *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{
		deliveries: make(map[uuid.UUID]*domain.Delivery),
		subRepo:    subRepo,
	}
}

func (r *inMemoryDeliveryRepo) Create(_ context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	cp.UpdatedAt = cp.CreatedAt
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *inMemoryDeliveryRepo) Update(_ context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	cp.UpdatedAt = time.Now()
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *inMemoryDeliveryRepo) ListBySubscription(_ context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Delivery
	for _, d := range r.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryDeliveryRepo) ClaimDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []domain.Delivery
	for _, d := range r.deliveries {
		if len(claimed) >= limit {
			break
		}
		if d.Status != domain.DeliveryFailed || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		if d.AttemptCount >= maxAttempts {
			continue
		}
		sub, ok := r.subRepo.subs[d.SubscriptionID]
		if !ok || !sub.Active {
			continue
		}
		d.Status = domain.DeliveryRetrying
		d.NextRetryAt = nil
		d.UpdatedAt = now
		claimed = append(claimed, *d)
	}
	return claimed, nil
}

func (r *inMemoryDeliveryRepo) ReclaimStalled(_ context.Context, cutoff, retryAt time.Time, maxAttempts int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.deliveries {
		if d.Status != domain.DeliveryPending && d.Status != domain.DeliveryRetrying {
			continue
		}
		if !d.UpdatedAt.Before(cutoff) {
			continue
		}
		d.Status = domain.DeliveryFailed
		d.UpdatedAt = time.Now()
		if d.ErrorMessage == nil {
			msg := "delivery interrupted"
			d.ErrorMessage = &msg
		}
		if d.AttemptCount < maxAttempts {
			at := retryAt
			d.NextRetryAt = &at
		} else {
			d.NextRetryAt = nil
		}
		n++
	}
	return n, nil
}

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}
