package ports

import (
	"context"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService handles HMAC-SHA256 signing of webhook payloads.
// Sign must be computed over the exact bytes transmitted as the HTTP
// body; verification is constant time.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// EncryptionService handles AES-256-GCM encryption of signing secrets
// at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// URLValidator rejects webhook destinations resolving to private,
// loopback, link-local, or otherwise internal address space. Any parse
// failure is a rejection (fail closed).
type URLValidator interface {
	Validate(rawURL string) error
}

// TokenService handles JWT operations for the fiduciary dashboard.
type TokenService interface {
	Generate(fiduciaryID int64) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	FiduciaryID int64
}

// CreateSubscriptionRequest holds validated-at-transport input for
// subscription creation.
type CreateSubscriptionRequest struct {
	Name   string
	URL    string
	Events []string
}

// UpdateSubscriptionRequest holds a partial update; nil fields are left
// unchanged.
type UpdateSubscriptionRequest struct {
	Name   *string
	URL    *string
	Events *[]string
	Active *bool
}

// RegistryService is the webhook subscription registry: tenant-scoped
// CRUD, secret rotation, and delivery history reads.
type RegistryService interface {
	// Create registers a subscription and returns it together with the
	// plaintext signing secret. The secret is not retrievable afterwards.
	Create(ctx context.Context, fiduciaryID int64, req CreateSubscriptionRequest) (*domain.Subscription, string, error)
	Update(ctx context.Context, fiduciaryID int64, id uuid.UUID, req UpdateSubscriptionRequest) (*domain.Subscription, error)
	// RotateSecret replaces the signing secret and returns the new
	// plaintext; signatures made with the prior secret are immediately
	// invalid.
	RotateSecret(ctx context.Context, fiduciaryID int64, id uuid.UUID) (string, error)
	Delete(ctx context.Context, fiduciaryID int64, id uuid.UUID) error
	List(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error)
	Get(ctx context.Context, fiduciaryID int64, id uuid.UUID) (*domain.Subscription, error)
	// ListDeliveries returns delivery history newest first, capped at
	// the configured maximum page size regardless of limit.
	ListDeliveries(ctx context.Context, fiduciaryID int64, id uuid.UUID, limit int) ([]domain.Delivery, error)
}

// DeliveryService performs signed webhook deliveries.
type DeliveryService interface {
	// Trigger fans an event out to every matching active subscription of
	// the fiduciary. It enqueues delivery jobs and returns immediately;
	// delivery outcomes never surface to the triggering business
	// operation.
	Trigger(ctx context.Context, fiduciaryID int64, event domain.EventType, data map[string]any)
	// SendTest pushes a synthetic test event through the regular
	// delivery path, synchronously, and returns the resulting record.
	SendTest(ctx context.Context, sub *domain.Subscription) (*domain.Delivery, error)
	// Redeliver executes one retry for a record previously claimed
	// (status retrying) by the sweep worker.
	Redeliver(ctx context.Context, d *domain.Delivery)
}

// AuditService records management operations, fire-and-forget.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
