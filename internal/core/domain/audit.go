package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies a recorded management operation.
type AuditAction string

const (
	AuditWebhookCreated       AuditAction = "webhook.created"
	AuditWebhookUpdated       AuditAction = "webhook.updated"
	AuditWebhookDeleted       AuditAction = "webhook.deleted"
	AuditWebhookSecretRotated AuditAction = "webhook.secret_rotated"
	AuditWebhookTestSent      AuditAction = "webhook.test_sent"
)

// AuditLog is one entry in the management audit trail.
type AuditLog struct {
	ID           uuid.UUID
	FiduciaryID  *int64
	Action       AuditAction
	ResourceType string
	ResourceID   string
	IPAddress    string
	Details      string // JSON blob
	CreatedAt    time.Time
}
