package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is a consent lifecycle event a webhook can subscribe to.
type EventType string

const (
	EventConsentGranted EventType = "consent.granted"
	EventConsentRevoked EventType = "consent.revoked"
	EventConsentExpired EventType = "consent.expired"
	// EventAll is the wildcard marker: a subscription carrying it receives
	// every consent event.
	EventAll EventType = "all"
	// EventTest is the synthetic event used by operators to validate a
	// webhook configuration. It cannot be subscribed to.
	EventTest EventType = "test"
)

// SubscribableEvents returns the event vocabulary accepted at
// subscription create/update time.
func SubscribableEvents() []EventType {
	return []EventType{EventConsentGranted, EventConsentRevoked, EventConsentExpired, EventAll}
}

// Subscribable reports whether e may appear in a subscription's event set.
func (e EventType) Subscribable() bool {
	switch e {
	case EventConsentGranted, EventConsentRevoked, EventConsentExpired, EventAll:
		return true
	default:
		return false
	}
}

// Subscription is a fiduciary-owned webhook endpoint configuration.
// The signing secret is stored AES-256-GCM encrypted; the plaintext is
// returned to the owner exactly once, at creation or rotation.
type Subscription struct {
	ID          uuid.UUID   `json:"id"`
	FiduciaryID int64       `json:"fiduciary_id"`
	Name        string      `json:"name"`
	URL         string      `json:"url"`
	SecretEnc   string      `json:"-"`
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Subscribed reports whether the subscription's event set contains e or
// the wildcard marker.
func (s *Subscription) Subscribed(e EventType) bool {
	for _, ev := range s.Events {
		if ev == EventAll || ev == e {
			return true
		}
	}
	return false
}
