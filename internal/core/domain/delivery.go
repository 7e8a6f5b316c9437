package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of a webhook delivery record.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Delivery records one logical delivery of an event envelope to one
// subscription. The record is created with status pending before the
// HTTP call and mutated in place on each retry; once terminal it is an
// append-only audit entry, removed only by subscription cascade.
type Delivery struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	EventType      EventType      `json:"event_type"`
	Payload        []byte         `json:"-"` // exact bytes sent, signature covers these
	Status         DeliveryStatus `json:"status"`
	ResponseCode   *int           `json:"response_code,omitempty"`
	ResponseBody   *string        `json:"response_body,omitempty"` // truncated to 1000 bytes
	ErrorMessage   *string        `json:"error_message,omitempty"`
	AttemptCount   int            `json:"attempt_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	// UpdatedAt moves on every state transition, including the claim for
	// retry; the stalled-record sweep keys off it.
	UpdatedAt   time.Time  `json:"updated_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Terminal reports whether the record accepts no further attempts.
func (d *Delivery) Terminal() bool {
	switch d.Status {
	case DeliverySuccess:
		return true
	case DeliveryFailed:
		return d.NextRetryAt == nil
	default:
		return false
	}
}
