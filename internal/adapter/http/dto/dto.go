package dto

import (
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"
)

// CreateWebhookRequest is the request body for webhook registration.
type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required,min=3,max=255"`
	URL    string   `json:"url" binding:"required,safe_url"`
	Events []string `json:"events" binding:"required,min=1"`
}

// UpdateWebhookRequest is the request body for partial webhook updates.
// Absent fields are left unchanged.
type UpdateWebhookRequest struct {
	Name   *string   `json:"name,omitempty" binding:"omitempty,min=3,max=255"`
	URL    *string   `json:"url,omitempty" binding:"omitempty,safe_url"`
	Events *[]string `json:"events,omitempty" binding:"omitempty,min=1"`
	Active *bool     `json:"active,omitempty"`
}

// WebhookResponse is the representation of a subscription returned to
// its owner. The signing secret is never included.
type WebhookResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// CreateWebhookResponse carries the plaintext secret exactly once, in
// the creation response.
type CreateWebhookResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// RotateSecretResponse carries the new plaintext secret.
type RotateSecretResponse struct {
	Secret string `json:"secret"`
}

// DeliveryResponse is one delivery history entry.
type DeliveryResponse struct {
	ID           string  `json:"id"`
	EventType    string  `json:"event_type"`
	Status       string  `json:"status"`
	ResponseCode *int    `json:"response_code,omitempty"`
	ResponseBody *string `json:"response_body,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	AttemptCount int     `json:"attempt_count"`
	NextRetryAt  *string `json:"next_retry_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	DeliveredAt  *string `json:"delivered_at,omitempty"`
}

// ListDeliveriesQuery holds the delivery history query parameters.
type ListDeliveriesQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

// FromSubscription maps a domain subscription to its API representation.
func FromSubscription(sub *domain.Subscription) WebhookResponse {
	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}
	return WebhookResponse{
		ID:        sub.ID.String(),
		Name:      sub.Name,
		URL:       sub.URL,
		Events:    events,
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt.Format(time.RFC3339),
		UpdatedAt: sub.UpdatedAt.Format(time.RFC3339),
	}
}

// FromDelivery maps a domain delivery record to its API representation.
func FromDelivery(d *domain.Delivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:           d.ID.String(),
		EventType:    string(d.EventType),
		Status:       string(d.Status),
		ResponseCode: d.ResponseCode,
		ResponseBody: d.ResponseBody,
		ErrorMessage: d.ErrorMessage,
		AttemptCount: d.AttemptCount,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
	}
	if d.NextRetryAt != nil {
		s := d.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	if d.DeliveredAt != nil {
		s := d.DeliveredAt.Format(time.RFC3339)
		resp.DeliveredAt = &s
	}
	return resp
}
