package handler

import (
	"time"

	"github.com/Ni8crawler18/Phloem/internal/adapter/http/dto"
	"github.com/Ni8crawler18/Phloem/internal/adapter/http/middleware"
	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/pkg/apperror"
	"github.com/Ni8crawler18/Phloem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WebhookHandler handles webhook subscription management endpoints.
type WebhookHandler struct {
	registrySvc ports.RegistryService
	deliverySvc ports.DeliveryService
	auditSvc    ports.AuditService // nil = audit logging disabled
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(registrySvc ports.RegistryService, deliverySvc ports.DeliveryService, auditSvc ports.AuditService) *WebhookHandler {
	return &WebhookHandler{
		registrySvc: registrySvc,
		deliverySvc: deliverySvc,
		auditSvc:    auditSvc,
	}
}

// Create registers a new webhook subscription. The signing secret is
// included in this response and never returned again.
func (h *WebhookHandler) Create(c *gin.Context) {
	fiduciaryID, ok := middleware.FiduciaryID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	req.Name = dto.SanitizeName(req.Name)

	sub, secret, err := h.registrySvc.Create(c.Request.Context(), fiduciaryID, ports.CreateSubscriptionRequest{
		Name:   req.Name,
		URL:    req.URL,
		Events: req.Events,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.audit(c, domain.AuditWebhookCreated, sub.ID.String())
	response.Created(c, dto.CreateWebhookResponse{
		WebhookResponse: dto.FromSubscription(sub),
		Secret:          secret,
	})
}

// List returns all webhook subscriptions of the fiduciary.
func (h *WebhookHandler) List(c *gin.Context) {
	fiduciaryID, ok := middleware.FiduciaryID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	subs, err := h.registrySvc.List(c.Request.Context(), fiduciaryID)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.WebhookResponse, len(subs))
	for i := range subs {
		out[i] = dto.FromSubscription(&subs[i])
	}
	response.OK(c, gin.H{"webhooks": out, "count": len(out)})
}

// Get returns one webhook subscription.
func (h *WebhookHandler) Get(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	sub, err := h.registrySvc.Get(c.Request.Context(), fiduciaryID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromSubscription(sub))
}

// Update applies a partial update to a webhook subscription.
func (h *WebhookHandler) Update(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.Name != nil {
		name := dto.SanitizeName(*req.Name)
		req.Name = &name
	}

	sub, err := h.registrySvc.Update(c.Request.Context(), fiduciaryID, id, ports.UpdateSubscriptionRequest{
		Name:   req.Name,
		URL:    req.URL,
		Events: req.Events,
		Active: req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.audit(c, domain.AuditWebhookUpdated, sub.ID.String())
	response.OK(c, dto.FromSubscription(sub))
}

// Delete removes a webhook subscription and its delivery history.
func (h *WebhookHandler) Delete(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	if err := h.registrySvc.Delete(c.Request.Context(), fiduciaryID, id); err != nil {
		response.Error(c, err)
		return
	}

	h.audit(c, domain.AuditWebhookDeleted, id.String())
	response.OK(c, gin.H{"message": "webhook deleted"})
}

// RotateSecret replaces the webhook signing secret and returns the new
// plaintext, once.
func (h *WebhookHandler) RotateSecret(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	secret, err := h.registrySvc.RotateSecret(c.Request.Context(), fiduciaryID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.audit(c, domain.AuditWebhookSecretRotated, id.String())
	response.OK(c, dto.RotateSecretResponse{Secret: secret})
}

// SendTest pushes a synthetic test event through the delivery path and
// returns the resulting record.
func (h *WebhookHandler) SendTest(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	sub, err := h.registrySvc.Get(c.Request.Context(), fiduciaryID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	d, err := h.deliverySvc.SendTest(c.Request.Context(), sub)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	h.audit(c, domain.AuditWebhookTestSent, id.String())
	response.OK(c, dto.FromDelivery(d))
}

// ListDeliveries returns delivery history for a subscription, newest
// first, with a capped page size.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	fiduciaryID, id, ok := h.scoped(c)
	if !ok {
		return
	}

	var q dto.ListDeliveriesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	deliveries, err := h.registrySvc.ListDeliveries(c.Request.Context(), fiduciaryID, id, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.DeliveryResponse, len(deliveries))
	for i := range deliveries {
		out[i] = dto.FromDelivery(&deliveries[i])
	}
	response.OK(c, gin.H{"deliveries": out, "count": len(out)})
}

// scoped extracts the authenticated fiduciary and the webhook ID path
// parameter. An unparseable ID reads as not found, same as an unknown
// one.
func (h *WebhookHandler) scoped(c *gin.Context) (int64, uuid.UUID, bool) {
	fiduciaryID, ok := middleware.FiduciaryID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return 0, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrWebhookNotFound())
		return 0, uuid.Nil, false
	}
	return fiduciaryID, id, true
}

func (h *WebhookHandler) audit(c *gin.Context, action domain.AuditAction, resourceID string) {
	if h.auditSvc == nil {
		return
	}
	fiduciaryID, _ := middleware.FiduciaryID(c)
	h.auditSvc.Log(c.Request.Context(), &domain.AuditLog{
		ID:           uuid.New(),
		FiduciaryID:  &fiduciaryID,
		Action:       action,
		ResourceType: "webhook",
		ResourceID:   resourceID,
		IPAddress:    c.ClientIP(),
		CreatedAt:    time.Now(),
	})
}
