package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type registryService struct {
	subRepo ports.SubscriptionRepository
	dlvRepo ports.DeliveryRepository
	encSvc  ports.EncryptionService
	urlVal  ports.URLValidator
	cfg     config.WebhookConfig
	log     zerolog.Logger
}

// NewRegistryService creates the webhook subscription registry.
func NewRegistryService(
	subRepo ports.SubscriptionRepository,
	dlvRepo ports.DeliveryRepository,
	encSvc ports.EncryptionService,
	urlVal ports.URLValidator,
	cfg config.WebhookConfig,
	log zerolog.Logger,
) ports.RegistryService {
	return &registryService{
		subRepo: subRepo,
		dlvRepo: dlvRepo,
		encSvc:  encSvc,
		urlVal:  urlVal,
		cfg:     cfg,
		log:     log,
	}
}

func (s *registryService) Create(ctx context.Context, fiduciaryID int64, req ports.CreateSubscriptionRequest) (*domain.Subscription, string, error) {
	if err := validateName(req.Name); err != nil {
		return nil, "", err
	}
	events, err := validateEvents(req.Events)
	if err != nil {
		return nil, "", err
	}
	if err := s.urlVal.Validate(req.URL); err != nil {
		return nil, "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", apperror.InternalError(err)
	}
	secretEnc, err := s.encSvc.Encrypt(secret)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("encrypt webhook secret: %w", err))
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:          uuid.New(),
		FiduciaryID: fiduciaryID,
		Name:        req.Name,
		URL:         req.URL,
		SecretEnc:   secretEnc,
		Events:      events,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.subRepo.Create(ctx, sub, s.cfg.MaxPerFiduciary); err != nil {
		return nil, "", asAppError(err)
	}

	s.log.Info().
		Str("webhook_id", sub.ID.String()).
		Int64("fiduciary_id", fiduciaryID).
		Str("url", sub.URL).
		Msg("webhook subscription created")

	// The plaintext secret leaves the service exactly once, here.
	return sub, secret, nil
}

func (s *registryService) Update(ctx context.Context, fiduciaryID int64, id uuid.UUID, req ports.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	sub, err := s.getOwned(ctx, fiduciaryID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		sub.Name = *req.Name
	}
	if req.Events != nil {
		events, err := validateEvents(*req.Events)
		if err != nil {
			return nil, err
		}
		sub.Events = events
	}
	if req.URL != nil {
		if err := s.urlVal.Validate(*req.URL); err != nil {
			return nil, err
		}
		sub.URL = *req.URL
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = time.Now()

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, asAppError(err)
	}
	return sub, nil
}

func (s *registryService) RotateSecret(ctx context.Context, fiduciaryID int64, id uuid.UUID) (string, error) {
	sub, err := s.getOwned(ctx, fiduciaryID, id)
	if err != nil {
		return "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", apperror.InternalError(err)
	}
	secretEnc, err := s.encSvc.Encrypt(secret)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("encrypt webhook secret: %w", err))
	}

	if err := s.subRepo.UpdateSecret(ctx, sub.ID, secretEnc); err != nil {
		return "", asAppError(err)
	}

	s.log.Info().
		Str("webhook_id", sub.ID.String()).
		Int64("fiduciary_id", fiduciaryID).
		Msg("webhook secret rotated")

	return secret, nil
}

func (s *registryService) Delete(ctx context.Context, fiduciaryID int64, id uuid.UUID) error {
	sub, err := s.getOwned(ctx, fiduciaryID, id)
	if err != nil {
		return err
	}
	// Delivery history cascades with the subscription.
	if err := s.subRepo.Delete(ctx, sub.ID); err != nil {
		return asAppError(err)
	}
	return nil
}

func (s *registryService) List(ctx context.Context, fiduciaryID int64) ([]domain.Subscription, error) {
	subs, err := s.subRepo.ListByFiduciary(ctx, fiduciaryID)
	if err != nil {
		return nil, asAppError(err)
	}
	return subs, nil
}

func (s *registryService) Get(ctx context.Context, fiduciaryID int64, id uuid.UUID) (*domain.Subscription, error) {
	return s.getOwned(ctx, fiduciaryID, id)
}

func (s *registryService) ListDeliveries(ctx context.Context, fiduciaryID int64, id uuid.UUID, limit int) ([]domain.Delivery, error) {
	sub, err := s.getOwned(ctx, fiduciaryID, id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > s.cfg.HistoryPageMax {
		limit = s.cfg.HistoryPageMax
	}

	deliveries, err := s.dlvRepo.ListBySubscription(ctx, sub.ID, limit)
	if err != nil {
		return nil, asAppError(err)
	}
	return deliveries, nil
}

// getOwned fetches a subscription scoped to its owner. Unknown and
// cross-tenant IDs are indistinguishable to the caller.
func (s *registryService) getOwned(ctx context.Context, fiduciaryID int64, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subRepo.GetByIDForFiduciary(ctx, id, fiduciaryID)
	if err != nil {
		return nil, asAppError(err)
	}
	if sub == nil {
		return nil, apperror.ErrWebhookNotFound()
	}
	return sub, nil
}

func validateName(name string) error {
	if len(name) < 3 || len(name) > 255 {
		return apperror.ErrInvalidName()
	}
	return nil
}

func validateEvents(raw []string) ([]domain.EventType, error) {
	if len(raw) == 0 {
		return nil, apperror.ErrEmptyEvents()
	}
	events := make([]domain.EventType, 0, len(raw))
	for _, r := range raw {
		e := domain.EventType(r)
		if !e.Subscribable() {
			return nil, apperror.ErrInvalidEvent(r)
		}
		events = append(events, e)
	}
	return events, nil
}

// asAppError passes structured errors through and wraps everything else
// as a database error.
func asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.ErrDatabaseError(err)
}
