package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/core/ports/mocks"
	"github.com/Ni8crawler18/Phloem/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		MaxPerFiduciary: 10,
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		RetryDelays:     []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		Workers:         2,
		FanoutDeadline:  time.Minute,
		HistoryPageSize: 50,
		HistoryPageMax:  100,
	}
}

func newRegistryFixture(t *testing.T) (*gomock.Controller, *mocks.MockSubscriptionRepository, *mocks.MockDeliveryRepository, ports.RegistryService) {
	ctrl := gomock.NewController(t)

	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	dlvRepo := mocks.NewMockDeliveryRepository(ctrl)
	encSvc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	svc := NewRegistryService(subRepo, dlvRepo, encSvc, NewSafeURLValidator(), testWebhookConfig(), newTestLogger())
	return ctrl, subRepo, dlvRepo, svc
}

func TestRegistryService_Create_Success(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	subRepo.EXPECT().Create(gomock.Any(), gomock.Any(), 10).DoAndReturn(
		func(ctx context.Context, sub *domain.Subscription, max int) error {
			assert.Equal(t, int64(1), sub.FiduciaryID)
			assert.True(t, sub.Active)
			assert.NotEmpty(t, sub.SecretEnc)
			return nil
		},
	)

	sub, secret, err := svc.Create(context.Background(), 1, ports.CreateSubscriptionRequest{
		Name:   "Consent notifications",
		URL:    "https://example.com/hook",
		Events: []string{"consent.granted", "consent.revoked"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, SecretPrefix))
	assert.NotEqual(t, secret, sub.SecretEnc, "stored secret must be encrypted")
	assert.Equal(t, []domain.EventType{domain.EventConsentGranted, domain.EventConsentRevoked}, sub.Events)
}

func TestRegistryService_Create_ValidationFailures(t *testing.T) {
	ctrl, _, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	tests := []struct {
		name     string
		req      ports.CreateSubscriptionRequest
		wantCode string
	}{
		{
			name:     "name too short",
			req:      ports.CreateSubscriptionRequest{Name: "ab", URL: "https://example.com/hook", Events: []string{"all"}},
			wantCode: "WH_001",
		},
		{
			name:     "name too long",
			req:      ports.CreateSubscriptionRequest{Name: strings.Repeat("x", 256), URL: "https://example.com/hook", Events: []string{"all"}},
			wantCode: "WH_001",
		},
		{
			name:     "unknown event",
			req:      ports.CreateSubscriptionRequest{Name: "valid name", URL: "https://example.com/hook", Events: []string{"consent.granted", "payment.settled"}},
			wantCode: "WH_002",
		},
		{
			name:     "test event not subscribable",
			req:      ports.CreateSubscriptionRequest{Name: "valid name", URL: "https://example.com/hook", Events: []string{"test"}},
			wantCode: "WH_002",
		},
		{
			name:     "empty events",
			req:      ports.CreateSubscriptionRequest{Name: "valid name", URL: "https://example.com/hook", Events: nil},
			wantCode: "WH_003",
		},
		{
			name:     "internal URL",
			req:      ports.CreateSubscriptionRequest{Name: "valid name", URL: "http://169.254.169.254/hook", Events: []string{"all"}},
			wantCode: "WH_004",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(context.Background(), 1, tt.req)
			require.Error(t, err)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestRegistryService_Create_LimitReached(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	subRepo.EXPECT().Create(gomock.Any(), gomock.Any(), 10).Return(apperror.ErrWebhookLimitReached(10))

	_, _, err := svc.Create(context.Background(), 1, ports.CreateSubscriptionRequest{
		Name:   "One too many",
		URL:    "https://example.com/hook",
		Events: []string{"all"},
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WH_005", appErr.Code)
}

func TestRegistryService_Update_Partial(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	id := uuid.New()
	existing := &domain.Subscription{
		ID:          id,
		FiduciaryID: 1,
		Name:        "Old name",
		URL:         "https://example.com/hook",
		Events:      []domain.EventType{domain.EventAll},
		Active:      true,
	}
	subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), id, int64(1)).Return(existing, nil)

	var persistedAt time.Time
	subRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, sub *domain.Subscription) error {
			persistedAt = sub.UpdatedAt
			return nil
		},
	)

	active := false
	updated, err := svc.Update(context.Background(), 1, id, ports.UpdateSubscriptionRequest{Active: &active})
	require.NoError(t, err)

	assert.False(t, updated.Active)
	assert.Equal(t, "Old name", updated.Name, "unset fields stay untouched")
	assert.Equal(t, "https://example.com/hook", updated.URL)
	assert.Equal(t, persistedAt, updated.UpdatedAt, "response must carry the persisted timestamp")
	assert.False(t, persistedAt.IsZero())
}

func TestRegistryService_Update_RejectsUnsafeURL(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	id := uuid.New()
	subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), id, int64(1)).Return(&domain.Subscription{
		ID:          id,
		FiduciaryID: 1,
		Name:        "Consent hook",
		URL:         "https://example.com/hook",
		Events:      []domain.EventType{domain.EventAll},
	}, nil)

	badURL := "http://10.0.0.5/hook"
	_, err := svc.Update(context.Background(), 1, id, ports.UpdateSubscriptionRequest{URL: &badURL})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WH_004", appErr.Code)
}

func TestRegistryService_Update_NotFound(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), gomock.Any(), int64(9)).Return(nil, nil)

	name := "New name"
	_, err := svc.Update(context.Background(), 9, uuid.New(), ports.UpdateSubscriptionRequest{Name: &name})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WH_006", appErr.Code)
}

func TestRegistryService_RotateSecret(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	id := uuid.New()
	subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), id, int64(1)).Return(&domain.Subscription{
		ID:          id,
		FiduciaryID: 1,
		SecretEnc:   "old-ciphertext",
	}, nil)

	var storedEnc string
	subRepo.EXPECT().UpdateSecret(gomock.Any(), id, gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ uuid.UUID, secretEnc string) error {
			storedEnc = secretEnc
			return nil
		},
	)

	secret, err := svc.RotateSecret(context.Background(), 1, id)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, SecretPrefix))
	assert.NotEqual(t, "old-ciphertext", storedEnc)
	assert.NotEqual(t, secret, storedEnc)
}

func TestRegistryService_Delete_Cascades(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	id := uuid.New()
	subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), id, int64(1)).Return(&domain.Subscription{ID: id, FiduciaryID: 1}, nil)
	subRepo.EXPECT().Delete(gomock.Any(), id).Return(nil)

	assert.NoError(t, svc.Delete(context.Background(), 1, id))
}

func TestRegistryService_ListDeliveries_Caps(t *testing.T) {
	ctrl, subRepo, dlvRepo, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	id := uuid.New()
	sub := &domain.Subscription{ID: id, FiduciaryID: 1}

	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"default when zero", 0, 50},
		{"passes through in range", 20, 20},
		{"capped at max", 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subRepo.EXPECT().GetByIDForFiduciary(gomock.Any(), id, int64(1)).Return(sub, nil)
			dlvRepo.EXPECT().ListBySubscription(gomock.Any(), id, tt.wantLimit).Return([]domain.Delivery{}, nil)

			_, err := svc.ListDeliveries(context.Background(), 1, id, tt.limit)
			assert.NoError(t, err)
		})
	}
}

func TestRegistryService_List_DBError(t *testing.T) {
	ctrl, subRepo, _, svc := newRegistryFixture(t)
	defer ctrl.Finish()

	subRepo.EXPECT().ListByFiduciary(gomock.Any(), int64(1)).Return(nil, errors.New("connection refused"))

	_, err := svc.List(context.Background(), 1)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_001", appErr.Code)
}
