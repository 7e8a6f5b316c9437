package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliveryColumnNames() []string {
	return []string{"id", "subscription_id", "event_type", "payload", "status", "response_code", "response_body", "error_message", "attempt_count", "next_retry_at", "created_at", "updated_at", "delivered_at"}
}

func newTestDelivery() *domain.Delivery {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Delivery{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		EventType:      domain.EventConsentGranted,
		Payload:        []byte(`{"event":"consent.granted","timestamp":"2026-08-31T10:00:00Z","data":{}}`),
		Status:         domain.DeliveryPending,
		AttemptCount:   1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func deliveryRow(d *domain.Delivery) *pgxmock.Rows {
	return pgxmock.NewRows(deliveryColumnNames()).AddRow(
		d.ID, d.SubscriptionID, d.EventType, d.Payload, d.Status,
		d.ResponseCode, d.ResponseBody, d.ErrorMessage,
		d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.UpdatedAt, d.DeliveredAt,
	)
}

func TestDeliveryRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()

	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WithArgs(d.ID, d.SubscriptionID, d.EventType, d.Payload, d.Status,
			d.ResponseCode, d.ResponseBody, d.ErrorMessage,
			d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.DeliveredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()
	code := 200
	body := "ok"
	now := time.Now()
	d.Status = domain.DeliverySuccess
	d.ResponseCode = &code
	d.ResponseBody = &body
	d.DeliveredAt = &now

	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs(d.Status, d.ResponseCode, d.ResponseBody, d.ErrorMessage,
			d.AttemptCount, d.NextRetryAt, d.DeliveredAt, d.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Update(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ListBySubscription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()

	mock.ExpectQuery("SELECT (.+) FROM webhook_deliveries WHERE subscription_id").
		WithArgs(d.SubscriptionID, 50).
		WillReturnRows(deliveryRow(d))

	got, err := repo.ListBySubscription(context.Background(), d.SubscriptionID, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, d.Payload, got[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ClaimDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()
	d.Status = domain.DeliveryRetrying
	now := time.Now()

	mock.ExpectQuery(`UPDATE webhook_deliveries d\s+SET status = 'retrying', next_retry_at = NULL, updated_at = NOW\(\)`).
		WithArgs(now, 3, 50).
		WillReturnRows(deliveryRow(d))

	claimed, err := repo.ClaimDue(context.Background(), now, 3, 50)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, d.ID, claimed[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ClaimDue_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	now := time.Now()

	mock.ExpectQuery("UPDATE webhook_deliveries d").
		WithArgs(now, 3, 50).
		WillReturnRows(pgxmock.NewRows(deliveryColumnNames()))

	claimed, err := repo.ClaimDue(context.Background(), now, 3, 50)
	assert.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ReclaimStalled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	cutoff := time.Now().Add(-5 * time.Minute)
	retryAt := time.Now()

	// The reclaim must cover both stall shapes: pending records whose
	// delivery never concluded and retrying records whose claimed
	// redelivery never persisted an outcome.
	mock.ExpectExec(`UPDATE webhook_deliveries\s+SET status = 'failed',[\s\S]+WHERE status IN \('pending', 'retrying'\) AND updated_at < \$3`).
		WithArgs(3, retryAt, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.ReclaimStalled(context.Background(), cutoff, retryAt, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
