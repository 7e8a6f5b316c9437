package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Webhook request headers.
const (
	HeaderSignature  = "X-Phloem-Signature"
	HeaderEvent      = "X-Phloem-Event"
	HeaderTimestamp  = "X-Phloem-Timestamp"
	HeaderDeliveryID = "X-Phloem-Delivery-ID"

	userAgent = "Phloem-Webhooks/1.0"

	// maxRecordedBody bounds response bodies and error messages persisted
	// on delivery records.
	maxRecordedBody = 1000
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TaskPool dispatches delivery jobs to background workers.
type TaskPool interface {
	Submit(task func()) bool
}

// eventEnvelope is the JSON body sent to subscriber endpoints. It is
// serialized exactly once per event; the signature covers those bytes.
type eventEnvelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type deliveryService struct {
	subRepo    ports.SubscriptionRepository
	dlvRepo    ports.DeliveryRepository
	encSvc     ports.EncryptionService
	sigSvc     ports.SignatureService
	urlVal     ports.URLValidator
	pool       TaskPool
	httpClient HTTPClient
	cfg        config.WebhookConfig
	log        zerolog.Logger
}

// NewDeliveryService creates the webhook delivery engine.
func NewDeliveryService(
	subRepo ports.SubscriptionRepository,
	dlvRepo ports.DeliveryRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	urlVal ports.URLValidator,
	pool TaskPool,
	httpClient HTTPClient,
	cfg config.WebhookConfig,
	log zerolog.Logger,
) ports.DeliveryService {
	return &deliveryService{
		subRepo:    subRepo,
		dlvRepo:    dlvRepo,
		encSvc:     encSvc,
		sigSvc:     sigSvc,
		urlVal:     urlVal,
		pool:       pool,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
	}
}

// Trigger fans the event out to every matching active subscription of
// the fiduciary. Jobs are enqueued to the worker pool and the call
// returns; a slow subscriber endpoint never inflates the latency of the
// consent operation that raised the event, and a delivery failure never
// fails it.
func (s *deliveryService) Trigger(ctx context.Context, fiduciaryID int64, event domain.EventType, data map[string]any) {
	subs, err := s.subRepo.ListActiveByFiduciary(ctx, fiduciaryID)
	if err != nil {
		s.log.Error().Err(err).Int64("fiduciary_id", fiduciaryID).Str("event", string(event)).
			Msg("webhook fanout: failed to list subscriptions")
		return
	}

	payload, err := marshalEnvelope(event, data)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(event)).Msg("webhook fanout: failed to marshal envelope")
		return
	}

	matched := 0
	for i := range subs {
		sub := subs[i]
		if !sub.Subscribed(event) {
			continue
		}
		matched++
		ok := s.pool.Submit(func() {
			// Detached from the request context: the trigger returns
			// before delivery runs.
			jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FanoutDeadline)
			defer cancel()
			s.deliverOnce(jobCtx, &sub, event, payload)
		})
		if !ok {
			s.log.Warn().Str("webhook_id", sub.ID.String()).Str("event", string(event)).
				Msg("webhook fanout: worker pool stopped, delivery dropped")
		}
	}

	s.log.Debug().
		Int64("fiduciary_id", fiduciaryID).
		Str("event", string(event)).
		Int("matched", matched).
		Msg("webhook fanout enqueued")
}

// SendTest pushes a synthetic test event through the regular delivery
// path, synchronously, so operators see the outcome in the response.
func (s *deliveryService) SendTest(ctx context.Context, sub *domain.Subscription) (*domain.Delivery, error) {
	data := map[string]any{
		"webhook_id": sub.ID.String(),
		"message":    "Test delivery",
	}
	payload, err := marshalEnvelope(domain.EventTest, data)
	if err != nil {
		return nil, err
	}
	return s.deliverOnce(ctx, sub, domain.EventTest, payload), nil
}

// Redeliver executes one retry for a record previously claimed by the
// sweep worker (status retrying). The subscription is re-fetched so a
// deactivation or secret rotation since the original attempt takes
// effect.
func (s *deliveryService) Redeliver(ctx context.Context, d *domain.Delivery) {
	sub, err := s.subRepo.GetByID(ctx, d.SubscriptionID)
	if err != nil {
		s.log.Error().Err(err).Str("delivery_id", d.ID.String()).Msg("redelivery: failed to fetch subscription")
		// Leave the record in retrying; the stalled-record sweep reclaims
		// it for another attempt once it ages past the reclaim threshold.
		return
	}
	if sub == nil || !sub.Active {
		d.Status = domain.DeliveryFailed
		d.NextRetryAt = nil
		msg := truncate("subscription inactive or deleted", maxRecordedBody)
		d.ErrorMessage = &msg
		if err := s.dlvRepo.Update(ctx, d); err != nil {
			s.log.Error().Err(err).Str("delivery_id", d.ID.String()).Msg("redelivery: failed to persist state")
		}
		return
	}

	d.AttemptCount++
	s.attempt(ctx, sub, d)
}

// deliverOnce persists a pending record, performs the signed POST, and
// persists the classified outcome. The pending write happens before the
// network call so a crash mid-delivery leaves an auditable record.
func (s *deliveryService) deliverOnce(ctx context.Context, sub *domain.Subscription, event domain.EventType, payload []byte) *domain.Delivery {
	d := &domain.Delivery{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventType:      event,
		Payload:        payload,
		Status:         domain.DeliveryPending,
		AttemptCount:   1,
		CreatedAt:      time.Now(),
	}
	if err := s.dlvRepo.Create(ctx, d); err != nil {
		s.log.Error().Err(err).Str("webhook_id", sub.ID.String()).Str("event", string(event)).
			Msg("delivery: failed to create record")
		return d
	}

	if s.cfg.RevalidateURLs {
		if err := s.urlVal.Validate(sub.URL); err != nil {
			d.Status = domain.DeliveryFailed
			msg := truncate("destination failed safety revalidation: "+err.Error(), maxRecordedBody)
			d.ErrorMessage = &msg
			s.persist(ctx, d)
			return d
		}
	}

	s.attempt(ctx, sub, d)
	return d
}

// attempt performs a single signed HTTP POST for the record and
// classifies the result. The record's payload bytes are re-signed with
// the subscription's current secret on every attempt.
func (s *deliveryService) attempt(ctx context.Context, sub *domain.Subscription, d *domain.Delivery) {
	secret, err := s.encSvc.Decrypt(sub.SecretEnc)
	if err != nil {
		s.log.Error().Err(err).Str("webhook_id", sub.ID.String()).Msg("delivery: failed to decrypt secret")
		s.classifyError(d, "internal error: unable to sign payload")
		s.persist(ctx, d)
		return
	}
	signature := s.sigSvc.Sign(secret, d.Payload)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(d.Payload))
	if err != nil {
		s.classifyError(d, err.Error())
		s.persist(ctx, d)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, string(d.EventType))
	req.Header.Set(HeaderTimestamp, time.Now().UTC().Format(time.RFC3339))
	req.Header.Set(HeaderDeliveryID, d.ID.String())

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.classifyError(d, err.Error())
	} else {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRecordedBody))
		resp.Body.Close()
		s.classifyResponse(d, resp.StatusCode, string(body))
	}
	s.persist(ctx, d)

	metrics.WebhookDeliveries.WithLabelValues(string(d.EventType), string(d.Status)).Inc()
	metrics.WebhookLatency.WithLabelValues(string(d.EventType), string(d.Status)).Observe(float64(latency.Milliseconds()))

	evt := s.log.Info()
	if d.Status != domain.DeliverySuccess {
		evt = s.log.Warn()
	}
	evt.Str("delivery_id", d.ID.String()).
		Str("webhook_id", sub.ID.String()).
		Str("event", string(d.EventType)).
		Str("status", string(d.Status)).
		Int("attempt", d.AttemptCount).
		Dur("latency", latency).
		Msg("webhook delivery attempt")
}

// classifyResponse applies the success window [200,300).
func (s *deliveryService) classifyResponse(d *domain.Delivery, code int, body string) {
	d.ResponseCode = &code
	truncated := truncate(body, maxRecordedBody)
	d.ResponseBody = &truncated

	if code >= 200 && code < 300 {
		d.Status = domain.DeliverySuccess
		now := time.Now()
		d.DeliveredAt = &now
		d.NextRetryAt = nil
		d.ErrorMessage = nil
		return
	}

	s.classifyError(d, fmt.Sprintf("HTTP %d", code))
}

// classifyError marks the record failed and schedules a retry if the
// attempt budget allows; otherwise the failure is terminal.
func (s *deliveryService) classifyError(d *domain.Delivery, msg string) {
	d.Status = domain.DeliveryFailed
	truncated := truncate(msg, maxRecordedBody)
	d.ErrorMessage = &truncated
	d.DeliveredAt = nil

	if d.AttemptCount < s.cfg.MaxAttempts {
		retryAt := time.Now().Add(s.cfg.RetryDelay(d.AttemptCount))
		d.NextRetryAt = &retryAt
	} else {
		d.NextRetryAt = nil
	}
}

func (s *deliveryService) persist(ctx context.Context, d *domain.Delivery) {
	if err := s.dlvRepo.Update(ctx, d); err != nil {
		s.log.Error().Err(err).Str("delivery_id", d.ID.String()).Msg("delivery: failed to persist state")
	}
}

func marshalEnvelope(event domain.EventType, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(eventEnvelope{
		Event:     string(event),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
