package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	httpHandler "github.com/Ni8crawler18/Phloem/internal/adapter/http/handler"
	redisStorage "github.com/Ni8crawler18/Phloem/internal/adapter/storage/redis"
	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/service"
	"github.com/Ni8crawler18/Phloem/internal/worker"
	"github.com/Ni8crawler18/Phloem/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp assembles the full application stack: real HTTP layer,
// middleware, services, signature engine, and worker pool, backed by
// in-memory repositories and miniredis.

type testApp struct {
	server      *httptest.Server
	redis       *miniredis.Miniredis
	pool        *worker.Pool
	tokenSvc    ports.TokenService
	deliverySvc ports.DeliveryService
	sigSvc      ports.SignatureService
}

func webhookTestConfig() config.WebhookConfig {
	return config.WebhookConfig{
		MaxPerFiduciary:   10,
		Timeout:           5 * time.Second,
		MaxAttempts:       3,
		RetryDelays:       []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		Workers:           4,
		FanoutDeadline:    30 * time.Second,
		HistoryPageSize:   50,
		HistoryPageMax:    100,
		SweepInterval:     30 * time.Second,
		SweepBatch:        50,
		StalledReclaimAge: 5 * time.Minute,
	}
}

func newTestApp(t *testing.T, rateLimited bool) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	log := logger.New("debug", false)
	cfg := webhookTestConfig()

	encSvc, err := service.NewAESEncryptionService("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()
	urlVal := service.NewSafeURLValidator()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 24*time.Hour, "test-issuer")

	subRepo := newInMemorySubscriptionRepo()
	dlvRepo := newInMemoryDeliveryRepo(subRepo)
	auditSvc := service.NewAuditService(newInMemoryAuditRepo(), log)

	pool := worker.NewPool(cfg.Workers, log)
	pool.Start()

	registrySvc := service.NewRegistryService(subRepo, dlvRepo, encSvc, urlVal, cfg, log)
	deliverySvc := service.NewDeliveryService(
		subRepo, dlvRepo, encSvc, sigSvc, urlVal,
		pool, &http.Client{Timeout: cfg.Timeout}, cfg, log,
	)

	var rateLimitStore *redisStorage.RateLimitStore
	if rateLimited {
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		RegistrySvc:    registrySvc,
		DeliverySvc:    deliverySvc,
		TokenSvc:       tokenSvc,
		AuditSvc:       auditSvc,
		RateLimitStore: rateLimitStore,
		Logger:         log,
	})

	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		pool.Stop()
		rdb.Close()
		mr.Close()
	})

	return &testApp{
		server:      server,
		redis:       mr,
		pool:        pool,
		tokenSvc:    tokenSvc,
		deliverySvc: deliverySvc,
		sigSvc:      sigSvc,
	}
}

func (a *testApp) authToken(t *testing.T, fiduciaryID int64) string {
	t.Helper()
	token, _, err := a.tokenSvc.Generate(fiduciaryID)
	require.NoError(t, err)
	return token
}

func (a *testApp) doJSON(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

// receiver is a fake subscriber endpoint capturing every delivery.
type receiver struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	server   *httptest.Server
}

type capturedRequest struct {
	body    []byte
	headers http.Header
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{body: body, headers: req.Header.Clone()})
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *receiver) waitFor(t *testing.T, n int) []capturedRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.requests) >= n {
			out := make([]capturedRequest, len(r.requests))
			copy(out, r.requests)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", n, r.count())
	return nil
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t, false)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_WebhookLifecycle(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)

	// Create
	resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
		"name":   "Lifecycle hook",
		"url":    "https://hooks.example.com/consent",
		"events": []string{"consent.granted"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	id := data["id"].(string)
	secret := data["secret"].(string)
	assert.True(t, strings.HasPrefix(secret, "whsec_"))
	assert.Len(t, secret, len("whsec_")+43)

	// Get — secret never returned again
	resp, body = app.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = body["data"].(map[string]interface{})
	_, hasSecret := data["secret"]
	assert.False(t, hasSecret)

	// Update — deactivate
	resp, body = app.doJSON(t, http.MethodPatch, "/api/v1/webhooks/"+id, token, map[string]interface{}{
		"active": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, false, data["active"])

	// Rotate secret — fresh value, still whsec_-prefixed
	resp, body = app.doJSON(t, http.MethodPost, "/api/v1/webhooks/"+id+"/rotate-secret", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := body["data"].(map[string]interface{})["secret"].(string)
	assert.True(t, strings.HasPrefix(rotated, "whsec_"))
	assert.NotEqual(t, secret, rotated)

	// Cross-tenant access is indistinguishable from not-found
	otherToken := app.authToken(t, 2)
	resp, _ = app.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+id, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Delete
	resp, _ = app.doJSON(t, http.MethodDelete, "/api/v1/webhooks/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = app.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_EndToEndDelivery(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)
	rcv := newReceiver(t, http.StatusOK)

	// Register for consent.granted only
	resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
		"name":   "Consent granted hook",
		"url":    rcv.server.URL,
		"events": []string{"consent.granted"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	id := data["id"].(string)
	secret := data["secret"].(string)

	// A non-matching event must produce no delivery
	app.deliverySvc.Trigger(context.Background(), 1, domain.EventConsentRevoked, map[string]any{
		"consent_id": "c-1",
	})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rcv.count())

	// The matching event produces exactly one signed delivery
	app.deliverySvc.Trigger(context.Background(), 1, domain.EventConsentGranted, map[string]any{
		"consent_id": "c-2",
		"purpose":    "marketing",
	})
	reqs := rcv.waitFor(t, 1)
	require.Len(t, reqs, 1)
	got := reqs[0]

	assert.Equal(t, "Phloem-Webhooks/1.0", got.headers.Get("User-Agent"))
	assert.Equal(t, "consent.granted", got.headers.Get("X-Phloem-Event"))
	assert.NotEmpty(t, got.headers.Get("X-Phloem-Timestamp"))
	assert.NotEmpty(t, got.headers.Get("X-Phloem-Delivery-ID"))

	// Signature verifies against the exact transmitted bytes
	sig := got.headers.Get("X-Phloem-Signature")
	require.NotEmpty(t, sig)
	assert.True(t, app.sigSvc.Verify(secret, got.body, sig))

	var envelope struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.body, &envelope))
	assert.Equal(t, "consent.granted", envelope.Event)
	assert.Equal(t, "c-2", envelope.Data["consent_id"])

	// Delivery history records the success
	resp, body = app.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	histData := body["data"].(map[string]interface{})
	require.Equal(t, float64(1), histData["count"])
	entry := histData["deliveries"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "success", entry["status"])
	assert.Equal(t, float64(200), entry["response_code"])
	assert.NotEmpty(t, entry["delivered_at"])
}

func TestIntegration_FailedDeliveryScheduledForRetry(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)
	rcv := newReceiver(t, http.StatusInternalServerError)

	resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
		"name":   "Flaky endpoint",
		"url":    rcv.server.URL,
		"events": []string{"all"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["data"].(map[string]interface{})["id"].(string)

	app.deliverySvc.Trigger(context.Background(), 1, domain.EventConsentExpired, map[string]any{
		"consent_id": "c-3",
	})
	rcv.waitFor(t, 1)

	// History shows the failure with the synthetic HTTP error message and
	// a scheduled retry.
	require.Eventually(t, func() bool {
		resp, body := app.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries", token, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		histData := body["data"].(map[string]interface{})
		if histData["count"].(float64) != 1 {
			return false
		}
		entry := histData["deliveries"].([]interface{})[0].(map[string]interface{})
		return entry["status"] == "failed" &&
			entry["error_message"] == "HTTP 500" &&
			entry["next_retry_at"] != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestIntegration_RegistrationCap(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)

	for i := 0; i < 10; i++ {
		resp, _ := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
			"name":   fmt.Sprintf("Hook number %d", i),
			"url":    "https://hooks.example.com/consent",
			"events": []string{"all"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
		"name":   "One too many",
		"url":    "https://hooks.example.com/consent",
		"events": []string{"all"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "WH_005", body["error_code"])

	// Another fiduciary is unaffected by the first one's cap
	otherToken := app.authToken(t, 2)
	resp, _ = app.doJSON(t, http.MethodPost, "/api/v1/webhooks", otherToken, map[string]interface{}{
		"name":   "Fresh tenant hook",
		"url":    "https://hooks.example.com/consent",
		"events": []string{"all"},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestIntegration_UnsafeURLRejected(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)

	for _, target := range []string{
		"http://localhost/hook",
		"http://127.0.0.1:8080/hook",
		"http://10.0.0.5/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://internal-service.local/hook",
	} {
		resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
			"name":   "SSRF attempt",
			"url":    target,
			"events": []string{"all"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "url %s should be rejected", target)
		assert.Equal(t, "WH_004", body["error_code"], "url %s", target)
	}
}

func TestIntegration_CreateRateLimited(t *testing.T) {
	app := newTestApp(t, true)
	token := app.authToken(t, 1)

	blocked := false
	for i := 0; i < 11; i++ {
		resp, _ := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
			"name":   fmt.Sprintf("Rate limit burst %d", i),
			"url":    "https://hooks.example.com/consent",
			"events": []string{"all"},
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			blocked = true
			break
		}
	}
	assert.True(t, blocked, "11th create within one window should hit the rate limit")
}

func TestIntegration_TestDelivery(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)
	rcv := newReceiver(t, http.StatusOK)

	resp, body := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
		"name":   "Test target",
		"url":    rcv.server.URL,
		"events": []string{"consent.granted"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	id := data["id"].(string)
	secret := data["secret"].(string)

	resp, body = app.doJSON(t, http.MethodPost, "/api/v1/webhooks/"+id+"/test", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["data"].(map[string]interface{})
	assert.Equal(t, "test", result["event_type"])
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, float64(1), result["attempt_count"])

	reqs := rcv.waitFor(t, 1)
	got := reqs[0]
	assert.Equal(t, "test", got.headers.Get("X-Phloem-Event"))
	assert.True(t, app.sigSvc.Verify(secret, got.body, got.headers.Get("X-Phloem-Signature")))
}
