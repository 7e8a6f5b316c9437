package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentFanout verifies per-subscription isolation: one broken
// subscriber endpoint must not prevent delivery to the healthy ones, and
// concurrent triggers must produce exactly one delivery per matching
// subscription per event.
func TestConcurrentFanout(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)

	healthy := newReceiver(t, http.StatusOK)
	broken := newReceiver(t, http.StatusInternalServerError)

	for i, rcv := range []*receiver{healthy, broken} {
		resp, _ := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
			"name":   fmt.Sprintf("Fanout target %d", i),
			"url":    rcv.server.URL,
			"events": []string{"consent.granted"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	const events = 5
	for i := 0; i < events; i++ {
		app.deliverySvc.Trigger(context.Background(), 1, domain.EventConsentGranted, map[string]any{
			"consent_id": fmt.Sprintf("c-%d", i),
		})
	}

	healthyReqs := healthy.waitFor(t, events)
	brokenReqs := broken.waitFor(t, events)
	assert.Len(t, healthyReqs, events)
	assert.Len(t, brokenReqs, events)

	// Every delivery to the healthy endpoint carries a distinct delivery ID.
	seen := make(map[string]bool)
	for _, req := range healthyReqs {
		id := req.headers.Get("X-Phloem-Delivery-ID")
		assert.False(t, seen[id], "duplicate delivery %s", id)
		seen[id] = true
	}
}

// TestConcurrentCreates hammers the registration cap from parallel
// requests; the count of accepted webhooks must never exceed the cap.
func TestConcurrentCreates(t *testing.T) {
	app := newTestApp(t, false)
	token := app.authToken(t, 1)

	const attempts = 20
	results := make(chan int, attempts)
	for i := 0; i < attempts; i++ {
		go func(n int) {
			resp, _ := app.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, map[string]interface{}{
				"name":   fmt.Sprintf("Concurrent hook %d", n),
				"url":    "https://hooks.example.com/consent",
				"events": []string{"all"},
			})
			results <- resp.StatusCode
		}(i)
	}

	created := 0
	for i := 0; i < attempts; i++ {
		select {
		case code := <-results:
			if code == http.StatusCreated {
				created++
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for concurrent creates")
		}
	}
	assert.Equal(t, 10, created)

	resp, body := app.doJSON(t, http.MethodGet, "/api/v1/webhooks", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(10), data["count"])
}
