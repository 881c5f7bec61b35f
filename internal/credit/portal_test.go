// AngelaMos | 2026
// portal_test.go

package credit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storywork/storywork-api/internal/config"
)

var portalSpend = RemoteSpendRequest{
	AgentID:     "agent-1",
	Amount:      75,
	Type:        TypeCarousel,
	Description: "Story generation: story-1",
}

func newPortal(t *testing.T, handler http.HandlerFunc) *PortalClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewPortalClient(config.PortalConfig{
		URL:        srv.URL + "/",
		ServiceKey: "svc-key",
		Timeout:    time.Second,
	})
}

func TestPortalSpendDebited(t *testing.T) {
	client := newPortal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/credits/spend", r.URL.Path)
		assert.Equal(t, "svc-key", r.Header.Get("X-Service-Key"))
		_, err := uuid.Parse(r.Header.Get("Idempotency-Key"))
		assert.NoError(t, err)

		var body portalSpendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent-1", body.AgentID)
		assert.Equal(t, 75, body.Amount)
		assert.Equal(t, "storywork_carousel", body.Type)
		assert.Equal(t, "storywork", body.SourcePlatform)

		_, _ = w.Write([]byte(`{"success":true,"newBalance":425}`))
	})

	outcome := client.Spend(context.Background(), portalSpend)
	assert.Equal(t, RemoteDebited{NewBalance: 425}, outcome)
}

func TestPortalSpendDeclined(t *testing.T) {
	client := newPortal(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"Insufficient credits"}`))
	})

	outcome := client.Spend(context.Background(), portalSpend)
	assert.Equal(t, RemoteInsufficientFunds{Message: "Insufficient credits"}, outcome)
}

func TestPortalSpendUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":true,"newBalance":1}`))
		},
		"non json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		},
		"too slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newPortal(t, handler)
			client.timeout = 100 * time.Millisecond

			outcome := client.Spend(context.Background(), portalSpend)
			unavailable, ok := outcome.(RemoteUnavailable)
			require.True(t, ok, "got %T", outcome)
			assert.Error(t, unavailable.Err)
		})
	}
}

func TestPortalSpendMakesOneAttempt(t *testing.T) {
	calls := 0
	client := newPortal(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client.Spend(context.Background(), portalSpend)
	assert.Equal(t, 1, calls)
}

func TestPortalNotConfigured(t *testing.T) {
	client := NewPortalClient(config.PortalConfig{})

	outcome := client.Spend(context.Background(), portalSpend)
	assert.Equal(t, RemoteUnavailable{Err: ErrPortalNotConfigured}, outcome)
	assert.Equal(t, defaultPortalTimeout, client.timeout)
}

func TestPortalPing(t *testing.T) {
	client := newPortal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, client.Ping(context.Background()))

	client = newPortal(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Error(t, client.Ping(context.Background()))

	assert.ErrorIs(t, NewPortalClient(config.PortalConfig{}).Ping(context.Background()), ErrPortalNotConfigured)
}
