// AngelaMos | 2026
// handler_test.go

package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/storywork/storywork-api/internal/middleware"
)

const testWebhookSecret = "whsec_unit_test"

func stripeSignatureHeader(payload []byte, secret string, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func asAccount(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.AccountIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newBillingRouter(f *billingFixture, webhookSecret, accountID string) chi.Router {
	svc := NewService(ServiceConfig{
		Gateway:      &webhookGateway{fakeGateway: f.gateway, verifier: NewStripeGateway("", webhookSecret, nil)},
		Users:        f.users,
		Ledger:       f.ledger,
		Events:       f.events,
		Catalog:      f.svc.catalog,
		CostPerStory: 75,
		AppURL:       "https://app.storywork.test",
	})

	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r, asAccount(accountID))
	h.RegisterWebhookRoutes(r)
	return r
}

// webhookGateway fakes the Stripe API calls but verifies signatures for real.
type webhookGateway struct {
	*fakeGateway
	verifier *StripeGateway
}

func (g *webhookGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return g.verifier.ConstructEvent(payload, signature)
}

func post(t *testing.T, r http.Handler, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestWebhookRequiresSignature(t *testing.T) {
	r := newBillingRouter(newBillingFixture(), testWebhookSecret, "user-1")

	rec, body := post(t, r, "/webhooks/stripe", checkoutCompleted, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No signature", body["error"])

	rec, body = post(t, r, "/webhooks/stripe", checkoutCompleted, map[string]string{
		"Stripe-Signature": "t=123,v1=deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature", body["error"])
}

func TestWebhookWithoutSecretIsUnavailable(t *testing.T) {
	r := newBillingRouter(newBillingFixture(), "", "user-1")

	rec, _ := post(t, r, "/webhooks/stripe", checkoutCompleted, map[string]string{
		"Stripe-Signature": stripeSignatureHeader([]byte(checkoutCompleted), testWebhookSecret, time.Now().Unix()),
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookAppliesSignedEvent(t *testing.T) {
	f := newBillingFixture()
	r := newBillingRouter(f, testWebhookSecret, "user-1")

	rec, body := post(t, r, "/webhooks/stripe", checkoutCompleted, map[string]string{
		"Stripe-Signature": stripeSignatureHeader([]byte(checkoutCompleted), testWebhookSecret, time.Now().Unix()),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "cus_new", *f.users.users["user-1"].StripeCustomerID)
	assert.Len(t, f.ledger.grants, 1)
}

func TestWebhookProcessingFailure(t *testing.T) {
	f := newBillingFixture()
	f.ledger.fail = true
	r := newBillingRouter(f, testWebhookSecret, "user-1")

	rec, body := post(t, r, "/webhooks/stripe", checkoutCompleted, map[string]string{
		"Stripe-Signature": stripeSignatureHeader([]byte(checkoutCompleted), testWebhookSecret, time.Now().Unix()),
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Webhook processing failed", body["error"])
}

func TestCheckoutHandler(t *testing.T) {
	r := newBillingRouter(newBillingFixture(), testWebhookSecret, "user-1")

	rec, body := post(t, r, "/billing/checkout", `{"tier":"gold"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid subscription tier", body["error"])

	rec, body = post(t, r, "/billing/checkout", `{"tier":"pro"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://checkout.stripe.test/c/pay/cs_1", body["url"])
}

func TestPortalHandler(t *testing.T) {
	f := newBillingFixture()

	rec, body := post(t, newBillingRouter(f, testWebhookSecret, "user-1"), "/billing/portal", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No subscription found", body["error"])

	rec, body = post(t, newBillingRouter(f, testWebhookSecret, "user-2"), "/billing/portal", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://billing.stripe.test/p/session/1", body["url"])
}

func TestTiersAreListedWithoutAuth(t *testing.T) {
	r := newBillingRouter(newBillingFixture(), testWebhookSecret, "")

	req := httptest.NewRequest(http.MethodGet, "/billing/tiers", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"starter"`)
	assert.NotContains(t, rec.Body.String(), "price_starter")
}
