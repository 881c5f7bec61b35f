// AngelaMos | 2026
// stripe.go

package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

type CheckoutParams struct {
	UserID        string
	Tier          string
	PriceID       string
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Gateway is the slice of the Stripe API the billing flow needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type StripeGateway struct {
	webhookSecret string
	logger        *slog.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, logger *slog.Logger) *StripeGateway {
	stripe.Key = secretKey

	if logger == nil {
		logger = slog.Default()
	}

	return &StripeGateway{
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (g *StripeGateway) CreateCheckoutSession(
	ctx context.Context,
	params CheckoutParams,
) (string, error) {
	metadata := map[string]string{
		"userId": params.UserID,
		"tier":   params.Tier,
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata:   metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	sessionParams.Context = ctx

	if params.CustomerID != "" {
		sessionParams.Customer = stripe.String(params.CustomerID)
	} else {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	g.logger.Info("created stripe checkout session",
		"session_id", sess.ID,
		"user_id", params.UserID,
		"tier", params.Tier,
	)

	return sess.URL, nil
}

func (g *StripeGateway) CreatePortalSession(
	ctx context.Context,
	customerID, returnURL string,
) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}

	return sess.URL, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook
// secret. The account's API version may be newer than the library's, so a
// version mismatch is accepted.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if g.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return event, nil
}
