// AngelaMos | 2026
// service.go

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
	"github.com/storywork/storywork-api/internal/user"
)

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventInvoicePaid         = "invoice.paid"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

var (
	ErrInvalidTier          = fmt.Errorf("invalid subscription tier: %w", core.ErrInvalidInput)
	ErrNoSubscription       = fmt.Errorf("no subscription found: %w", core.ErrNotFound)
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrWebhookNotConfigured = errors.New("webhook secret not configured")
)

type Users interface {
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*user.User, error)
	ActivateSubscription(ctx context.Context, userID, customerID, tier string) error
	SetSubscriptionStatus(ctx context.Context, customerID, status string) error
	CancelSubscription(ctx context.Context, customerID string) error
}

type Ledger interface {
	AddCredits(ctx context.Context, userID string, amount int, txType credit.TransactionType, description string) credit.Result
}

type ServiceConfig struct {
	Gateway      Gateway
	Users        Users
	Ledger       Ledger
	Events       EventStore
	Catalog      Catalog
	CostPerStory int
	AppURL       string
	Logger       *slog.Logger
}

type Service struct {
	gateway      Gateway
	users        Users
	ledger       Ledger
	events       EventStore
	catalog      Catalog
	costPerStory int
	appURL       string
	logger       *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		gateway:      cfg.Gateway,
		users:        cfg.Users,
		ledger:       cfg.Ledger,
		events:       cfg.Events,
		catalog:      cfg.Catalog,
		costPerStory: cfg.CostPerStory,
		appURL:       strings.TrimRight(cfg.AppURL, "/"),
		logger:       cfg.Logger,
	}
}

func (s *Service) Tiers() []Tier {
	return s.catalog.List()
}

// Checkout starts a subscription checkout for the user and returns the
// hosted checkout URL. A returning customer keeps their Stripe customer.
func (s *Service) Checkout(ctx context.Context, userID, tierKey string) (string, error) {
	tier, ok := s.catalog.Lookup(tierKey)
	if !ok {
		return "", ErrInvalidTier
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	params := CheckoutParams{
		UserID:        u.ID,
		Tier:          tier.Key,
		PriceID:       tier.PriceID,
		CustomerEmail: u.Email,
		SuccessURL:    s.appURL + "/dashboard?success=true",
		CancelURL:     s.appURL + "/dashboard?canceled=true",
	}
	if u.StripeCustomerID != nil {
		params.CustomerID = *u.StripeCustomerID
	}

	return s.gateway.CreateCheckoutSession(ctx, params)
}

func (s *Service) Portal(ctx context.Context, userID string) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if u.StripeCustomerID == nil || *u.StripeCustomerID == "" {
		return "", ErrNoSubscription
	}

	return s.gateway.CreatePortalSession(ctx, *u.StripeCustomerID, s.appURL+"/dashboard/settings")
}

func (s *Service) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return s.gateway.ConstructEvent(payload, signature)
}

// HandleEvent applies a verified Stripe event. The event id is claimed
// first, so a redelivery or a concurrent duplicate is skipped. A failed
// event gives up its claim and the returned error asks Stripe to
// redeliver.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	ctx, span := core.StartSpan(ctx, "billing.HandleEvent")
	defer span.End()

	eventType := string(event.Type)

	claimed, err := s.events.Claim(ctx, event.ID, eventType)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("stripe event already claimed", "event_id", event.ID)
		return nil
	}

	switch eventType {
	case eventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, event)
	case eventInvoicePaid:
		err = s.handleInvoicePaid(ctx, event)
	case eventSubscriptionUpdated:
		err = s.handleSubscriptionUpdated(ctx, event)
	case eventSubscriptionDeleted:
		err = s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug("ignoring stripe event", "event_type", eventType)
	}
	if err == nil {
		return nil
	}

	core.SetSpanError(ctx, err)
	if unclaimErr := s.events.Unclaim(context.WithoutCancel(ctx), event.ID); unclaimErr != nil {
		s.logger.Error("failed to unclaim stripe event",
			"event_id", event.ID,
			"error", unclaimErr,
		)
	}

	return fmt.Errorf("handle %s: %w", eventType, err)
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := decodeEventObject(event, &sess); err != nil {
		return err
	}

	userID := sess.Metadata["userId"]
	if sess.Mode != stripe.CheckoutSessionModeSubscription || userID == "" {
		return nil
	}

	if sess.Customer == nil || sess.Customer.ID == "" {
		return errors.New("checkout session has no customer")
	}

	tier, ok := s.catalog.Lookup(sess.Metadata["tier"])
	if !ok {
		s.logger.Warn("checkout completed for unknown tier",
			"session_id", sess.ID,
			"tier", sess.Metadata["tier"],
		)
		return nil
	}

	if err := s.users.ActivateSubscription(ctx, userID, sess.Customer.ID, tier.Key); err != nil {
		return err
	}

	return s.grant(ctx, userID, tier, tier.Name+" subscription started")
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := decodeEventObject(event, &inv); err != nil {
		return err
	}

	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle ||
		inv.Customer == nil || inv.Customer.ID == "" {
		return nil
	}

	u, err := s.users.GetByStripeCustomerID(ctx, inv.Customer.ID)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Warn("invoice paid for unknown customer", "customer_id", inv.Customer.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if u.SubscriptionTier == nil {
		return nil
	}

	tier, ok := s.catalog.Lookup(*u.SubscriptionTier)
	if !ok {
		return nil
	}

	return s.grant(ctx, u.ID, tier, "Monthly "+tier.Name+" credit renewal")
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := decodeEventObject(event, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}

	err := s.users.SetSubscriptionStatus(ctx, sub.Customer.ID, string(sub.Status))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := decodeEventObject(event, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}

	err := s.users.CancelSubscription(ctx, sub.Customer.ID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) grant(ctx context.Context, userID string, tier Tier, description string) error {
	credits := tier.MonthlyCredits(s.costPerStory)
	if credits == 0 {
		return nil
	}

	result := s.ledger.AddCredits(ctx, userID, credits, credit.TypeSubscriptionMonthly, description)
	if !result.Success {
		return fmt.Errorf("grant %d credits to %s: %s", credits, userID, result.Error)
	}

	s.logger.Info("granted subscription credits",
		"user_id", userID,
		"tier", tier.Key,
		"credits", credits,
		"balance", result.NewBalance,
	)
	return nil
}

func decodeEventObject(event stripe.Event, dest any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	return nil
}

var _ Users = (*user.Service)(nil)
