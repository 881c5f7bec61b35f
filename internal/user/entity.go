// AngelaMos | 2026
// entity.go

package user

import (
	"time"
)

// User is a row of storywork_users. ExternalID is the identity provider's
// subject and is empty for rows created before the provider was adopted.
type User struct {
	ID                 string    `db:"id"`
	ExternalID         *string   `db:"clerk_id"`
	Email              string    `db:"email"`
	CreditBalance      int       `db:"credit_balance"`
	LifetimeCredits    int       `db:"lifetime_credits"`
	AsmAgentID         *string   `db:"asm_agent_id"`
	StripeCustomerID   *string   `db:"stripe_customer_id"`
	SubscriptionStatus *string   `db:"subscription_status"`
	SubscriptionTier   *string   `db:"subscription_tier"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (u *User) IsLinkedToAgent() bool {
	return u.AsmAgentID != nil && *u.AsmAgentID != ""
}

// Tier returns the active subscription tier, or "" without one.
func (u *User) Tier() string {
	if u.SubscriptionTier == nil || u.SubscriptionStatus == nil {
		return ""
	}
	if *u.SubscriptionStatus != StatusActive && *u.SubscriptionStatus != StatusTrialing {
		return ""
	}
	return *u.SubscriptionTier
}

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

const userColumns = `id, clerk_id, email, credit_balance, lifetime_credits,
		       asm_agent_id, stripe_customer_id, subscription_status,
		       subscription_tier, created_at, updated_at`
