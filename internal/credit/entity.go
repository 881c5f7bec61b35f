// AngelaMos | 2026
// entity.go

package credit

import (
	"errors"
	"time"
)

type TransactionType string

const (
	TypeBasicStory          TransactionType = "storywork_basic_story"
	TypeVoiceStory          TransactionType = "storywork_voice_story"
	TypeCarousel            TransactionType = "storywork_carousel"
	TypeSubscriptionCredit  TransactionType = "subscription_credit"
	TypeSubscriptionBonus   TransactionType = "subscription_bonus"
	TypeSubscriptionMonthly TransactionType = "subscription_monthly"
	TypeAdjustment          TransactionType = "adjustment"
	TypeRefund              TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeBasicStory, TypeVoiceStory, TypeCarousel,
		TypeSubscriptionCredit, TypeSubscriptionBonus, TypeSubscriptionMonthly,
		TypeAdjustment, TypeRefund:
		return true
	}
	return false
}

// Source tags which pool a transaction row moved credits in.
type Source string

const (
	SourceLocal        Source = "storywork_credits"
	SourceUnified      Source = "unified_credits"
	SourceRemote       Source = "asm_credits"
	SourceSubscription Source = "storywork_subscription"
)

const (
	sourcePlatform     = "storywork"
	referenceTypeStory = "story"
)

const (
	MsgUserNotFound        = "User not found"
	MsgInvalidAmount       = "Invalid amount"
	MsgInvalidType         = "Invalid transaction type"
	MsgInsufficientCredits = "Insufficient credits"
	MsgUpdateFailed        = "Failed to update credits"
	MsgAgentNotFound       = "No ASM account found with that email"
	MsgLinkFailed          = "Failed to link account"
	MsgNotUnified          = "User not linked to unified system"
	MsgUnifiedUserNotFound = "Unified user not found"
	MsgReservationNotFound = "Reservation not found"
	MsgUnknown             = "Unknown error"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// Account is the ledger's view of a storywork_users row.
type Account struct {
	ID              string  `db:"id"`
	ExternalID      *string `db:"clerk_id"`
	Email           string  `db:"email"`
	CreditBalance   int     `db:"credit_balance"`
	LifetimeCredits int     `db:"lifetime_credits"`
	AsmAgentID      *string `db:"asm_agent_id"`
}

func (a *Account) agentID() string {
	if a.AsmAgentID == nil {
		return ""
	}
	return *a.AsmAgentID
}

func (a *Account) externalID() string {
	if a.ExternalID == nil {
		return ""
	}
	return *a.ExternalID
}

type Transaction struct {
	ID          string          `db:"id"`
	UserID      string          `db:"user_id"`
	Amount      int             `db:"amount"`
	Type        TransactionType `db:"type"`
	Description string          `db:"description"`
	Source      Source          `db:"source"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Entry describes a ledger row apart from its user and signed amount.
type Entry struct {
	Type        TransactionType
	Description string
	Source      Source
}

type Balance struct {
	Balance        int  `json:"balance"`
	LifetimeEarned int  `json:"lifetimeEarned"`
	LifetimeSpent  int  `json:"lifetimeSpent"`
	UnifiedBalance *int `json:"unifiedBalance,omitempty"`
}

// Result is the outcome of a balance mutation. Failures are reported in
// Error rather than as Go errors so callers can render them directly.
type Result struct {
	Success    bool   `json:"success"`
	NewBalance int    `json:"newBalance"`
	Error      string `json:"error,omitempty"`
	Source     Source `json:"-"`
}

func failed(balance int, msg string) Result {
	return Result{Success: false, NewBalance: balance, Error: msg}
}

type LinkResult struct {
	Success        bool   `json:"success"`
	UnifiedBalance *int   `json:"unifiedBalance,omitempty"`
	Error          string `json:"error,omitempty"`
}

type ReserveResult struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservationId,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Agent struct {
	ID    string `db:"id"`
	Email string `db:"email"`
}

type UnifiedUser struct {
	ID               string  `db:"id"`
	Email            string  `db:"email"`
	AsmAgentID       *string `db:"asm_agent_id"`
	StoryworkUserID  *string `db:"storywork_user_id"`
	StoryworkClerkID *string `db:"storywork_clerk_id"`
	CreditBalance    int     `db:"credit_balance"`
	LifetimeCredits  int     `db:"lifetime_credits"`
}
