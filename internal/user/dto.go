// AngelaMos | 2026
// dto.go

package user

import (
	"time"

	"github.com/storywork/storywork-api/internal/credit"
)

type UserResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	CreditBalance      int       `json:"credit_balance"`
	LifetimeCredits    int       `json:"lifetime_credits"`
	AsmLinked          bool      `json:"asm_linked"`
	SubscriptionStatus *string   `json:"subscription_status"`
	SubscriptionTier   *string   `json:"subscription_tier"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// MeResponse is the caller's profile together with the spendable balance
// across the local and unified pools.
type MeResponse struct {
	UserResponse
	Balance *credit.Balance `json:"balance,omitempty"`
}

type ListUsersParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Search   string `json:"search"`
	Tier     string `json:"tier"`
}

func (p *ListUsersParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

func (p *ListUsersParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func ToUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		CreditBalance:      u.CreditBalance,
		LifetimeCredits:    u.LifetimeCredits,
		AsmLinked:          u.IsLinkedToAgent(),
		SubscriptionStatus: u.SubscriptionStatus,
		SubscriptionTier:   u.SubscriptionTier,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func ToUserResponseList(users []User) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, ToUserResponse(&users[i]))
	}
	return responses
}
