// AngelaMos | 2026
// dto.go

package credit

import (
	"time"
)

type LinkRequest struct {
	AsmEmail string `json:"asmEmail"`
}

type ReserveRequest struct {
	Amount      int    `json:"amount"      validate:"required,gt=0"`
	Purpose     string `json:"purpose"     validate:"required,max=100"`
	ReferenceID string `json:"referenceId" validate:"omitempty,max=100"`
}

type CommitRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=255"`
}

type GrantRequest struct {
	Amount      int    `json:"amount"      validate:"required,gt=0"`
	Type        string `json:"type"        validate:"required,oneof=adjustment refund subscription_credit subscription_bonus"`
	Description string `json:"description" validate:"required,max=255"`
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	Amount      int       `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

func ToTransactionResponseList(txs []Transaction) []TransactionResponse {
	responses := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		responses = append(responses, TransactionResponse{
			ID:          t.ID,
			Amount:      t.Amount,
			Type:        string(t.Type),
			Description: t.Description,
			Source:      string(t.Source),
			CreatedAt:   t.CreatedAt,
		})
	}
	return responses
}
