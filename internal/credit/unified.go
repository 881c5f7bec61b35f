// AngelaMos | 2026
// unified.go

package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storywork/storywork-api/internal/core"
)

// UnifiedStore calls the shared store's unified credit procedures. Every
// check-and-mutate happens inside a procedure, so each method is a single
// round trip.
type UnifiedStore interface {
	GetOrCreateUnifiedUser(ctx context.Context, params LinkUnifiedParams) (string, error)
	GetUnifiedUser(ctx context.Context, id string) (*UnifiedUser, error)
	GetUnifiedUserByExternalID(ctx context.Context, externalID string) (*UnifiedUser, error)
	SpendUnifiedCredits(ctx context.Context, params SpendUnifiedParams) (*ProcedureResult, error)
	ReserveCredits(ctx context.Context, params ReserveParams) (*ReservationResult, error)
	CommitReservation(ctx context.Context, params SettleParams) (*ProcedureResult, error)
	ReleaseReservation(ctx context.Context, params SettleParams) (*ProcedureResult, error)
}

type LinkUnifiedParams struct {
	Email            string
	AsmAgentID       *string
	StoryworkUserID  *string
	StoryworkClerkID *string
}

type SpendUnifiedParams struct {
	UnifiedUserID  string
	Amount         int
	Type           TransactionType
	Description    string
	IdempotencyKey string
	ReferenceID    *string
	ReferenceType  *string
}

type ReserveParams struct {
	UnifiedUserID string
	Amount        int
	Purpose       string
	ReferenceID   *string
	ReferenceType *string
}

// SettleParams names a reservation and the unified user who must own it.
type SettleParams struct {
	ReservationID  string
	UnifiedUserID  string
	IdempotencyKey *string
}

// ProcedureResult is the row a unified procedure returns. Replayed is set
// when a spend matched an earlier idempotency key and moved nothing.
type ProcedureResult struct {
	Success    bool    `db:"success"`
	NewBalance *int    `db:"new_balance"`
	Error      *string `db:"error"`
	Replayed   bool    `db:"replayed"`
}

func (p *ProcedureResult) balance() int {
	if p.NewBalance == nil {
		return 0
	}
	return *p.NewBalance
}

type ReservationResult struct {
	Success       bool    `db:"success"`
	ReservationID *string `db:"reservation_id"`
	Error         *string `db:"error"`
}

func errorText(msg *string) string {
	if msg == nil || *msg == "" {
		return MsgUnknown
	}
	return *msg
}

type unifiedStore struct {
	db core.DBTX
}

func NewUnifiedStore(db core.DBTX) UnifiedStore {
	return &unifiedStore{db: db}
}

func (s *unifiedStore) GetOrCreateUnifiedUser(
	ctx context.Context,
	params LinkUnifiedParams,
) (string, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT get_or_create_unified_user(
			p_email => $1,
			p_asm_agent_id => $2,
			p_storywork_user_id => $3,
			p_storywork_clerk_id => $4
		)`

	var id string
	err := s.db.GetContext(ctx, &id, query,
		params.Email,
		params.AsmAgentID,
		params.StoryworkUserID,
		params.StoryworkClerkID,
	)
	if err != nil {
		return "", fmt.Errorf("get or create unified user: %w", err)
	}

	return id, nil
}

const unifiedUserColumns = `id, email, asm_agent_id, storywork_user_id,
		       storywork_clerk_id, credit_balance, lifetime_credits`

func (s *unifiedStore) GetUnifiedUser(
	ctx context.Context,
	id string,
) (*UnifiedUser, error) {
	return s.getUnifiedUser(ctx, "get unified user", `id = $1`, id)
}

func (s *unifiedStore) GetUnifiedUserByExternalID(
	ctx context.Context,
	externalID string,
) (*UnifiedUser, error) {
	return s.getUnifiedUser(
		ctx,
		"get unified user by external id",
		`storywork_clerk_id = $1`,
		externalID,
	)
}

func (s *unifiedStore) getUnifiedUser(
	ctx context.Context,
	op, condition, arg string,
) (*UnifiedUser, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + unifiedUserColumns + `
		FROM unified_users
		WHERE ` + condition + `
		LIMIT 1`

	var user UnifiedUser
	err := s.db.GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func (s *unifiedStore) SpendUnifiedCredits(
	ctx context.Context,
	params SpendUnifiedParams,
) (*ProcedureResult, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT success, new_balance, error, replayed
		FROM spend_unified_credits(
			p_unified_user_id => $1,
			p_amount => $2,
			p_transaction_type => $3,
			p_source_platform => $4,
			p_description => $5,
			p_idempotency_key => $6,
			p_reference_id => $7,
			p_reference_type => $8
		)`

	var result ProcedureResult
	err := s.db.GetContext(ctx, &result, query,
		params.UnifiedUserID,
		params.Amount,
		string(params.Type),
		sourcePlatform,
		params.Description,
		params.IdempotencyKey,
		params.ReferenceID,
		params.ReferenceType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProcedureResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spend unified credits: %w", err)
	}

	return &result, nil
}

func (s *unifiedStore) ReserveCredits(
	ctx context.Context,
	params ReserveParams,
) (*ReservationResult, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT success, reservation_id, error
		FROM reserve_credits(
			p_unified_user_id => $1,
			p_amount => $2,
			p_purpose => $3,
			p_reference_id => $4,
			p_reference_type => $5
		)`

	var result ReservationResult
	err := s.db.GetContext(ctx, &result, query,
		params.UnifiedUserID,
		params.Amount,
		params.Purpose,
		params.ReferenceID,
		params.ReferenceType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &ReservationResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}

	return &result, nil
}

func (s *unifiedStore) CommitReservation(
	ctx context.Context,
	params SettleParams,
) (*ProcedureResult, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT success, new_balance, error
		FROM commit_reservation(
			p_reservation_id => $1,
			p_unified_user_id => $2,
			p_idempotency_key => $3
		)`

	var result ProcedureResult
	err := s.db.GetContext(ctx, &result, query,
		params.ReservationID,
		params.UnifiedUserID,
		params.IdempotencyKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProcedureResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	return &result, nil
}

func (s *unifiedStore) ReleaseReservation(
	ctx context.Context,
	params SettleParams,
) (*ProcedureResult, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT success, error
		FROM release_reservation(
			p_reservation_id => $1,
			p_unified_user_id => $2
		)`

	var result ProcedureResult
	err := s.db.GetContext(ctx, &result, query,
		params.ReservationID,
		params.UnifiedUserID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProcedureResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release reservation: %w", err)
	}

	return &result, nil
}
