// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/storywork/storywork-api/internal/core"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error)
	AttachExternalID(ctx context.Context, id, externalID string) (*User, error)
	ActivateSubscription(ctx context.Context, id, customerID, tier string) error
	SetSubscriptionStatus(ctx context.Context, customerID, status string) error
	CancelSubscription(ctx context.Context, customerID string) error
	List(ctx context.Context, params ListUsersParams) ([]User, int, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, user *User) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO storywork_users (clerk_id, email, credit_balance, lifetime_credits)
		VALUES ($1, $2, 0, 0)
		RETURNING ` + userColumns

	err := r.db.GetContext(ctx, user, query, user.ExternalID, user.Email)
	if err != nil {
		if core.IsDuplicateKeyError(err) {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, "get user", `id = $1`, id)
}

func (r *repository) GetByExternalID(
	ctx context.Context,
	externalID string,
) (*User, error) {
	return r.getOne(ctx, "get user by external id", `clerk_id = $1`, externalID)
}

func (r *repository) GetByEmail(
	ctx context.Context,
	email string,
) (*User, error) {
	return r.getOne(ctx, "get user by email", `lower(email) = lower($1)`, email)
}

func (r *repository) GetByStripeCustomerID(
	ctx context.Context,
	customerID string,
) (*User, error) {
	return r.getOne(
		ctx,
		"get user by customer",
		`stripe_customer_id = $1`,
		customerID,
	)
}

func (r *repository) getOne(
	ctx context.Context,
	op, condition string,
	arg any,
) (*User, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + `
		FROM storywork_users
		WHERE ` + condition + `
		LIMIT 1`

	var user User
	err := r.db.GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func (r *repository) AttachExternalID(
	ctx context.Context,
	id, externalID string,
) (*User, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE storywork_users
		SET clerk_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	var user User
	err := r.db.GetContext(ctx, &user, query, id, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attach external id: %w", core.ErrNotFound)
	}
	if err != nil {
		if core.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("attach external id: %w", core.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("attach external id: %w", err)
	}

	return &user, nil
}

func (r *repository) ActivateSubscription(
	ctx context.Context,
	id, customerID, tier string,
) error {
	query := `
		UPDATE storywork_users
		SET stripe_customer_id = $2,
		    subscription_status = 'active',
		    subscription_tier = $3,
		    updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "activate subscription", query, id, customerID, tier)
}

func (r *repository) SetSubscriptionStatus(
	ctx context.Context,
	customerID, status string,
) error {
	query := `
		UPDATE storywork_users
		SET subscription_status = $2, updated_at = NOW()
		WHERE stripe_customer_id = $1`

	return r.execOne(ctx, "set subscription status", query, customerID, status)
}

func (r *repository) CancelSubscription(
	ctx context.Context,
	customerID string,
) error {
	query := `
		UPDATE storywork_users
		SET subscription_status = 'canceled',
		    subscription_tier = NULL,
		    updated_at = NOW()
		WHERE stripe_customer_id = $1`

	return r.execOne(ctx, "cancel subscription", query, customerID)
}

func (r *repository) execOne(
	ctx context.Context,
	op, query string,
	args ...any,
) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rows == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}

	return nil
}

func (r *repository) List(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	params.Normalize()

	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if params.Search != "" {
		conditions = append(conditions, fmt.Sprintf("email ILIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(params.Search)+"%")
		argIdx++
	}

	if params.Tier != "" {
		conditions = append(
			conditions,
			fmt.Sprintf("subscription_tier = $%d", argIdx),
		)
		args = append(args, params.Tier)
		argIdx++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM storywork_users WHERE %s",
		whereClause,
	)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM storywork_users
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, argIdx, argIdx+1)

	args = append(args, params.PageSize, params.Offset())

	users := make([]User, 0)
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	return users, total, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
