// AngelaMos | 2026
// repository.go

package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storywork/storywork-api/internal/core"
)

// Repository owns the local pool: the credit columns of storywork_users
// and the storywork_credit_transactions log.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	Deduct(ctx context.Context, userID string, amount int, entry Entry) (int, error)
	Add(ctx context.Context, userID string, amount int, entry Entry) (int, error)
	RecordMirror(ctx context.Context, userID string, amount int, entry Entry) error
	LifetimeSpent(ctx context.Context, userID string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, int, error)
	SetAgentLink(ctx context.Context, userID, agentID string) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetAccount(
	ctx context.Context,
	userID string,
) (*Account, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, clerk_id, email, credit_balance, lifetime_credits, asm_agent_id
		FROM storywork_users
		WHERE id = $1`

	var account Account
	err := r.db.GetContext(ctx, &account, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get account: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &account, nil
}

// Deduct debits the local balance and logs the debit in one transaction.
// The balance check and the decrement are a single conditional UPDATE, so
// concurrent spends can never overdraw. On ErrInsufficientCredits the
// returned balance is the unchanged current balance.
func (r *repository) Deduct(
	ctx context.Context,
	userID string,
	amount int,
	entry Entry,
) (int, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	var balance int
	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &balance, `
			UPDATE storywork_users
			SET credit_balance = credit_balance - $2, updated_at = NOW()
			WHERE id = $1 AND credit_balance >= $2
			RETURNING credit_balance`,
			userID, amount,
		)
		if errors.Is(err, sql.ErrNoRows) {
			current := tx.GetContext(ctx, &balance,
				`SELECT credit_balance FROM storywork_users WHERE id = $1`,
				userID,
			)
			if errors.Is(current, sql.ErrNoRows) {
				return fmt.Errorf("deduct credits: %w", core.ErrNotFound)
			}
			if current != nil {
				return fmt.Errorf("deduct credits: read balance: %w", current)
			}
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}

		return insertTransaction(ctx, tx, userID, -amount, entry)
	})

	return balance, err
}

func (r *repository) Add(
	ctx context.Context,
	userID string,
	amount int,
	entry Entry,
) (int, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	var balance int
	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &balance, `
			UPDATE storywork_users
			SET credit_balance = credit_balance + $2,
			    lifetime_credits = lifetime_credits + $2,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING credit_balance`,
			userID, amount,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("add credits: %w", core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("add credits: %w", err)
		}

		return insertTransaction(ctx, tx, userID, amount, entry)
	})

	return balance, err
}

// RecordMirror logs a debit taken from a pool other than the local one.
// The local balance is left untouched.
func (r *repository) RecordMirror(
	ctx context.Context,
	userID string,
	amount int,
	entry Entry,
) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	return insertTransaction(ctx, r.db, userID, -amount, entry)
}

func insertTransaction(
	ctx context.Context,
	exec sqlx.ExecerContext,
	userID string,
	amount int,
	entry Entry,
) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO storywork_credit_transactions (user_id, amount, type, description, source)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, amount, string(entry.Type), entry.Description, string(entry.Source),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *repository) LifetimeSpent(
	ctx context.Context,
	userID string,
) (int, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(ABS(amount)), 0)
		FROM storywork_credit_transactions
		WHERE user_id = $1 AND amount < 0`

	var spent int
	if err := r.db.GetContext(ctx, &spent, query, userID); err != nil {
		return 0, fmt.Errorf("lifetime spent: %w", err)
	}

	return spent, nil
}

func (r *repository) ListTransactions(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]Transaction, int, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM storywork_credit_transactions WHERE user_id = $1`,
		userID,
	); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, amount, type, description, source, created_at
		FROM storywork_credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	return transactions, total, nil
}

func (r *repository) SetAgentLink(
	ctx context.Context,
	userID, agentID string,
) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE storywork_users
		SET asm_agent_id = $2, updated_at = NOW()
		WHERE id = $1`,
		userID, agentID,
	)
	if err != nil {
		return fmt.Errorf("set agent link: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set agent link: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set agent link: %w", core.ErrNotFound)
	}

	return nil
}
