// AngelaMos | 2026
// repository_test.go

package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storywork/storywork-api/internal/core"
)

var userRowColumns = []string{
	"id", "clerk_id", "email", "credit_balance", "lifetime_credits",
	"asm_agent_id", "stripe_customer_id", "subscription_status",
	"subscription_tier", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func userRow(id, email string) *sqlmock.Rows {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(userRowColumns).
		AddRow(id, "user_2abc", email, 100, 100, nil, nil, "active", "pro", now, now)
}

func TestGetByExternalID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE clerk_id = $1")).
		WithArgs("user_2abc").
		WillReturnRows(userRow("user-1", "writer@example.com"))

	u, err := repo.GetByExternalID(context.Background(), "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "pro", u.Tier())
	assert.False(t, u.IsLinkedToAgent())
}

func TestGetByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(email) = lower($1)")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO storywork_users")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	ext := "user_2abc"
	err := repo.Create(context.Background(), &User{ExternalID: &ext, Email: "a@b.co"})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestCancelSubscriptionUnknownCustomer(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("subscription_status = 'canceled'")).
		WithArgs("cus_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CancelSubscription(context.Background(), "cus_missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestActivateSubscription(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("subscription_status = 'active'")).
		WithArgs("user-1", "cus_123", "starter").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ActivateSubscription(context.Background(), "user-1", "cus_123", "starter"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEscapesSearchAndFiltersTier(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM storywork_users WHERE TRUE AND email ILIKE $1 AND subscription_tier = $2")).
		WithArgs(`%100\%%`, "pro").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $3 OFFSET $4")).
		WithArgs(`%100\%%`, "pro", 20, 0).
		WillReturnRows(userRow("user-1", "100%@example.com"))

	users, total, err := repo.List(context.Background(), ListUsersParams{
		Search: "100%",
		Tier:   "pro",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
