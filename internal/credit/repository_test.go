// AngelaMos | 2026
// repository_test.go

package credit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storywork/storywork-api/internal/core"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return sqlx.NewDb(db, "postgres"), mock
}

var fixedTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

var carouselEntry = Entry{
	Type:        TypeCarousel,
	Description: "Story generation: story-1",
	Source:      SourceLocal,
}

func TestDeductDebitsAndLogsInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND credit_balance >= $2")).
		WithArgs("user-1", 75).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(25))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storywork_credit_transactions")).
		WithArgs("user-1", -75, "storywork_carousel", "Story generation: story-1", "storywork_credits").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	balance, err := repo.Deduct(context.Background(), "user-1", 75, carouselEntry)
	require.NoError(t, err)
	assert.Equal(t, 25, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductReportsInsufficientWithCurrentBalance(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND credit_balance >= $2")).
		WithArgs("user-1", 75).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credit_balance FROM storywork_users")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(40))
	mock.ExpectRollback()

	balance, err := repo.Deduct(context.Background(), "user-1", 75, carouselEntry)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 40, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND credit_balance >= $2")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credit_balance FROM storywork_users")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectRollback()

	_, err := repo.Deduct(context.Background(), "ghost", 75, carouselEntry)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductRollsBackWhenLogInsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND credit_balance >= $2")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(25))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storywork_credit_transactions")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.Deduct(context.Background(), "user-1", 75, carouselEntry)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddIncrementsBalanceAndLifetime(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("lifetime_credits = lifetime_credits + $2")).
		WithArgs("user-1", 750).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(800))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storywork_credit_transactions")).
		WithArgs("user-1", 750, "subscription_monthly", "Starter subscription started", "storywork_subscription").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	balance, err := repo.Add(context.Background(), "user-1", 750, Entry{
		Type:        TypeSubscriptionMonthly,
		Description: "Starter subscription started",
		Source:      SourceSubscription,
	})
	require.NoError(t, err)
	assert.Equal(t, 800, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMirrorOnlyInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storywork_credit_transactions")).
		WithArgs("user-1", -75, "storywork_carousel", "remote", "asm_credits").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordMirror(context.Background(), "user-1", 75, Entry{
		Type:        TypeCarousel,
		Description: "remote",
		Source:      SourceRemote,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLifetimeSpentSumsDebits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SUM(ABS(amount))")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(150))

	spent, err := repo.LifetimeSpent(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 150, spent)
}

func TestGetAccountScansNullableColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM storywork_users")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "clerk_id", "email", "credit_balance", "lifetime_credits", "asm_agent_id",
		}).AddRow("user-1", nil, "a@b.co", 100, 100, nil))

	account, err := repo.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, account.ExternalID)
	assert.Empty(t, account.agentID())
	assert.Equal(t, 100, account.CreditBalance)
}

func TestSetAgentLinkUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SET asm_agent_id = $2")).
		WithArgs("ghost", "agent-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetAgentLink(context.Background(), "ghost", "agent-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListTransactionsNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM storywork_credit_transactions")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("user-1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "amount", "type", "description", "source", "created_at",
		}).
			AddRow("t2", "user-1", -75, "storywork_carousel", "gen", "storywork_credits", fixedTime).
			AddRow("t1", "user-1", 100, "adjustment", "grant", "storywork_subscription", fixedTime))

	txs, total, err := repo.ListTransactions(context.Background(), "user-1", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, txs, 2)
	assert.Equal(t, TypeCarousel, txs[0].Type)
	assert.Equal(t, SourceLocal, txs[0].Source)
}

func TestAgentDirectoryMatchesCaseInsensitively(t *testing.T) {
	db, mock := newMockDB(t)
	agents := NewAgentDirectory(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(email) = lower($1)")).
		WithArgs("Agent@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow("agent-1", "agent@example.com"))

	agent, err := agents.FindByEmail(context.Background(), "Agent@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM agents")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))

	_, err = agents.FindByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUnifiedSpendPassesProcedureArguments(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUnifiedStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM spend_unified_credits(")).
		WithArgs("uu-1", 75, "storywork_carousel", "storywork", "gen", "key-1", "story-1", "story").
		WillReturnRows(sqlmock.NewRows([]string{"success", "new_balance", "error", "replayed"}).
			AddRow(true, 425, nil, true))

	ref, refType := "story-1", "story"
	res, err := store.SpendUnifiedCredits(context.Background(), SpendUnifiedParams{
		UnifiedUserID:  "uu-1",
		Amount:         75,
		Type:           TypeCarousel,
		Description:    "gen",
		IdempotencyKey: "key-1",
		ReferenceID:    &ref,
		ReferenceType:  &refType,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Replayed)
	assert.Equal(t, 425, res.balance())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnifiedReserveWithoutRowIsUnsuccessful(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUnifiedStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reserve_credits(")).
		WithArgs("uu-1", 75, "carousel", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"success", "reservation_id", "error"}))

	res, err := store.ReserveCredits(context.Background(), ReserveParams{
		UnifiedUserID: "uu-1",
		Amount:        75,
		Purpose:       "carousel",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgUnknown, errorText(res.Error))
}

func TestUnifiedCommitAndReleaseAreOwnerScoped(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUnifiedStore(db)
	params := SettleParams{ReservationID: "res-1", UnifiedUserID: "uu-1"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM commit_reservation(")).
		WithArgs("res-1", "uu-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"success", "new_balance", "error"}).
			AddRow(false, nil, "Reservation already released"))

	res, err := store.CommitReservation(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Reservation already released", errorText(res.Error))

	mock.ExpectQuery(regexp.QuoteMeta("FROM release_reservation(")).
		WithArgs("res-1", "uu-1").
		WillReturnRows(sqlmock.NewRows([]string{"success", "error"}).
			AddRow(false, "Reservation not found"))

	res, err = store.ReleaseReservation(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgReservationNotFound, errorText(res.Error))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateUnifiedUser(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUnifiedStore(db)

	agentID, userID, clerkID := "agent-1", "user-1", "user_2abc"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT get_or_create_unified_user(")).
		WithArgs("a@b.co", agentID, userID, clerkID).
		WillReturnRows(sqlmock.NewRows([]string{"get_or_create_unified_user"}).AddRow("uu-1"))

	id, err := store.GetOrCreateUnifiedUser(context.Background(), LinkUnifiedParams{
		Email:            "a@b.co",
		AsmAgentID:       &agentID,
		StoryworkUserID:  &userID,
		StoryworkClerkID: &clerkID,
	})
	require.NoError(t, err)
	assert.Equal(t, "uu-1", id)
}
