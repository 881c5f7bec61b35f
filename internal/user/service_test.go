// AngelaMos | 2026
// service_test.go

package user

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/middleware"
)

type memRepo struct {
	mu    sync.Mutex
	users []*User
	seq   int
}

func (m *memRepo) find(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memRepo) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ExternalID != nil && user.ExternalID != nil && *u.ExternalID == *user.ExternalID {
			return core.ErrDuplicateKey
		}
	}
	m.seq++
	user.ID = "user-" + strconv.Itoa(m.seq)
	stored := *user
	m.users = append(m.users, &stored)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id })
}

func (m *memRepo) GetByExternalID(_ context.Context, externalID string) (*User, error) {
	return m.find(func(u *User) bool { return u.ExternalID != nil && *u.ExternalID == externalID })
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *memRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*User, error) {
	return m.find(func(u *User) bool { return u.StripeCustomerID != nil && *u.StripeCustomerID == customerID })
}

func (m *memRepo) AttachExternalID(_ context.Context, id, externalID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == id {
			u.ExternalID = &externalID
			copied := *u
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memRepo) ActivateSubscription(_ context.Context, id, customerID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == id {
			status := StatusActive
			u.StripeCustomerID, u.SubscriptionStatus, u.SubscriptionTier = &customerID, &status, &tier
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *memRepo) SetSubscriptionStatus(_ context.Context, customerID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == customerID {
			u.SubscriptionStatus = &status
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *memRepo) CancelSubscription(ctx context.Context, customerID string) error {
	return m.SetSubscriptionStatus(ctx, customerID, StatusCanceled)
}

func (m *memRepo) List(_ context.Context, _ ListUsersParams) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc := NewService(&memRepo{}, nil)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "user_2abc", "Writer@Example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "writer@example.com", first.Email)
	assert.Zero(t, first.CreditBalance)

	second, err := svc.GetOrCreate(ctx, "user_2abc", "writer@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateAdoptsVerifiedEmail(t *testing.T) {
	repo := &memRepo{}
	require.NoError(t, repo.Create(context.Background(), &User{Email: "writer@example.com", CreditBalance: 300}))
	svc := NewService(repo, nil)

	adopted, err := svc.GetOrCreate(context.Background(), "user_2abc", "writer@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "user-1", adopted.ID)
	assert.Equal(t, 300, adopted.CreditBalance)
	require.NotNil(t, adopted.ExternalID)
	assert.Equal(t, "user_2abc", *adopted.ExternalID)
}

func TestGetOrCreateRefusesUnverifiedAdoption(t *testing.T) {
	repo := &memRepo{}
	require.NoError(t, repo.Create(context.Background(), &User{Email: "writer@example.com"}))
	svc := NewService(repo, nil)

	_, err := svc.GetOrCreate(context.Background(), "user_attacker", "writer@example.com", false)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.ErrorIs(t, err, core.ErrForbidden)

	u, err := repo.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, u.ExternalID)
}

func TestGetOrCreateRequiresEmail(t *testing.T) {
	svc := NewService(&memRepo{}, nil)

	_, err := svc.GetOrCreate(context.Background(), "user_2abc", "   ", true)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestConcurrentFirstSightCreatesOneUser(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, nil)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := svc.GetOrCreate(context.Background(), "user_2abc", "writer@example.com", true)
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, repo.users, 1)
}

func TestResolveAccountCarriesActiveTier(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, nil)
	ctx := context.Background()

	identity := &middleware.Identity{
		ExternalID:    "user_2abc",
		Email:         "writer@example.com",
		EmailVerified: true,
	}

	account, err := svc.ResolveAccount(ctx, identity)
	require.NoError(t, err)
	assert.Empty(t, account.Tier)

	require.NoError(t, svc.ActivateSubscription(ctx, account.ID, "cus_123", "pro"))
	account, err = svc.ResolveAccount(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, "pro", account.Tier)

	require.NoError(t, svc.SetSubscriptionStatus(ctx, "cus_123", StatusPastDue))
	account, err = svc.ResolveAccount(ctx, identity)
	require.NoError(t, err)
	assert.Empty(t, account.Tier)
}

func TestGetMeRequiresAccount(t *testing.T) {
	svc := NewService(&memRepo{}, nil)

	_, err := svc.GetMe(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}
