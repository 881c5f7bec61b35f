// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/middleware"
)

var (
	ErrEmailRequired    = fmt.Errorf("email required: %w", core.ErrInvalidInput)
	ErrEmailNotVerified = fmt.Errorf("email not verified: %w", core.ErrForbidden)
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// GetOrCreate returns the local user for an identity, provisioning it on
// first sight. A row created before the identity provider was adopted is
// claimed by email, but only when the provider vouches for that email.
func (s *Service) GetOrCreate(
	ctx context.Context,
	externalID, email string,
	emailVerified bool,
) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrEmailRequired
	}

	existing, err := s.repo.GetByExternalID(ctx, externalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	byEmail, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !emailVerified {
			s.logger.Warn("refusing to adopt user by unverified email",
				"user_id", byEmail.ID,
				"external_id", externalID,
			)
			return nil, ErrEmailNotVerified
		}
		s.logger.Info("adopting existing user by email",
			"user_id", byEmail.ID,
			"external_id", externalID,
		)
		return s.repo.AttachExternalID(ctx, byEmail.ID, externalID)
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}

	user := &User{ExternalID: &externalID, Email: email}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return s.repo.GetByExternalID(ctx, externalID)
		}
		return nil, err
	}

	return user, nil
}

func (s *Service) ResolveAccount(
	ctx context.Context,
	identity *middleware.Identity,
) (*middleware.Account, error) {
	user, err := s.GetOrCreate(
		ctx,
		identity.ExternalID,
		identity.Email,
		identity.EmailVerified,
	)
	if err != nil {
		return nil, err
	}

	return &middleware.Account{ID: user.ID, Tier: user.Tier()}, nil
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("get me: %w", core.ErrUnauthorized)
	}

	return s.repo.GetByID(ctx, userID)
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) GetByStripeCustomerID(
	ctx context.Context,
	customerID string,
) (*User, error) {
	return s.repo.GetByStripeCustomerID(ctx, customerID)
}

func (s *Service) ActivateSubscription(
	ctx context.Context,
	userID, customerID, tier string,
) error {
	return s.repo.ActivateSubscription(ctx, userID, customerID, tier)
}

func (s *Service) SetSubscriptionStatus(
	ctx context.Context,
	customerID, status string,
) error {
	return s.repo.SetSubscriptionStatus(ctx, customerID, status)
}

func (s *Service) CancelSubscription(
	ctx context.Context,
	customerID string,
) error {
	return s.repo.CancelSubscription(ctx, customerID)
}

var _ middleware.AccountResolver = (*Service)(nil)
