// AngelaMos | 2026
// account.go

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/storywork/storywork-api/internal/core"
)

// Account is the local Storywork user behind a verified identity.
type Account struct {
	ID   string
	Tier string
}

type AccountResolver interface {
	ResolveAccount(ctx context.Context, identity *Identity) (*Account, error)
}

// ResolveAccount must run after Authenticator. It lazily provisions the
// local user for the identity and stores its id and tier in the context.
func ResolveAccount(resolver AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				unauthorized(w, "UNAUTHORIZED")
				return
			}

			account, err := resolver.ResolveAccount(r.Context(), identity)
			if err != nil {
				switch {
				case errors.Is(err, core.ErrInvalidInput):
					core.BadRequest(w, "User email not found")
				case errors.Is(err, core.ErrForbidden):
					core.Forbidden(w, "email address must be verified before an existing account can be linked")
				default:
					core.InternalServerError(w, err)
				}
				return
			}

			ctx := context.WithValue(r.Context(), AccountIDKey, account.ID)
			ctx = context.WithValue(ctx, UserTierKey, account.Tier)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetAccountID(ctx context.Context) string {
	if id, ok := ctx.Value(AccountIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAccountTier(ctx context.Context) string {
	if tier, ok := ctx.Value(UserTierKey).(string); ok {
		return tier
	}
	return ""
}
