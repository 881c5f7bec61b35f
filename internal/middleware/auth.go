// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/storywork/storywork-api/internal/core"
)

const (
	IdentityKey  contextKey = "identity"
	AccountIDKey contextKey = "account_id"
	UserTierKey  contextKey = "user_tier"
)

const RoleAdmin = "admin"

type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*Identity, error)
}

// Identity is the caller as asserted by the identity provider's token.
// ExternalID is the provider's subject, not the Storywork user id.
type Identity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	FirstName     string
	Role          string
}

// Authenticator answers 401 {"error":"Unauthorized","code":...} for a
// missing, expired or otherwise unverifiable bearer token.
func Authenticator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				unauthorized(w, "UNAUTHORIZED")
				return
			}

			identity, err := verifier.VerifyAccessToken(r.Context(), token)
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				unauthorized(w, "TOKEN_EXPIRED")
				return
			case err != nil || identity == nil:
				unauthorized(w, "TOKEN_INVALID")
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				unauthorized(w, "UNAUTHORIZED")
				return
			}

			if !slices.Contains(roles, identity.Role) {
				core.ErrorMessage(w, http.StatusForbidden, "Forbidden", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

func ExtractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, code string) {
	core.ErrorMessage(w, http.StatusUnauthorized, "Unauthorized", map[string]any{
		"code": code,
	})
}

func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityKey).(*Identity); ok {
		return identity
	}
	return nil
}

func IsAdmin(ctx context.Context) bool {
	identity := GetIdentity(ctx)
	return identity != nil && identity.Role == RoleAdmin
}
