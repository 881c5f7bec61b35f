// AngelaMos | 2026
// handler.go

package user

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
	"github.com/storywork/storywork-api/internal/middleware"
)

// BalanceProvider reports the spendable balance shown on the profile.
type BalanceProvider interface {
	GetUnifiedBalance(ctx context.Context, userID string) (*credit.Balance, error)
}

type Handler struct {
	service  *Service
	balances BalanceProvider
}

func NewHandler(service *Service, balances BalanceProvider) *Handler {
	return &Handler{
		service:  service,
		balances: balances,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/users", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/me", h.GetMe)
	})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetAccountID(r.Context())

	user, err := h.service.GetMe(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "user")
		case errors.Is(err, core.ErrUnauthorized):
			core.JSONError(w, core.UnauthorizedError("authentication required"))
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	resp := MeResponse{UserResponse: ToUserResponse(user)}

	balance, err := h.balances.GetUnifiedBalance(r.Context(), userID)
	if err != nil {
		h.service.logger.Warn("balance unavailable for profile",
			"user_id", userID,
			"error", err,
		)
	} else {
		resp.Balance = balance
	}

	core.OK(w, resp)
}

func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/users", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/", h.ListUsers)
		r.Get("/{userID}", h.GetUser)
	})
}

// ListUsers supports ?search= on email and ?tier= on subscription tier.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params := ListUsersParams{
		Page:     parseIntQuery(r, "page", 1),
		PageSize: parseIntQuery(r, "page_size", 20),
		Search:   r.URL.Query().Get("search"),
		Tier:     r.URL.Query().Get("tier"),
	}
	params.Normalize()

	users, total, err := h.service.ListUsers(r.Context(), params)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.Paginated(
		w,
		ToUserResponseList(users),
		params.Page,
		params.PageSize,
		total,
	)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToUserResponse(user))
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
