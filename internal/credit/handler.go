// AngelaMos | 2026
// handler.go

package credit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, linkLimiter func(http.Handler) http.Handler,
) {
	r.Route("/credits", func(r chi.Router) {
		r.Use(authenticator)

		r.With(linkLimiter).Post("/link", h.LinkAccount)
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/reservations", h.Reserve)
		r.Post("/reservations/{reservationID}/commit", h.Commit)
		r.Post("/reservations/{reservationID}/release", h.Release)
	})
}

func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/users/{userID}/credits", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Post("/", h.Grant)
	})
}

func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.AsmEmail) == "" {
		core.ErrorMessage(w, http.StatusBadRequest, "ASM email is required", nil)
		return
	}

	userID := middleware.GetAccountID(r.Context())

	result := h.service.LinkAsmAccount(r.Context(), userID, req.AsmEmail)
	if !result.Success {
		core.ErrorMessage(w, http.StatusNotFound, result.Error, nil)
		return
	}

	core.JSON(w, http.StatusOK, result)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetAccountID(r.Context())

	balance, err := h.service.GetUnifiedBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, balance)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetAccountID(r.Context())
	page, pageSize := NormalizePage(
		parseIntQuery(r, "page", 1),
		parseIntQuery(r, "page_size", 20),
	)

	txs, total, err := h.service.ListTransactions(r.Context(), userID, page, pageSize)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.Paginated(w, ToTransactionResponseList(txs), page, pageSize, total)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	userID := middleware.GetAccountID(r.Context())

	result := h.service.ReserveUnifiedCredits(
		r.Context(),
		userID,
		req.Amount,
		req.Purpose,
		req.ReferenceID,
	)
	if !result.Success {
		core.ErrorMessage(w, http.StatusConflict, result.Error, nil)
		return
	}

	core.JSON(w, http.StatusCreated, result)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")

	var req CommitRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	userID := middleware.GetAccountID(r.Context())

	result := h.service.CommitReservation(r.Context(), userID, reservationID, req.IdempotencyKey)
	if !result.Success {
		core.ErrorMessage(w, settleStatus(result.Error), result.Error, nil)
		return
	}

	core.JSON(w, http.StatusOK, result)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")
	userID := middleware.GetAccountID(r.Context())

	result := h.service.ReleaseReservation(r.Context(), userID, reservationID)
	if !result.Success {
		core.ErrorMessage(w, settleStatus(result.Error), result.Error, map[string]any{
			"success": false,
		})
		return
	}

	core.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func settleStatus(msg string) int {
	if msg == MsgReservationNotFound {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

// Grant credits a user's local balance (admin only).
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	result := h.service.AddCredits(
		r.Context(),
		userID,
		req.Amount,
		TransactionType(req.Type),
		req.Description,
	)
	if !result.Success {
		status := http.StatusInternalServerError
		if result.Error == MsgUserNotFound {
			status = http.StatusNotFound
		}
		core.ErrorMessage(w, status, result.Error, nil)
		return
	}

	core.JSON(w, http.StatusOK, result)
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
