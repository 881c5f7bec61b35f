// AngelaMos | 2026
// handler.go

package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/middleware"
)

const maxWebhookBody = 65536

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router, authenticator func(http.Handler) http.Handler) {
	r.Route("/billing", func(r chi.Router) {
		r.Get("/tiers", h.ListTiers)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)

			r.Post("/checkout", h.Checkout)
			r.Post("/portal", h.Portal)
		})
	})
}

// RegisterWebhookRoutes mounts the Stripe webhook. It is authenticated by
// signature only.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Webhook)
}

type checkoutRequest struct {
	Tier string `json:"tier"`
}

type urlResponse struct {
	URL string `json:"url"`
}

func (h *Handler) ListTiers(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.service.Tiers())
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.ErrorMessage(w, http.StatusBadRequest, "Invalid subscription tier", nil)
		return
	}

	url, err := h.service.Checkout(r.Context(), middleware.GetAccountID(r.Context()), req.Tier)
	if err != nil {
		if errors.Is(err, ErrInvalidTier) {
			core.ErrorMessage(w, http.StatusBadRequest, "Invalid subscription tier", nil)
			return
		}
		h.logger.Error("checkout failed", "error", err)
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to create checkout session", nil)
		return
	}

	core.JSON(w, http.StatusOK, urlResponse{URL: url})
}

func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.Portal(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			core.ErrorMessage(w, http.StatusNotFound, "No subscription found", nil)
			return
		}
		h.logger.Error("billing portal failed", "error", err)
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to create portal session", nil)
		return
	}

	core.JSON(w, http.StatusOK, urlResponse{URL: url})
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		core.ErrorMessage(w, http.StatusBadRequest, "Invalid payload", nil)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		core.ErrorMessage(w, http.StatusBadRequest, "No signature", nil)
		return
	}

	event, err := h.service.ConstructEvent(payload, signature)
	if err != nil {
		if errors.Is(err, ErrWebhookNotConfigured) {
			h.logger.Error("stripe webhook received but no secret is configured")
			core.ErrorMessage(w, http.StatusServiceUnavailable, "Webhook verification not configured", nil)
			return
		}
		h.logger.Warn("stripe webhook signature verification failed", "error", err)
		core.ErrorMessage(w, http.StatusBadRequest, "Invalid signature", nil)
		return
	}

	h.logger.Info("received stripe webhook",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.service.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error("stripe webhook processing failed",
			"event_id", event.ID,
			"error", err,
		)
		core.ErrorMessage(w, http.StatusInternalServerError, "Webhook processing failed", nil)
		return
	}

	core.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
