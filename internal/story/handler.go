// AngelaMos | 2026
// handler.go

package story

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
	"github.com/storywork/storywork-api/internal/middleware"
)

const defaultAgentName = "Agent"

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

// RegisterRoutes mounts the AI endpoints under /storywork and story CRUD
// under /stories. generationLimiter only wraps the AI endpoints.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, generationLimiter func(http.Handler) http.Handler,
) {
	r.Route("/storywork", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(generationLimiter)

		r.Post("/generate", h.Generate)
		r.Post("/detect", h.Detect)
		r.Post("/extract", h.Extract)
	})

	r.Route("/stories", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/types", h.ListTypes)
		r.Get("/{storyID}", h.Get)
	})
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.StoryID == "" || req.StoryType == "" || req.Answers == nil {
		core.ErrorMessage(w, http.StatusBadRequest, "Story ID, type, and answers are required", nil)
		return
	}

	agentName := defaultAgentName
	if identity := middleware.GetIdentity(r.Context()); identity != nil &&
		strings.TrimSpace(identity.FirstName) != "" {
		agentName = identity.FirstName
	}

	result, err := h.service.Generate(r.Context(), GenerateInput{
		UserID:    middleware.GetAccountID(r.Context()),
		StoryID:   req.StoryID,
		StoryType: req.StoryType,
		Answers:   req.Answers,
		AgentName: agentName,
	})
	if err != nil {
		h.writeGenerateError(w, err)
		return
	}

	core.JSON(w, http.StatusOK, GenerateResponse{
		Success:          true,
		Content:          result.Content,
		CreditsRemaining: result.CreditsRemaining,
	})
}

func (h *Handler) writeGenerateError(w http.ResponseWriter, err error) {
	var spendErr *SpendError

	switch {
	case errors.As(err, &spendErr):
		core.ErrorMessage(w, http.StatusPaymentRequired, spendErr.Message, map[string]any{
			"balance": spendErr.Balance,
		})
	case errors.Is(err, ErrInvalidStoryType):
		core.ErrorMessage(w, http.StatusBadRequest, "Invalid story type", nil)
	case errors.Is(err, core.ErrNotFound):
		core.ErrorMessage(w, http.StatusNotFound, "Story not found", nil)
	case errors.Is(err, ErrGenerationInProgress):
		core.ErrorMessage(w, http.StatusConflict, "Generation already in progress for this story", nil)
	case errors.Is(err, ErrUnusableContent), errors.Is(err, ErrGenerationFailed):
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to generate content", nil)
	case errors.Is(err, ErrSaveFailed):
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to save generated content", nil)
	default:
		core.ErrorMessage(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.Input) == "" {
		core.ErrorMessage(w, http.StatusBadRequest, "Input is required", nil)
		return
	}

	detection, err := h.service.Detect(r.Context(), req.Input)
	if err != nil {
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to detect story type", nil)
		return
	}

	core.JSON(w, http.StatusOK, detection)
}

func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.Transcription) == "" {
		core.ErrorMessage(w, http.StatusBadRequest, "Transcription is required", nil)
		return
	}

	extraction, err := h.service.Extract(r.Context(), req.Transcription)
	if err != nil {
		core.ErrorMessage(w, http.StatusInternalServerError, "Failed to extract story", nil)
		return
	}

	core.JSON(w, http.StatusOK, extraction)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	story, err := h.service.Create(r.Context(), CreateInput{
		UserID:    middleware.GetAccountID(r.Context()),
		Title:     req.Title,
		StoryType: req.StoryType,
		RawInput:  req.RawInput,
		Answers:   req.Answers,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			core.BadRequest(w, "Invalid story type")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.Created(w, ToStoryResponse(story))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "storyID")

	story, err := h.service.Get(r.Context(), storyID, middleware.GetAccountID(r.Context()))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "story")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToStoryResponse(story))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := credit.NormalizePage(
		parseIntQuery(r, "page", 1),
		parseIntQuery(r, "page_size", 20),
	)

	stories, total, err := h.service.List(
		r.Context(),
		middleware.GetAccountID(r.Context()),
		page,
		pageSize,
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.Paginated(w, ToStoryResponseList(stories), page, pageSize, total)
}

func (h *Handler) ListTypes(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, Types())
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
