// AngelaMos | 2026
// service.go

package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storywork/storywork-api/internal/ai"
	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
)

const (
	detectTemperature   = 0.3
	generateTemperature = 0.7
	defaultLockTTL      = 2 * time.Minute
)

var (
	ErrInvalidStoryType     = fmt.Errorf("invalid story type: %w", core.ErrInvalidInput)
	ErrGenerationInProgress = fmt.Errorf("generation in progress: %w", core.ErrConflict)
	ErrGenerationFailed     = errors.New("generation failed")
	ErrUnusableContent      = errors.New("generated content was unusable")
	ErrSaveFailed           = errors.New("failed to save generated content")
	ErrDetectionFailed      = errors.New("failed to detect story type")
	ErrExtractionFailed     = errors.New("failed to extract story")
)

// SpendError is a declined credit spend. Balance is what the caller has
// left to spend.
type SpendError struct {
	Message string
	Balance int
}

func (e *SpendError) Error() string {
	return "spend declined: " + e.Message
}

type Ledger interface {
	SpendCredits(ctx context.Context, userID string, amount int, txType credit.TransactionType, description string) credit.Result
	AddCredits(ctx context.Context, userID string, amount int, txType credit.TransactionType, description string) credit.Result
}

type Generator interface {
	Generate(ctx context.Context, prompt string, opts ai.Options) (string, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type ServiceConfig struct {
	Repo      Repository
	Ledger    Ledger
	Generator Generator
	Locker    Locker
	Cost      int
	LockTTL   time.Duration
	Logger    *slog.Logger
}

type Service struct {
	repo      Repository
	ledger    Ledger
	generator Generator
	locker    Locker
	cost      int
	lockTTL   time.Duration
	logger    *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:      cfg.Repo,
		ledger:    cfg.Ledger,
		generator: cfg.Generator,
		locker:    cfg.Locker,
		cost:      cfg.Cost,
		lockTTL:   cfg.LockTTL,
		logger:    cfg.Logger,
	}
}

func (s *Service) Detect(ctx context.Context, input string) (*Detection, error) {
	text, err := s.generator.Generate(ctx, DetectTypePrompt(input), ai.Options{
		Temperature: detectTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	detection, ok := ai.ParseJSON[Detection](text)
	if !ok {
		return nil, ErrDetectionFailed
	}
	return detection, nil
}

func (s *Service) Extract(ctx context.Context, transcription string) (*Extraction, error) {
	text, err := s.generator.Generate(ctx, TranscriptionPrompt(transcription), ai.Options{
		Temperature: detectTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	extraction, ok := ai.ParseJSON[Extraction](text)
	if !ok {
		return nil, ErrExtractionFailed
	}
	return extraction, nil
}

type GenerateInput struct {
	UserID    string
	StoryID   string
	StoryType string
	Answers   map[string]string
	AgentName string
}

type GenerateResult struct {
	Content          *Content
	CreditsRemaining int
}

// Generate charges for and produces the carousel for a story. Only one
// generation per story runs at a time. A local debit is refunded when
// nothing usable was saved.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	ctx, span := core.StartSpan(ctx, "story.Generate",
		attribute.String("user.id", in.UserID),
		attribute.String("story.id", in.StoryID),
		attribute.String("story.type", in.StoryType),
	)
	defer span.End()

	prompt := GenerateContentPrompt(in.StoryType, in.Answers, in.AgentName)
	if prompt == "" {
		return nil, ErrInvalidStoryType
	}

	if _, err := s.repo.GetForUser(ctx, in.StoryID, in.UserID); err != nil {
		return nil, err
	}

	release, ok, err := s.locker.Acquire(ctx, "generate:"+in.StoryID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release generation lock",
				"story_id", in.StoryID,
				"error", err,
			)
		}
	}()

	spend := s.ledger.SpendCredits(
		ctx,
		in.UserID,
		s.cost,
		credit.TypeCarousel,
		"Story generation: "+in.StoryID,
	)
	if !spend.Success {
		msg := spend.Error
		if msg == "" {
			msg = credit.MsgInsufficientCredits
		}
		return nil, &SpendError{Message: msg, Balance: spend.NewBalance}
	}

	text, err := s.generator.Generate(ctx, prompt, ai.Options{
		Temperature: generateTemperature,
	})
	if err != nil {
		core.SetSpanError(ctx, err)
		s.refund(ctx, in, spend)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	content, ok := ai.ParseJSON[Content](text)
	if !ok {
		s.logger.Warn("model returned unusable content",
			"story_id", in.StoryID,
			"chars", len(text),
		)
		s.refund(ctx, in, spend)
		return nil, ErrUnusableContent
	}

	payload, err := json.Marshal(content)
	if err != nil {
		s.refund(ctx, in, spend)
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	if err := s.repo.SaveContent(ctx, in.StoryID, in.UserID, types.JSONText(payload)); err != nil {
		core.SetSpanError(ctx, err)
		s.logger.Error("failed to save generated content",
			"story_id", in.StoryID,
			"error", err,
		)
		s.refund(ctx, in, spend)
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	return &GenerateResult{Content: content, CreditsRemaining: spend.NewBalance}, nil
}

// refund returns a local debit. Debits taken by the ASM Portal or the
// unified pool cannot be reversed from here and are only logged.
func (s *Service) refund(ctx context.Context, in GenerateInput, spend credit.Result) {
	ctx = context.WithoutCancel(ctx)

	if spend.Source != credit.SourceLocal {
		s.logger.Warn("generation failed after non-refundable spend",
			"user_id", in.UserID,
			"story_id", in.StoryID,
			"source", spend.Source,
		)
		return
	}

	result := s.ledger.AddCredits(
		ctx,
		in.UserID,
		s.cost,
		credit.TypeRefund,
		"Refund for failed story generation: "+in.StoryID,
	)
	if !result.Success {
		s.logger.Error("generation refund failed",
			"user_id", in.UserID,
			"story_id", in.StoryID,
			"error", result.Error,
		)
	}
}

type CreateInput struct {
	UserID    string
	Title     string
	StoryType string
	RawInput  string
	Answers   map[string]string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Story, error) {
	t, ok := LookupType(in.StoryType)
	if !ok {
		return nil, ErrInvalidStoryType
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = t.Name + " Story"
	}

	answers := in.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	payload, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}

	story := &Story{
		UserID:    in.UserID,
		Title:     title,
		StoryType: in.StoryType,
		Answers:   types.JSONText(payload),
		Status:    StatusDraft,
	}
	if raw := strings.TrimSpace(in.RawInput); raw != "" {
		story.RawInput = &raw
	}

	if err := s.repo.Create(ctx, story); err != nil {
		return nil, err
	}
	return story, nil
}

func (s *Service) Get(ctx context.Context, id, userID string) (*Story, error) {
	return s.repo.GetForUser(ctx, id, userID)
}

func (s *Service) List(
	ctx context.Context,
	userID string,
	page, pageSize int,
) ([]Story, int, error) {
	page, pageSize = credit.NormalizePage(page, pageSize)
	return s.repo.ListForUser(ctx, userID, pageSize, (page-1)*pageSize)
}
