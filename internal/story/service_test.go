// AngelaMos | 2026
// service_test.go

package story

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storywork/storywork-api/internal/ai"
	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
)

const validContent = `Here you go:
{"slides":[{"headline":"Seven offers","body":"We still won.","visual_suggestion":"SOLD sign"}],
 "hashtags":["#realestate"],"caption":"Never give up {really}"}`

type memRepo struct {
	mu      sync.Mutex
	stories map[string]*Story
	saveErr error
	saved   map[string]types.JSONText
}

func newMemRepo(stories ...*Story) *memRepo {
	r := &memRepo{
		stories: make(map[string]*Story),
		saved:   make(map[string]types.JSONText),
	}
	for _, s := range stories {
		r.stories[s.ID] = s
	}
	return r
}

func (r *memRepo) Create(_ context.Context, story *Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	story.ID = fmt.Sprintf("story-%d", len(r.stories)+1)
	story.CreatedAt = fixedTime
	story.UpdatedAt = fixedTime
	cp := *story
	r.stories[story.ID] = &cp
	return nil
}

func (r *memRepo) GetForUser(_ context.Context, id, userID string) (*Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("get story: %w", core.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListForUser(_ context.Context, userID string, limit, offset int) ([]Story, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Story
	for _, s := range r.stories {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	total := len(out)
	if offset >= total {
		return []Story{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (r *memRepo) SaveContent(_ context.Context, id, userID string, content types.JSONText) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	s, ok := r.stories[id]
	if !ok || s.UserID != userID {
		return core.ErrNotFound
	}
	s.Status = StatusCompleted
	s.GeneratedContent = types.NullJSONText{JSONText: content, Valid: true}
	r.saved[id] = content
	return nil
}

type ledgerCall struct {
	amount      int
	txType      credit.TransactionType
	description string
}

type fakeLedger struct {
	mu          sync.Mutex
	balance     int
	source      credit.Source
	spendResult *credit.Result
	spends      []ledgerCall
	adds        []ledgerCall
}

func (l *fakeLedger) SpendCredits(_ context.Context, _ string, amount int, txType credit.TransactionType, description string) credit.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spends = append(l.spends, ledgerCall{amount, txType, description})
	if l.spendResult != nil {
		return *l.spendResult
	}
	if l.balance < amount {
		return credit.Result{Success: false, NewBalance: l.balance, Error: credit.MsgInsufficientCredits}
	}
	l.balance -= amount
	return credit.Result{Success: true, NewBalance: l.balance, Source: l.source}
}

func (l *fakeLedger) AddCredits(_ context.Context, _ string, amount int, txType credit.TransactionType, description string) credit.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adds = append(l.adds, ledgerCall{amount, txType, description})
	l.balance += amount
	return credit.Result{Success: true, NewBalance: l.balance, Source: credit.SourceSubscription}
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	block   chan struct{}
	prompts []string
	opts    []ai.Options
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, opts ai.Options) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	block := g.block
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	return g.text, g.err
}

type storyFixture struct {
	svc    *Service
	repo   *memRepo
	ledger *fakeLedger
	gen    *fakeGenerator
	redis  *miniredis.Miniredis
}

func newStoryFixture(t *testing.T) *storyFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &storyFixture{
		repo: newMemRepo(&Story{
			ID:        "story-1",
			UserID:    "user-1",
			Title:     "Bidding war",
			StoryType: TypeAgainstTheOdds,
			Answers:   types.JSONText(`{}`),
			Status:    StatusDraft,
		}),
		ledger: &fakeLedger{balance: 200, source: credit.SourceLocal},
		gen:    &fakeGenerator{text: validContent},
		redis:  mr,
	}
	f.svc = NewService(ServiceConfig{
		Repo:      f.repo,
		Ledger:    f.ledger,
		Generator: f.gen,
		Locker:    core.NewLocker(client, "storywork:"),
		Cost:      75,
		LockTTL:   time.Minute,
	})
	return f
}

func generateInput() GenerateInput {
	return GenerateInput{
		UserID:    "user-1",
		StoryID:   "story-1",
		StoryType: TypeAgainstTheOdds,
		Answers:   map[string]string{"q0": "Seven competing offers"},
		AgentName: "Dana",
	}
}

func TestGenerateSuccess(t *testing.T) {
	f := newStoryFixture(t)

	result, err := f.svc.Generate(context.Background(), generateInput())
	require.NoError(t, err)

	require.Len(t, result.Content.Slides, 1)
	assert.Equal(t, "SOLD sign", result.Content.Slides[0].VisualSuggestion)
	assert.Equal(t, "Never give up {really}", result.Content.Caption)
	assert.Equal(t, 125, result.CreditsRemaining)

	require.Len(t, f.ledger.spends, 1)
	assert.Equal(t, ledgerCall{75, credit.TypeCarousel, "Story generation: story-1"}, f.ledger.spends[0])
	assert.Empty(t, f.ledger.adds)

	require.Len(t, f.gen.opts, 1)
	assert.InDelta(t, 0.7, f.gen.opts[0].Temperature, 0.0001)
	assert.Contains(t, f.gen.prompts[0], "Agent Name: Dana")

	story, err := f.repo.GetForUser(context.Background(), "story-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, story.Status)
	assert.Contains(t, string(f.repo.saved["story-1"]), `"visual_suggestion":"SOLD sign"`)

	assert.False(t, f.redis.Exists("storywork:generate:story-1"))
}

func TestGenerateInvalidTypeCostsNothing(t *testing.T) {
	f := newStoryFixture(t)
	in := generateInput()
	in.StoryType = "open_house"

	_, err := f.svc.Generate(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidStoryType)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, f.ledger.spends)
	assert.Empty(t, f.gen.prompts)
}

func TestGenerateStoryOwnedByAnotherUser(t *testing.T) {
	f := newStoryFixture(t)
	in := generateInput()
	in.UserID = "user-2"

	_, err := f.svc.Generate(context.Background(), in)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, f.ledger.spends)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	f := newStoryFixture(t)
	f.ledger.balance = 40

	_, err := f.svc.Generate(context.Background(), generateInput())

	var spendErr *SpendError
	require.ErrorAs(t, err, &spendErr)
	assert.Equal(t, credit.MsgInsufficientCredits, spendErr.Message)
	assert.Equal(t, 40, spendErr.Balance)
	assert.Empty(t, f.gen.prompts)
	assert.False(t, f.redis.Exists("storywork:generate:story-1"))
}

func TestGenerateSpendFailureWithoutMessage(t *testing.T) {
	f := newStoryFixture(t)
	f.ledger.spendResult = &credit.Result{Success: false, NewBalance: 10}

	_, err := f.svc.Generate(context.Background(), generateInput())

	var spendErr *SpendError
	require.ErrorAs(t, err, &spendErr)
	assert.Equal(t, credit.MsgInsufficientCredits, spendErr.Message)
}

func TestGenerateRejectsConcurrentRunForSameStory(t *testing.T) {
	f := newStoryFixture(t)
	f.gen.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), generateInput())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.redis.Exists("storywork:generate:story-1")
	}, time.Second, 5*time.Millisecond)

	_, err := f.svc.Generate(context.Background(), generateInput())
	assert.ErrorIs(t, err, ErrGenerationInProgress)
	assert.ErrorIs(t, err, core.ErrConflict)

	close(f.gen.block)
	require.NoError(t, <-done)

	f.ledger.mu.Lock()
	defer f.ledger.mu.Unlock()
	assert.Len(t, f.ledger.spends, 1)
}

func TestGenerateFailsClosedWhenLockStoreIsDown(t *testing.T) {
	f := newStoryFixture(t)
	f.redis.Close()

	_, err := f.svc.Generate(context.Background(), generateInput())
	require.Error(t, err)
	assert.Empty(t, f.ledger.spends)
}

func TestGenerateRefundsLocalSpendOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		genErr  error
		saveErr error
		want    error
	}{
		{name: "provider error", genErr: errors.New("Anthropic API error: 529"), want: ErrGenerationFailed},
		{name: "unusable output", text: "I cannot help with that.", want: ErrUnusableContent},
		{name: "save failure", text: validContent, saveErr: errors.New("connection reset"), want: ErrSaveFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoryFixture(t)
			f.gen.text = tt.text
			f.gen.err = tt.genErr
			f.repo.saveErr = tt.saveErr

			_, err := f.svc.Generate(context.Background(), generateInput())
			assert.ErrorIs(t, err, tt.want)

			require.Len(t, f.ledger.adds, 1)
			assert.Equal(t, ledgerCall{
				75, credit.TypeRefund, "Refund for failed story generation: story-1",
			}, f.ledger.adds[0])
			assert.Equal(t, 200, f.ledger.balance)
		})
	}
}

func TestGenerateDoesNotRefundRemoteSpend(t *testing.T) {
	for _, source := range []credit.Source{credit.SourceRemote, credit.SourceUnified} {
		t.Run(string(source), func(t *testing.T) {
			f := newStoryFixture(t)
			f.ledger.source = source
			f.gen.text = "no json here"

			_, err := f.svc.Generate(context.Background(), generateInput())
			assert.ErrorIs(t, err, ErrUnusableContent)
			assert.Empty(t, f.ledger.adds)
		})
	}
}

func TestDetect(t *testing.T) {
	f := newStoryFixture(t)
	f.gen.text = `{"detected_type":"fresh_drop","confidence":0.82,"reasoning":"New listing"}`

	detection, err := f.svc.Detect(context.Background(), "Just listed a craftsman")
	require.NoError(t, err)
	assert.Equal(t, TypeFreshDrop, detection.DetectedType)
	assert.InDelta(t, 0.82, detection.Confidence, 0.0001)
	assert.InDelta(t, 0.3, f.gen.opts[0].Temperature, 0.0001)
	assert.Empty(t, f.ledger.spends)

	f.gen.text = "not sure"
	_, err = f.svc.Detect(context.Background(), "???")
	assert.ErrorIs(t, err, ErrDetectionFailed)

	f.gen.err = ai.ErrNoProvider
	_, err = f.svc.Detect(context.Background(), "???")
	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.ErrorIs(t, err, ai.ErrNoProvider)
}

func TestExtract(t *testing.T) {
	f := newStoryFixture(t)
	f.gen.text = `{"summary":"Buyers won","story_type_suggestion":"against_the_odds",
		"key_elements":{"challenge":"seven offers","lesson":"move fast"},
		"characters":["The Parks"],"emotional_beats":["relief"]}`

	extraction, err := f.svc.Extract(context.Background(), "um so the buyers")
	require.NoError(t, err)
	assert.Equal(t, "seven offers", extraction.KeyElements.Challenge)
	assert.Equal(t, []string{"The Parks"}, extraction.Characters)
	assert.Contains(t, f.gen.prompts[0], "um so the buyers")
}

func TestCreateStory(t *testing.T) {
	f := newStoryFixture(t)

	story, err := f.svc.Create(context.Background(), CreateInput{
		UserID:    "user-1",
		StoryType: TypeBehindTheDeal,
		RawInput:  "  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Behind the Deal Story", story.Title)
	assert.Equal(t, StatusDraft, story.Status)
	assert.Nil(t, story.RawInput)
	assert.JSONEq(t, `{}`, string(story.Answers))

	_, err = f.svc.Create(context.Background(), CreateInput{UserID: "user-1", StoryType: "nope"})
	assert.ErrorIs(t, err, ErrInvalidStoryType)
}

func TestListStoriesNormalizesPage(t *testing.T) {
	f := newStoryFixture(t)

	stories, total, err := f.svc.List(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, stories, 1)

	stories, total, err = f.svc.List(context.Background(), "user-2", 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, stories)
}
