// AngelaMos | 2026
// entity.go

package story

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
)

// Story is a row of storywork_stories. Answers and GeneratedContent are
// jsonb columns.
type Story struct {
	ID               string             `db:"id"`
	UserID           string             `db:"user_id"`
	Title            string             `db:"title"`
	StoryType        string             `db:"story_type"`
	RawInput         *string            `db:"raw_input"`
	Answers          types.JSONText     `db:"answers"`
	Status           string             `db:"status"`
	GeneratedContent types.NullJSONText `db:"generated_content"`
	CreatedAt        time.Time          `db:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at"`
}

const storyColumns = `id, user_id, title, story_type, raw_input, answers,
		       status, generated_content, created_at, updated_at`

type Slide struct {
	Headline         string `json:"headline"`
	Body             string `json:"body"`
	VisualSuggestion string `json:"visual_suggestion"`
}

// Content is the carousel the model produces for a story.
type Content struct {
	Slides   []Slide  `json:"slides"`
	Hashtags []string `json:"hashtags"`
	Caption  string   `json:"caption"`
}

type Detection struct {
	DetectedType string  `json:"detected_type"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

type KeyElements struct {
	Challenge string `json:"challenge"`
	Context   string `json:"context"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Lesson    string `json:"lesson"`
}

type Extraction struct {
	Summary             string      `json:"summary"`
	StoryTypeSuggestion string      `json:"story_type_suggestion"`
	KeyElements         KeyElements `json:"key_elements"`
	Characters          []string    `json:"characters"`
	EmotionalBeats      []string    `json:"emotional_beats"`
}
