// AngelaMos | 2026
// dto.go

package story

import (
	"encoding/json"
	"time"
)

type GenerateRequest struct {
	StoryID   string            `json:"storyId"`
	StoryType string            `json:"storyType"`
	Answers   map[string]string `json:"answers"`
}

type GenerateResponse struct {
	Success          bool     `json:"success"`
	Content          *Content `json:"content"`
	CreditsRemaining int      `json:"creditsRemaining"`
}

type DetectRequest struct {
	Input string `json:"input"`
}

type ExtractRequest struct {
	Transcription string `json:"transcription"`
}

type CreateRequest struct {
	Title     string            `json:"title"     validate:"max=200"`
	StoryType string            `json:"storyType" validate:"required,oneof=against_the_odds fresh_drop behind_the_deal"`
	RawInput  string            `json:"rawInput"  validate:"max=20000"`
	Answers   map[string]string `json:"answers"   validate:"max=10"`
}

type StoryResponse struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	StoryType        string          `json:"story_type"`
	RawInput         *string         `json:"raw_input"`
	Answers          json.RawMessage `json:"answers"`
	Status           string          `json:"status"`
	GeneratedContent json.RawMessage `json:"generated_content"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func ToStoryResponse(s *Story) StoryResponse {
	resp := StoryResponse{
		ID:        s.ID,
		Title:     s.Title,
		StoryType: s.StoryType,
		RawInput:  s.RawInput,
		Answers:   json.RawMessage(s.Answers),
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if len(resp.Answers) == 0 {
		resp.Answers = json.RawMessage(`{}`)
	}
	if s.GeneratedContent.Valid && len(s.GeneratedContent.JSONText) > 0 {
		resp.GeneratedContent = json.RawMessage(s.GeneratedContent.JSONText)
	} else {
		resp.GeneratedContent = json.RawMessage(`null`)
	}
	return resp
}

func ToStoryResponseList(stories []Story) []StoryResponse {
	out := make([]StoryResponse, 0, len(stories))
	for i := range stories {
		out = append(out, ToStoryResponse(&stories[i]))
	}
	return out
}
