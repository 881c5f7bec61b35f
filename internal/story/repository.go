// AngelaMos | 2026
// repository.go

package story

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx/types"

	"github.com/storywork/storywork-api/internal/core"
)

// Repository reads and writes storywork_stories. Every lookup is scoped to
// the owning user.
type Repository interface {
	Create(ctx context.Context, story *Story) error
	GetForUser(ctx context.Context, id, userID string) (*Story, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Story, int, error)
	SaveContent(ctx context.Context, id, userID string, content types.JSONText) error
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, story *Story) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO storywork_stories (user_id, title, story_type, raw_input, answers, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + storyColumns

	err := r.db.GetContext(ctx, story, query,
		story.UserID,
		story.Title,
		story.StoryType,
		story.RawInput,
		story.Answers,
		story.Status,
	)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}

	return nil
}

func (r *repository) GetForUser(
	ctx context.Context,
	id, userID string,
) (*Story, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + storyColumns + `
		FROM storywork_stories
		WHERE id = $1 AND user_id = $2`

	var story Story
	err := r.db.GetContext(ctx, &story, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get story: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}

	return &story, nil
}

func (r *repository) ListForUser(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]Story, int, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM storywork_stories WHERE user_id = $1`,
		userID,
	); err != nil {
		return nil, 0, fmt.Errorf("count stories: %w", err)
	}

	query := `SELECT ` + storyColumns + `
		FROM storywork_stories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	stories := make([]Story, 0)
	if err := r.db.SelectContext(ctx, &stories, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list stories: %w", err)
	}

	return stories, total, nil
}

func (r *repository) SaveContent(
	ctx context.Context,
	id, userID string,
	content types.JSONText,
) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE storywork_stories
		SET generated_content = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`,
		id, userID, content, StatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("save story content: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save story content: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("save story content: %w", core.ErrNotFound)
	}

	return nil
}
