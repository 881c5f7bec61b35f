// AngelaMos | 2026
// repository.go

package billing

import (
	"context"
	"fmt"

	"github.com/storywork/storywork-api/internal/core"
)

// EventStore claims Stripe events before they are applied so a
// redelivered or concurrent webhook does not grant credits twice.
type EventStore interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Unclaim(ctx context.Context, eventID string) error
}

type eventRepository struct {
	db core.DBTX
}

func NewEventRepository(db core.DBTX) EventStore {
	return &eventRepository{db: db}
}

// Claim records the event and reports whether this call was the first.
func (r *eventRepository) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO storywork_stripe_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("claim stripe event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim stripe event: %w", err)
	}

	return rows == 1, nil
}

func (r *eventRepository) Unclaim(ctx context.Context, eventID string) error {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM storywork_stripe_events WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("unclaim stripe event: %w", err)
	}

	return nil
}
