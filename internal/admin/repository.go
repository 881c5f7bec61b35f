// AngelaMos | 2026
// repository.go

package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/storywork/storywork-api/internal/core"
)

type LedgerSummary struct {
	Users              int   `db:"users"                json:"users"`
	LinkedUsers        int   `db:"linked_users"         json:"linked_users"`
	ActiveSubscribers  int   `db:"active_subscribers"   json:"active_subscribers"`
	OutstandingCredits int64 `db:"outstanding_credits"  json:"outstanding_credits"`
	LifetimeGranted    int64 `db:"lifetime_granted"     json:"lifetime_granted"`
}

// SourceVolume aggregates ledger rows of one source tag.
type SourceVolume struct {
	Source       string `db:"source"       json:"source"`
	Transactions int    `db:"transactions" json:"transactions"`
	Debited      int64  `db:"debited"      json:"debited"`
	Credited     int64  `db:"credited"     json:"credited"`
}

type StoryCounts struct {
	Total     int `db:"total"     json:"total"`
	Completed int `db:"completed" json:"completed"`
}

type LedgerStats interface {
	Summary(ctx context.Context) (*LedgerSummary, error)
	VolumeBySource(ctx context.Context, since time.Time) ([]SourceVolume, error)
	Stories(ctx context.Context) (*StoryCounts, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) LedgerStats {
	return &repository{db: db}
}

func (r *repository) Summary(ctx context.Context) (*LedgerSummary, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*) AS users,
		       COUNT(*) FILTER (WHERE asm_agent_id IS NOT NULL) AS linked_users,
		       COUNT(*) FILTER (WHERE subscription_status = 'active') AS active_subscribers,
		       COALESCE(SUM(credit_balance), 0) AS outstanding_credits,
		       COALESCE(SUM(lifetime_credits), 0) AS lifetime_granted
		FROM storywork_users`

	var summary LedgerSummary
	if err := r.db.GetContext(ctx, &summary, query); err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}

	return &summary, nil
}

func (r *repository) VolumeBySource(
	ctx context.Context,
	since time.Time,
) ([]SourceVolume, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT source,
		       COUNT(*) AS transactions,
		       COALESCE(SUM(-amount) FILTER (WHERE amount < 0), 0) AS debited,
		       COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0) AS credited
		FROM storywork_credit_transactions
		WHERE created_at >= $1
		GROUP BY source
		ORDER BY source`

	volumes := make([]SourceVolume, 0)
	if err := r.db.SelectContext(ctx, &volumes, query, since); err != nil {
		return nil, fmt.Errorf("volume by source: %w", err)
	}

	return volumes, nil
}

func (r *repository) Stories(ctx context.Context) (*StoryCounts, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed
		FROM storywork_stories`

	var counts StoryCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("story counts: %w", err)
	}

	return &counts, nil
}
