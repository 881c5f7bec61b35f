// AngelaMos | 2026
// agents.go

package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storywork/storywork-api/internal/core"
)

// AgentDirectory reads the ASM Portal's agents table. Storywork never
// writes to it.
type AgentDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Agent, error)
}

type agentDirectory struct {
	db core.DBTX
}

func NewAgentDirectory(db core.DBTX) AgentDirectory {
	return &agentDirectory{db: db}
}

func (d *agentDirectory) FindByEmail(
	ctx context.Context,
	email string,
) (*Agent, error) {
	ctx, cancel := core.WithQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email
		FROM agents
		WHERE lower(email) = lower($1)
		LIMIT 1`

	var agent Agent
	err := d.db.GetContext(ctx, &agent, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find agent: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}

	return &agent, nil
}
