package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mercator-hq/dispatch/pkg/scheduler"
)

// CreateAgent inserts agent, or updates its owner and name if it exists.
func (d *DB) CreateAgent(ctx context.Context, agent *scheduler.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO agents (id, owner_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name`,
		agent.ID, agent.OwnerID, agent.Name, d.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", agent.ID, err)
	}
	return nil
}

// GetAgent implements scheduler.Directory.
func (d *DB) GetAgent(ctx context.Context, id string) (*scheduler.Agent, error) {
	var agent scheduler.Agent
	err := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name FROM agents WHERE id = ?`, id,
	).Scan(&agent.ID, &agent.OwnerID, &agent.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %s", scheduler.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &agent, nil
}

// CreatePlatformAccount inserts account. An agent holds at most one account
// per platform; a second one replaces the handle of the first.
func (d *DB) CreatePlatformAccount(ctx context.Context, account *scheduler.PlatformAccount) error {
	if account.ID == "" || account.AgentID == "" || account.Platform == "" {
		return fmt.Errorf("platform account id, agent id and platform are required")
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO platform_accounts (id, agent_id, platform, handle, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, platform) DO UPDATE SET handle = excluded.handle`,
		account.ID, account.AgentID, string(account.Platform), account.Handle, d.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert platform account %s: %w", account.ID, err)
	}
	return nil
}

// GetPlatformAccount implements scheduler.Directory.
func (d *DB) GetPlatformAccount(ctx context.Context, agentID string, platform scheduler.Platform) (*scheduler.PlatformAccount, error) {
	var (
		account scheduler.PlatformAccount
		p       string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, platform, handle FROM platform_accounts WHERE agent_id = ? AND platform = ?`,
		agentID, string(platform),
	).Scan(&account.ID, &account.AgentID, &p, &account.Handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: platform account for agent %s on %s", scheduler.ErrNotFound, agentID, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("get platform account %s/%s: %w", agentID, platform, err)
	}
	account.Platform = scheduler.Platform(p)
	return &account, nil
}
