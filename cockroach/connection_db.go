package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgxutil"

	"github.com/dyadchat/dyad/types"
)

// InsertConnection records a live websocket connection so presence survives
// process restarts and can be audited.
func (c *Cockroach) InsertConnection(ctx context.Context, in types.Connection) error {
	const query = `
		INSERT INTO connections (id, user_id, user_agent)
		VALUES (@connection_id, @user_id, @user_agent)
	`
	_, err := c.db.Exec(ctx, query, pgx.StrictNamedArgs{
		"connection_id": in.ID,
		"user_id":       in.UserID,
		"user_agent":    in.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("sql insert connection: %w", err)
	}

	return nil
}

// ActiveConnections lists a user's open channels, newest first.
func (c *Cockroach) ActiveConnections(ctx context.Context, userID string) ([]types.Connection, error) {
	const query = `
		SELECT id, user_id, user_agent, active, connected_at, disconnected_at
		FROM connections
		WHERE user_id = @user_id AND active
		ORDER BY connected_at DESC
	`
	rows, err := c.db.Query(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("sql select active connections: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Connection])
	if err != nil {
		return nil, fmt.Errorf("sql collect active connections: %w", err)
	}

	return out, nil
}

// DeactivateConnection is idempotent. Closing an already closed connection
// is a no-op.
func (c *Cockroach) DeactivateConnection(ctx context.Context, connectionID string) error {
	const query = `
		UPDATE connections
		SET active = false, disconnected_at = now()
		WHERE id = @connection_id AND active
	`
	_, err := c.db.Exec(ctx, query, pgx.StrictNamedArgs{
		"connection_id": connectionID,
	})
	if err != nil {
		return fmt.Errorf("sql deactivate connection: %w", err)
	}

	return nil
}

// DeactivateAllConnections runs at boot to clear rows orphaned by a crash.
func (c *Cockroach) DeactivateAllConnections(ctx context.Context) error {
	_, err := c.db.Exec(ctx, `
		UPDATE connections
		SET active = false, disconnected_at = now()
		WHERE active
	`)
	if err != nil {
		return fmt.Errorf("sql deactivate all connections: %w", err)
	}

	return nil
}

func (c *Cockroach) ActiveConnectionCount(ctx context.Context, userID string) (uint64, error) {
	const query = `
		SELECT count(*) FROM connections
		WHERE user_id = @user_id AND active
	`
	args := pgx.StrictNamedArgs{
		"user_id": userID,
	}
	count, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowTo[uint64])
	if err != nil {
		return 0, fmt.Errorf("sql count active connections: %w", err)
	}

	return count, nil
}
