package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgxutil"
	"github.com/nicolasparada/go-db"
	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
	"github.com/dyadchat/dyad/types"
)

const sqlUserCols = "id, username, online, last_seen_at, created_at, updated_at"

func (c *Cockroach) CreateUser(ctx context.Context, username string) (types.User, error) {
	const query = `
		INSERT INTO users (id, username)
		VALUES (@user_id, @username)
		RETURNING ` + sqlUserCols
	args := pgx.StrictNamedArgs{
		"user_id":  id.Generate(),
		"username": username,
	}
	user, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.User])
	if db.IsUniqueViolationError(err, "username") {
		return user, errs.ConflictError("username taken")
	}

	if err != nil {
		return user, fmt.Errorf("sql insert user: %w", err)
	}

	return user, nil
}

func (c *Cockroach) User(ctx context.Context, userID string) (types.User, error) {
	const query = `SELECT ` + sqlUserCols + ` FROM users WHERE id = @user_id`
	args := pgx.StrictNamedArgs{
		"user_id": userID,
	}
	user, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.User])
	if errors.Is(err, pgx.ErrNoRows) {
		return user, errs.NotFoundError("user not found")
	}

	if err != nil {
		return user, fmt.Errorf("sql select user: %w", err)
	}

	return user, nil
}

func (c *Cockroach) UserByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + sqlUserCols + ` FROM users WHERE username = @username`
	args := pgx.StrictNamedArgs{
		"username": username,
	}
	user, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.User])
	if errors.Is(err, pgx.ErrNoRows) {
		return user, errs.NotFoundError("user not found")
	}

	if err != nil {
		return user, fmt.Errorf("sql select user by username: %w", err)
	}

	return user, nil
}

func (c *Cockroach) UserExists(ctx context.Context, userID string) (bool, error) {
	const query = "SELECT EXISTS (SELECT 1 FROM users WHERE id = @user_id)"
	args := pgx.StrictNamedArgs{
		"user_id": userID,
	}
	exists, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("sql select user existence: %w", err)
	}

	return exists, nil
}

// SetUserPresence flips the derived online flag and reports whether the row
// actually changed. With several nodes tracking the same user the durable
// flag arbitrates, so only one node fans the transition out. The last-seen
// timestamp is only stamped on the offline transition.
func (c *Cockroach) SetUserPresence(ctx context.Context, userID string, online bool) (bool, error) {
	const query = `
		UPDATE users
		SET online = @online,
			last_seen_at = CASE WHEN @online THEN last_seen_at ELSE now() END,
			updated_at = now()
		WHERE id = @user_id AND online <> @online
	`
	tag, err := c.db.Exec(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
		"online":  online,
	})
	if err != nil {
		return false, fmt.Errorf("sql update user presence: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ResetPresence clears online flags left behind by a previous process.
func (c *Cockroach) ResetPresence(ctx context.Context) error {
	_, err := c.db.Exec(ctx, `UPDATE users SET online = false, updated_at = now() WHERE online`)
	if err != nil {
		return fmt.Errorf("sql reset presence: %w", err)
	}

	return nil
}

// ContactIDs returns the users sharing a conversation with userID. Presence
// transitions fan out to exactly this set.
func (c *Cockroach) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT DISTINCT other_user_id
		FROM participants
		WHERE user_id = @user_id
	`
	rows, err := c.db.Query(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("sql select contact IDs: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sql collect contact IDs: %w", err)
	}

	return ids, nil
}
