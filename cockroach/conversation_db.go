package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgxutil"
	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
	"github.com/dyadchat/dyad/types"
)

// sqlConversationSelect joins the logged in user's participation, the other
// user, and the latest message into JSON columns so a single query hydrates
// the whole inbox row.
const sqlConversationSelect = `
	SELECT conversations.id, conversations.created_at, conversations.updated_at,
		json_build_object(
			'conversationId', participants.conversation_id,
			'userId', participants.user_id,
			'otherUserId', participants.other_user_id,
			'unreadCount', participants.unread_count,
			'lastReadAt', participants.last_read_at,
			'muted', participants.muted,
			'createdAt', participants.created_at,
			'updatedAt', participants.updated_at,
			'otherUser', json_build_object(
				'id', other_user.id,
				'username', other_user.username,
				'online', other_user.online,
				'lastSeenAt', other_user.last_seen_at,
				'createdAt', other_user.created_at,
				'updatedAt', other_user.updated_at
			)
		) AS participation,
		CASE WHEN last_message.id IS NULL THEN NULL ELSE json_build_object(
			'id', last_message.id,
			'conversationId', last_message.conversation_id,
			'userId', last_message.user_id,
			'content', CASE WHEN last_message.deleted THEN '' ELSE last_message.content END,
			'status', last_message.status,
			'replyToId', last_message.reply_to_id,
			'deleted', last_message.deleted,
			'createdAt', last_message.created_at,
			'updatedAt', last_message.updated_at
		) END AS last_message
	FROM conversations
	INNER JOIN participants ON participants.conversation_id = conversations.id
	INNER JOIN users AS other_user ON other_user.id = participants.other_user_id
	LEFT JOIN messages AS last_message ON last_message.id = conversations.last_message_id
`

// pairKey identifies the one-to-one conversation between two users
// regardless of who initiated it.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// EnsureConversation looks up or creates the conversation between the logged
// in user and the other user. Concurrent calls for the same pair converge on
// one row thanks to the pair_key unique constraint.
func (c *Cockroach) EnsureConversation(ctx context.Context, in types.EnsureConversation) (types.Conversation, error) {
	var out types.Conversation

	return out, c.db.RunTx(ctx, func(ctx context.Context) error {
		exists, err := c.UserExists(ctx, in.OtherUserID)
		if err != nil {
			return err
		}

		if !exists {
			return errs.NotFoundError("user not found")
		}

		key := pairKey(in.LoggedInUserID(), in.OtherUserID)

		_, err = c.db.Exec(ctx, `
			INSERT INTO conversations (id, pair_key)
			VALUES (@conversation_id, @pair_key)
			ON CONFLICT (pair_key) DO NOTHING
		`, pgx.StrictNamedArgs{
			"conversation_id": id.Generate(),
			"pair_key":        key,
		})
		if err != nil {
			return fmt.Errorf("sql insert conversation: %w", err)
		}

		args := pgx.StrictNamedArgs{
			"pair_key": key,
		}
		conversationID, err := pgxutil.SelectRow(ctx, c.db, `
			SELECT id FROM conversations WHERE pair_key = @pair_key
		`, []any{args}, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("sql select conversation by pair key: %w", err)
		}

		_, err = c.db.Exec(ctx, `
			INSERT INTO participants (conversation_id, user_id, other_user_id)
			VALUES
				(@conversation_id, @user_id, @other_user_id),
				(@conversation_id, @other_user_id, @user_id)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, pgx.StrictNamedArgs{
			"conversation_id": conversationID,
			"user_id":         in.LoggedInUserID(),
			"other_user_id":   in.OtherUserID,
		})
		if err != nil {
			return fmt.Errorf("sql insert participants: %w", err)
		}

		out, err = c.Conversation(ctx, conversationID, in.LoggedInUserID())
		return err
	})
}

func (c *Cockroach) Conversation(ctx context.Context, conversationID, userID string) (types.Conversation, error) {
	var out types.Conversation

	const query = sqlConversationSelect + `
		WHERE conversations.id = @conversation_id
			AND participants.user_id = @user_id
	`
	rows, err := c.db.Query(ctx, query, pgx.StrictNamedArgs{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	if err != nil {
		return out, fmt.Errorf("sql select conversation: %w", err)
	}

	out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Conversation])
	if errors.Is(err, pgx.ErrNoRows) {
		return out, errs.NotFoundError("conversation not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql collect conversation: %w", err)
	}

	return out, nil
}

func (c *Cockroach) Conversations(ctx context.Context, in types.ListConversations) (types.Page[types.Conversation], error) {
	var out types.Page[types.Conversation]

	query := sqlConversationSelect + `
		WHERE participants.user_id = @user_id
	`
	args := pgx.StrictNamedArgs{
		"user_id": in.LoggedInUserID(),
	}

	query, err := addPageFilter(query, "conversations", args, in.PageArgs)
	if err != nil {
		return out, err
	}
	query = addPageOrder(query, "conversations", in.PageArgs)
	query = addPageLimit(query, args, in.PageArgs)

	rows, err := c.db.Query(ctx, query, args)
	if err != nil {
		return out, fmt.Errorf("sql select conversations: %w", err)
	}

	out.Items, err = pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Conversation])
	if err != nil {
		return out, fmt.Errorf("sql collect conversations: %w", err)
	}

	if err := applyPageInfo(&out, in.PageArgs, func(c types.Conversation) string { return c.ID }); err != nil {
		return out, err
	}

	return out, nil
}

func (c *Cockroach) Participant(ctx context.Context, conversationID, userID string) (types.Participant, error) {
	var out types.Participant

	const query = `
		SELECT conversation_id, user_id, other_user_id, unread_count, last_read_at, muted, created_at, updated_at
		FROM participants
		WHERE conversation_id = @conversation_id
			AND user_id = @user_id
	`
	args := pgx.StrictNamedArgs{
		"conversation_id": conversationID,
		"user_id":         userID,
	}
	out, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.Participant])
	if errors.Is(err, pgx.ErrNoRows) {
		return out, errs.NotFoundError("conversation not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql select participant: %w", err)
	}

	return out, nil
}

// MarkConversationRead zeroes the reader's unread counter and flips the other
// side's pending messages to read, atomically. It runs on the retryable tx
// helper so the counter and the statuses cannot drift apart under contention.
func (c *Cockroach) MarkConversationRead(ctx context.Context, in types.MarkConversationRead) (types.ReadReceipt, error) {
	var out types.ReadReceipt

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT other_user_id, unread_count
			FROM participants
			WHERE conversation_id = @conversation_id
				AND user_id = @user_id
			FOR UPDATE
		`, pgx.StrictNamedArgs{
			"conversation_id": in.ConversationID,
			"user_id":         in.LoggedInUserID(),
		})
		if err != nil {
			return fmt.Errorf("sql select participant for update: %w", err)
		}

		participant, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Participant])
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFoundError("conversation not found")
		}

		if err != nil {
			return fmt.Errorf("sql collect participant: %w", err)
		}

		now := time.Now()

		_, err = tx.Exec(ctx, `
			UPDATE participants
			SET unread_count = 0, last_read_at = @read_at, updated_at = now()
			WHERE conversation_id = @conversation_id
				AND user_id = @user_id
		`, pgx.StrictNamedArgs{
			"conversation_id": in.ConversationID,
			"user_id":         in.LoggedInUserID(),
			"read_at":         now,
		})
		if err != nil {
			return fmt.Errorf("sql update participant read state: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE messages
			SET status = 'read', updated_at = now()
			WHERE conversation_id = @conversation_id
				AND user_id = @other_user_id
				AND status <> 'read'
				AND NOT deleted
		`, pgx.StrictNamedArgs{
			"conversation_id": in.ConversationID,
			"other_user_id":   participant.OtherUserID,
		})
		if err != nil {
			return fmt.Errorf("sql update message statuses: %w", err)
		}

		out = types.ReadReceipt{
			Changed:     participant.UnreadCount > 0 || tag.RowsAffected() > 0,
			OtherUserID: participant.OtherUserID,
			ReadAt:      now,
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	return out, nil
}

func (c *Cockroach) ToggleConversationMute(ctx context.Context, in types.ToggleConversationMute) (bool, error) {
	const query = `
		UPDATE participants
		SET muted = NOT muted, updated_at = now()
		WHERE conversation_id = @conversation_id
			AND user_id = @user_id
		RETURNING muted
	`
	args := pgx.StrictNamedArgs{
		"conversation_id": in.ConversationID,
		"user_id":         in.LoggedInUserID(),
	}
	muted, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowTo[bool])
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errs.NotFoundError("conversation not found")
	}

	if err != nil {
		return false, fmt.Errorf("sql toggle conversation mute: %w", err)
	}

	return muted, nil
}
