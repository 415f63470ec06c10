package cockroach

import (
	"context"
	"errors"
	"fmt"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgxutil"
	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
	"github.com/dyadchat/dyad/types"
)

const sqlMessageCols = `
	messages.id, messages.conversation_id, messages.user_id,
	CASE WHEN messages.deleted THEN '' ELSE messages.content END AS content,
	messages.status, messages.reply_to_id, messages.deleted,
	messages.created_at, messages.updated_at
`

const sqlAttachmentCols = `
	attachments.id, attachments.message_id, attachments.content_type,
	attachments.url, attachments.name, attachments.size_bytes,
	attachments.created_at
`

// sqlMessageAttachments aggregates a message's attachment metadata as a JSON
// column, keys matching the json tags on types.Attachment.
const sqlMessageAttachments = `
	COALESCE((
		SELECT json_agg(json_build_object(
			'id', attachments.id,
			'messageId', attachments.message_id,
			'contentType', attachments.content_type,
			'url', attachments.url,
			'name', attachments.name,
			'sizeBytes', attachments.size_bytes,
			'createdAt', attachments.created_at
		))
		FROM attachments
		WHERE attachments.message_id = messages.id
	), '[]'::JSONB) AS attachments
`

// AppendMessage persists a message and bumps the recipient's unread counter
// in one retryable transaction. Participant rows are locked first so two
// concurrent sends into the same conversation serialize instead of clobbering
// the counter. It returns the stored message plus the recipient's
// participation so callers know whether the conversation is muted.
func (c *Cockroach) AppendMessage(ctx context.Context, in types.SendMessage) (types.Message, types.Participant, error) {
	var msg types.Message
	var recipient types.Participant

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT conversation_id, user_id, other_user_id, unread_count, last_read_at, muted, created_at, updated_at
			FROM participants
			WHERE conversation_id = @conversation_id
			FOR UPDATE
		`, pgx.StrictNamedArgs{
			"conversation_id": in.ConversationID,
		})
		if err != nil {
			return fmt.Errorf("sql select participants for update: %w", err)
		}

		participants, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Participant])
		if err != nil {
			return fmt.Errorf("sql collect participants: %w", err)
		}

		if len(participants) == 0 {
			return errs.NotFoundError("conversation not found")
		}

		var sender bool
		for _, p := range participants {
			if p.UserID == in.LoggedInUserID() {
				sender = true
			} else {
				recipient = p
			}
		}
		if !sender {
			return errs.PermissionDeniedError("not a conversation participant")
		}

		if in.ReplyToID != nil {
			args := pgx.StrictNamedArgs{
				"reply_to_id":     *in.ReplyToID,
				"conversation_id": in.ConversationID,
			}
			exists, err := pgxutil.SelectRow(ctx, tx, `
				SELECT EXISTS (
					SELECT 1 FROM messages
					WHERE id = @reply_to_id AND conversation_id = @conversation_id
				)
			`, []any{args}, pgx.RowTo[bool])
			if err != nil {
				return fmt.Errorf("sql select reply-to existence: %w", err)
			}

			if !exists {
				return errs.NotFoundError("reply-to message not found")
			}
		}

		rows, err = tx.Query(ctx, `
			INSERT INTO messages (id, conversation_id, user_id, content, reply_to_id)
			VALUES (@message_id, @conversation_id, @user_id, @content, @reply_to_id)
			RETURNING `+sqlMessageCols, pgx.StrictNamedArgs{
			"message_id":      id.Generate(),
			"conversation_id": in.ConversationID,
			"user_id":         in.LoggedInUserID(),
			"content":         in.Content,
			"reply_to_id":     in.ReplyToID,
		})
		if err != nil {
			return fmt.Errorf("sql insert message: %w", err)
		}

		msg, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Message])
		if err != nil {
			return fmt.Errorf("sql collect inserted message: %w", err)
		}

		for _, att := range in.Attachments {
			rows, err := tx.Query(ctx, `
				INSERT INTO attachments (id, message_id, content_type, url, name, size_bytes)
				VALUES (@attachment_id, @message_id, @content_type, @url, @name, @size_bytes)
				RETURNING `+sqlAttachmentCols, pgx.StrictNamedArgs{
				"attachment_id": id.Generate(),
				"message_id":    msg.ID,
				"content_type":  att.ContentType,
				"url":           att.URL,
				"name":          att.Name,
				"size_bytes":    att.SizeBytes,
			})
			if err != nil {
				return fmt.Errorf("sql insert attachment: %w", err)
			}

			stored, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Attachment])
			if err != nil {
				return fmt.Errorf("sql collect inserted attachment: %w", err)
			}
			msg.Attachments = append(msg.Attachments, stored)
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_id = @message_id, updated_at = now()
			WHERE id = @conversation_id
		`, pgx.StrictNamedArgs{
			"message_id":      msg.ID,
			"conversation_id": in.ConversationID,
		})
		if err != nil {
			return fmt.Errorf("sql update conversation last message: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE participants
			SET unread_count = unread_count + 1, updated_at = now()
			WHERE conversation_id = @conversation_id
				AND user_id = @recipient_id
		`, pgx.StrictNamedArgs{
			"conversation_id": in.ConversationID,
			"recipient_id":    recipient.UserID,
		})
		if err != nil {
			return fmt.Errorf("sql bump unread count: %w", err)
		}

		return nil
	})
	if err != nil {
		return msg, recipient, err
	}

	return msg, recipient, nil
}

func (c *Cockroach) Messages(ctx context.Context, in types.ListMessages) (types.Page[types.Message], error) {
	var out types.Page[types.Message]

	query := `
		SELECT ` + sqlMessageCols + `,
			` + sqlMessageAttachments + `,
			json_build_object(
				'id', users.id,
				'username', users.username,
				'online', users.online,
				'lastSeenAt', users.last_seen_at,
				'createdAt', users.created_at,
				'updatedAt', users.updated_at
			) AS user,
			json_build_object(
				'isMine', messages.user_id = @user_id
			) AS relationship
		FROM messages
		INNER JOIN participants ON participants.conversation_id = messages.conversation_id
			AND participants.user_id = @user_id
		INNER JOIN users ON messages.user_id = users.id
		WHERE messages.conversation_id = @conversation_id
	`
	args := pgx.StrictNamedArgs{
		"conversation_id": in.ConversationID,
		"user_id":         in.LoggedInUserID(),
	}

	query, err := addPageFilter(query, "messages", args, in.PageArgs)
	if err != nil {
		return out, err
	}
	query = addPageOrder(query, "messages", in.PageArgs)
	query = addPageLimit(query, args, in.PageArgs)

	rows, err := c.db.Query(ctx, query, args)
	if err != nil {
		return out, fmt.Errorf("sql select messages: %w", err)
	}

	out.Items, err = pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Message])
	if err != nil {
		return out, fmt.Errorf("sql collect messages: %w", err)
	}

	if err := applyPageInfo(&out, in.PageArgs, func(m types.Message) string { return m.ID }); err != nil {
		return out, err
	}

	return out, nil
}

func (c *Cockroach) Message(ctx context.Context, messageID string) (types.Message, error) {
	var out types.Message

	const query = `SELECT ` + sqlMessageCols + `, ` + sqlMessageAttachments + ` FROM messages WHERE messages.id = @message_id`
	args := pgx.StrictNamedArgs{
		"message_id": messageID,
	}
	out, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.Message])
	if errors.Is(err, pgx.ErrNoRows) {
		return out, errs.NotFoundError("message not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql select message: %w", err)
	}

	return out, nil
}

// MarkMessageDelivered flips a message from sent to delivered. Later
// statuses win, so a message already read stays read.
func (c *Cockroach) MarkMessageDelivered(ctx context.Context, messageID string) error {
	_, err := c.db.Exec(ctx, `
		UPDATE messages
		SET status = 'delivered', updated_at = now()
		WHERE id = @message_id AND status = 'sent'
	`, pgx.StrictNamedArgs{
		"message_id": messageID,
	})
	if err != nil {
		return fmt.Errorf("sql mark message delivered: %w", err)
	}

	return nil
}

// DeleteMessage soft-deletes the sender's own message. When the recipient had
// not read it yet, their unread counter is decremented so the inbox badge
// stays truthful. Deleting twice is a no-op.
func (c *Cockroach) DeleteMessage(ctx context.Context, in types.DeleteMessage) (types.Message, string, error) {
	var msg types.Message
	var otherUserID string

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+sqlMessageCols+`
			FROM messages
			WHERE messages.id = @message_id
			FOR UPDATE
		`, pgx.StrictNamedArgs{
			"message_id": in.MessageID,
		})
		if err != nil {
			return fmt.Errorf("sql select message for update: %w", err)
		}

		msg, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Message])
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFoundError("message not found")
		}

		if err != nil {
			return fmt.Errorf("sql collect message: %w", err)
		}

		if msg.UserID != in.LoggedInUserID() {
			return errs.PermissionDeniedError("cannot delete someone else's message")
		}

		args := pgx.StrictNamedArgs{
			"conversation_id": msg.ConversationID,
			"user_id":         msg.UserID,
		}
		otherUserID, err = pgxutil.SelectRow(ctx, tx, `
			SELECT other_user_id FROM participants
			WHERE conversation_id = @conversation_id
				AND user_id = @user_id
		`, []any{args}, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("sql select other participant: %w", err)
		}

		if msg.Deleted {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE messages
			SET deleted = true, content = '', updated_at = now()
			WHERE id = @message_id
		`, pgx.StrictNamedArgs{
			"message_id": msg.ID,
		})
		if err != nil {
			return fmt.Errorf("sql soft delete message: %w", err)
		}

		if msg.Status != types.MessageStatusRead {
			_, err = tx.Exec(ctx, `
				UPDATE participants
				SET unread_count = GREATEST(unread_count - 1, 0), updated_at = now()
				WHERE conversation_id = @conversation_id
					AND user_id = @other_user_id
			`, pgx.StrictNamedArgs{
				"conversation_id": msg.ConversationID,
				"other_user_id":   otherUserID,
			})
			if err != nil {
				return fmt.Errorf("sql unwind unread count: %w", err)
			}
		}

		msg.Deleted = true
		msg.Content = ""
		return nil
	})
	if err != nil {
		return msg, "", err
	}

	return msg, otherUserID, nil
}
