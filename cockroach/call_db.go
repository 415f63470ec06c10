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

const sqlCallCols = "id, conversation_id, caller_id, callee_id, type, status, created_at, started_at, ended_at, duration_seconds"

// CreateCall starts ringing the receiver. It locks every non-terminal call
// involving either party first, so concurrent dials cannot produce two live
// calls for the same user: the caller being busy wins over the receiver.
func (c *Cockroach) CreateCall(ctx context.Context, in types.InitiateCall) (types.Call, error) {
	var out types.Call

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		args := pgx.StrictNamedArgs{
			"callee_id": in.ReceiverID,
		}
		exists, err := pgxutil.SelectRow(ctx, tx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE id = @callee_id)
		`, []any{args}, pgx.RowTo[bool])
		if err != nil {
			return fmt.Errorf("sql select callee existence: %w", err)
		}

		if !exists {
			return errs.NotFoundError("user not found")
		}

		conversationID, err := ensureConversationTx(ctx, tx, in.LoggedInUserID(), in.ReceiverID)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT `+sqlCallCols+` FROM calls
			WHERE status IN ('ringing', 'active')
				AND (caller_id IN (@caller_id, @callee_id) OR callee_id IN (@caller_id, @callee_id))
			FOR UPDATE
		`, pgx.StrictNamedArgs{
			"caller_id": in.LoggedInUserID(),
			"callee_id": in.ReceiverID,
		})
		if err != nil {
			return fmt.Errorf("sql select live calls for update: %w", err)
		}

		live, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Call])
		if err != nil {
			return fmt.Errorf("sql collect live calls: %w", err)
		}

		for _, call := range live {
			if call.HasParticipant(in.LoggedInUserID()) {
				return types.ErrAlreadyInCall
			}
		}
		if len(live) != 0 {
			return types.ErrReceiverBusy
		}

		rows, err = tx.Query(ctx, `
			INSERT INTO calls (id, conversation_id, caller_id, callee_id, type)
			VALUES (@call_id, @conversation_id, @caller_id, @callee_id, @type)
			RETURNING `+sqlCallCols, pgx.StrictNamedArgs{
			"call_id":         id.Generate(),
			"conversation_id": conversationID,
			"caller_id":       in.LoggedInUserID(),
			"callee_id":       in.ReceiverID,
			"type":            in.Type,
		})
		if err != nil {
			return fmt.Errorf("sql insert call: %w", err)
		}

		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Call])
		if err != nil {
			return fmt.Errorf("sql collect inserted call: %w", err)
		}

		return nil
	})
	if err != nil {
		return out, err
	}

	return out, nil
}

// ensureConversationTx is the lookup-or-create used when a call arrives
// before any message has been exchanged.
func ensureConversationTx(ctx context.Context, tx pgx.Tx, userID, otherUserID string) (string, error) {
	key := pairKey(userID, otherUserID)

	_, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, pair_key)
		VALUES (@conversation_id, @pair_key)
		ON CONFLICT (pair_key) DO NOTHING
	`, pgx.StrictNamedArgs{
		"conversation_id": id.Generate(),
		"pair_key":        key,
	})
	if err != nil {
		return "", fmt.Errorf("sql insert conversation: %w", err)
	}

	args := pgx.StrictNamedArgs{
		"pair_key": key,
	}
	conversationID, err := pgxutil.SelectRow(ctx, tx, `
		SELECT id FROM conversations WHERE pair_key = @pair_key
	`, []any{args}, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("sql select conversation by pair key: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO participants (conversation_id, user_id, other_user_id)
		VALUES
			(@conversation_id, @user_id, @other_user_id),
			(@conversation_id, @other_user_id, @user_id)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, pgx.StrictNamedArgs{
		"conversation_id": conversationID,
		"user_id":         userID,
		"other_user_id":   otherUserID,
	})
	if err != nil {
		return "", fmt.Errorf("sql insert participants: %w", err)
	}

	return conversationID, nil
}

func (c *Cockroach) Call(ctx context.Context, callID string) (types.Call, error) {
	var out types.Call

	const query = `SELECT ` + sqlCallCols + ` FROM calls WHERE id = @call_id`
	args := pgx.StrictNamedArgs{
		"call_id": callID,
	}
	out, err := pgxutil.SelectRow(ctx, c.db, query, []any{args}, pgx.RowToStructByNameLax[types.Call])
	if errors.Is(err, pgx.ErrNoRows) {
		return out, errs.NotFoundError("call not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql select call: %w", err)
	}

	return out, nil
}

func callForUpdateTx(ctx context.Context, tx pgx.Tx, callID string) (types.Call, error) {
	var out types.Call

	rows, err := tx.Query(ctx, `
		SELECT `+sqlCallCols+` FROM calls WHERE id = @call_id FOR UPDATE
	`, pgx.StrictNamedArgs{
		"call_id": callID,
	})
	if err != nil {
		return out, fmt.Errorf("sql select call for update: %w", err)
	}

	out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Call])
	if errors.Is(err, pgx.ErrNoRows) {
		return out, errs.NotFoundError("call not found")
	}

	if err != nil {
		return out, fmt.Errorf("sql collect call: %w", err)
	}

	return out, nil
}

// AcceptCall moves a ringing call to active. The returned noop flag is true
// when the callee re-accepts an already active call, which happens when a
// client resends the accept after reconnecting.
func (c *Cockroach) AcceptCall(ctx context.Context, in types.CallAction) (out types.Call, noop bool, err error) {
	err = crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		call, err := callForUpdateTx(ctx, tx, in.CallID)
		if err != nil {
			return err
		}

		noop, err = call.CanAccept(in.LoggedInUserID())
		if err != nil {
			return err
		}

		if noop {
			out = call
			return nil
		}

		args := pgx.StrictNamedArgs{
			"call_id": call.ID,
			"user_id": in.LoggedInUserID(),
		}
		busy, err := pgxutil.SelectRow(ctx, tx, `
			SELECT EXISTS (
				SELECT 1 FROM calls
				WHERE status = 'active'
					AND id <> @call_id
					AND (caller_id = @user_id OR callee_id = @user_id)
			)
		`, []any{args}, pgx.RowTo[bool])
		if err != nil {
			return fmt.Errorf("sql select acceptor busy: %w", err)
		}

		if busy {
			return types.ErrAlreadyInCall
		}

		rows, err := tx.Query(ctx, `
			UPDATE calls
			SET status = 'active', started_at = now()
			WHERE id = @call_id
			RETURNING `+sqlCallCols, pgx.StrictNamedArgs{
			"call_id": call.ID,
		})
		if err != nil {
			return fmt.Errorf("sql accept call: %w", err)
		}

		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Call])
		if err != nil {
			return fmt.Errorf("sql collect accepted call: %w", err)
		}

		return nil
	})
	return out, noop, err
}

func (c *Cockroach) DeclineCall(ctx context.Context, in types.CallAction) (types.Call, error) {
	var out types.Call

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		call, err := callForUpdateTx(ctx, tx, in.CallID)
		if err != nil {
			return err
		}

		if err := call.CanDecline(in.LoggedInUserID()); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			UPDATE calls
			SET status = 'declined', ended_at = now()
			WHERE id = @call_id
			RETURNING `+sqlCallCols, pgx.StrictNamedArgs{
			"call_id": call.ID,
		})
		if err != nil {
			return fmt.Errorf("sql decline call: %w", err)
		}

		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Call])
		if err != nil {
			return fmt.Errorf("sql collect declined call: %w", err)
		}

		return nil
	})
	if err != nil {
		return out, err
	}

	return out, nil
}

// EndCall hangs up. Either party can hang up a ringing or active call; the
// talk duration is only non-zero once the call had been accepted.
func (c *Cockroach) EndCall(ctx context.Context, in types.CallAction) (types.Call, error) {
	var out types.Call

	err := crdbpgx.ExecuteTx(ctx, c.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		call, err := callForUpdateTx(ctx, tx, in.CallID)
		if err != nil {
			return err
		}

		if err := call.CanHangup(in.LoggedInUserID()); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			UPDATE calls
			SET status = 'ended', ended_at = now(),
				duration_seconds = COALESCE(EXTRACT(EPOCH FROM now() - started_at)::INT, 0)
			WHERE id = @call_id
			RETURNING `+sqlCallCols, pgx.StrictNamedArgs{
			"call_id": call.ID,
		})
		if err != nil {
			return fmt.Errorf("sql end call: %w", err)
		}

		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[types.Call])
		if err != nil {
			return fmt.Errorf("sql collect ended call: %w", err)
		}

		return nil
	})
	if err != nil {
		return out, err
	}

	return out, nil
}

// SweepMissedCalls expires calls that kept ringing past the timeout and
// returns them so the parties can be notified.
func (c *Cockroach) SweepMissedCalls(ctx context.Context, ringTimeout time.Duration) ([]types.Call, error) {
	rows, err := c.db.Query(ctx, `
		UPDATE calls
		SET status = 'missed', ended_at = now()
		WHERE status = 'ringing'
			AND created_at < now() - @ring_timeout::INTERVAL
		RETURNING `+sqlCallCols, pgx.StrictNamedArgs{
		"ring_timeout": ringTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sql sweep missed calls: %w", err)
	}

	missed, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.Call])
	if err != nil {
		return nil, fmt.Errorf("sql collect missed calls: %w", err)
	}

	return missed, nil
}
