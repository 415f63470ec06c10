package service

import (
	"context"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/ptr"
	"github.com/dyadchat/dyad/types"
)

// SendMessage persists the message first and only then fans it out, so an
// event is never seen for a message that cannot be fetched later. The sender
// gets the event too: that is how their other devices stay in sync, and the
// echoed idempotency key is how the sending device reconciles its optimistic
// placeholder after a reconnect.
func (svc *Service) SendMessage(ctx context.Context, in types.SendMessage) (types.Message, error) {
	var out types.Message

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	msg, recipient, err := svc.Cockroach.AppendMessage(ctx, in)
	if err != nil {
		return out, err
	}

	connections, err := svc.Cockroach.ActiveConnectionCount(ctx, recipient.UserID)
	if err != nil {
		svc.Logger.Error("count recipient connections", "message_id", msg.ID, "error", err)
	}

	if connections > 0 && msg.Status.CanTransitionTo(types.MessageStatusDelivered) {
		if err := svc.Cockroach.MarkMessageDelivered(ctx, msg.ID); err != nil {
			svc.Logger.Error("mark message delivered", "message_id", msg.ID, "error", err)
		} else {
			msg.Status = types.MessageStatusDelivered
		}
	}

	msg.User = ptr.From(loggedInUser)

	ev := types.Event{
		Type:           types.EventReceiveMessage,
		Message:        ptr.From(msg),
		IdempotencyKey: in.IdempotencyKey,
	}
	for _, userID := range []string{recipient.UserID, loggedInUser.ID} {
		if err := svc.Hub.Publish(userID, ev); err != nil {
			svc.Logger.Error("publish message", "message_id", msg.ID, "error", err)
		}
	}

	if connections == 0 && !recipient.Muted {
		svc.background(func(ctx context.Context) error {
			return svc.pushMessage(ctx, recipient.UserID, loggedInUser.Username, msg)
		})
	}

	return msg, nil
}

// Messages lists a conversation page. When the reader has a foregrounded
// connection the conversation is marked read as a side effect, mirroring what
// an open chat screen does.
func (svc *Service) Messages(ctx context.Context, in types.ListMessages) (types.Page[types.Message], error) {
	var out types.Page[types.Message]

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	if err := in.PageArgs.Validate(); err != nil {
		return out, err
	}

	if _, err := svc.Cockroach.Participant(ctx, in.ConversationID, loggedInUser.ID); err != nil {
		return out, err
	}

	out, err := svc.Cockroach.Messages(ctx, in)
	if err != nil {
		return out, err
	}

	if svc.Presence.Foreground(loggedInUser.ID) {
		read := types.MarkConversationRead{ConversationID: in.ConversationID}
		svc.background(func(ctx context.Context) error {
			return svc.MarkConversationRead(auth.ContextWithUser(ctx, loggedInUser), read)
		})
	}

	return out, nil
}

// DeleteMessage soft-deletes the sender's own message and tells both parties
// so open chat screens can blank it out.
func (svc *Service) DeleteMessage(ctx context.Context, in types.DeleteMessage) error {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return err
	}

	msg, otherUserID, err := svc.Cockroach.DeleteMessage(ctx, in)
	if err != nil {
		return err
	}

	ev := types.Event{
		Type:           types.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         loggedInUser.ID,
	}
	for _, userID := range []string{otherUserID, loggedInUser.ID} {
		if err := svc.Hub.Publish(userID, ev); err != nil {
			svc.Logger.Error("publish message deleted", "message_id", msg.ID, "error", err)
		}
	}

	return nil
}

// Typing relays a typing indicator to the other participant. It is fire and
// forget: nothing is stored and no event goes back to the typist.
func (svc *Service) Typing(ctx context.Context, in types.TypingInput) error {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return err
	}

	participant, err := svc.Cockroach.Participant(ctx, in.ConversationID, loggedInUser.ID)
	if err != nil {
		return err
	}

	typ := types.EventUserTyping
	if in.Stopped {
		typ = types.EventUserStoppedTyping
	}

	return svc.Hub.Publish(participant.OtherUserID, types.Event{
		Type:           typ,
		ConversationID: in.ConversationID,
		UserID:         loggedInUser.ID,
	})
}
