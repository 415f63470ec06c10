package service

import (
	"context"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/types"
)

func (svc *Service) EnsureConversation(ctx context.Context, in types.EnsureConversation) (types.Conversation, error) {
	var out types.Conversation

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	return svc.Cockroach.EnsureConversation(ctx, in)
}

func (svc *Service) Conversations(ctx context.Context, in types.ListConversations) (types.Page[types.Conversation], error) {
	var out types.Page[types.Conversation]

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.PageArgs.Validate(); err != nil {
		return out, err
	}

	return svc.Cockroach.Conversations(ctx, in)
}

// MarkConversationRead resets the reader's unread counter and notifies both
// sides. The reader's other devices get the event too so their badges clear.
// Nothing is published when there was nothing unread, which keeps retried
// requests after a reconnect quiet.
func (svc *Service) MarkConversationRead(ctx context.Context, in types.MarkConversationRead) error {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return err
	}

	receipt, err := svc.Cockroach.MarkConversationRead(ctx, in)
	if err != nil {
		return err
	}

	if !receipt.Changed {
		return nil
	}

	ev := types.Event{
		Type:           types.EventMessagesRead,
		ConversationID: in.ConversationID,
		UserID:         loggedInUser.ID,
	}
	for _, userID := range []string{receipt.OtherUserID, loggedInUser.ID} {
		if err := svc.Hub.Publish(userID, ev); err != nil {
			svc.Logger.Error("publish messages read", "conversation_id", in.ConversationID, "error", err)
		}
	}

	return nil
}

func (svc *Service) ToggleConversationMute(ctx context.Context, in types.ToggleConversationMute) (bool, error) {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return false, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return false, err
	}

	return svc.Cockroach.ToggleConversationMute(ctx, in)
}
