package types

import (
	"time"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
)

type Conversation struct {
	ID        string    `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	LastMessage   *Message     `db:"last_message,omitempty" json:"lastMessage,omitempty"`
	Participation *Participant `db:"participation,omitempty" json:"participation,omitempty"`
}

type Participant struct {
	ConversationID string     `db:"conversation_id" json:"conversationId"`
	UserID         string     `db:"user_id" json:"userId"`
	OtherUserID    string     `db:"other_user_id" json:"otherUserId"`
	UnreadCount    int32      `db:"unread_count" json:"unreadCount"`
	LastReadAt     *time.Time `db:"last_read_at" json:"lastReadAt"`
	Muted          bool       `db:"muted" json:"muted"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`

	OtherUser *User `db:"other_user,omitempty" json:"otherUser,omitempty"`
}

// ReadReceipt is the outcome of marking a conversation read. Changed is
// false when there was nothing unread, so callers can skip the fan-out.
type ReadReceipt struct {
	Changed     bool
	OtherUserID string
	ReadAt      time.Time
}

// EnsureConversation looks up or creates the one-to-one conversation
// between the logged in user and OtherUserID.
type EnsureConversation struct {
	OtherUserID string

	loggedInUserID string
}

func (in *EnsureConversation) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in EnsureConversation) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *EnsureConversation) Validate() error {
	if in.OtherUserID == "" {
		return errs.InvalidArgumentError("other user ID is required")
	}
	if !id.Valid(in.OtherUserID) {
		return errs.InvalidArgumentError("other user ID is invalid")
	}
	if in.OtherUserID == in.loggedInUserID {
		return errs.InvalidArgumentError("cannot start a conversation with yourself")
	}
	return nil
}

type ListConversations struct {
	PageArgs PageArgs

	loggedInUserID string
}

func (in *ListConversations) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in ListConversations) LoggedInUserID() string {
	return in.loggedInUserID
}

type MarkConversationRead struct {
	ConversationID string

	loggedInUserID string
}

func (in *MarkConversationRead) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in MarkConversationRead) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *MarkConversationRead) Validate() error {
	if in.ConversationID == "" {
		return errs.InvalidArgumentError("conversation ID is required")
	}
	if !id.Valid(in.ConversationID) {
		return errs.InvalidArgumentError("conversation ID is invalid")
	}
	return nil
}

type ToggleConversationMute struct {
	ConversationID string

	loggedInUserID string
}

func (in *ToggleConversationMute) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in ToggleConversationMute) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *ToggleConversationMute) Validate() error {
	if in.ConversationID == "" {
		return errs.InvalidArgumentError("conversation ID is required")
	}
	if !id.Valid(in.ConversationID) {
		return errs.InvalidArgumentError("conversation ID is invalid")
	}
	return nil
}
