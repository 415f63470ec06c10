package types

import (
	"time"
	"unicode/utf8"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// rank orders statuses so transitions can only move forward.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether flipping to next would keep the
// sent -> delivered -> read progression monotonic. A message may jump
// straight from sent to read.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

type Message struct {
	ID             string        `db:"id" json:"id"`
	ConversationID string        `db:"conversation_id" json:"conversationId"`
	UserID         string        `db:"user_id" json:"userId"`
	Content        string        `db:"content" json:"content"`
	Status         MessageStatus `db:"status" json:"status"`
	ReplyToID      *string       `db:"reply_to_id" json:"replyToId,omitempty"`
	Deleted        bool          `db:"deleted" json:"deleted"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`

	Attachments  []Attachment         `db:"attachments" json:"attachments,omitempty"`
	User         *User                `db:"user,omitempty" json:"user,omitempty"`
	Relationship *MessageRelationship `db:"relationship,omitempty" json:"relationship,omitempty"`
}

// Attachment references media kept by an external storage collaborator. Only
// metadata lives here; the bytes never pass through this server.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	MessageID   string    `db:"message_id" json:"messageId"`
	ContentType string    `db:"content_type" json:"contentType"`
	URL         string    `db:"url" json:"url"`
	Name        string    `db:"name" json:"name"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type AttachmentInput struct {
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"sizeBytes"`
}

func (in AttachmentInput) Validate() error {
	if in.URL == "" {
		return errs.InvalidArgumentError("attachment URL is required")
	}
	if utf8.RuneCountInString(in.URL) > 2048 {
		return errs.InvalidArgumentError("attachment URL too long")
	}
	if in.ContentType == "" {
		return errs.InvalidArgumentError("attachment content type is required")
	}
	if in.SizeBytes < 0 {
		return errs.InvalidArgumentError("attachment size is invalid")
	}
	return nil
}

type MessageRelationship struct {
	IsMine bool `json:"isMine"`
}

type SendMessage struct {
	ConversationID string
	Content        string
	ReplyToID      *string
	Attachments    []AttachmentInput
	// IdempotencyKey is generated client side and echoed back unchanged on the
	// pushed event so optimistic placeholders can be matched without comparing
	// content.
	IdempotencyKey string

	loggedInUserID string
}

func (in *SendMessage) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in SendMessage) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *SendMessage) Validate() error {
	if in.ConversationID == "" {
		return errs.InvalidArgumentError("conversation ID is required")
	}
	if !id.Valid(in.ConversationID) {
		return errs.InvalidArgumentError("conversation ID is invalid")
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return errs.InvalidArgumentError("content is required")
	}
	if utf8.RuneCountInString(in.Content) > 2000 {
		return errs.InvalidArgumentError("content must be at most 2000 characters")
	}
	if in.ReplyToID != nil && !id.Valid(*in.ReplyToID) {
		return errs.InvalidArgumentError("reply-to ID is invalid")
	}
	if len(in.Attachments) > 10 {
		return errs.InvalidArgumentError("too many attachments")
	}
	for _, att := range in.Attachments {
		if err := att.Validate(); err != nil {
			return err
		}
	}
	if utf8.RuneCountInString(in.IdempotencyKey) > 64 {
		return errs.InvalidArgumentError("idempotency key too long")
	}
	return nil
}

type ListMessages struct {
	ConversationID string
	PageArgs       PageArgs

	loggedInUserID string
}

func (in *ListMessages) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in ListMessages) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *ListMessages) Validate() error {
	if in.ConversationID == "" {
		return errs.InvalidArgumentError("conversation ID is required")
	}
	if !id.Valid(in.ConversationID) {
		return errs.InvalidArgumentError("conversation ID is invalid")
	}
	return nil
}

type DeleteMessage struct {
	MessageID string

	loggedInUserID string
}

func (in *DeleteMessage) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in DeleteMessage) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *DeleteMessage) Validate() error {
	if in.MessageID == "" {
		return errs.InvalidArgumentError("message ID is required")
	}
	if !id.Valid(in.MessageID) {
		return errs.InvalidArgumentError("message ID is invalid")
	}
	return nil
}

type TypingInput struct {
	ConversationID string
	Stopped        bool

	loggedInUserID string
}

func (in *TypingInput) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in TypingInput) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *TypingInput) Validate() error {
	if in.ConversationID == "" {
		return errs.InvalidArgumentError("conversation ID is required")
	}
	if !id.Valid(in.ConversationID) {
		return errs.InvalidArgumentError("conversation ID is invalid")
	}
	return nil
}
