package types

// EventType names the events pushed to clients over their open connections.
type EventType string

const (
	EventReceiveMessage      EventType = "receive_message"
	EventMessageDeleted      EventType = "message_deleted"
	EventMessagesRead        EventType = "messages_read"
	EventUserOnline          EventType = "user_online"
	EventUserOffline         EventType = "user_offline"
	EventUserTyping          EventType = "user_typing"
	EventUserStoppedTyping   EventType = "user_stopped_typing"
	EventIncomingCall        EventType = "incoming_call"
	EventCallAccepted        EventType = "call_accepted"
	EventCallDeclined        EventType = "call_declined"
	EventCallEnded           EventType = "call_ended"
	EventReceiveOffer        EventType = "receive_offer"
	EventReceiveAnswer       EventType = "receive_answer"
	EventReceiveICECandidate EventType = "receive_ice_candidate"
	EventError               EventType = "error"
)

// Event is the envelope pushed over a client connection. It carries enough
// data to render without a follow-up fetch; unused fields are omitted on the
// wire.
type Event struct {
	Type EventType `json:"type"`

	Message *Message `json:"message,omitempty"`
	Call    *Call    `json:"call,omitempty"`
	Signal  *Signal  `json:"signal,omitempty"`

	// UserID is the acting user for presence, typing and read events.
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`

	// IdempotencyKey is echoed back on receive_message so the sending client
	// can replace its optimistic placeholder.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Text carries the message of error events.
	Text string `json:"text,omitempty"`
}
