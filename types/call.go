package types

import (
	"time"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/id"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusDeclined CallStatus = "declined"
	CallStatusMissed   CallStatus = "missed"
	CallStatusEnded    CallStatus = "ended"
	CallStatusFailed   CallStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusDeclined, CallStatusMissed, CallStatusEnded, CallStatusFailed:
		return true
	}
	return false
}

var (
	ErrSelfCall           = errs.InvalidArgumentError("cannot call yourself")
	ErrAlreadyInCall      = errs.ConflictError("you are already in a call")
	ErrReceiverBusy       = errs.ConflictError("receiver is busy")
	ErrNotCallParticipant = errs.PermissionDeniedError("not a participant of this call")
	ErrNotCallee          = errs.PermissionDeniedError("only the receiver can answer a call")
	ErrCallOver           = errs.ConflictError("call is already over")
)

type Call struct {
	ID              string     `db:"id" json:"id"`
	ConversationID  string     `db:"conversation_id" json:"conversationId"`
	CallerID        string     `db:"caller_id" json:"callerId"`
	CalleeID        string     `db:"callee_id" json:"calleeId"`
	Type            CallType   `db:"type" json:"type"`
	Status          CallStatus `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	StartedAt       *time.Time `db:"started_at" json:"startedAt"`
	EndedAt         *time.Time `db:"ended_at" json:"endedAt"`
	DurationSeconds int64      `db:"duration_seconds" json:"durationSeconds"`
}

func (c Call) HasParticipant(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// OtherParticipant returns the counterpart of userID in the call.
func (c Call) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case c.CallerID:
		return c.CalleeID, true
	case c.CalleeID:
		return c.CallerID, true
	}
	return "", false
}

// CanAccept guards the ringing -> active transition. A repeated accept by the
// callee of an already active call is reported as a no-op so that clients
// resending after a reconnect do not see an error.
func (c Call) CanAccept(userID string) (noop bool, err error) {
	if !c.HasParticipant(userID) {
		return false, ErrNotCallParticipant
	}
	if userID != c.CalleeID {
		return false, ErrNotCallee
	}
	if c.Status == CallStatusActive {
		return true, nil
	}
	if c.Status != CallStatusRinging {
		return false, ErrCallOver
	}
	return false, nil
}

// CanDecline guards the ringing -> declined transition.
func (c Call) CanDecline(userID string) error {
	if !c.HasParticipant(userID) {
		return ErrNotCallParticipant
	}
	if userID != c.CalleeID {
		return ErrNotCallee
	}
	if c.Status != CallStatusRinging {
		return ErrCallOver
	}
	return nil
}

// CanHangup guards the ringing|active -> ended transition, valid for either party.
func (c Call) CanHangup(userID string) error {
	if !c.HasParticipant(userID) {
		return ErrNotCallParticipant
	}
	if c.Status.Terminal() {
		return ErrCallOver
	}
	return nil
}

type InitiateCall struct {
	ReceiverID string
	Type       CallType

	loggedInUserID string
}

func (in *InitiateCall) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in InitiateCall) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *InitiateCall) Validate() error {
	if in.ReceiverID == "" {
		return errs.InvalidArgumentError("receiver ID is required")
	}
	if !id.Valid(in.ReceiverID) {
		return errs.InvalidArgumentError("receiver ID is invalid")
	}
	if !in.Type.Valid() {
		return errs.InvalidArgumentError("call type must be audio or video")
	}
	if in.ReceiverID == in.loggedInUserID {
		return ErrSelfCall
	}
	return nil
}

// CallAction identifies the call an accept, decline or hangup applies to.
type CallAction struct {
	CallID string

	loggedInUserID string
}

func (in *CallAction) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in CallAction) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *CallAction) Validate() error {
	if in.CallID == "" {
		return errs.InvalidArgumentError("call ID is required")
	}
	if !id.Valid(in.CallID) {
		return errs.InvalidArgumentError("call ID is invalid")
	}
	return nil
}
