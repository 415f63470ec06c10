package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nicolasparada/go-errs"
	"github.com/nicolasparada/go-errs/httperrs"
	"github.com/pion/webrtc/v3"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/realtime"
	"github.com/dyadchat/dyad/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// auth is token based, not cookie based, so cross-origin
		// upgrades carry no ambient credentials
		return true
	},
}

// wsCommand is the envelope clients send over the socket. Command picks the
// operation; the remaining fields are per-command.
type wsCommand struct {
	Command string `json:"command"`

	ConversationID string                  `json:"conversationId,omitempty"`
	Content        string                  `json:"content,omitempty"`
	ReplyToID      *string                 `json:"replyToId,omitempty"`
	Attachments    []types.AttachmentInput `json:"attachments,omitempty"`
	IdempotencyKey string                  `json:"idempotencyKey,omitempty"`

	ReceiverID string         `json:"receiverId,omitempty"`
	CallType   types.CallType `json:"callType,omitempty"`
	CallID     string         `json:"callId,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	Foreground bool `json:"foreground,omitempty"`
}

func (h *Handler) ws(w http.ResponseWriter, r *http.Request) {
	user, loggedIn := auth.UserFromContext(r.Context())
	if !loggedIn {
		h.respondErr(w, errs.Unauthenticated)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("websocket upgrade", "error", err)
		return
	}

	sess := realtime.NewWSSession(conn, user.ID)

	if err := h.Service.ConnectSession(r.Context(), sess, r.UserAgent()); err != nil {
		h.Logger.Error("connect session", "user_id", user.ID, "error", err)
		conn.Close()
		return
	}

	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Inc()
	}

	go sess.WritePump()

	defer func() {
		h.Service.DisconnectSession(sess)
		sess.Close()
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
		}
	}()

	ctx := auth.ContextWithUser(context.WithoutCancel(r.Context()), user)
	if err := sess.ReadLoop(func(data []byte) {
		h.dispatch(ctx, sess, user, data)
	}); err != nil {
		h.Logger.Warn("websocket closed abnormally", "user_id", user.ID, "error", err)
	}
}

// dispatch runs one client command. Failures become error events on the same
// socket; only user-caused ones leak their message.
func (h *Handler) dispatch(ctx context.Context, sess *realtime.WSSession, user types.User, data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendError(sess, cmd.Command, errBadRequest)
		return
	}

	var err error
	switch cmd.Command {
	case "send_message":
		_, err = h.Service.SendMessage(ctx, types.SendMessage{
			ConversationID: cmd.ConversationID,
			Content:        cmd.Content,
			ReplyToID:      cmd.ReplyToID,
			Attachments:    cmd.Attachments,
			IdempotencyKey: cmd.IdempotencyKey,
		})

	case "typing", "stop_typing":
		err = h.Service.Typing(ctx, types.TypingInput{
			ConversationID: cmd.ConversationID,
			Stopped:        cmd.Command == "stop_typing",
		})

	case "mark_read":
		err = h.Service.MarkConversationRead(ctx, types.MarkConversationRead{
			ConversationID: cmd.ConversationID,
		})

	case "foreground":
		h.Service.SetForeground(user.ID, sess.ID(), cmd.Foreground)

	case "initiate_call":
		_, err = h.Service.InitiateCall(ctx, types.InitiateCall{
			ReceiverID: cmd.ReceiverID,
			Type:       cmd.CallType,
		})

	case "accept_call":
		_, err = h.Service.AcceptCall(ctx, types.CallAction{CallID: cmd.CallID})

	case "decline_call":
		_, err = h.Service.DeclineCall(ctx, types.CallAction{CallID: cmd.CallID})

	case "hangup":
		_, err = h.Service.EndCall(ctx, types.CallAction{CallID: cmd.CallID})

	case "offer", "answer", "ice_candidate":
		err = h.Service.RelaySignal(ctx, types.RelaySignal{
			CallID:    cmd.CallID,
			Kind:      types.SignalKind(cmd.Command),
			SDP:       cmd.SDP,
			Candidate: cmd.Candidate,
		})

	default:
		err = errs.InvalidArgumentError("unknown command")
	}

	if h.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.Metrics.Commands.WithLabelValues(cmd.Command, status).Inc()
	}

	if err != nil {
		h.sendError(sess, cmd.Command, err)
	}
}

func (h *Handler) sendError(sess *realtime.WSSession, command string, err error) {
	text := "internal error"
	if httperrs.Code(err) < http.StatusInternalServerError {
		text = err.Error()
	} else {
		h.Logger.Error("websocket command", "command", command, "error", err)
	}

	if sendErr := sess.Send(types.Event{Type: types.EventError, Text: text}); sendErr != nil {
		h.Logger.Warn("drop error event", "error", sendErr)
	}
}
