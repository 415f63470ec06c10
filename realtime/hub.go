package realtime

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dyadchat/dyad/metrics"
	"github.com/dyadchat/dyad/pubsub"
	"github.com/dyadchat/dyad/types"
)

// Session is one live client channel, usually a websocket. A user may hold
// several at once across devices and tabs.
type Session interface {
	ID() string
	UserID() string
	Send(types.Event) error
	Close()
}

// Hub routes events to the local sessions of each user. Cross-process
// delivery goes through the pub/sub layer: the hub keeps one subscription
// per user with at least one local session, so every process holding a
// session for that user receives the event and fans it out locally.
type Hub struct {
	pubsub  pubsub.PubSub
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]Session
	byUser   map[string]map[string]Session
	unsubs   map[string]func() error
}

// NewHub builds a hub on the given bus. metrics may be nil.
func NewHub(ps pubsub.PubSub, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		pubsub:   ps,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]Session),
		unsubs:   make(map[string]func() error),
	}
}

// Register adds a session and, for the user's first one, opens the pub/sub
// subscription that feeds it.
func (h *Hub) Register(sess Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := sess.UserID()

	h.sessions[sess.ID()] = sess
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]Session)
	}
	h.byUser[userID][sess.ID()] = sess

	if _, subscribed := h.unsubs[userID]; subscribed {
		return nil
	}

	unsub, err := h.pubsub.Sub(pubsub.UserTopic(userID), func(data []byte) {
		ev, err := decodeEvent(data)
		if err != nil {
			h.logger.Error("decode event", "user_id", userID, "error", err)
			return
		}
		h.fan(userID, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe user topic: %w", err)
	}

	h.unsubs[userID] = unsub
	return nil
}

// Unregister removes a session and tears down the user's subscription when
// it was the last one.
func (h *Hub) Unregister(sess Session) {
	h.mu.Lock()

	userID := sess.UserID()

	delete(h.sessions, sess.ID())
	delete(h.byUser[userID], sess.ID())

	var unsub func() error
	if len(h.byUser[userID]) == 0 {
		delete(h.byUser, userID)
		unsub = h.unsubs[userID]
		delete(h.unsubs, userID)
	}

	h.mu.Unlock()

	if unsub != nil {
		if err := unsub(); err != nil {
			h.logger.Error("unsubscribe user topic", "user_id", userID, "error", err)
		}
	}
}

// Publish delivers an event to every session of a user, local or not.
func (h *Hub) Publish(userID string, ev types.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	if err := h.pubsub.Pub(pubsub.UserTopic(userID), data); err != nil {
		return fmt.Errorf("publish user event: %w", err)
	}

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}

	return nil
}

// SessionCount reports the number of local sessions a user holds.
func (h *Hub) SessionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser[userID])
}

func (h *Hub) fan(userID string, ev types.Event) {
	h.mu.Lock()
	sessions := make([]Session, 0, len(h.byUser[userID]))
	for _, sess := range h.byUser[userID] {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Send(ev); err != nil {
			h.logger.Warn("drop event for slow session", "user_id", userID, "session_id", sess.ID(), "error", err)
		}
	}
}

func encodeEvent(ev types.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ev); err != nil {
		return nil, fmt.Errorf("gob encode event: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEvent(data []byte) (types.Event, error) {
	var ev types.Event
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
		return ev, fmt.Errorf("gob decode event: %w", err)
	}
	return ev, nil
}
