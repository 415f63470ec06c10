package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dyadchat/dyad/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 12
	sendBuffer     = 32
)

var errSlowSession = errors.New("session send buffer full")

// WSSession adapts a websocket connection to the hub. Writes go through a
// buffered channel drained by WritePump so only one goroutine touches the
// connection's write side.
type WSSession struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan types.Event
	once   sync.Once
}

func NewWSSession(conn *websocket.Conn, userID string) *WSSession {
	return &WSSession{
		id:     gonanoid.Must(),
		userID: userID,
		conn:   conn,
		send:   make(chan types.Event, sendBuffer),
	}
}

func (s *WSSession) ID() string     { return s.id }
func (s *WSSession) UserID() string { return s.userID }

// Send enqueues an event without blocking. A session that cannot keep up
// gets the event dropped rather than stalling the fan-out.
func (s *WSSession) Send(ev types.Event) error {
	select {
	case s.send <- ev:
		return nil
	default:
		return errSlowSession
	}
}

// Close stops WritePump, which in turn closes the underlying connection.
func (s *WSSession) Close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// WritePump drains the send channel into the websocket and keeps the
// connection alive with pings. It returns when Close is called or the
// connection breaks.
func (s *WSSession) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop reads client messages until the connection closes, invoking
// handle for each one. It returns nil on a normal close.
func (s *WSSession) ReadLoop(handle func(data []byte)) error {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return err
			}
			return nil
		}

		handle(data)
	}
}
