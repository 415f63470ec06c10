package pubsub

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS adapts a NATS connection to the PubSub interface for multi-node
// deployments.
type NATS struct {
	conn *nats.Conn
}

func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

func (n *NATS) Pub(topic string, data []byte) error {
	if err := n.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Sub(topic string, cb func(data []byte)) (func() error, error) {
	sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
		cb(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	return sub.Unsubscribe, nil
}
