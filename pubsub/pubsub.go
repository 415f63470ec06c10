// Package pubsub is the fan-out bus events travel through between the core
// operations and the open client connections. Topics are per-user so that one
// publish reaches every device of that user, on whichever node it is
// connected to.
package pubsub

// PubSub publishes and subscribes raw payloads on named topics.
type PubSub interface {
	Pub(topic string, data []byte) error
	Sub(topic string, cb func(data []byte)) (unsub func() error, err error)
}

// UserTopic is the topic a user's connections listen on.
func UserTopic(userID string) string { return "user." + userID }
