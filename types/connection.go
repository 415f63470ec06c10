package types

import "time"

// Connection is the durable record of one open client channel. A user may
// hold many at once (several devices or tabs); rows are marked inactive on
// close rather than deleted so that a server restart can sweep stale state.
type Connection struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"userId"`
	UserAgent      string     `db:"user_agent" json:"userAgent"`
	Active         bool       `db:"active" json:"active"`
	ConnectedAt    time.Time  `db:"connected_at" json:"connectedAt"`
	DisconnectedAt *time.Time `db:"disconnected_at" json:"disconnectedAt"`
}
