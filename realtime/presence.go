package realtime

import (
	"sync"
	"time"
)

// NotifyFunc is called on actual presence transitions, outside the tracker's
// lock. online is the new state.
type NotifyFunc func(userID string, online bool)

type userState struct {
	conns        map[string]struct{}
	foreground   map[string]struct{}
	offlineTimer *time.Timer
}

// Presence tracks which users hold at least one live connection. Going
// offline is debounced by a grace period so a page refresh or a brief
// network blip does not flap the user's status.
type Presence struct {
	grace  time.Duration
	notify NotifyFunc

	mu    sync.Mutex
	users map[string]*userState
}

func NewPresence(grace time.Duration, notify NotifyFunc) *Presence {
	return &Presence{
		grace:  grace,
		notify: notify,
		users:  make(map[string]*userState),
	}
}

// Connected records a new connection. It reports the user online only on the
// offline to online transition; reconnecting within the grace period simply
// cancels the pending offline.
func (p *Presence) Connected(userID, connectionID string) {
	p.mu.Lock()

	st := p.users[userID]
	cameOnline := st == nil
	if st == nil {
		st = &userState{
			conns:      make(map[string]struct{}),
			foreground: make(map[string]struct{}),
		}
		p.users[userID] = st
	}
	st.conns[connectionID] = struct{}{}

	if st.offlineTimer != nil {
		st.offlineTimer.Stop()
		st.offlineTimer = nil
	}

	p.mu.Unlock()

	if cameOnline {
		p.notify(userID, true)
	}
}

// Disconnected records a closed connection. When it was the user's last one,
// the offline notification fires after the grace period unless they
// reconnect first.
func (p *Presence) Disconnected(userID, connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.users[userID]
	if st == nil {
		return
	}

	delete(st.conns, connectionID)
	delete(st.foreground, connectionID)

	if len(st.conns) != 0 {
		return
	}

	if st.offlineTimer != nil {
		st.offlineTimer.Stop()
	}
	st.offlineTimer = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		st := p.users[userID]
		wentOffline := st != nil && len(st.conns) == 0
		if wentOffline {
			delete(p.users, userID)
		}
		p.mu.Unlock()

		if wentOffline {
			p.notify(userID, false)
		}
	})
}

// SetForeground flags whether a connection's app is in the foreground.
// Auto-read on delivery only applies to foregrounded users.
func (p *Presence) SetForeground(userID, connectionID string, foreground bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.users[userID]
	if st == nil {
		return
	}

	if foreground {
		st.foreground[connectionID] = struct{}{}
	} else {
		delete(st.foreground, connectionID)
	}
}

// Online reports whether the user currently counts as online. A user inside
// the offline grace period still does.
func (p *Presence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.users[userID] != nil
}

// Foreground reports whether any of the user's connections is foregrounded.
func (p *Presence) Foreground(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.users[userID]
	return st != nil && len(st.foreground) > 0
}

// HasConnections reports whether the user holds at least one open
// connection, ignoring the grace period.
func (p *Presence) HasConnections(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.users[userID]
	return st != nil && len(st.conns) > 0
}
