package realtime

import (
	"sync"
	"testing"
	"time"
)

type transition struct {
	userID string
	online bool
}

type recorder struct {
	mu   sync.Mutex
	got  []transition
	cond chan struct{}
}

func newRecorder() *recorder {
	return &recorder{cond: make(chan struct{}, 100)}
}

func (r *recorder) notify(userID string, online bool) {
	r.mu.Lock()
	r.got = append(r.got, transition{userID, online})
	r.mu.Unlock()
	r.cond <- struct{}{}
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(r.transitions()) >= n {
			return
		}
		select {
		case <-r.cond:
		case <-deadline:
			t.Fatalf("timed out waiting for %d transitions, got %v", n, r.transitions())
		}
	}
}

func TestPresence_SingleTransitionPerUser(t *testing.T) {
	rec := newRecorder()
	p := NewPresence(time.Millisecond, rec.notify)

	p.Connected("alice", "conn-1")
	p.Connected("alice", "conn-2")

	rec.waitFor(t, 1)
	if got := rec.transitions(); len(got) != 1 || got[0] != (transition{"alice", true}) {
		t.Fatalf("got %v, want single online transition", got)
	}

	p.Disconnected("alice", "conn-1")
	time.Sleep(20 * time.Millisecond)

	// still one device connected, no offline transition yet
	if got := rec.transitions(); len(got) != 1 {
		t.Fatalf("got %v, want no offline while a device remains", got)
	}

	p.Disconnected("alice", "conn-2")
	rec.waitFor(t, 2)
	if got := rec.transitions(); got[1] != (transition{"alice", false}) {
		t.Fatalf("got %v, want offline transition last", got)
	}
}

func TestPresence_ReconnectWithinGraceDoesNotFlap(t *testing.T) {
	rec := newRecorder()
	p := NewPresence(200*time.Millisecond, rec.notify)

	p.Connected("alice", "conn-1")
	rec.waitFor(t, 1)

	p.Disconnected("alice", "conn-1")
	p.Connected("alice", "conn-2")

	time.Sleep(300 * time.Millisecond)

	if got := rec.transitions(); len(got) != 1 {
		t.Fatalf("got %v, want the offline to be debounced away", got)
	}
	if !p.Online("alice") {
		t.Error("alice should still be online")
	}
}

func TestPresence_OfflineFiresAfterGrace(t *testing.T) {
	rec := newRecorder()
	p := NewPresence(10*time.Millisecond, rec.notify)

	p.Connected("alice", "conn-1")
	rec.waitFor(t, 1)

	p.Disconnected("alice", "conn-1")
	rec.waitFor(t, 2)

	got := rec.transitions()
	if got[1] != (transition{"alice", false}) {
		t.Fatalf("got %v, want offline after grace", got)
	}
	if p.Online("alice") {
		t.Error("alice should be offline")
	}
}

func TestPresence_ForegroundFollowsConnections(t *testing.T) {
	rec := newRecorder()
	p := NewPresence(time.Millisecond, rec.notify)

	p.Connected("alice", "conn-1")
	p.Connected("alice", "conn-2")

	if p.Foreground("alice") {
		t.Fatal("no connection flagged foreground yet")
	}

	p.SetForeground("alice", "conn-1", true)
	if !p.Foreground("alice") {
		t.Fatal("alice should be foregrounded")
	}

	// the foreground flag dies with its connection
	p.Disconnected("alice", "conn-1")
	if p.Foreground("alice") {
		t.Fatal("foreground should clear when the flagged connection closes")
	}
	if !p.HasConnections("alice") {
		t.Fatal("alice still has a live connection")
	}

	p.SetForeground("alice", "conn-2", true)
	p.SetForeground("alice", "conn-2", false)
	if p.Foreground("alice") {
		t.Fatal("explicit background should clear the flag")
	}
}
