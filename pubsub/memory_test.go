package pubsub

import (
	"bytes"
	"testing"
)

func TestMemory_PubSub(t *testing.T) {
	m := NewMemory()

	var got [][]byte
	unsub, err := m.Sub(UserTopic("alice"), func(data []byte) {
		got = append(got, data)
	})
	if err != nil {
		t.Fatalf("sub: %v", err)
	}

	if err := m.Pub(UserTopic("alice"), []byte("one")); err != nil {
		t.Fatalf("pub: %v", err)
	}
	if err := m.Pub(UserTopic("bob"), []byte("other topic")); err != nil {
		t.Fatalf("pub: %v", err)
	}

	if len(got) != 1 || !bytes.Equal(got[0], []byte("one")) {
		t.Fatalf("got %q, want exactly [one]", got)
	}

	if err := unsub(); err != nil {
		t.Fatalf("unsub: %v", err)
	}

	if err := m.Pub(UserTopic("alice"), []byte("two")); err != nil {
		t.Fatalf("pub after unsub: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("received %d payloads after unsubscribe, want 1", len(got))
	}
}

func TestMemory_MultipleSubscribers(t *testing.T) {
	m := NewMemory()

	var a, b int
	if _, err := m.Sub("t", func([]byte) { a++ }); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Sub("t", func([]byte) { b++ }); err != nil {
		t.Fatal(err)
	}

	if err := m.Pub("t", nil); err != nil {
		t.Fatal(err)
	}

	if a != 1 || b != 1 {
		t.Errorf("subscribers saw %d/%d publishes, want 1/1", a, b)
	}
}
