package events

import (
	"testing"
	"time"
)

func TestBroadcastReachesOwnAgentOnly(t *testing.T) {
	t.Parallel()

	h := NewHub(10)

	chA, cancelA := h.Subscribe("agent-a")
	defer cancelA()
	chB, cancelB := h.Subscribe("agent-b")
	defer cancelB()

	h.Broadcast("agent-a", "webhook.received", map[string]any{"source": "stripe"})

	select {
	case ev := <-chA:
		if ev.Type != "webhook.received" {
			t.Fatalf("Type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("agent-a subscriber never received the event")
	}

	select {
	case ev := <-chB:
		t.Fatalf("agent-b must not see agent-a events, got %+v", ev)
	default:
	}
}

func TestSnapshotSinceReplaysRing(t *testing.T) {
	t.Parallel()

	h := NewHub(10)

	h.Broadcast("agent-a", "webhook.received", nil)
	h.Broadcast("agent-a", "webhook.received", nil)
	h.Broadcast("agent-a", "webhook.received", nil)

	all := h.SnapshotSince("agent-a", 0)
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}

	tail := h.SnapshotSince("agent-a", all[1].ID)
	if len(tail) != 1 || tail[0].ID != all[2].ID {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	if got := h.SnapshotSince("agent-unknown", 0); len(got) != 0 {
		t.Fatalf("unknown agent snapshot should be empty, got %+v", got)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(2)

	h.Broadcast("agent-a", "e1", nil)
	h.Broadcast("agent-a", "e2", nil)
	h.Broadcast("agent-a", "e3", nil)

	snap := h.SnapshotSince("agent-a", 0)
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[0].Type != "e2" || snap[1].Type != "e3" {
		t.Fatalf("unexpected ring contents: %s, %s", snap[0].Type, snap[1].Type)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(10)

	_, cancel := h.Subscribe("agent-a")
	defer cancel()

	// Fill the subscriber channel well past its buffer; Broadcast must not
	// block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Broadcast("agent-a", "webhook.received", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}
