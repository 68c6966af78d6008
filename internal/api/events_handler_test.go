package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEventStreamReplaysBufferedEvents(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	env.createAgent(t, "milo.nook")

	ag, err := env.agents.ResolveAddress(context.Background(), "milo.nook")
	if err != nil {
		t.Fatalf("resolve agent: %v", err)
	}

	// Broadcast before connecting; the subscriber must see it via the
	// ring-buffer replay.
	env.hub.Broadcast(ag.ID, "webhook.received", map[string]any{"source": "stripe"})

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/agents/milo.nook/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+eventsKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var sawID, sawType, sawData bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			sawID = true
		case line == "event: webhook.received":
			sawType = true
		case strings.HasPrefix(line, "data: ") && strings.Contains(line, "stripe"):
			sawData = true
		}
		if sawID && sawType && sawData {
			cancel()
			break
		}
	}
	if !sawID || !sawType || !sawData {
		t.Fatalf("incomplete SSE frame: id=%v type=%v data=%v", sawID, sawType, sawData)
	}
}

func TestEventStreamIsTenantScoped(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	env.createAgent(t, "milo.nook")
	env.createAgent(t, "tess.nook")

	milo, err := env.agents.ResolveAddress(context.Background(), "milo.nook")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tess, err := env.agents.ResolveAddress(context.Background(), "tess.nook")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	env.hub.Broadcast(milo.ID, "webhook.received", map[string]any{"source": "stripe"})
	env.hub.Broadcast(tess.ID, "webhook.received", map[string]any{"source": "github"})

	// Tess's replay buffer contains only her own event.
	snapshot := env.hub.SnapshotSince(tess.ID, 0)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %d events, want 1", len(snapshot))
	}
	if !strings.Contains(string(snapshot[0].Data), "github") {
		t.Fatalf("unexpected event data: %s", snapshot[0].Data)
	}
}

func TestEventStreamRequiresEventsScope(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	env.createAgent(t, "milo.nook")

	rec := env.do(t, http.MethodGet, "/agents/milo.nook/events", readOnlyKey, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
