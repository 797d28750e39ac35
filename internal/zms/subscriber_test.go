package zms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventStream serves the subscription REST endpoints plus a websocket
// event feed that replays the given events to each connection.
type fakeEventStream struct {
	mu       sync.Mutex
	created  []Subscription
	deleted  []string
	apiToken string

	events []Event
	srv    *httptest.Server
}

func newFakeEventStream(t *testing.T, events []Event) *fakeEventStream {
	t.Helper()
	f := &fakeEventStream{events: events}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var sub Subscription
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		f.mu.Lock()
		f.created = append(f.created, sub)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /subscriptions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.apiToken = r.Header.Get("X-Api-Token")
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range f.events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func pendingEvent(t *testing.T, pending MonitorPending) Event {
	t.Helper()
	obj, err := json.Marshal(pending)
	require.NoError(t, err)
	return Event{
		Header: EventHeader{SourceType: EventSourceZMC, Code: EventCodeMonitorPending},
		Object: obj,
	}
}

func TestSubscriberDeliversMatchingPendings(t *testing.T) {
	otherMonitor := pendingEvent(t, MonitorPending{ID: "p-x", MonitorID: "m-other", Status: StatusActive})
	stateEvent := Event{Header: EventHeader{SourceType: EventSourceZMC, Code: EventCodeMonitorState}}
	mine := pendingEvent(t, MonitorPending{ID: "p-1", MonitorID: "m-1", Status: StatusPaused})

	f := newFakeEventStream(t, []Event{otherMonitor, stateEvent, mine})

	commands := make(chan MonitorPending, 4)
	client := NewClient(f.srv.URL, "ws-token")
	sub := NewSubscriber(client, "m-1", "e-1", "u-1", commands, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case pending := <-commands:
		assert.Equal(t, "p-1", pending.ID)
		assert.Equal(t, StatusPaused, pending.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("pending never delivered")
	}

	// Only the matching pending came through.
	select {
	case extra := <-commands:
		t.Fatalf("unexpected extra command: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "ws-token", f.apiToken)
	require.NotEmpty(t, f.created)
	require.Len(t, f.created[0].Filters, 1)
	assert.Equal(t, []string{"e-1"}, f.created[0].Filters[0].ElementIDs)
	assert.Equal(t, []string{"u-1"}, f.created[0].Filters[0].UserIDs)

	// The server-side subscription was cleaned up on exit.
	assert.Equal(t, f.created[0].ID, f.deleted[len(f.deleted)-1])
}

// TestSubscriberResubscribesAfterDrop closes the first websocket connection
// immediately so the subscriber has to back off and resubscribe.
func TestSubscriberResubscribesAfterDrop(t *testing.T) {
	var (
		mu    sync.Mutex
		conns int
	)
	upgrader := websocket.Upgrader{}

	mine := pendingEvent(t, MonitorPending{ID: "p-7", MonitorID: "m-1", Status: StatusActive})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /subscriptions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()

		if first {
			// Simulate a dropped connection before any event arrives.
			conn.Close()
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(mine)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	commands := make(chan MonitorPending, 1)
	client := NewClient(srv.URL, "tok")
	sub := NewSubscriber(client, "m-1", "e-1", "u-1", commands, log.New(io.Discard, "", 0))
	sub.backoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	select {
	case pending := <-commands:
		assert.Equal(t, "p-7", pending.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never recovered from the dropped connection")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, conns, 2, "a fresh subscription must follow the drop")
}
