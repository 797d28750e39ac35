package zms

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// reconnectBackoff is how long the subscriber waits after losing the
// websocket before creating a fresh subscription.
const reconnectBackoff = 10 * time.Second

// Subscriber maintains the websocket event subscription. Each connection
// registers a fresh server-side subscription filtered to this agent's
// element and user; on disconnect it backs off and resubscribes. Pending
// reconfigurations for this monitor are forwarded to the command channel.
type Subscriber struct {
	log       *log.Logger
	client    *Client
	monitorID string
	elementID string
	userID    string
	commands  chan<- MonitorPending
	backoff   time.Duration
}

// NewSubscriber creates a subscriber that feeds pendings into commands.
func NewSubscriber(client *Client, monitorID, elementID, userID string,
	commands chan<- MonitorPending, logger *log.Logger) *Subscriber {
	return &Subscriber{
		log:       logger,
		client:    client,
		monitorID: monitorID,
		elementID: elementID,
		userID:    userID,
		commands:  commands,
		backoff:   reconnectBackoff,
	}
}

// Run listens until ctx is cancelled, resubscribing after each connection
// loss. A websocket outage never propagates as an error; the survey keeps
// running on its last applied configuration.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := s.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Printf("zms: event stream lost: %v; resubscribing in %s", err, s.backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

// listenOnce creates one subscription, dials its event stream, and consumes
// events until the connection drops or ctx is cancelled. The server-side
// subscription is deleted on the way out.
func (s *Subscriber) listenOnce(ctx context.Context) error {
	sub := Subscription{
		ID: uuid.NewString(),
		Filters: []EventFilter{{
			ElementIDs: []string{s.elementID},
			UserIDs:    []string{s.userID},
		}},
	}
	if err := s.client.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	defer func() {
		// The subscription outlives the socket server-side; clean it up with
		// a short grace period even when ctx is already cancelled.
		delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.DeleteSubscription(delCtx, sub.ID); err != nil {
			s.log.Printf("zms: delete subscription %s: %v", sub.ID, err)
		}
	}()

	wsURL, err := s.client.EventsURL(sub.ID)
	if err != nil {
		return err
	}

	header := http.Header{"X-Api-Token": []string{s.client.Token()}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Printf("zms: subscribed to event stream (subscription %s)", sub.ID)

	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Printf("zms: undecodable event: %v", err)
			continue
		}
		if err := s.handle(ctx, ev); err != nil {
			return err
		}
	}
}

// handle filters one event down to pendings for this monitor and forwards
// them.
func (s *Subscriber) handle(ctx context.Context, ev Event) error {
	if ev.Header.SourceType != EventSourceZMC {
		s.log.Printf("zms: unexpected event source type %d", ev.Header.SourceType)
		return nil
	}
	if ev.Header.Code != EventCodeMonitorPending {
		return nil
	}

	var pending MonitorPending
	if err := json.Unmarshal(ev.Object, &pending); err != nil {
		s.log.Printf("zms: pending event with malformed object: %v", err)
		return nil
	}
	if pending.MonitorID != s.monitorID {
		// An event for somebody else's monitor.
		return nil
	}
	if pending.ID == "" {
		s.log.Printf("zms: pending event missing id, ignoring")
		return nil
	}

	s.log.Printf("zms: queueing reconfiguration for pending %s", pending.ID)
	select {
	case s.commands <- pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
