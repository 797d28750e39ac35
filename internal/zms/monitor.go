package zms

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// heartbeatRetry is the deadline pushed out after a failed heartbeat so the
// state loop does not spin on a dead controller.
const heartbeatRetry = 10 * time.Second

// ApplyFunc applies a reconfiguration target to the survey. params is the
// raw parameter map from the controller (nil for status-only changes);
// validation is part of the reconfiguration protocol itself, which pauses
// the survey before it judges the parameters. Implemented by the app layer
// on top of the survey supervisor.
type ApplyFunc func(ctx context.Context, paused bool, params map[string]any) error

// Runner reconciles local state with the controller's intent: it applies the
// target configuration at startup, consumes pending reconfigurations from
// the subscriber, and heartbeats on the server-dictated deadline. All mirror
// state is owned by the state loop goroutine; nothing here needs a lock.
type Runner struct {
	log       *log.Logger
	client    *Client
	monitorID string
	apply     ApplyFunc

	commands chan MonitorPending
	sub      *Subscriber

	opStatus OpStatus
	params   map[string]any
	ackBy    *time.Time

	// Staged acknowledgement, carried on at most one successful heartbeat.
	ackID      string
	ackOutcome int
	ackMessage string
}

// NewRunner wires a monitor runner and its event subscriber.
func NewRunner(client *Client, monitorID, elementID, userID string, apply ApplyFunc, logger *log.Logger) *Runner {
	commands := make(chan MonitorPending, 16)
	return &Runner{
		log:       logger,
		client:    client,
		monitorID: monitorID,
		apply:     apply,
		commands:  commands,
		sub:       NewSubscriber(client, monitorID, elementID, userID, commands, logger),
		opStatus:  StatusActive,
	}
}

// Run initializes from the remote monitor record, then runs the event
// listener and the state loop until ctx is cancelled. Initialization
// failures are fatal: an agent that cannot learn its intent must not survey
// with a stale one.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.initialize(ctx); err != nil {
		return fmt.Errorf("zms: initialize: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.sub.Run(ctx) })
	g.Go(func() error { return r.stateLoop(ctx) })
	return g.Wait()
}

// initialize fetches the monitor, picks the target configuration (an
// unacknowledged pending wins over the acknowledged state), applies it, and
// sends the first heartbeat.
func (r *Runner) initialize(ctx context.Context) error {
	r.log.Printf("zms: fetching initial state for monitor %s", r.monitorID)

	m, err := r.client.GetMonitor(ctx, r.monitorID)
	if err != nil {
		return err
	}

	targetStatus := m.State.Status
	targetParams := m.State.Parameters
	pendingID := ""

	if m.Pending != nil && m.Pending.ID != m.State.LastPendingID {
		r.log.Printf("zms: unacknowledged pending %s found, using it as the initial target", m.Pending.ID)
		targetStatus = m.Pending.Status
		targetParams = m.Pending.Parameters
		pendingID = m.Pending.ID
	}

	paused := targetStatus == StatusPaused

	if err := r.apply(ctx, paused, targetParams); err != nil {
		if pendingID == "" {
			// The acknowledged state itself cannot be applied; an agent that
			// cannot realize its last known-good intent must not survey.
			return fmt.Errorf("apply initial configuration: %w", err)
		}
		// A bad pending is rejected, not fatal: fall back to a status-only
		// apply and report the failure. The protocol left the survey paused.
		r.log.Printf("zms: initial pending %s rejected: %v", pendingID, err)
		r.stageAck(pendingID, OutcomeFailure, fmt.Sprintf("failed to apply configuration: %v", err))
		pendingID = ""
		targetParams = nil
		if err := r.apply(ctx, paused, nil); err != nil {
			return fmt.Errorf("apply initial configuration: %w", err)
		}
	}

	r.opStatus = StatusActive
	if paused {
		r.opStatus = StatusPaused
	}
	if targetParams != nil {
		r.params = targetParams
	}
	if pendingID != "" {
		r.stageAck(pendingID, OutcomeSuccess, "configuration applied successfully")
	}

	r.log.Printf("zms: sending initial heartbeat with op_status %s", r.opStatus)
	r.heartbeat(ctx)
	return nil
}

// stateLoop waits for whichever comes first: a pending command or the
// heartbeat deadline.
func (r *Runner) stateLoop(ctx context.Context) error {
	for {
		var deadline <-chan time.Time
		var timer *time.Timer
		if r.ackBy != nil {
			d := time.Until(*r.ackBy)
			if d < 0 {
				r.log.Printf("zms: heartbeat deadline already passed, sending immediately")
				d = 0
			}
			timer = time.NewTimer(d)
			deadline = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case pending := <-r.commands:
			if timer != nil {
				timer.Stop()
			}
			r.processPending(ctx, pending)

		case <-deadline:
			r.heartbeat(ctx)
		}
	}
}

// processPending applies one pending reconfiguration, stages its
// acknowledgement, and heartbeats. Validation is the protocol's own third
// step, after it has paused the survey and cancelled any in-flight sweep.
func (r *Runner) processPending(ctx context.Context, pending MonitorPending) {
	r.log.Printf("zms: processing pending %s (target status %s)", pending.ID, pending.Status)

	paused := pending.Status == StatusPaused

	if err := r.apply(ctx, paused, pending.Parameters); err != nil {
		// Whether the parameters were invalid or the hardware swap failed,
		// the reconfiguration protocol leaves the survey paused; report that
		// truthfully.
		r.log.Printf("zms: failed to apply pending %s: %v", pending.ID, err)
		r.opStatus = StatusPaused
		r.stageAck(pending.ID, OutcomeFailure, fmt.Sprintf("failed to apply configuration: %v", err))
		r.heartbeat(ctx)
		return
	}

	r.opStatus = StatusActive
	if paused {
		r.opStatus = StatusPaused
	}
	if pending.Parameters != nil {
		r.params = pending.Parameters
	}
	r.stageAck(pending.ID, OutcomeSuccess, "configuration applied successfully")
	r.heartbeat(ctx)
}

// heartbeat PUTs the current op status, parameters, and any staged ack. The
// response's status_ack_by replaces the deadline; the staged ack clears only
// on success so a given pending id is acknowledged at most once.
func (r *Runner) heartbeat(ctx context.Context) {
	body := UpdateOpStatus{
		OpStatus:   r.opStatus,
		Parameters: r.params,
	}
	if r.ackID != "" {
		outcome := r.ackOutcome
		body.LastPendingID = r.ackID
		body.LastPendingOutcome = &outcome
		body.LastPendingMessage = r.ackMessage
	}

	state, err := r.client.UpdateMonitorStateOpStatus(ctx, r.monitorID, body)
	if err != nil {
		retry := time.Now().Add(heartbeatRetry)
		r.ackBy = &retry
		r.log.Printf("zms: heartbeat failed, retrying after %s: %v", heartbeatRetry, err)
		return
	}

	if state.StatusAckBy != nil {
		r.ackBy = state.StatusAckBy
		r.log.Printf("zms: next heartbeat due by %s", state.StatusAckBy.Format(time.RFC3339))
	} else {
		r.ackBy = nil
		r.log.Printf("zms: no next heartbeat required")
	}

	r.clearAck()
}

func (r *Runner) stageAck(id string, outcome int, message string) {
	r.ackID = id
	r.ackOutcome = outcome
	r.ackMessage = message
}

func (r *Runner) clearAck() {
	r.ackID = ""
	r.ackOutcome = 0
	r.ackMessage = ""
}

// NullRunner is the do-nothing monitor used when the agent runs standalone.
// It satisfies the same Run contract and simply waits for shutdown.
type NullRunner struct{}

// Run blocks until ctx is cancelled.
func (NullRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
