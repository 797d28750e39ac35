// Package survey contains the sweep supervisor: the loop that turns a sweep
// configuration into a stream of captures, counts cycles, and survives being
// paused, cancelled, and reconfigured by the fleet controller.
package survey

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/pipeline"
	"github.com/cuswiftpass/rf-survey/internal/receiver"
	"github.com/cuswiftpass/rf-survey/internal/sched"
	"github.com/cuswiftpass/rf-survey/internal/telemetry"
	"github.com/cuswiftpass/rf-survey/internal/watchdog"
)

// ErrComplete is returned from Run when the configured number of cycles has
// finished. It signals a deliberate end of the survey, not a failure.
var ErrComplete = errors.New("survey: all cycles complete")

// Supervisor gates sweeps on the running state, launches each sweep as a
// cancellable child, and counts completed cycles. It owns the active sweep
// handle: reconfiguration preempts a sweep solely by cancelling it, so the
// supervisor never needs to know why a sweep stopped early.
type Supervisor struct {
	log     *log.Logger
	recv    *receiver.Receiver
	pipe    *pipeline.Pipeline
	dog     *watchdog.Watchdog
	metrics telemetry.Recorder
	hub     *telemetry.Hub
	rng     *rand.Rand

	running *gate

	mu          sync.Mutex
	sweepCfg    config.SweepConfig
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	cyclesRun   int
}

// New creates a supervisor in the paused state. Call Start (directly, or via
// the reconfiguration protocol) to open the gate. hub may be nil.
func New(sweepCfg config.SweepConfig, recv *receiver.Receiver, pipe *pipeline.Pipeline,
	dog *watchdog.Watchdog, metrics telemetry.Recorder, hub *telemetry.Hub, logger *log.Logger) *Supervisor {
	return &Supervisor{
		log:      logger,
		recv:     recv,
		pipe:     pipe,
		dog:      dog,
		metrics:  metrics,
		hub:      hub,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		running:  newGate(),
		sweepCfg: sweepCfg,
	}
}

// Run is the supervisor loop. It returns ErrComplete when the configured
// cycle count finishes, the context error on shutdown, and any other error
// as critical.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		cfg := s.SweepConfig()
		if cfg.Cycles > 0 && s.CyclesRun() >= cfg.Cycles {
			s.log.Printf("survey: completed all %d cycles, finishing", cfg.Cycles)
			return ErrComplete
		}

		// Block here while paused; no spinning.
		if err := s.running.Wait(ctx); err != nil {
			return err
		}

		sweepCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		s.mu.Lock()
		s.sweepCancel = cancel
		s.sweepDone = done
		s.mu.Unlock()

		// Reconfiguration clears the gate before it looks for a sweep to
		// cancel. Re-checking after registering the cancel handle means a
		// concurrent reconfigure either sees this handle or we see its
		// pause; a sweep can never slip through with stale snapshots.
		if !s.running.IsSet() {
			close(done)
			cancel()
			s.mu.Lock()
			s.sweepCancel = nil
			s.sweepDone = nil
			s.mu.Unlock()
			continue
		}

		// Snapshot both configs for the lifetime of this sweep. The live
		// values may be swapped by reconfiguration at any point after the
		// sweep is cancelled.
		sweepCfg := s.SweepConfig()
		rxCfg := s.recv.Config()

		err := s.runSweep(sweepCtx, sweepCfg, rxCfg)
		close(done)
		cancel()

		s.mu.Lock()
		s.sweepCancel = nil
		s.sweepDone = nil
		s.mu.Unlock()

		switch {
		case err == nil:
			s.mu.Lock()
			s.cyclesRun++
			n := s.cyclesRun
			s.mu.Unlock()
			s.metrics.CycleCompleted()
			s.log.Printf("survey: sweep cycle %d complete", n)
			if s.hub != nil {
				s.hub.BroadcastJSON(telemetry.CycleEvent{
					Event:     telemetry.Event{Type: telemetry.EventCycle, TS: telemetry.NowTS()},
					CyclesRun: n,
				})
			}

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				// Shutdown cancel: propagate.
				return ctx.Err()
			}
			// Reconfigure-induced cancel: loop. The next iteration blocks on
			// the running gate if the reconfiguration paused the agent.
			s.log.Printf("survey: sweep interrupted for reconfiguration")

		default:
			s.log.Printf("survey: CRITICAL sweep failed: %v", err)
			return fmt.Errorf("sweep failed: %w", err)
		}
	}
}

// runSweep visits every center frequency from start to end in step
// increments, capturing records-per-step files at each. Transient capture
// failures skip the remainder of the current frequency step and a full queue
// drops that one capture; only cancellation aborts the sweep.
func (s *Supervisor) runSweep(ctx context.Context, sweepCfg config.SweepConfig, rxCfg config.ReceiverConfig) error {
	s.log.Printf("survey: sweep %d..%d Hz step %d, %d records/step (%.3fs captures at gain %d)",
		sweepCfg.StartHz, sweepCfg.EndHz, sweepCfg.StepHz, sweepCfg.RecordsPerStep,
		rxCfg.DurationSec, rxCfg.GainDB)

	// Steps() rounds up, so a span that is not a step multiple still gets a
	// final visit covering the tail of the band.
	for i := 0; i < sweepCfg.Steps(); i++ {
		center := sweepCfg.StartHz + int64(i)*sweepCfg.StepHz
		if err := s.captureStep(ctx, center, sweepCfg); err != nil {
			return err
		}
	}
	return nil
}

// captureStep collects all records for one center frequency.
func (s *Supervisor) captureStep(ctx context.Context, centerHz int64, sweepCfg config.SweepConfig) error {
	for i := 0; i < sweepCfg.RecordsPerStep; i++ {
		wait := sched.TotalWait(sweepCfg.IntervalSec, sweepCfg.MaxJitterSec, time.Now(), s.rng)
		if err := sleepOrCancel(ctx, wait); err != nil {
			return err
		}

		start := time.Now()
		result, err := s.recv.ReceiveSamples(ctx, centerHz)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient hardware failure: skip the rest of this frequency
			// step and carry on with the sweep.
			s.log.Printf("survey: capture at %d Hz failed, skipping step: %v", centerHz, err)
			s.metrics.CaptureFailed()
			return nil
		}
		s.log.Printf("survey: frequency step %d Hz processed in %.3fs", centerHz, time.Since(start).Seconds())

		s.dog.Pet()

		job := pipeline.Job{
			Raw:            result.Raw,
			ReceiverConfig: result.Config,
			SweepConfig:    sweepCfg,
			Serial:         s.recv.Serial(),
		}
		if err := s.pipe.Put(ctx, job); err != nil {
			if errors.Is(err, pipeline.ErrQueueFull) {
				s.log.Printf("survey: queue full, dropping capture at %d Hz", centerHz)
				continue
			}
			return err
		}
		s.metrics.CaptureOK()
	}
	return nil
}

// Start opens the running gate and resumes the watchdog.
func (s *Supervisor) Start() {
	s.log.Printf("survey: starting")
	s.dog.Resume()
	s.running.Set()
	s.emitState("PAUSED", "RUNNING")
}

// Pause closes the running gate and pauses the watchdog. An in-flight sweep
// is unaffected; callers that need it stopped cancel it explicitly.
func (s *Supervisor) Pause() {
	s.log.Printf("survey: pausing")
	s.running.Clear()
	s.dog.Pause()
	s.emitState("RUNNING", "PAUSED")
}

// Running reports whether the gate is open.
func (s *Supervisor) Running() bool { return s.running.IsSet() }

// CyclesRun returns the number of completed sweep cycles.
func (s *Supervisor) CyclesRun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cyclesRun
}

// SweepConfig returns a copy of the live sweep configuration.
func (s *Supervisor) SweepConfig() config.SweepConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepCfg
}

// cancelActiveSweep cancels the in-flight sweep, if any, and waits up to
// settle for it to finish.
func (s *Supervisor) cancelActiveSweep(settle time.Duration) {
	s.mu.Lock()
	cancel := s.sweepCancel
	done := s.sweepDone
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if done != nil {
		select {
		case <-done:
		case <-time.After(settle):
			s.log.Printf("survey: sweep did not settle within %s after cancel", settle)
		}
	}
}

func (s *Supervisor) emitState(from, to string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastState(telemetry.StateTransition{
		Event: telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:  from,
		To:    to,
	})
}

// sleepOrCancel blocks for duration d or until the context is cancelled.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
