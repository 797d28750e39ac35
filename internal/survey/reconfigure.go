package survey

import (
	"context"
	"fmt"
	"time"
)

// settleWait bounds how long reconfiguration waits for a cancelled sweep to
// wind down before proceeding.
const settleWait = 1 * time.Second

// Target describes the desired post-reconfiguration state. RawParams is the
// unvalidated parameter map from the fleet controller; nil means a
// status-only change.
type Target struct {
	Paused    bool
	RawParams map[string]any
}

// Reconfigure drives the validated config swap:
//
//  1. Pause the survey and the watchdog.
//  2. Cancel any in-flight sweep and wait briefly for it to settle.
//  3. Validate the raw parameters against the schema.
//  4. Build the new receiver and sweep configs from them.
//  5. Reconfigure the hardware if the receiver config changed.
//  6. Swap in the new sweep config.
//  7. Resume unless the target is paused.
//
// Pause and cancel happen unconditionally before validation, so any failure
// from step 3 on — invalid parameters or a hardware fault — propagates with
// the survey left paused and no config swapped. After a normal return every
// subsequently launched sweep sees exactly the new snapshots.
func (s *Supervisor) Reconfigure(ctx context.Context, target Target) error {
	s.log.Printf("survey: reconfiguration requested (paused=%v, params=%v)",
		target.Paused, target.RawParams != nil)

	s.Pause()
	s.cancelActiveSweep(settleWait)

	if target.RawParams != nil {
		p, err := ValidateParams(target.RawParams)
		if err != nil {
			s.log.Printf("survey: reconfiguration rejected: %v", err)
			return fmt.Errorf("validate parameters: %w", err)
		}

		newRx := s.recv.Config()
		newRx.GainDB = p.GainDB
		newRx.DurationSec = p.DurationSec
		newRx.BandwidthHz = p.BandwidthHz

		newSweep := s.SweepConfig()
		newSweep.StartHz = p.StartFreqHz
		newSweep.EndHz = p.EndFreqHz
		newSweep.StepHz = p.BandwidthHz
		newSweep.IntervalSec = float64(p.SampleIntervalSec)

		if newRx != s.recv.Config() {
			if err := s.recv.Reconfigure(ctx, newRx); err != nil {
				return fmt.Errorf("hardware reconfigure: %w", err)
			}
		}
		s.metrics.ObserveReceiverConfig(newRx)

		s.mu.Lock()
		s.sweepCfg = newSweep
		s.mu.Unlock()
		s.metrics.ObserveSweepConfig(newSweep)
	}

	if !target.Paused {
		s.Start()
	}
	return nil
}
