package survey

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/pipeline"
	"github.com/cuswiftpass/rf-survey/internal/producer"
	"github.com/cuswiftpass/rf-survey/internal/receiver"
	"github.com/cuswiftpass/rf-survey/internal/telemetry"
	"github.com/cuswiftpass/rf-survey/internal/watchdog"
)

type fakePublisher struct {
	mu   sync.Mutex
	recs []producer.MetadataRecord
}

func (f *fakePublisher) Publish(rec producer.MetadataRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakePublisher) records() []producer.MetadataRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]producer.MetadataRecord(nil), f.recs...)
}

// waitForRecord polls until a record matching pred is published or the
// deadline passes.
func (f *fakePublisher) waitForRecord(t *testing.T, d time.Duration, pred func(producer.MetadataRecord) bool) producer.MetadataRecord {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, rec := range f.records() {
			if pred(rec) {
				return rec
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected record not published in time")
	return producer.MetadataRecord{}
}

type harness struct {
	sup  *Supervisor
	pipe *pipeline.Pipeline
	recv *receiver.Receiver
	pub  *fakePublisher
}

// newHarness assembles a supervisor over the simulated SDR with a real
// pipeline and a captured publisher. Captures run at 2 Msps for 1 ms each,
// so a full record (wait + capture) takes a few tens of milliseconds.
func newHarness(t *testing.T, sweepCfg config.SweepConfig) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	rxCfg := config.ReceiverConfig{BandwidthHz: 2_000_000, GainDB: 40, DurationSec: 0.001}
	recv := receiver.New(rxCfg, config.SDRSection{Driver: "sim", Antenna: "RX2"}, logger)
	require.NoError(t, recv.Initialize())
	t.Cleanup(func() { recv.Close() })

	identity := config.Identity{
		Hostname:   "test-host",
		OutputPath: t.TempDir(),
		Group:      "g",
	}

	pub := &fakePublisher{}
	pipe := pipeline.New(identity, pub, telemetry.Nop{}, nil, logger)
	dog := watchdog.New(0, logger) // disabled

	sup := New(sweepCfg, recv, pipe, dog, telemetry.Nop{}, nil, logger)
	return &harness{sup: sup, pipe: pipe, recv: recv, pub: pub}
}

func TestSingleFrequencySweep(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         20_000_000,
		Cycles:         1,
		RecordsPerStep: 3,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.sup.Start()
	err := h.sup.Run(ctx)
	assert.ErrorIs(t, err, ErrComplete)
	assert.Equal(t, 1, h.sup.CyclesRun())

	// Drain the pipeline and check exactly three records, all at 915 MHz.
	drainCtx, drainCancel := context.WithCancel(context.Background())
	drainCancel()
	_ = h.pipe.Run(drainCtx)

	recs := h.pub.records()
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, int64(915_000_000), rec.FrequencyHz)
	}
}

func TestSweepVisitsAllStepsInOrder(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        100_000_000,
		EndHz:          140_000_000,
		StepHz:         20_000_000,
		Cycles:         1,
		RecordsPerStep: 1,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.sup.Start()
	require.ErrorIs(t, h.sup.Run(ctx), ErrComplete)

	drainCtx, drainCancel := context.WithCancel(context.Background())
	drainCancel()
	_ = h.pipe.Run(drainCtx)

	recs := h.pub.records()
	require.Len(t, recs, 3)
	want := []int64{100_000_000, 120_000_000, 140_000_000}
	for i, rec := range recs {
		assert.Equal(t, want[i], rec.FrequencyHz, "frequencies must ascend in capture order")
	}
}

func TestSupervisorBlocksWhilePaused(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         20_000_000,
		Cycles:         1,
		RecordsPerStep: 1,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	// Never started: the gate stays closed and no capture happens.
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, h.pipe.Len())
	select {
	case err := <-done:
		t.Fatalf("supervisor returned while paused: %v", err)
	default:
	}

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestShutdownCancelPropagates(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         20_000_000,
		Cycles:         0, // unbounded
		RecordsPerStep: 1,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	h.sup.Start()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on shutdown cancel")
	}
}

func TestReconfigureMidSweep(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         2_000_000,
		Cycles:         0,
		RecordsPerStep: 1000, // effectively endless records at 915 MHz
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supDone := make(chan error, 1)
	go func() { supDone <- h.sup.Run(ctx) }()
	pipeDone := make(chan error, 1)
	go func() { pipeDone <- h.pipe.Run(ctx) }()

	h.sup.Start()

	// Let at least one capture land at the old frequency.
	h.pub.waitForRecord(t, 5*time.Second, func(rec producer.MetadataRecord) bool {
		return rec.FrequencyHz == 915_000_000
	})

	err := h.sup.Reconfigure(ctx, Target{
		Paused: false,
		RawParams: map[string]any{
			"gain_db":         float64(30),
			"duration_sec":    0.01,
			"bandwidth_hz":    float64(2_000_000),
			"start_freq_hz":   float64(920_000_000),
			"end_freq_hz":     float64(920_000_000),
			"sample_interval": float64(1),
		},
	})
	require.NoError(t, err)

	// The swap is visible immediately.
	got := h.sup.SweepConfig()
	assert.Equal(t, int64(920_000_000), got.StartHz)
	assert.Equal(t, int64(920_000_000), got.EndHz)
	assert.Equal(t, 30, h.recv.Config().GainDB)
	// Fields the controller does not own carry over.
	assert.Equal(t, 1000, got.RecordsPerStep)

	// The next sweep captures at the new frequency with the new gain
	// snapshotted into its metadata.
	rec := h.pub.waitForRecord(t, 10*time.Second, func(rec producer.MetadataRecord) bool {
		return rec.FrequencyHz == 920_000_000
	})
	assert.Equal(t, 30, rec.GainDB)

	cancel()
	<-supDone
	<-pipeDone
}

func TestReconfigureInvalidParamsLeavesSurveyPaused(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         2_000_000,
		Cycles:         0,
		RecordsPerStep: 1000,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()
	h.sup.Start()
	time.Sleep(100 * time.Millisecond)

	before := h.sup.SweepConfig()
	beforeRx := h.recv.Config()

	err := h.sup.Reconfigure(ctx, Target{
		Paused: false,
		RawParams: map[string]any{
			"gain_db":         float64(200), // out of range
			"duration_sec":    0.01,
			"bandwidth_hz":    float64(2_000_000),
			"start_freq_hz":   float64(920_000_000),
			"end_freq_hz":     float64(920_000_000),
			"sample_interval": float64(1),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gain_db")

	// Pause and cancel ran before validation: the survey stays paused and
	// nothing was swapped.
	assert.False(t, h.sup.Running())
	assert.Equal(t, before, h.sup.SweepConfig())
	assert.Equal(t, beforeRx, h.recv.Config())

	// Paused means no further captures.
	time.Sleep(100 * time.Millisecond)
	depth := h.pipe.Len()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, depth, h.pipe.Len())

	cancel()
	err = <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReconfigureToPausedStopsSweep(t *testing.T) {
	h := newHarness(t, config.SweepConfig{
		StartHz:        915_000_000,
		EndHz:          915_000_000,
		StepHz:         2_000_000,
		Cycles:         0,
		RecordsPerStep: 1000,
		IntervalSec:    0.05,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()
	h.sup.Start()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.sup.Reconfigure(ctx, Target{Paused: true}))
	assert.False(t, h.sup.Running())

	// Paused: the queue stops growing once in-flight work settles.
	time.Sleep(100 * time.Millisecond)
	depth := h.pipe.Len()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, depth, h.pipe.Len(), "no captures may happen while paused")

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}
