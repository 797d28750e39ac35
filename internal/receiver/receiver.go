// Package receiver is the typed facade over the SDR. It owns the hardware:
// initialization, reconfiguration, and sample capture all serialize on an
// internal lock, so exactly one operation touches the device at a time.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/sdr"
)

const (
	// loLockWait bounds how long a capture waits for the LO to settle on a
	// new frequency before streaming anyway.
	loLockWait = 1 * time.Second

	// recvTimeoutMargin is added to the capture duration to bound the
	// blocking receive.
	recvTimeoutMargin = 2 * time.Second
)

// ErrCaptureTruncated indicates the device returned fewer samples than the
// stream command requested.
var ErrCaptureTruncated = errors.New("receiver: capture truncated")

// RawCapture holds the direct, unprocessed output of a single hardware
// capture: sc16 bytes, the exact center frequency, and the UTC timestamp
// taken at the receive call.
type RawCapture struct {
	IQData       []byte
	CenterFreqHz int64
	Timestamp    time.Time
}

// CaptureResult pairs a raw capture with the receiver configuration that
// produced it, copied under the hardware lock so later reconfigurations
// cannot alter it.
type CaptureResult struct {
	Raw    RawCapture
	Config config.ReceiverConfig
}

// Receiver drives one SDR receive channel.
type Receiver struct {
	log *log.Logger

	driver  string
	args    string
	antenna string

	mu     sync.Mutex // hardware lock
	dev    sdr.Device
	cfg    config.ReceiverConfig
	serial string
}

// New creates an uninitialized receiver. Call Initialize before use.
func New(cfg config.ReceiverConfig, sdrCfg config.SDRSection, logger *log.Logger) *Receiver {
	return &Receiver{
		log:     logger,
		driver:  sdrCfg.Driver,
		args:    sdrCfg.DeviceArgs,
		antenna: sdrCfg.Antenna,
		cfg:     cfg,
	}
}

// Initialize acquires the SDR and configures it for the current receiver
// config. It records the hardware serial and selects the external reference
// clock when one is locked, otherwise syncing the device to host time.
func (r *Receiver) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initLocked()
}

func (r *Receiver) initLocked() error {
	dev, err := sdr.Open(r.driver, r.args)
	if err != nil {
		return fmt.Errorf("%w: %v", sdr.ErrHardwareUnavailable, err)
	}

	if err := dev.SetSampleRate(r.cfg.BandwidthHz); err != nil {
		_ = dev.Close()
		return fmt.Errorf("set sample rate: %w", err)
	}
	if err := dev.SetGain(r.cfg.GainDB); err != nil {
		_ = dev.Close()
		return fmt.Errorf("set gain: %w", err)
	}
	if err := dev.SetAntenna(r.antenna); err != nil {
		_ = dev.Close()
		return fmt.Errorf("set antenna: %w", err)
	}

	if locked, err := dev.Sensor(sdr.SensorRefLocked); err == nil && locked {
		r.log.Printf("receiver: external reference locked, using external clock")
		if err := dev.SetClockSource("external"); err != nil {
			_ = dev.Close()
			return fmt.Errorf("set clock source: %w", err)
		}
	} else {
		r.log.Printf("receiver: no external reference, syncing device to host time")
		if err := dev.SetTime(time.Now().UTC()); err != nil {
			_ = dev.Close()
			return fmt.Errorf("set device time: %w", err)
		}
	}

	r.dev = dev
	r.serial = dev.Serial()
	r.log.Printf("receiver: initialized %s device serial=%s rate=%d gain=%d",
		r.driver, r.serial, r.cfg.BandwidthHz, r.cfg.GainDB)
	return nil
}

// Reconfigure tears the hardware down and re-initializes it with the new
// parameters. It blocks until the swap completes; all failures propagate.
func (r *Receiver) Reconfigure(ctx context.Context, newCfg config.ReceiverConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Printf("receiver: reconfiguring rate=%d gain=%d duration=%.3fs",
		newCfg.BandwidthHz, newCfg.GainDB, newCfg.DurationSec)

	if r.dev != nil {
		_ = r.dev.Close()
		r.dev = nil
	}
	r.cfg = newCfg
	return r.initLocked()
}

// ReceiveSamples tunes to centerFreqHz and captures one record. The UTC
// timestamp is taken at the blocking receive. Returns ErrCaptureTruncated
// when fewer samples than requested arrive; other device failures propagate
// wrapped.
func (r *Receiver) ReceiveSamples(ctx context.Context, centerFreqHz int64) (CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return CaptureResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == nil {
		return CaptureResult{}, sdr.ErrHardwareUnavailable
	}

	cfgAtCapture := r.cfg

	if err := r.dev.Tune(centerFreqHz); err != nil {
		return CaptureResult{}, fmt.Errorf("tune %d Hz: %w", centerFreqHz, err)
	}
	r.waitForLOLock()

	numSamples := cfgAtCapture.NumSamples()
	buf := make([]byte, numSamples*sdr.BytesPerSample)
	timeout := time.Duration(cfgAtCapture.DurationSec*float64(time.Second)) + recvTimeoutMargin

	timestamp := time.Now().UTC()
	start := time.Now()
	got, err := r.dev.ReceiveFinite(buf, numSamples, timeout)
	r.log.Printf("receiver: recv returned after %.3fs", time.Since(start).Seconds())

	if err != nil {
		return CaptureResult{}, fmt.Errorf("recv at %d Hz: %w", centerFreqHz, err)
	}
	if got < numSamples {
		return CaptureResult{}, fmt.Errorf("%w: expected %d samples, received %d",
			ErrCaptureTruncated, numSamples, got)
	}

	return CaptureResult{
		Raw: RawCapture{
			IQData:       buf,
			CenterFreqHz: centerFreqHz,
			Timestamp:    timestamp,
		},
		Config: cfgAtCapture,
	}, nil
}

// waitForLOLock polls the lo_locked sensor for up to loLockWait. Streaming
// proceeds either way; an unlocked LO is logged, not fatal.
func (r *Receiver) waitForLOLock() {
	start := time.Now()
	for {
		locked, err := r.dev.Sensor(sdr.SensorLOLocked)
		if err != nil || locked {
			break
		}
		if time.Since(start) > loLockWait {
			r.log.Printf("receiver: LO failed to lock within %s, streaming anyway", loLockWait)
			return
		}
		time.Sleep(time.Millisecond)
	}
	r.log.Printf("receiver: LO locked in %.2f ms", float64(time.Since(start).Microseconds())/1000)
}

// Config returns a copy of the live receiver configuration.
func (r *Receiver) Config() config.ReceiverConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Serial returns the hardware serial recorded at initialization.
func (r *Receiver) Serial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serial
}

// Close releases the hardware.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Close()
	r.dev = nil
	return err
}
