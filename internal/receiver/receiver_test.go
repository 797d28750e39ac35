package receiver

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/sdr"
)

// scriptedDevice is a controllable sdr.Device for exercising the facade's
// error paths and locking behavior.
type scriptedDevice struct {
	mu         sync.Mutex
	serial     string
	sampleRate int64
	gain       int
	tunedHz    int64
	inits      int

	recvFn func(buf []byte, numSamples int, timeout time.Duration) (int, error)
}

var scripted = &scriptedDevice{serial: "SCRIPT01"}

func init() {
	sdr.Register("scripted", func(string) (sdr.Device, error) {
		scripted.mu.Lock()
		scripted.inits++
		scripted.mu.Unlock()
		return scripted, nil
	})
}

func (d *scriptedDevice) Serial() string { return d.serial }

func (d *scriptedDevice) SetSampleRate(hz int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampleRate = hz
	return nil
}

func (d *scriptedDevice) SetGain(db int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = db
	return nil
}

func (d *scriptedDevice) SetAntenna(string) error { return nil }

func (d *scriptedDevice) SetClockSource(string) error { return nil }

func (d *scriptedDevice) SetTime(time.Time) error { return nil }

func (d *scriptedDevice) Sensor(name string) (bool, error) {
	// Always locked so tests never wait on the LO poll.
	return name == sdr.SensorLOLocked, nil
}

func (d *scriptedDevice) Tune(centerHz int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tunedHz = centerHz
	return nil
}

func (d *scriptedDevice) ReceiveFinite(buf []byte, numSamples int, timeout time.Duration) (int, error) {
	if d.recvFn != nil {
		return d.recvFn(buf, numSamples, timeout)
	}
	return numSamples, nil
}

func (d *scriptedDevice) Close() error { return nil }

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	scripted.recvFn = nil
	r := New(
		config.ReceiverConfig{BandwidthHz: 2_000_000, GainDB: 40, DurationSec: 0.01},
		config.SDRSection{Driver: "scripted", Antenna: "RX2"},
		log.New(io.Discard, "", 0),
	)
	require.NoError(t, r.Initialize())
	return r
}

func TestInitializeRecordsSerialAndConfiguresDevice(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	assert.Equal(t, "SCRIPT01", r.Serial())
	assert.Equal(t, int64(2_000_000), scripted.sampleRate)
	assert.Equal(t, 40, scripted.gain)
}

func TestReceiveSamples(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	before := time.Now().UTC()
	result, err := r.ReceiveSamples(context.Background(), 915_000_000)
	require.NoError(t, err)

	numSamples := r.Config().NumSamples()
	assert.Len(t, result.Raw.IQData, numSamples*sdr.BytesPerSample)
	assert.Equal(t, int64(915_000_000), result.Raw.CenterFreqHz)
	assert.Equal(t, int64(915_000_000), scripted.tunedHz)
	assert.Equal(t, r.Config(), result.Config, "result must snapshot the config used")

	assert.False(t, result.Raw.Timestamp.Before(before))
	assert.False(t, result.Raw.Timestamp.After(time.Now().UTC()))
}

func TestReceiveSamplesTruncated(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	scripted.recvFn = func(_ []byte, numSamples int, _ time.Duration) (int, error) {
		return numSamples - 1, nil
	}

	_, err := r.ReceiveSamples(context.Background(), 915_000_000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptureTruncated)
}

func TestReceiveSamplesDeviceError(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	scripted.recvFn = func(_ []byte, _ int, _ time.Duration) (int, error) {
		return 0, sdr.ErrRecvTimeout
	}

	_, err := r.ReceiveSamples(context.Background(), 915_000_000)
	require.Error(t, err)
	assert.ErrorIs(t, err, sdr.ErrRecvTimeout)
}

func TestReceiveSamplesCancelledContext(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ReceiveSamples(ctx, 915_000_000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconfigureSwapsConfig(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	newCfg := config.ReceiverConfig{BandwidthHz: 10_000_000, GainDB: 55, DurationSec: 0.5}
	require.NoError(t, r.Reconfigure(context.Background(), newCfg))

	assert.Equal(t, newCfg, r.Config())
	assert.Equal(t, int64(10_000_000), scripted.sampleRate)
	assert.Equal(t, 55, scripted.gain)
}

func TestCaptureAndReconfigureAreMutuallyExclusive(t *testing.T) {
	r := newTestReceiver(t)
	defer r.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	scripted.recvFn = func(_ []byte, numSamples int, _ time.Duration) (int, error) {
		close(started)
		<-release
		return numSamples, nil
	}

	captureDone := make(chan error, 1)
	go func() {
		_, err := r.ReceiveSamples(context.Background(), 915_000_000)
		captureDone <- err
	}()

	<-started

	reconfDone := make(chan error, 1)
	go func() {
		reconfDone <- r.Reconfigure(context.Background(),
			config.ReceiverConfig{BandwidthHz: 4_000_000, GainDB: 20, DurationSec: 0.01})
	}()

	// While the capture holds the hardware lock, the reconfigure must wait.
	select {
	case <-reconfDone:
		t.Fatal("reconfigure completed while a capture was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	scripted.recvFn = nil
	close(release)

	require.NoError(t, <-captureDone)
	require.NoError(t, <-reconfDone)
	assert.Equal(t, int64(4_000_000), r.Config().BandwidthHz)
}
