package sdr

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

func init() {
	Register("sim", openSimulated)
}

// Simulated is a hardware-free Device used for development and tests. It
// honors the full contract: captures take real time (numSamples / rate) and
// the returned buffer is filled with low-amplitude noise in sc16 layout.
type Simulated struct {
	mu         sync.Mutex
	serial     string
	sampleRate int64
	gain       int
	closed     bool
	rng        *rand.Rand

	// SettleDelay is how long the simulated LO takes to lock after a tune.
	SettleDelay time.Duration

	tunedAt time.Time
}

func openSimulated(args string) (Device, error) {
	serial := "SIM000"
	if args != "" {
		serial = "SIM-" + args
	}
	return NewSimulated(serial), nil
}

// NewSimulated returns a simulated device with the given serial.
func NewSimulated(serial string) *Simulated {
	return &Simulated{
		serial:      serial,
		sampleRate:  2_000_000,
		rng:         rand.New(rand.NewSource(1)),
		SettleDelay: time.Millisecond,
	}
}

func (s *Simulated) Serial() string { return s.serial }

func (s *Simulated) SetSampleRate(hz int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrHardwareUnavailable
	}
	s.sampleRate = hz
	return nil
}

func (s *Simulated) SetGain(db int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = db
	return nil
}

func (s *Simulated) SetAntenna(string) error { return nil }

func (s *Simulated) SetClockSource(string) error { return nil }

func (s *Simulated) SetTime(time.Time) error { return nil }

func (s *Simulated) Sensor(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case SensorRefLocked:
		// No external reference on the bench.
		return false, nil
	case SensorLOLocked:
		return time.Since(s.tunedAt) >= s.SettleDelay, nil
	default:
		return false, nil
	}
}

func (s *Simulated) Tune(centerHz int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrHardwareUnavailable
	}
	s.tunedAt = time.Now()
	return nil
}

func (s *Simulated) ReceiveFinite(buf []byte, numSamples int, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrHardwareUnavailable
	}
	rate := s.sampleRate
	s.mu.Unlock()

	captureTime := time.Duration(float64(numSamples) / float64(rate) * float64(time.Second))
	if captureTime > timeout {
		time.Sleep(timeout)
		return 0, ErrRecvTimeout
	}
	time.Sleep(captureTime)

	n := numSamples
	if limit := len(buf) / BytesPerSample; n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(int16(s.rng.Intn(64)-32)))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(int16(s.rng.Intn(64)-32)))
	}
	return n, nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
