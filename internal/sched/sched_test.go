package sched

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitTime(t *testing.T) {
	tests := []struct {
		name     string
		now      float64
		interval float64
		want     float64
	}{
		{"partway into interval", 1003.7, 10.0, 6.3},
		{"exactly on boundary waits full interval", 1000.0, 10.0, 10.0},
		{"just past boundary", 1000.000001, 10.0, 9.999999},
		{"sub-second interval", 1000.8, 0.5, 0.2},
		{"realistic epoch timestamp", 1677695345.25, 60.0, 54.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WaitTime(tt.interval, tt.now)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestWaitTimeAlignment(t *testing.T) {
	// For any now, now + wait must land on an interval boundary, and the
	// wait must be in (0, interval].
	rng := rand.New(rand.NewSource(7))
	intervals := []float64{0.5, 1, 3, 10, 60}

	for _, interval := range intervals {
		for i := 0; i < 200; i++ {
			now := rng.Float64() * 2_000_000_000
			wait := WaitTime(interval, now)

			require.Greater(t, wait, 0.0)
			require.LessOrEqual(t, wait, interval)

			boundary := math.Mod(now+wait, interval)
			// Accept either ~0 or ~interval to absorb float error.
			if boundary > interval/2 {
				boundary = interval - boundary
			}
			assert.InDelta(t, 0, boundary, 1e-4, "interval=%v now=%v", interval, now)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		j := Jitter(0.5, rng)
		assert.GreaterOrEqual(t, j, 0.0)
		assert.Less(t, j, 0.5)
	}

	assert.Zero(t, Jitter(0, rng))
	assert.Zero(t, Jitter(-1, rng))
}

func TestTotalWait(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	now := time.Unix(1000, 0)

	// No jitter: pure alignment.
	got := TotalWait(10, 0, now, rng)
	assert.Equal(t, 10*time.Second, got)

	// With jitter the wait stays within [aligned, aligned+max).
	got = TotalWait(10, 2, now, rng)
	assert.GreaterOrEqual(t, got, 10*time.Second)
	assert.Less(t, got, 12*time.Second)
}
