package watchdog

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newFast returns a watchdog checking every 10ms so tests stay quick.
func newFast(timeout time.Duration) *Watchdog {
	w := New(timeout, testLogger())
	w.checkEvery = 10 * time.Millisecond
	return w
}

func TestTripsWithoutPets(t *testing.T) {
	w := newFast(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPetsPreventTrip(t *testing.T) {
	w := newFast(60 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Pet well inside the timeout for a while.
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Pet()
	}

	select {
	case err := <-done:
		t.Fatalf("watchdog tripped despite pets: %v", err)
	default:
	}

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPauseSuppressesTrip(t *testing.T) {
	w := newFast(30 * time.Millisecond)
	w.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Far longer than the timeout; paused means no trip.
	time.Sleep(150 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("paused watchdog tripped: %v", err)
	default:
	}

	// Resume resets the timer, then absence of pets trips it.
	w.Resume()
	err := <-waitOrCancel(done, cancel, 2*time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDisabledNeverTrips(t *testing.T) {
	w := New(0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// waitOrCancel returns a channel yielding the run result, cancelling the
// context if the deadline passes first.
func waitOrCancel(done chan error, cancel context.CancelFunc, d time.Duration) chan error {
	out := make(chan error, 1)
	go func() {
		select {
		case err := <-done:
			out <- err
		case <-time.After(d):
			cancel()
			out <- <-done
		}
	}()
	return out
}
