// Package watchdog provides a pause-aware liveness timer. The survey pets it
// after every successful capture; if pets stop arriving while the agent is
// supposed to be running, the watchdog fails the whole process rather than
// letting it hang silently.
package watchdog

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrTimeout is returned from Run when the application has not been pet
// within the configured timeout. It is fatal to the agent.
var ErrTimeout = errors.New("watchdog: application timed out")

// checkInterval is how often liveness is evaluated.
const checkInterval = 5 * time.Second

// Watchdog monitors application liveness. A zero or negative timeout
// disables it entirely.
type Watchdog struct {
	log        *log.Logger
	timeout    time.Duration
	checkEvery time.Duration

	mu      sync.Mutex
	lastPet time.Time
	paused  bool
}

// New creates a watchdog. The timer starts from the moment Run is called.
func New(timeout time.Duration, logger *log.Logger) *Watchdog {
	return &Watchdog{
		log:        logger,
		timeout:    timeout,
		checkEvery: checkInterval,
	}
}

// Run checks liveness every five seconds until ctx is cancelled. It returns
// ErrTimeout if the timeout elapses without a pet while not paused.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.timeout <= 0 {
		w.log.Printf("watchdog: disabled by configuration")
		<-ctx.Done()
		return ctx.Err()
	}

	w.mu.Lock()
	w.lastPet = time.Now()
	w.mu.Unlock()

	w.log.Printf("watchdog: started with %s timeout", w.timeout)

	ticker := time.NewTicker(w.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.mu.Lock()
			paused := w.paused
			idle := time.Since(w.lastPet)
			w.mu.Unlock()

			if paused {
				continue
			}
			if idle > w.timeout {
				w.log.Printf("watchdog: no pet in %.1fs (limit %.1fs), failing",
					idle.Seconds(), w.timeout.Seconds())
				return ErrTimeout
			}
		}
	}
}

// Pet resets the liveness timer.
func (w *Watchdog) Pet() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	w.lastPet = time.Now()
	w.mu.Unlock()
}

// Pause suspends liveness checks. Call when the agent is legitimately idle,
// such as while paused by the fleet controller or mid-reconfiguration.
func (w *Watchdog) Pause() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		w.log.Printf("watchdog: paused")
		w.paused = true
	}
}

// Resume re-enables liveness checks and resets the timer.
func (w *Watchdog) Resume() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		w.log.Printf("watchdog: resumed")
		w.paused = false
		w.lastPet = time.Now()
	}
}
