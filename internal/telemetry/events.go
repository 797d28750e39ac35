package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventState   EventType = "state"
	EventCapture EventType = "capture"
	EventCycle   EventType = "cycle"
	EventLog     EventType = "log"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// StateTransition is emitted whenever the survey moves between operating
// states (e.g. RUNNING -> PAUSED).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// CaptureEvent reports one completed capture.
type CaptureEvent struct {
	Event
	FrequencyHz int64  `json:"frequency_hz"`
	File        string `json:"file"`
	Bytes       int    `json:"bytes"`
}

// CycleEvent reports a completed sweep cycle.
type CycleEvent struct {
	Event
	CyclesRun int `json:"cycles_run"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}
