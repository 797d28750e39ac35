package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Hostname      string `json:"hostname"`
	Group         string `json:"group"`
	StoragePath   string `json:"storage_path"`
	CyclesRun     int    `json:"cycles_run"`
	QueueDepth    int    `json:"queue_depth"`
	ZMSEnabled    bool   `json:"zms_enabled"`
	Sweep         struct {
		StartHz        int64   `json:"start_hz"`
		EndHz          int64   `json:"end_hz"`
		StepHz         int64   `json:"step_hz"`
		Cycles         int     `json:"cycles"`
		RecordsPerStep int     `json:"records_per_step"`
		IntervalSec    float64 `json:"interval_sec"`
		MaxJitterSec   float64 `json:"max_jitter_sec"`
	} `json:"sweep"`
	Receiver struct {
		BandwidthHz int64   `json:"bandwidth_hz"`
		GainDB      int     `json:"gain_db"`
		DurationSec float64 `json:"duration_sec"`
		Serial      string  `json:"serial"`
	} `json:"receiver"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOut bool) error {
	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)

	control := "standalone"
	if s.ZMSEnabled {
		control = "fleet controller"
	}

	fmt.Println()
	fmt.Println(header("  RF SURVEY STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 40)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), s.Hostname)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), stateStr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Control:"), control)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s -> %s step %s\n", colorize(dim, "Sweep:"),
		formatHz(s.Sweep.StartHz), formatHz(s.Sweep.EndHz), formatHz(s.Sweep.StepHz))
	fmt.Printf("  %-12s every %.1fs, %d records/step\n", colorize(dim, "Cadence:"),
		s.Sweep.IntervalSec, s.Sweep.RecordsPerStep)
	fmt.Printf("  %-12s %d (configured: %d)\n", colorize(dim, "Cycles:"), s.CyclesRun, s.Sweep.Cycles)
	fmt.Printf("  %-12s %d queued\n", colorize(dim, "Pipeline:"), s.QueueDepth)
	fmt.Printf("  %-12s %s gain %d dB, %.3fs captures\n", colorize(dim, "Receiver:"),
		s.Receiver.Serial, s.Receiver.GainDB, s.Receiver.DurationSec)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Storage:"), s.StoragePath)
	fmt.Println()

	return nil
}

// VersionInfo prints the daemon's build information.
func VersionInfo(baseURL string, jsonOut bool) error {
	var v struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	if err := getJSON(baseURL, "/api/version", &v); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(v)
	}
	fmt.Printf("rfsurveyd %s (go %s, built %s)\n", v.Version, v.GoVersion, v.BuiltAt)
	return nil
}
