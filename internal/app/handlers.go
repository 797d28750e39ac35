package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := "PAUSED"
	if a.sup.Running() {
		state = "RUNNING"
	}

	sweep := a.sup.SweepConfig()
	rx := a.recv.Config()

	resp := map[string]any{
		"name":           "rf-survey",
		"state":          state,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"hostname":       a.identity.Hostname,
		"group":          a.identity.Group,
		"storage_path":   a.identity.OutputPath,
		"cycles_run":     a.sup.CyclesRun(),
		"queue_depth":    a.pipe.Len(),
		"zms_enabled":    a.cfg.ZMSEnabled(),
		"sweep": map[string]any{
			"start_hz":         sweep.StartHz,
			"end_hz":           sweep.EndHz,
			"step_hz":          sweep.StepHz,
			"cycles":           sweep.Cycles,
			"records_per_step": sweep.RecordsPerStep,
			"interval_sec":     sweep.IntervalSec,
			"max_jitter_sec":   sweep.MaxJitterSec,
		},
		"receiver": map[string]any{
			"bandwidth_hz": rx.BandwidthHz,
			"gain_db":      rx.GainDB,
			"duration_sec": rx.DurationSec,
			"serial":       a.recv.Serial(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{})
}
