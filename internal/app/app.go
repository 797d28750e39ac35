// Package app wires the survey engine together: receiver, producer,
// pipeline, supervisor, watchdog, telemetry, and the fleet-controller loop
// all run as siblings under one task group. It owns the daemon's lifecycle
// and is the single source of truth for its current operating state.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/pipeline"
	"github.com/cuswiftpass/rf-survey/internal/producer"
	"github.com/cuswiftpass/rf-survey/internal/receiver"
	"github.com/cuswiftpass/rf-survey/internal/survey"
	"github.com/cuswiftpass/rf-survey/internal/telemetry"
	"github.com/cuswiftpass/rf-survey/internal/watchdog"
	"github.com/cuswiftpass/rf-survey/internal/zms"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger *log.Logger
	Cfg    config.Config
}

// monitor is the slice of the ZMS runner the app depends on; NullRunner
// satisfies it when the agent runs standalone.
type monitor interface {
	Run(ctx context.Context) error
}

// App is the top-level daemon process.
type App struct {
	log      *log.Logger
	cfg      config.Config
	identity config.Identity

	recv    *receiver.Receiver
	prod    *producer.Producer
	dog     *watchdog.Watchdog
	pipe    *pipeline.Pipeline
	sup     *survey.Supervisor
	hub     *telemetry.Hub
	metrics *telemetry.Metrics // nil when telemetry is disabled
	mon     monitor

	startedAt time.Time
}

// New composes the daemon from the layered configuration. No hardware or
// network is touched until Run.
func New(opts Options) *App {
	cfg := opts.Cfg
	logger := opts.Logger

	a := &App{
		log:       logger,
		cfg:       cfg,
		identity:  config.NewIdentity(cfg),
		startedAt: time.Now(),
	}

	var recorder telemetry.Recorder = telemetry.Nop{}
	if cfg.Telemetry.Enabled {
		a.hub = telemetry.NewHub()
		a.metrics = telemetry.NewMetrics(Version, a.identity.Hostname)
		recorder = a.metrics
	}

	a.recv = receiver.New(config.NewReceiverConfig(cfg), cfg.SDR, logger)
	a.prod = producer.New(cfg.NATSURL(), cfg.NATS.Token, cfg.Subject(), logger)
	a.dog = watchdog.New(time.Duration(cfg.Watchdog.TimeoutSec*float64(time.Second)), logger)
	a.pipe = pipeline.New(a.identity, a.prod, recorder, a.hub, logger)
	a.sup = survey.New(config.NewSweepConfig(cfg), a.recv, a.pipe, a.dog, recorder, a.hub, logger)

	if cfg.ZMSEnabled() {
		client := zms.NewClient(cfg.ZMS.HTTP, cfg.ZMS.Token)
		a.mon = zms.NewRunner(client, cfg.ZMS.MonitorID, cfg.ZMS.ElementID, cfg.ZMS.UserID, a.applyReconfiguration, logger)
	} else {
		a.mon = zms.NullRunner{}
	}

	return a
}

// Run initializes the hardware and the bus connection, then runs every
// subsystem as a sibling until ctx is cancelled or one of them fails.
// A clean shutdown drains the pipeline, flushes the producer, and returns
// nil.
func (a *App) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.identity.OutputPath, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}

	if err := a.recv.Initialize(); err != nil {
		return fmt.Errorf("initialize receiver: %w", err)
	}
	defer a.recv.Close()

	if err := a.prod.Connect(); err != nil {
		return fmt.Errorf("connect producer: %w", err)
	}
	defer func() {
		if err := a.prod.Close(); err != nil {
			a.log.Printf("app: producer close: %v", err)
		}
	}()

	if a.metrics != nil {
		a.metrics.ObserveSweepConfig(a.sup.SweepConfig())
		a.metrics.ObserveReceiverConfig(a.recv.Config())
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Telemetry.Enabled {
		g.Go(func() error {
			a.hub.Run(ctx)
			return ctx.Err()
		})
		g.Go(func() error { return a.serveTelemetry(ctx) })
	}

	g.Go(func() error { return a.dog.Run(ctx) })
	g.Go(func() error { return a.pipe.Run(ctx) })
	g.Go(func() error { return a.sup.Run(ctx) })
	g.Go(func() error { return a.mon.Run(ctx) })

	// When the controller is in charge it decides whether we start running;
	// standalone agents start immediately.
	if !a.cfg.ZMSEnabled() {
		a.sup.Start()
	}

	a.log.Printf("app: rfsurveyd running (host %s, group %s)", a.identity.Hostname, a.identity.Group)

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, survey.ErrComplete) {
		return err
	}
	a.log.Printf("app: shutdown complete")
	return nil
}

// applyReconfiguration hands controller targets to the survey's
// reconfiguration protocol, which validates the raw parameters itself after
// pausing.
func (a *App) applyReconfiguration(ctx context.Context, paused bool, params map[string]any) error {
	return a.sup.Reconfigure(ctx, survey.Target{Paused: paused, RawParams: params})
}

// serveTelemetry runs the local observability HTTP server.
func (a *App) serveTelemetry(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.Handle("/metrics", a.metricsHandler())
	mux.Handle("/ws", a.hub.Handler())

	server := &http.Server{
		Addr:              a.cfg.Telemetry.Bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", a.cfg.Telemetry.Bind)
	if err != nil {
		return fmt.Errorf("telemetry listen: %w", err)
	}
	a.log.Printf("app: telemetry on http://%s", a.cfg.Telemetry.Bind)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
