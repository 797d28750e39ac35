// Rfsurveyd is the per-node RF survey agent. It drives an SDR through a
// configured frequency sweep, stores each capture as an sc16 file, publishes
// a metadata record per capture onto the message bus, and obeys the fleet
// controller when one is configured. Shutdown is handled gracefully on
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/pflag"

	"github.com/cuswiftpass/rf-survey/internal/app"
	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/watchdog"
)

// Exit codes.
const (
	exitOK        = 0
	exitInit      = 1
	exitSingleton = 2
	exitWatchdog  = 3
)

// lockPath is the well-known advisory lock enforcing one agent per host.
var lockPath = filepath.Join(os.TempDir(), "rfsurveyd.lock")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "C", "", "path to config TOML (auto-discovers if omitted)")
	flags := config.BindFlags(pflag.CommandLine)
	pflag.Parse()

	logger := log.New(os.Stdout, "rfsurveyd ", log.LstdFlags|log.Lmicroseconds)

	// At most one agent per host: the SDR is not shareable.
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "singleton lock %s: %v\n", lockPath, err)
		return exitSingleton
	}
	if !locked {
		fmt.Fprintf(os.Stderr, "survey already running: another process holds %s\n", lockPath)
		return exitSingleton
	}
	defer lock.Unlock()

	// Resolve config file: explicit flag -> auto-discovery chain -> defaults.
	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = config.FindConfigFile()
	}

	cfg := config.Default()
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.Printf("config load failed: %v", err)
			return exitInit
		}
		logger.Printf("loaded config from %s", cfgFile)
	}

	if err := config.ApplyEnv(&cfg); err != nil {
		logger.Printf("environment: %v", err)
		return exitInit
	}
	if err := config.ApplyFlags(&cfg, pflag.CommandLine, flags); err != nil {
		logger.Printf("flags: %v", err)
		return exitInit
	}
	if err := config.Validate(cfg); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return exitInit
	}

	a := app.New(app.Options{
		Logger: logger,
		Cfg:    cfg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Printf("rfsurveyd failed: %v", err)
		if errors.Is(err, watchdog.ErrTimeout) {
			return exitWatchdog
		}
		return exitInit
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
	return exitOK
}
