// Package config handles loading, defaulting, and validation of the rfsurveyd
// configuration. Settings layer in increasing precedence: built-in defaults,
// an optional TOML file, RF_-prefixed environment variables, then command-line
// flags. Every section maps to a typed struct so the rest of the codebase gets
// strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Survey    SurveySection    `toml:"survey"    json:"survey"`
	Station   StationSection   `toml:"station"   json:"station"`
	Storage   StorageSection   `toml:"storage"   json:"storage"`
	NATS      NATSSection      `toml:"nats"      json:"nats"`
	ZMS       ZMSSection       `toml:"zms"       json:"zms"`
	SDR       SDRSection       `toml:"sdr"       json:"sdr"`
	Telemetry TelemetrySection `toml:"telemetry" json:"telemetry"`
	Watchdog  WatchdogSection  `toml:"watchdog"  json:"watchdog"`
}

// SurveySection holds the sweep and capture parameters.
type SurveySection struct {
	FrequencyStartHz int64   `toml:"frequency_start_hz" json:"frequency_start_hz"`
	FrequencyEndHz   int64   `toml:"frequency_end_hz"   json:"frequency_end_hz"`
	BandwidthHz      int64   `toml:"bandwidth_hz"       json:"bandwidth_hz"`
	DurationSec      float64 `toml:"duration_sec"       json:"duration_sec"`
	GainDB           int     `toml:"gain_db"            json:"gain_db"`
	Records          int     `toml:"records"            json:"records"`
	Cycles           int     `toml:"cycles"             json:"cycles"`
	IntervalSec      float64 `toml:"interval_sec"       json:"interval_sec"`
	MaxJitterSec     float64 `toml:"max_jitter_sec"     json:"max_jitter_sec"`
}

// StationSection identifies the node running the survey.
type StationSection struct {
	Hostname     string `toml:"hostname"     json:"hostname"`
	Organization string `toml:"organization" json:"organization"`
	Coordinates  string `toml:"coordinates"  json:"coordinates"`
}

type StorageSection struct {
	Path string `toml:"path" json:"path"`
}

type NATSSection struct {
	Host  string `toml:"host"  json:"host"`
	Port  int    `toml:"port"  json:"port"`
	Token string `toml:"token" json:"-"`
}

// ZMSSection configures the fleet-controller connection. All identity fields
// must be present for ZMS control to be enabled; otherwise the agent runs
// standalone.
type ZMSSection struct {
	HTTP      string `toml:"http"       json:"http"`
	Token     string `toml:"token"      json:"-"`
	MonitorID string `toml:"monitor_id" json:"monitor_id"`
	ElementID string `toml:"element_id" json:"element_id"`
	UserID    string `toml:"user_id"    json:"user_id"`
}

type SDRSection struct {
	Driver     string `toml:"driver"      json:"driver"`
	DeviceArgs string `toml:"device_args" json:"device_args"`
	Antenna    string `toml:"antenna"     json:"antenna"`
}

type TelemetrySection struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Bind    string `toml:"bind"    json:"bind"`
}

type WatchdogSection struct {
	TimeoutSec float64 `toml:"timeout_sec" json:"timeout_sec"`
}

// DefaultConfigDir returns the XDG-compliant config directory for rfsurvey.
// It respects $XDG_CONFIG_HOME and falls back to ~/.config/rfsurvey.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rfsurvey")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "rfsurvey")
}

// FindConfigFile searches for a config file in standard locations:
//  1. $RF_SURVEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/rfsurvey/rfsurvey.toml
//  3. /etc/rfsurvey/rfsurvey.toml
//
// Returns the path to the first file found, or empty string if none exist.
// An empty return means the caller should use Default() directly.
func FindConfigFile() string {
	if env := os.Getenv("RF_SURVEY_CONFIG"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}

	xdgPath := filepath.Join(DefaultConfigDir(), "rfsurvey.toml")
	if _, err := os.Stat(xdgPath); err == nil {
		return xdgPath
	}

	etcPath := "/etc/rfsurvey/rfsurvey.toml"
	if _, err := os.Stat(etcPath); err == nil {
		return etcPath
	}

	return ""
}

// Default returns a Config populated with sane defaults. Values here are used
// whenever the TOML file, environment, and flags all omit a field.
func Default() Config {
	hostname, _ := os.Hostname()
	return Config{
		Survey: SurveySection{
			FrequencyStartHz: 915_000_000,
			FrequencyEndHz:   915_000_000,
			BandwidthHz:      2_000_000,
			DurationSec:      0.1,
			GainDB:           40,
			Records:          1,
			Cycles:           0,
			IntervalSec:      10,
			MaxJitterSec:     0,
		},
		Station: StationSection{
			Hostname: hostname,
		},
		NATS: NATSSection{
			Host: "localhost",
			Port: 4222,
		},
		SDR: SDRSection{
			Driver:     "uhd",
			DeviceArgs: "num_recv_frames=1024",
			Antenna:    "RX2",
		},
		Telemetry: TelemetrySection{
			Enabled: true,
			Bind:    "127.0.0.1:9090",
		},
		Watchdog: WatchdogSection{
			TimeoutSec: 30,
		},
	}
}

// Load reads the TOML file at path and layers it on top of the defaults.
// Environment and flag overlays are applied separately so callers control
// precedence ordering.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	return cfg, nil
}

// envVars maps RF_-prefixed environment variables onto config fields. Every
// survey flag is also settable this way, matching the agent's container
// deployment where no flags are passed at all.
var envVars = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"RF_FREQUENCY_START", func(c *Config, v string) error { return parseHz(v, &c.Survey.FrequencyStartHz) }},
	{"RF_FREQUENCY_END", func(c *Config, v string) error { return parseHz(v, &c.Survey.FrequencyEndHz) }},
	{"RF_BANDWIDTH", func(c *Config, v string) error { return parseHz(v, &c.Survey.BandwidthHz) }},
	{"RF_DURATION_SEC", func(c *Config, v string) error { return parseF64(v, &c.Survey.DurationSec) }},
	{"RF_GAIN", func(c *Config, v string) error { return parseInt(v, &c.Survey.GainDB) }},
	{"RF_RECORDS", func(c *Config, v string) error { return parseInt(v, &c.Survey.Records) }},
	{"RF_CYCLES", func(c *Config, v string) error { return parseInt(v, &c.Survey.Cycles) }},
	{"RF_TIMER", func(c *Config, v string) error { return parseF64(v, &c.Survey.IntervalSec) }},
	{"RF_JITTER", func(c *Config, v string) error { return parseF64(v, &c.Survey.MaxJitterSec) }},
	{"RF_ORGANIZATION", func(c *Config, v string) error { c.Station.Organization = v; return nil }},
	{"RF_COORDINATES", func(c *Config, v string) error { c.Station.Coordinates = v; return nil }},
	{"RF_HOSTNAME", func(c *Config, v string) error { c.Station.Hostname = v; return nil }},
	{"RF_STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"RF_NATS_HOST", func(c *Config, v string) error { c.NATS.Host = v; return nil }},
	{"RF_NATS_PORT", func(c *Config, v string) error { return parseInt(v, &c.NATS.Port) }},
	{"RF_NATS_TOKEN", func(c *Config, v string) error { c.NATS.Token = v; return nil }},
	{"RF_ZMS_ZMC_HTTP", func(c *Config, v string) error { c.ZMS.HTTP = v; return nil }},
	{"RF_ZMS_TOKEN", func(c *Config, v string) error { c.ZMS.Token = v; return nil }},
	{"RF_ZMS_MONITOR_ID", func(c *Config, v string) error { c.ZMS.MonitorID = v; return nil }},
	{"RF_ZMS_ELEMENT_ID", func(c *Config, v string) error { c.ZMS.ElementID = v; return nil }},
	{"RF_ZMS_USER_ID", func(c *Config, v string) error { c.ZMS.UserID = v; return nil }},
	{"RF_SDR_DRIVER", func(c *Config, v string) error { c.SDR.Driver = v; return nil }},
	{"RF_TELEMETRY_BIND", func(c *Config, v string) error { c.Telemetry.Bind = v; return nil }},
	{"RF_WATCHDOG_TIMEOUT", func(c *Config, v string) error { return parseF64(v, &c.Watchdog.TimeoutSec) }},
}

// ApplyEnv overlays RF_-prefixed environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", ev.name, err)
		}
	}
	return nil
}

// Flags holds the flag values registered by BindFlags until ApplyFlags
// overlays the ones the user actually set.
type Flags struct {
	FrequencyStart string
	FrequencyEnd   string
	Bandwidth      string
	DurationSec    float64
	Gain           int
	Records        int
	Organization   string
	Coordinates    string
	Cycles         int
	Timer          float64
	Jitter         float64
	StoragePath    string
}

// BindFlags registers the survey flags on fs. Frequency flags take strings so
// scientific notation ("915e6") works the same as it does for the RF_ env
// variables.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.FrequencyStart, "frequency-start", "", "start center frequency in Hz (e.g. 915e6); env RF_FREQUENCY_START")
	fs.StringVar(&f.FrequencyEnd, "frequency-end", "", "end center frequency in Hz (e.g. 920e6); env RF_FREQUENCY_END")
	fs.StringVarP(&f.Bandwidth, "bandwidth", "b", "", "bandwidth in Hz, doubles as sample rate and sweep step; env RF_BANDWIDTH")
	fs.Float64VarP(&f.DurationSec, "duration-sec", "d", 0, "capture duration in seconds; env RF_DURATION_SEC")
	fs.IntVarP(&f.Gain, "gain", "g", -1, "receive gain in dB (0-76); env RF_GAIN")
	fs.IntVarP(&f.Records, "records", "r", 0, "files generated per frequency; env RF_RECORDS")
	fs.StringVarP(&f.Organization, "organization", "o", "", "organization identifier; env RF_ORGANIZATION")
	fs.StringVar(&f.Coordinates, "coordinates", "", "coordinates in 40.0149N105.2705W format; env RF_COORDINATES")
	fs.IntVarP(&f.Cycles, "cycles", "c", -1, "times all frequencies are swept, 0 for continuous; env RF_CYCLES")
	fs.Float64VarP(&f.Timer, "timer", "t", 0, "interval in seconds between captures; env RF_TIMER")
	fs.Float64VarP(&f.Jitter, "jitter", "j", -1, "max random jitter in seconds added to the timer; env RF_JITTER")
	fs.StringVar(&f.StoragePath, "storage-path", "", "directory for capture files; env RF_STORAGE_PATH")
	return f
}

// ApplyFlags overlays the flags the user set on the command line. Flags win
// over both the config file and the environment.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet, f *Flags) error {
	var err error
	fs.Visit(func(fl *pflag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "frequency-start":
			err = parseHz(f.FrequencyStart, &cfg.Survey.FrequencyStartHz)
		case "frequency-end":
			err = parseHz(f.FrequencyEnd, &cfg.Survey.FrequencyEndHz)
		case "bandwidth":
			err = parseHz(f.Bandwidth, &cfg.Survey.BandwidthHz)
		case "duration-sec":
			cfg.Survey.DurationSec = f.DurationSec
		case "gain":
			cfg.Survey.GainDB = f.Gain
		case "records":
			cfg.Survey.Records = f.Records
		case "organization":
			cfg.Station.Organization = f.Organization
		case "coordinates":
			cfg.Station.Coordinates = f.Coordinates
		case "cycles":
			cfg.Survey.Cycles = f.Cycles
		case "timer":
			cfg.Survey.IntervalSec = f.Timer
		case "jitter":
			cfg.Survey.MaxJitterSec = f.Jitter
		case "storage-path":
			cfg.Storage.Path = f.StoragePath
		}
		if err != nil {
			err = fmt.Errorf("--%s: %w", fl.Name, err)
		}
	})
	return err
}

// Validate checks the fully-layered configuration. Called once at startup
// after all overlays have been applied.
func Validate(cfg Config) error {
	s := cfg.Survey
	if s.FrequencyStartHz <= 0 {
		return errors.New("survey.frequency_start_hz must be > 0")
	}
	if s.FrequencyEndHz < s.FrequencyStartHz {
		return errors.New("survey.frequency_end_hz must be >= frequency_start_hz")
	}
	if s.BandwidthHz <= 0 {
		return errors.New("survey.bandwidth_hz must be > 0")
	}
	if s.DurationSec <= 0 {
		return errors.New("survey.duration_sec must be > 0")
	}
	if s.GainDB < 0 || s.GainDB > 76 {
		return errors.New("survey.gain_db must be between 0 and 76")
	}
	if s.Records < 1 {
		return errors.New("survey.records must be >= 1")
	}
	if s.Cycles < 0 {
		return errors.New("survey.cycles must be >= 0")
	}
	if s.IntervalSec <= 0 {
		return errors.New("survey.interval_sec must be > 0")
	}
	if s.MaxJitterSec < 0 {
		return errors.New("survey.max_jitter_sec must be >= 0")
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is required (flag --storage-path or env RF_STORAGE_PATH)")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Bind == "" {
		return errors.New("telemetry.bind must not be empty when telemetry is enabled")
	}
	switch cfg.SDR.Driver {
	case "uhd", "sim":
	default:
		return fmt.Errorf("sdr.driver %q is not known (want uhd or sim)", cfg.SDR.Driver)
	}
	return nil
}

// ZMSEnabled reports whether the ZMS control loop should run. All identity
// fields must be present; a partial set is treated as standalone.
func (c Config) ZMSEnabled() bool {
	z := c.ZMS
	return z.HTTP != "" && z.Token != "" && z.MonitorID != "" && z.ElementID != "" && z.UserID != ""
}

// NATSURL constructs the NATS connection URL from host and port.
func (c Config) NATSURL() string {
	return fmt.Sprintf("nats://%s:%d", c.NATS.Host, c.NATS.Port)
}

// Subject is the per-host NATS subject metadata records publish to.
func (c Config) Subject() string {
	return "jobs.rf." + c.Station.Hostname
}

// parseHz accepts plain and scientific notation ("2000000", "2e6") and
// requires the result to be a positive integer number of hertz.
func parseHz(v string, dst *int64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%q is not a valid number", v)
	}
	n := int64(f)
	if n <= 0 {
		return fmt.Errorf("%q must be a positive frequency in Hz", v)
	}
	*dst = n
	return nil
}

func parseF64(v string, dst *float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%q is not a valid number", v)
	}
	*dst = f
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%q is not a valid integer", v)
	}
	*dst = n
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
