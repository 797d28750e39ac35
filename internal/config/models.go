package config

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SweepConfig is the immutable description of one frequency sweep. Readers
// hold their own copy; the live value is only replaced atomically by the
// reconfiguration protocol while the survey is paused.
type SweepConfig struct {
	StartHz        int64
	EndHz          int64
	StepHz         int64
	Cycles         int
	RecordsPerStep int
	IntervalSec    float64
	MaxJitterSec   float64
}

// Steps is the number of distinct center frequencies one cycle visits:
// ceil((end-start)/step) + 1.
func (s SweepConfig) Steps() int {
	if s.StepHz <= 0 {
		return 0
	}
	span := s.EndHz - s.StartHz
	steps := span / s.StepHz
	if span%s.StepHz != 0 {
		steps++
	}
	return int(steps) + 1
}

// ReceiverConfig is the immutable description of the SDR capture parameters.
// Bandwidth doubles as the sample rate.
type ReceiverConfig struct {
	BandwidthHz int64
	GainDB      int
	DurationSec float64
}

// NumSamples is the number of complex samples a single capture collects.
func (r ReceiverConfig) NumSamples() int {
	return int(r.DurationSec * float64(r.BandwidthHz))
}

// Identity is the process-wide static identity stamped into every metadata
// record. Created once at startup and never mutated.
type Identity struct {
	Hostname     string
	Organization string
	Coordinates  string
	OutputPath   string
	Group        string
}

// NewSweepConfig builds the initial sweep description from the layered
// configuration.
func NewSweepConfig(cfg Config) SweepConfig {
	return SweepConfig{
		StartHz:        cfg.Survey.FrequencyStartHz,
		EndHz:          cfg.Survey.FrequencyEndHz,
		StepHz:         cfg.Survey.BandwidthHz,
		Cycles:         cfg.Survey.Cycles,
		RecordsPerStep: cfg.Survey.Records,
		IntervalSec:    cfg.Survey.IntervalSec,
		MaxJitterSec:   cfg.Survey.MaxJitterSec,
	}
}

// NewReceiverConfig builds the initial receiver description from the layered
// configuration.
func NewReceiverConfig(cfg Config) ReceiverConfig {
	return ReceiverConfig{
		BandwidthHz: cfg.Survey.BandwidthHz,
		GainDB:      cfg.Survey.GainDB,
		DurationSec: cfg.Survey.DurationSec,
	}
}

// NewIdentity builds the process identity. The group id is freshly generated
// per process and ties all of one run's captures together downstream.
func NewIdentity(cfg Config) Identity {
	hostname := cfg.Station.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return Identity{
		Hostname:     hostname,
		Organization: cfg.Station.Organization,
		Coordinates:  cfg.Station.Coordinates,
		OutputPath:   filepath.Clean(cfg.Storage.Path),
		Group:        uuid.NewString(),
	}
}
