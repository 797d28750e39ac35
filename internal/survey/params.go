package survey

import (
	"errors"
	"fmt"
	"math"
)

// Params are the controller-settable survey parameters after validation,
// with limits matching the B200/B210 receiver the fleet deploys.
type Params struct {
	GainDB            int
	DurationSec       float64
	BandwidthHz       int64
	StartFreqHz       int64
	EndFreqHz         int64
	SampleIntervalSec int
}

// Parameter limits.
const (
	minGainDB = 0
	maxGainDB = 76

	minDurationSec = 0.01
	maxDurationSec = 10.0

	minBandwidthHz = 200_000
	maxBandwidthHz = 56_000_000

	minFreqHz = 70_000_000
	maxFreqHz = 6_000_000_000

	minSampleInterval = 1
	maxSampleInterval = 10
)

// ValidateParams checks a raw parameter map from the controller against the
// schema and returns the typed result. The map must contain every field; any
// out-of-range or malformed value fails the whole set, leaving local state
// untouched.
func ValidateParams(raw map[string]any) (*Params, error) {
	if raw == nil {
		return nil, errors.New("parameters missing")
	}

	gain, err := intField(raw, "gain_db", minGainDB, maxGainDB)
	if err != nil {
		return nil, err
	}
	duration, err := floatField(raw, "duration_sec", minDurationSec, maxDurationSec)
	if err != nil {
		return nil, err
	}
	bandwidth, err := int64Field(raw, "bandwidth_hz", minBandwidthHz, maxBandwidthHz)
	if err != nil {
		return nil, err
	}
	startFreq, err := int64Field(raw, "start_freq_hz", minFreqHz, maxFreqHz)
	if err != nil {
		return nil, err
	}
	endFreq, err := int64Field(raw, "end_freq_hz", minFreqHz, maxFreqHz)
	if err != nil {
		return nil, err
	}
	interval, err := intField(raw, "sample_interval", minSampleInterval, maxSampleInterval)
	if err != nil {
		return nil, err
	}

	if endFreq < startFreq {
		return nil, errors.New("end_freq_hz cannot be less than start_freq_hz")
	}

	return &Params{
		GainDB:            gain,
		DurationSec:       duration,
		BandwidthHz:       bandwidth,
		StartFreqHz:       startFreq,
		EndFreqHz:         endFreq,
		SampleIntervalSec: interval,
	}, nil
}

// numField extracts a numeric value. JSON decoding yields float64 for all
// numbers; integers delivered as such (e.g. from TOML-originated tests) are
// accepted too.
func numField(raw map[string]any, name string) (float64, error) {
	v, ok := raw[name]
	if !ok {
		return 0, fmt.Errorf("parameter %s is required", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %s: %v is not a number", name, v)
	}
}

func intField(raw map[string]any, name string, min, max int) (int, error) {
	f, err := numField(raw, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %s: %v is not an integer", name, f)
	}
	n := int(f)
	if n < min || n > max {
		return 0, fmt.Errorf("parameter %s: %d out of range [%d, %d]", name, n, min, max)
	}
	return n, nil
}

func int64Field(raw map[string]any, name string, min, max int64) (int64, error) {
	f, err := numField(raw, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %s: %v is not an integer", name, f)
	}
	n := int64(f)
	if n < min || n > max {
		return 0, fmt.Errorf("parameter %s: %d out of range [%d, %d]", name, n, min, max)
	}
	return n, nil
}

func floatField(raw map[string]any, name string, min, max float64) (float64, error) {
	f, err := numField(raw, name)
	if err != nil {
		return 0, err
	}
	if f < min || f > max {
		return 0, fmt.Errorf("parameter %s: %v out of range [%v, %v]", name, f, min, max)
	}
	return f, nil
}
