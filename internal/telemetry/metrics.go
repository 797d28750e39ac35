package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuswiftpass/rf-survey/internal/config"
)

// Recorder is the metrics contract the survey components write through. The
// prometheus-backed Metrics implements it when telemetry is enabled; Nop is
// used otherwise.
type Recorder interface {
	QueueDepth(n int)
	CaptureOK()
	CaptureFailed()
	CaptureDropped()
	Published()
	PublishFailed()
	CycleCompleted()
	ObserveSweepConfig(cfg config.SweepConfig)
	ObserveReceiverConfig(cfg config.ReceiverConfig)
}

// Metrics exposes survey gauges and counters on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth      prometheus.Gauge
	capturesTotal   prometheus.Counter
	captureFailures prometheus.Counter
	captureDrops    prometheus.Counter
	publishedTotal  prometheus.Counter
	publishFailures prometheus.Counter
	cyclesTotal     prometheus.Counter

	cfgStartHz        prometheus.Gauge
	cfgEndHz          prometheus.Gauge
	cfgStepHz         prometheus.Gauge
	cfgIntervalSec    prometheus.Gauge
	cfgRecordsPerStep prometheus.Gauge
	rxBandwidthHz     prometheus.Gauge
	rxGainDB          prometheus.Gauge
	rxDurationSec     prometheus.Gauge
}

// NewMetrics builds the survey metric set and stamps build info.
func NewMetrics(version, hostname string) *Metrics {
	reg := prometheus.NewRegistry()

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rf_survey_build_info",
		Help: "Host and version information for the agent",
	}, []string{"version", "hostname"})
	buildInfo.WithLabelValues(version, hostname).Set(1)
	reg.MustRegister(buildInfo)

	m := &Metrics{
		registry: reg,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_processing_queue_size",
			Help: "Number of jobs in the processing queue",
		}),
		capturesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_captures_total",
			Help: "Captures successfully enqueued for processing",
		}),
		captureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_capture_failures_total",
			Help: "Captures that failed at the receiver",
		}),
		captureDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_capture_drops_total",
			Help: "Captures dropped because the processing queue was full",
		}),
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_metadata_published_total",
			Help: "Metadata records published to the bus",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_metadata_publish_failures_total",
			Help: "Metadata records that failed to publish",
		}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rf_survey_cycles_total",
			Help: "Completed sweep cycles",
		}),
		cfgStartHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_config_start_hz",
			Help: "Current start frequency of the sweep in Hz",
		}),
		cfgEndHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_config_end_hz",
			Help: "Current end frequency of the sweep in Hz",
		}),
		cfgStepHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_config_step_hz",
			Help: "Current step frequency of the sweep in Hz",
		}),
		cfgIntervalSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_config_interval_sec",
			Help: "Current interval between captures in seconds",
		}),
		cfgRecordsPerStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_config_records_per_step",
			Help: "Records captured at each frequency step",
		}),
		rxBandwidthHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_receiver_bandwidth_hz",
			Help: "Current receiver bandwidth in Hz",
		}),
		rxGainDB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_receiver_gain_db",
			Help: "Current receiver gain in dB",
		}),
		rxDurationSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rf_survey_receiver_duration_sec",
			Help: "Current capture duration in seconds",
		}),
	}

	reg.MustRegister(
		m.queueDepth, m.capturesTotal, m.captureFailures, m.captureDrops,
		m.publishedTotal, m.publishFailures, m.cyclesTotal,
		m.cfgStartHz, m.cfgEndHz, m.cfgStepHz, m.cfgIntervalSec, m.cfgRecordsPerStep,
		m.rxBandwidthHz, m.rxGainDB, m.rxDurationSec,
	)
	return m
}

// Registry returns the metric registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func (m *Metrics) CaptureOK() { m.capturesTotal.Inc() }

func (m *Metrics) CaptureFailed() { m.captureFailures.Inc() }

func (m *Metrics) CaptureDropped() { m.captureDrops.Inc() }

func (m *Metrics) Published() { m.publishedTotal.Inc() }

func (m *Metrics) PublishFailed() { m.publishFailures.Inc() }

func (m *Metrics) CycleCompleted() { m.cyclesTotal.Inc() }

func (m *Metrics) ObserveSweepConfig(cfg config.SweepConfig) {
	m.cfgStartHz.Set(float64(cfg.StartHz))
	m.cfgEndHz.Set(float64(cfg.EndHz))
	m.cfgStepHz.Set(float64(cfg.StepHz))
	m.cfgIntervalSec.Set(cfg.IntervalSec)
	m.cfgRecordsPerStep.Set(float64(cfg.RecordsPerStep))
}

func (m *Metrics) ObserveReceiverConfig(cfg config.ReceiverConfig) {
	m.rxBandwidthHz.Set(float64(cfg.BandwidthHz))
	m.rxGainDB.Set(float64(cfg.GainDB))
	m.rxDurationSec.Set(cfg.DurationSec)
}

// Nop is the Recorder used when telemetry is disabled.
type Nop struct{}

func (Nop) QueueDepth(int) {}

func (Nop) CaptureOK() {}

func (Nop) CaptureFailed() {}

func (Nop) CaptureDropped() {}

func (Nop) Published() {}

func (Nop) PublishFailed() {}

func (Nop) CycleCompleted() {}

func (Nop) ObserveSweepConfig(config.SweepConfig) {}

func (Nop) ObserveReceiverConfig(config.ReceiverConfig) {}

var _ Recorder = Nop{}
var _ Recorder = (*Metrics)(nil)
