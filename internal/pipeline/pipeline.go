// Package pipeline decouples capture from storage and publishing. Jobs flow
// through a bounded in-memory queue from the sweep runner to a single worker
// that writes the sc16 file, computes its checksum, and publishes the
// metadata record. The queue keeps the capture path free of disk and network
// latency; when it stays full for the one-second put timeout, the capture is
// dropped rather than holding up the ones behind it.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cuswiftpass/rf-survey/internal/config"
	"github.com/cuswiftpass/rf-survey/internal/producer"
	"github.com/cuswiftpass/rf-survey/internal/receiver"
	"github.com/cuswiftpass/rf-survey/internal/telemetry"
)

const (
	// queueCapacity bounds in-flight jobs between capture and publish.
	queueCapacity = 32

	// putTimeout is how long a capture waits for queue space before the job
	// is dropped.
	putTimeout = 1 * time.Second

	// warnDepth is the backlog level logged as a warning on enqueue.
	warnDepth = queueCapacity * 8 / 10
)

// ErrQueueFull is returned by Put when no queue slot frees up within the put
// timeout. The caller drops the job and moves on.
var ErrQueueFull = errors.New("pipeline: queue full")

// Job carries one capture plus snapshots of the configurations that produced
// it. The snapshots are copies by value: the live configs may be swapped by
// reconfiguration before the job is processed.
type Job struct {
	Raw            receiver.RawCapture
	ReceiverConfig config.ReceiverConfig
	SweepConfig    config.SweepConfig
	Serial         string
}

// Publisher is the slice of the producer the worker needs.
type Publisher interface {
	Publish(rec producer.MetadataRecord) error
}

// Pipeline owns the bounded queue and the processing worker.
type Pipeline struct {
	log      *log.Logger
	identity config.Identity
	pub      Publisher
	metrics  telemetry.Recorder
	hub      *telemetry.Hub

	jobs chan Job
}

// New creates a pipeline. hub may be nil when telemetry is disabled.
func New(identity config.Identity, pub Publisher, metrics telemetry.Recorder, hub *telemetry.Hub, logger *log.Logger) *Pipeline {
	return &Pipeline{
		log:      logger,
		identity: identity,
		pub:      pub,
		metrics:  metrics,
		hub:      hub,
		jobs:     make(chan Job, queueCapacity),
	}
}

// Put enqueues a job, waiting up to one second for space. On timeout it
// returns ErrQueueFull and the job is lost; captures behind it are not held
// up.
func (p *Pipeline) Put(ctx context.Context, job Job) error {
	timer := time.NewTimer(putTimeout)
	defer timer.Stop()

	select {
	case p.jobs <- job:
		depth := len(p.jobs)
		p.metrics.QueueDepth(depth)
		if depth >= warnDepth {
			p.log.Printf("pipeline: queue backlog at %d/%d", depth, queueCapacity)
		}
		return nil
	case <-timer.C:
		p.metrics.CaptureDropped()
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the current queue depth.
func (p *Pipeline) Len() int { return len(p.jobs) }

// Run consumes jobs until ctx is cancelled, then drains whatever remains in
// the queue before returning. Per-job failures are logged and never stop the
// worker: a capture that made it into the queue is either published or its
// failure is on the record.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Printf("pipeline: worker started, queue capacity %d", queueCapacity)

	for {
		select {
		case job := <-p.jobs:
			p.process(job)
			p.metrics.QueueDepth(len(p.jobs))
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		}
	}
}

// drain processes every job still queued at shutdown.
func (p *Pipeline) drain() {
	n := len(p.jobs)
	if n > 0 {
		p.log.Printf("pipeline: draining %d queued jobs before exit", n)
	}
	for {
		select {
		case job := <-p.jobs:
			p.process(job)
		default:
			p.metrics.QueueDepth(0)
			return
		}
	}
}

// process writes the capture file, checksums it, and publishes the metadata
// record.
func (p *Pipeline) process(job Job) {
	path := filepath.Join(p.identity.OutputPath, Filename(job.Serial, p.identity.Hostname, job.Raw.Timestamp))

	checksum, err := writeCapture(path, job.Raw.IQData)
	if err != nil {
		p.log.Printf("pipeline: write %s: %v", path, err)
		p.metrics.PublishFailed()
		return
	}

	rec := producer.MetadataRecord{
		Hostname:     p.identity.Hostname,
		Organization: p.identity.Organization,
		Coordinates:  p.identity.Coordinates,
		Group:        p.identity.Group,
		Serial:       job.Serial,
		BitDepth:     16,
		IntervalSec:  job.SweepConfig.IntervalSec,
		LengthSec:    job.ReceiverConfig.DurationSec,
		GainDB:       job.ReceiverConfig.GainDB,
		SamplingRate: job.ReceiverConfig.BandwidthHz,
		FrequencyHz:  job.Raw.CenterFreqHz,
		Timestamp:    job.Raw.Timestamp,
		FilePath:     path,
		Checksum:     checksum,
	}

	if err := p.pub.Publish(rec); err != nil {
		p.log.Printf("pipeline: publish for %s failed: %v", path, err)
		p.metrics.PublishFailed()
		return
	}
	p.metrics.Published()

	if p.hub != nil {
		p.hub.BroadcastJSON(telemetry.CaptureEvent{
			Event:       telemetry.Event{Type: telemetry.EventCapture, TS: telemetry.NowTS()},
			FrequencyHz: job.Raw.CenterFreqHz,
			File:        filepath.Base(path),
			Bytes:       len(job.Raw.IQData),
		})
	}
}

// Filename renders the capture filename:
// <serial>-<hostname>-D<YYYYMMDD>T<HHMMSS>M<microseconds>.sc16
func Filename(serial, hostname string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s-%s-D%sM%06d.sc16",
		serial, hostname, ts.Format("20060102T150405"), ts.Nanosecond()/1000)
}

// writeCapture stores the sc16 bytes at path and returns their hex-encoded
// sha256 checksum. The checksum is computed over the same bytes written, not
// re-read from disk.
func writeCapture(path string, data []byte) (string, error) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
