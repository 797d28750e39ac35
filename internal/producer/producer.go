// Package producer publishes one metadata envelope per capture onto the
// message bus. The envelope schema is versioned so downstream indexers can
// evolve independently of the agent.
package producer

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// EnvelopeType identifies capture-metadata messages on the bus.
const EnvelopeType = "rf.capture.metadata"

// EnvelopeVersion is bumped when the record schema changes incompatibly.
const EnvelopeVersion = 1

// MetadataRecord describes one stored capture file. Field names match the
// ingest schema used by the downstream file indexer.
type MetadataRecord struct {
	Hostname     string    `json:"hostname"`
	Organization string    `json:"organization"`
	Coordinates  string    `json:"gcs"`
	Group        string    `json:"group"`
	Serial       string    `json:"serial"`
	BitDepth     int       `json:"bit_depth"`
	IntervalSec  float64   `json:"interval"`
	LengthSec    float64   `json:"length"`
	GainDB       int       `json:"gain"`
	SamplingRate int64     `json:"sampling_rate"`
	FrequencyHz  int64     `json:"frequency"`
	Timestamp    time.Time `json:"timestamp"`
	FilePath     string    `json:"source_sc16_path"`
	Checksum     string    `json:"checksum"`
}

// Envelope is the wire wrapper around a metadata record.
type Envelope struct {
	Version int            `json:"version"`
	Type    string         `json:"type"`
	Record  MetadataRecord `json:"record"`
}

// Producer publishes metadata records to a per-host NATS subject.
type Producer struct {
	log     *log.Logger
	url     string
	token   string
	subject string

	nc *nats.Conn
}

// New creates a disconnected producer. Call Connect before publishing.
func New(url, token, subject string, logger *log.Logger) *Producer {
	return &Producer{
		log:     logger,
		url:     url,
		token:   token,
		subject: subject,
	}
}

// Connect dials the NATS server. Reconnects are handled by the client with
// unlimited retries so a bus outage never kills the survey.
func (p *Producer) Connect() error {
	opts := []nats.Option{
		nats.Name("rfsurveyd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.log.Printf("producer: nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.log.Printf("producer: nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if p.token != "" {
		opts = append(opts, nats.Token(p.token))
	}

	nc, err := nats.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.url, err)
	}
	p.nc = nc
	p.log.Printf("producer: connected to %s, subject %s", p.url, p.subject)
	return nil
}

// Publish wraps the record in a versioned envelope and publishes it.
func (p *Producer) Publish(rec MetadataRecord) error {
	if p.nc == nil {
		return fmt.Errorf("producer: not connected")
	}

	b, err := json.Marshal(Envelope{
		Version: EnvelopeVersion,
		Type:    EnvelopeType,
		Record:  rec,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.nc.Publish(p.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Subject returns the subject records publish to.
func (p *Producer) Subject() string { return p.subject }

// Close drains the connection so buffered publishes flush before shutdown.
func (p *Producer) Close() error {
	if p.nc == nil {
		return nil
	}
	defer func() { p.nc = nil }()
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
