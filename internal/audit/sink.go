// Package audit publishes fleet lifecycle events (objects appearing and
// disappearing, connection state changes, command outcomes) to Kafka as
// JSON records. The sink is optional: a nil *Sink discards everything.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"flightworks/gcs/pkg/logging"
)

// closeFlushTimeout bounds the final flush on shutdown.
const closeFlushTimeout = 3 * time.Second

// Event is one audit record.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink publishes audit events to one Kafka topic.
type Sink struct {
	client *kgo.Client
	logger logging.Logger
	topic  string
	source string
}

// NewSink creates an audit sink. Returns nil (a valid, discarding sink)
// when no brokers are configured.
func NewSink(brokers []string, topic, source string, logger logging.Logger) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(source),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Sink{client: client, logger: logger, topic: topic, source: source}, nil
}

// Publish emits one audit event asynchronously. Delivery failures are
// logged and dropped; the audit trail never blocks the fleet path.
func (s *Sink) Publish(eventType string, data map[string]any) {
	if s == nil {
		return
	}

	event := Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Source:    s.source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal audit event")
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.EventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "source", Value: []byte(s.source)},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	s.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.WithError(err).WithField("event_type", eventType).Warn("Audit event delivery failed")
		}
	})
}

// HealthCheck pings the brokers.
func (s *Sink) HealthCheck(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// Close flushes buffered records with a bounded deadline and releases
// the client.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("Audit flush incomplete at shutdown")
	}
	s.client.Close()
	return nil
}

// Client exposes the underlying kgo client for broker health checks.
func (s *Sink) Client() *kgo.Client {
	if s == nil {
		return nil
	}
	return s.client
}
