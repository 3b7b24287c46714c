package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaProducer wraps a franz-go client for firehose publication.
type KafkaProducer struct {
	client   *kgo.Client
	logger   *logrus.Logger
	clientID string
}

// NewKafkaProducer creates a new Kafka producer
func NewKafkaProducer(brokers []string, clientID string, logger *logrus.Logger) (*KafkaProducer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaProducer{
		client:   client,
		logger:   logger,
		clientID: clientID,
	}, nil
}

func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}

func (p *KafkaProducer) ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	// Add headers if any
	if len(headers) > 0 {
		for k, v := range headers {
			record.Headers = append(record.Headers, kgo.RecordHeader{
				Key:   k,
				Value: []byte(v),
			})
		}
	}

	// Produce with context for timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

func (p *KafkaProducer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *KafkaProducer) GetClient() *kgo.Client {
	return p.client
}

// PublishFirehoseRecord publishes a single accepted sample.
func (p *KafkaProducer) PublishFirehoseRecord(rec *FirehoseRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal firehose record: %w", err)
	}

	headers := map[string]string{
		"source":   rec.Source,
		"event_id": rec.EventID,
	}

	return p.ProduceMessage(TopicTelemetryFirehose, rec.Key(), value, headers)
}

// PublishFirehoseBatch publishes every accepted sample of one ingest
// request in a single produce call. Keying by (event, vehicle) keeps a
// vehicle's samples on one partition, in order.
func (p *KafkaProducer) PublishFirehoseBatch(recs []FirehoseRecord) error {
	if len(recs) == 0 {
		return nil // Nothing to publish
	}

	var records []*kgo.Record
	for i := range recs {
		rec := &recs[i]
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal firehose record %s/%d: %w", rec.VehicleID, rec.TsMs, err)
		}

		records = append(records, &kgo.Record{
			Topic: TopicTelemetryFirehose,
			Key:   rec.Key(),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "source", Value: []byte(rec.Source)},
				{Key: "event_id", Value: []byte(rec.EventID)},
			},
		})
	}

	// Produce all records with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce batch: %w", err)
	}

	return nil
}
