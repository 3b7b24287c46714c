// Package archive drains the telemetry firehose into ClickHouse.
// Records batch in memory and flush on size or interval; a record that
// cannot be decoded goes to the DLQ and is committed, while a sink
// failure propagates so the consumer blocks the partition and retries
// after restart. At-least-once into an append-only table is the deal.
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
)

// consumerName tags DLQ payloads with their origin.
const consumerName = "blackbox-archiver"

// Sink is the archive table writer. *ClickHouseSink satisfies it.
type Sink interface {
	InsertBatch(ctx context.Context, rows []kafka.FirehoseRecord) error
}

// DLQ publishes undecodable records. *kafka.KafkaProducer satisfies it.
type DLQ interface {
	ProduceMessage(topic string, key, value []byte, headers map[string]string) error
}

// Config tunes batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig reads tuning from the environment.
func DefaultConfig() Config {
	return Config{
		BatchSize:     config.GetEnvInt("ARCHIVE_BATCH_SIZE", 500),
		FlushInterval: config.GetEnvDuration("ARCHIVE_FLUSH_INTERVAL", 2*time.Second),
	}
}

// Archiver consumes firehose records and writes archive batches.
type Archiver struct {
	sink   Sink
	dlq    DLQ
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	pending []kafka.FirehoseRecord

	archived int64
	deadLet  int64
}

// New builds an archiver. dlq may be nil; undecodable records are then
// dropped with a log line instead of dead-lettered.
func New(sink Sink, dlq DLQ, cfg Config, logger logging.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Archiver{
		sink:    sink,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logger,
		pending: make([]kafka.FirehoseRecord, 0, cfg.BatchSize),
	}
}

// Handle is the consumer callback for the firehose topic. Returning an
// error blocks the partition; decode failures never do.
func (a *Archiver) Handle(ctx context.Context, msg kafka.Message) error {
	var rec kafka.FirehoseRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		a.deadLetter(msg, err)
		return nil
	}
	if rec.EventID == "" || rec.VehicleID == "" || rec.TsMs <= 0 {
		a.deadLetter(msg, errs.New(errs.InvalidInput, "record missing event_id, vehicle_id, or ts_ms"))
		return nil
	}

	a.mu.Lock()
	a.pending = append(a.pending, rec)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush writes the pending batch. On sink failure the records stay
// pending for the next attempt.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.pending
	a.pending = make([]kafka.FirehoseRecord, 0, a.cfg.BatchSize)
	a.mu.Unlock()

	if err := a.sink.InsertBatch(ctx, batch); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return errs.Wrap(errs.TransientUpstream, "archive batch insert", err)
	}

	a.mu.Lock()
	a.archived += int64(len(batch))
	a.mu.Unlock()

	a.logger.WithField("rows", len(batch)).Debug("Archived telemetry batch")
	return nil
}

// Run flushes on an interval until the context ends, then drains once.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(drainCtx); err != nil {
				a.logger.WithError(err).Warn("Final archive flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.WithError(err).Warn("Archive flush failed, batch retained")
			}
		}
	}
}

// Archived reports rows written since start.
func (a *Archiver) Archived() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archived
}

// DeadLettered reports records routed to the DLQ since start.
func (a *Archiver) DeadLettered() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deadLet
}

func (a *Archiver) deadLetter(msg kafka.Message, cause error) {
	a.mu.Lock()
	a.deadLet++
	a.mu.Unlock()

	fields := logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}
	if a.dlq == nil {
		a.logger.WithFields(fields).WithError(cause).Warn("Dropping undecodable firehose record, no DLQ configured")
		return
	}

	payload, err := kafka.EncodeDLQMessage(msg, cause, consumerName)
	if err != nil {
		a.logger.WithFields(fields).WithError(err).Error("Failed to encode DLQ payload")
		return
	}
	if err := a.dlq.ProduceMessage(kafka.TopicTelemetryDLQ, msg.Key, payload, nil); err != nil {
		a.logger.WithFields(fields).WithError(err).Error("Failed to publish DLQ record")
		return
	}
	a.logger.WithFields(fields).WithError(cause).Warn("Firehose record dead-lettered")
}
