package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
)

type fakeSink struct {
	batches [][]kafka.FirehoseRecord
	fail    bool
}

func (f *fakeSink) InsertBatch(ctx context.Context, rows []kafka.FirehoseRecord) error {
	if f.fail {
		return errors.New("clickhouse unavailable")
	}
	batch := make([]kafka.FirehoseRecord, len(rows))
	copy(batch, rows)
	f.batches = append(f.batches, batch)
	return nil
}

type fakeDLQ struct {
	topics   []string
	payloads [][]byte
}

func (f *fakeDLQ) ProduceMessage(topic string, key, value []byte, headers map[string]string) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, value)
	return nil
}

func record(vehicleID string, tsMs int64) kafka.FirehoseRecord {
	return kafka.FirehoseRecord{
		EventID:   "evt-1",
		VehicleID: vehicleID,
		Source:    "gps",
		TsMs:      tsMs,
		Lat:       34.1,
		Lon:       -116.3,
	}
}

func message(t *testing.T, rec kafka.FirehoseRecord) kafka.Message {
	t.Helper()
	value, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return kafka.Message{Topic: kafka.TopicTelemetryFirehose, Value: value, Key: rec.Key()}
}

func TestBatchFlushesAtSize(t *testing.T) {
	sink := &fakeSink{}
	a := New(sink, nil, Config{BatchSize: 3, FlushInterval: time.Hour}, logging.NewLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Handle(ctx, message(t, record("veh-1", int64(1000+i)))); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("batches = %v", sink.batches)
	}
	if a.Archived() != 3 {
		t.Fatalf("archived = %d, want 3", a.Archived())
	}
}

func TestFlushWritesPartialBatch(t *testing.T) {
	sink := &fakeSink{}
	a := New(sink, nil, Config{BatchSize: 100, FlushInterval: time.Hour}, logging.NewLogger())
	ctx := context.Background()

	if err := a.Handle(ctx, message(t, record("veh-1", 1000))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.batches) != 0 {
		t.Fatal("flushed before size or interval")
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Fatalf("batches = %v", sink.batches)
	}
}

func TestUndecodableRecordDeadLettersAndCommits(t *testing.T) {
	sink := &fakeSink{}
	dlq := &fakeDLQ{}
	a := New(sink, dlq, Config{BatchSize: 10, FlushInterval: time.Hour}, logging.NewLogger())
	ctx := context.Background()

	msg := kafka.Message{Topic: kafka.TopicTelemetryFirehose, Value: []byte("{not json"), Offset: 42}
	if err := a.Handle(ctx, msg); err != nil {
		t.Fatalf("decode failure must not block the partition: %v", err)
	}

	if len(dlq.topics) != 1 || dlq.topics[0] != kafka.TopicTelemetryDLQ {
		t.Fatalf("dlq topics = %v", dlq.topics)
	}
	var payload kafka.DLQPayload
	if err := json.Unmarshal(dlq.payloads[0], &payload); err != nil {
		t.Fatalf("dlq payload: %v", err)
	}
	if payload.Consumer != consumerName || payload.Offset != 42 {
		t.Fatalf("dlq payload = %+v", payload)
	}
	if a.DeadLettered() != 1 {
		t.Fatalf("dead lettered = %d", a.DeadLettered())
	}
}

func TestRecordMissingIdentityDeadLetters(t *testing.T) {
	sink := &fakeSink{}
	dlq := &fakeDLQ{}
	a := New(sink, dlq, Config{BatchSize: 10, FlushInterval: time.Hour}, logging.NewLogger())

	rec := record("", 1000)
	if err := a.Handle(context.Background(), message(t, rec)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dlq.topics) != 1 {
		t.Fatalf("want 1 dlq record, got %d", len(dlq.topics))
	}
	if len(sink.batches) != 0 {
		t.Fatal("invalid record reached the sink")
	}
}

func TestSinkFailureBlocksAndRetains(t *testing.T) {
	sink := &fakeSink{fail: true}
	a := New(sink, nil, Config{BatchSize: 2, FlushInterval: time.Hour}, logging.NewLogger())
	ctx := context.Background()

	if err := a.Handle(ctx, message(t, record("veh-1", 1000))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// Second record fills the batch; the failing sink must surface an
	// error so the consumer does not commit past these offsets.
	err := a.Handle(ctx, message(t, record("veh-1", 2000)))
	if err == nil {
		t.Fatal("sink failure swallowed")
	}

	// Recovery: the retained batch flushes once the sink heals.
	sink.fail = false
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("batches after recovery = %v", sink.batches)
	}
}
