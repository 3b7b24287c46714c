package queue

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

func newTestQueue(t *testing.T, maxSize int, maxBytes int64) *Queue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue.db")
	cfg.MaxSize = maxSize
	cfg.MaxBytes = maxBytes

	q, err := Open(cfg, logging.NewLogger())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func rec(tsMs int64, payload string) Record {
	return Record{TsMs: tsMs, Source: models.SourceGPS, Payload: []byte(payload)}
}

func TestEnqueueDequeueRemove(t *testing.T) {
	q := newTestQueue(t, 1000, 1<<20)

	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(rec(i*1000, "payload")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := q.DequeueBatch(10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d records, want 3", len(batch))
	}
	if batch[0].TsMs != 1000 || batch[2].TsMs != 3000 {
		t.Fatalf("records out of FIFO order: %v %v", batch[0].TsMs, batch[2].TsMs)
	}
	if !bytes.Equal(batch[0].Payload, []byte("payload")) {
		t.Fatalf("payload corrupted")
	}

	// Dequeue does not remove.
	if q.Len() != 3 {
		t.Fatalf("dequeue removed records: len=%d", q.Len())
	}

	ids := []int64{batch[0].ID, batch[1].ID}
	if err := q.Remove(ids); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("after remove len=%d, want 1", q.Len())
	}

	// Remove is idempotent.
	if err := q.Remove(ids); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("idempotent remove changed len to %d", q.Len())
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue.db")
	logger := logging.NewLogger()

	q, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := q.Enqueue(rec(1000, "survives")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q2, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()

	if q2.Len() != 1 {
		t.Fatalf("record lost across reopen: len=%d", q2.Len())
	}
	batch, err := q2.DequeueBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("dequeue after reopen: %v, %d records", err, len(batch))
	}
	if string(batch[0].Payload) != "survives" {
		t.Fatalf("payload lost across reopen")
	}
}

func TestCountCapDropsOldest(t *testing.T) {
	q := newTestQueue(t, 200, 1<<30)

	for i := int64(0); i < 250; i++ {
		if err := q.Enqueue(rec(i, "x")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	if q.Len() > 200 {
		t.Fatalf("count cap violated: len=%d", q.Len())
	}

	// The survivors must be the newest records.
	batch, err := q.DequeueBatch(1)
	if err != nil || len(batch) == 0 {
		t.Fatalf("dequeue: %v", err)
	}
	if batch[0].TsMs < 100 {
		t.Fatalf("oldest record %d survived the drop", batch[0].TsMs)
	}
}

func TestByteCapDropsOldest(t *testing.T) {
	payload := make([]byte, 1024)
	q := newTestQueue(t, 100000, 64*1024)

	for i := int64(0); i < 100; i++ {
		if err := q.Enqueue(Record{TsMs: i, Source: models.SourceCAN, Payload: payload}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	if q.Bytes() > 64*1024 {
		t.Fatalf("byte cap violated: %d bytes", q.Bytes())
	}
	if q.Len() == 0 {
		t.Fatalf("queue emptied entirely")
	}
}

func TestCorruptFileQuarantinedAndReplaced(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(dir, "queue.db")

	if err := os.WriteFile(cfg.Path, []byte("this is not a sqlite database and has enough bytes to carry a bogus header"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	q, err := Open(cfg, logging.NewLogger())
	if err != nil {
		t.Fatalf("open over corrupt file: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(rec(1000, "fresh")); err != nil {
		t.Fatalf("enqueue on fresh queue: %v", err)
	}

	// The old file must be preserved under a dated suffix.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	quarantined := false
	for _, e := range entries {
		if len(e.Name()) > len("queue.db") && e.Name() != "queue.db" &&
			filepath.Ext(e.Name()) != ".db" {
			quarantined = true
		}
	}
	if !quarantined {
		t.Fatalf("corrupt file was not preserved: %v", entries)
	}
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := newTestQueue(t, 10000, 1<<30)

	done := make(chan error, 2)
	go func() {
		for i := int64(0); i < 200; i++ {
			if err := q.Enqueue(rec(i, "concurrent")); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	go func() {
		for i := 0; i < 50; i++ {
			if _, err := q.DequeueBatch(10); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent access: %v", err)
		}
	}
	if q.Len() != 200 {
		t.Fatalf("len=%d, want 200", q.Len())
	}
}
