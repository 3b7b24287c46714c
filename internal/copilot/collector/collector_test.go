package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/copilot/queue"
	"github.com/waystellar/argusv4-sub001/internal/copilot/sources"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// scriptedSource emits a fixed set of messages then blocks.
type scriptedSource struct {
	name   models.Source
	status sources.DeviceStatus
	msgs   []sources.Message
}

func (s *scriptedSource) Name() models.Source          { return s.name }
func (s *scriptedSource) Status() sources.DeviceStatus { return s.status }

func (s *scriptedSource) Run(ctx context.Context, out chan<- sources.Message) {
	for _, m := range s.msgs {
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
	<-ctx.Done()
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	cfg := queue.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue.db")
	q, err := queue.Open(cfg, logging.NewLogger())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestMessagesReachQueue(t *testing.T) {
	q := newTestQueue(t)

	gps := &scriptedSource{
		name:   models.SourceGPS,
		status: sources.StatusConnected,
		msgs: []sources.Message{
			{Source: models.SourceGPS, TsMs: 1000, Payload: []byte(`{"ts_ms":1000}`)},
			{Source: models.SourceGPS, TsMs: 2000, Payload: []byte(`{"ts_ms":2000}`)},
		},
	}

	c := New(q, []sources.Source{gps}, logging.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return q.Len() == 2 })

	batch, err := q.DequeueBatch(10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if batch[0].TsMs != 1000 || batch[1].TsMs != 2000 {
		t.Fatalf("records out of order: %v %v", batch[0].TsMs, batch[1].TsMs)
	}

	cancel()
	<-done
}

func TestSnapshotLiveness(t *testing.T) {
	q := newTestQueue(t)

	gps := &scriptedSource{
		name:   models.SourceGPS,
		status: sources.StatusConnected,
		msgs: []sources.Message{
			{Source: models.SourceGPS, TsMs: 1000, Payload: []byte(`{"ts_ms":1000}`)},
		},
	}
	ant := &scriptedSource{name: models.SourceANT, status: sources.StatusMissing}

	c := New(q, []sources.Source{gps, ant}, logging.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return q.Len() == 1 })

	byName := map[models.Source]SourceStatus{}
	for _, st := range c.Snapshot() {
		byName[st.Source] = st
	}

	gpsStatus := byName[models.SourceGPS]
	if gpsStatus.Liveness != LivenessActive {
		t.Fatalf("gps liveness = %s, want active", gpsStatus.Liveness)
	}
	if gpsStatus.LastSeen == nil || gpsStatus.Received != 1 {
		t.Fatalf("gps counters wrong: %+v", gpsStatus)
	}

	antStatus := byName[models.SourceANT]
	if antStatus.Liveness != LivenessNoData {
		t.Fatalf("ant liveness = %s, want no_data", antStatus.Liveness)
	}
	if antStatus.Device != sources.StatusMissing {
		t.Fatalf("ant device = %s, want missing", antStatus.Device)
	}
	if antStatus.LastSeen != nil {
		t.Fatalf("ant has last_seen despite no data")
	}
}

func TestStaleAfterQuietPeriod(t *testing.T) {
	q := newTestQueue(t)
	gps := &scriptedSource{name: models.SourceGPS, status: sources.StatusConnected}
	c := New(q, []sources.Source{gps}, logging.NewLogger())

	// Backdate the last message past the staleness horizon.
	c.mu.Lock()
	c.lastSeen[models.SourceGPS] = time.Now().Add(-staleAfter - time.Second)
	c.received[models.SourceGPS] = 5
	c.mu.Unlock()

	st := c.Snapshot()[0]
	if st.Liveness != LivenessStale {
		t.Fatalf("liveness = %s, want stale", st.Liveness)
	}
}
