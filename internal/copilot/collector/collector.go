// Package collector fans sensor sources into the durable queue and
// tracks per-source liveness for the local status surface.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/copilot/queue"
	"github.com/waystellar/argusv4-sub001/internal/copilot/sources"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Liveness reflects how recently a source produced data, independent of
// its connection state: a connected-but-silent GPS is still stale.
type Liveness string

const (
	LivenessActive Liveness = "active"
	LivenessStale  Liveness = "stale"
	LivenessNoData Liveness = "no_data"
)

// staleAfter marks a source stale once it has been quiet this long.
const staleAfter = 15 * time.Second

// SourceStatus is one source's view for the status endpoint.
type SourceStatus struct {
	Source   models.Source        `json:"source"`
	Device   sources.DeviceStatus `json:"device_status"`
	Liveness Liveness             `json:"liveness"`
	LastSeen *time.Time           `json:"last_seen,omitempty"`
	Received int64                `json:"received"`
}

// Collector runs every source and persists each message before moving
// on. Enqueue is the durability boundary: a message handed to the queue
// survives power loss, one that fails to enqueue is counted and logged.
type Collector struct {
	queue  *queue.Queue
	srcs   []sources.Source
	logger logging.Logger

	mu       sync.Mutex
	lastSeen map[models.Source]time.Time
	received map[models.Source]int64
	failed   int64
}

// New builds a collector over the given sources.
func New(q *queue.Queue, srcs []sources.Source, logger logging.Logger) *Collector {
	return &Collector{
		queue:    q,
		srcs:     srcs,
		logger:   logger,
		lastSeen: make(map[models.Source]time.Time),
		received: make(map[models.Source]int64),
	}
}

// Run starts one goroutine per source and consumes until the context
// ends. It returns after all source goroutines have stopped.
func (c *Collector) Run(ctx context.Context) {
	out := make(chan sources.Message, 256)

	var wg sync.WaitGroup
	for _, src := range c.srcs {
		wg.Add(1)
		go func(src sources.Source) {
			defer wg.Done()
			src.Run(ctx, out)
		}(src)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case msg := <-out:
			c.handle(msg)
		}
	}
}

func (c *Collector) handle(msg sources.Message) {
	err := c.queue.Enqueue(queue.Record{
		TsMs:    msg.TsMs,
		Source:  msg.Source,
		Payload: msg.Payload,
	})

	c.mu.Lock()
	if err != nil {
		c.failed++
	} else {
		c.lastSeen[msg.Source] = time.Now()
		c.received[msg.Source]++
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WithField("source", msg.Source).WithError(err).Error("Failed to enqueue sensor record")
	}
}

// Snapshot reports every source's device status and liveness.
func (c *Collector) Snapshot() []SourceStatus {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SourceStatus, 0, len(c.srcs))
	for _, src := range c.srcs {
		st := SourceStatus{
			Source:   src.Name(),
			Device:   src.Status(),
			Liveness: LivenessNoData,
			Received: c.received[src.Name()],
		}
		if seen, ok := c.lastSeen[src.Name()]; ok {
			t := seen
			st.LastSeen = &t
			if now.Sub(seen) < staleAfter {
				st.Liveness = LivenessActive
			} else {
				st.Liveness = LivenessStale
			}
		}
		out = append(out, st)
	}
	return out
}

// EnqueueFailures returns the count of records lost at the queue
// boundary since startup.
func (c *Collector) EnqueueFailures() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}
