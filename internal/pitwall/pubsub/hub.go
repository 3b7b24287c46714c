package pubsub

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/redis"
)

// subscriberBuffer absorbs fan-out bursts. A subscriber that falls this
// far behind loses events rather than stalling the hub; SSE clients
// recover via Last-Event-ID.
const subscriberBuffer = 64

// Hub fans one Redis subscription per race event out to the local SSE
// connections. The Redis subscription exists only while the event has
// local subscribers.
type Hub struct {
	client goredis.UniversalClient
	logger logging.Logger

	mu     sync.Mutex
	events map[string]*eventFanout
}

type eventFanout struct {
	cancel context.CancelFunc
	subs   map[chan models.StreamEvent]struct{}
}

// NewHub builds a hub.
func NewHub(client goredis.UniversalClient, logger logging.Logger) *Hub {
	return &Hub{
		client: client,
		logger: logger,
		events: make(map[string]*eventFanout),
	}
}

// Subscribe attaches a local subscriber to the event's channel. The
// returned cancel function detaches it and must be called; the last
// detach closes the Redis subscription.
func (h *Hub) Subscribe(eventID string) (<-chan models.StreamEvent, func()) {
	ch := make(chan models.StreamEvent, subscriberBuffer)

	h.mu.Lock()
	fan, ok := h.events[eventID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		fan = &eventFanout{
			cancel: cancel,
			subs:   make(map[chan models.StreamEvent]struct{}),
		}
		h.events[eventID] = fan
		go h.run(ctx, eventID)
	}
	fan.subs[ch] = struct{}{}
	h.mu.Unlock()

	once := sync.Once{}
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			fan, ok := h.events[eventID]
			if !ok {
				return
			}
			delete(fan.subs, ch)
			if len(fan.subs) == 0 {
				fan.cancel()
				delete(h.events, eventID)
			}
		})
	}
	return ch, unsubscribe
}

// Subscribers reports the local subscriber count for an event.
func (h *Hub) Subscribers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	fan, ok := h.events[eventID]
	if !ok {
		return 0
	}
	return len(fan.subs)
}

func (h *Hub) run(ctx context.Context, eventID string) {
	ps := redis.NewTypedPubSub[models.StreamEvent](h.client)
	err := ps.Subscribe(ctx, channel(eventID), func(ev models.StreamEvent) {
		h.fanout(eventID, ev)
	})
	if err != nil && ctx.Err() == nil {
		h.logger.WithField("event_id", eventID).WithError(err).Error("Stream subscription failed")
	}
}

func (h *Hub) fanout(eventID string, ev models.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fan, ok := h.events[eventID]
	if !ok {
		return
	}
	for ch := range fan.subs {
		select {
		case ch <- ev:
		default:
			h.logger.WithFields(logging.Fields{
				"event_id": eventID,
				"seq":      ev.Seq,
			}).Warn("Dropping stream event for slow subscriber")
		}
	}
}
