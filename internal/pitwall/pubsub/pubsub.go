// Package pubsub distributes stream events per race event: a Redis
// channel for fan-out across pitwall instances, a monotonic seq counter,
// and a bounded replay buffer so SSE clients can resume with
// Last-Event-ID across reconnects and even process restarts within the
// TTL window.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/redis"
)

// Config bounds the replay window.
type Config struct {
	// ReplaySize is the number of buffered events per race event.
	ReplaySize int64
	// TTL expires the seq counter and buffer after the event goes
	// quiet. Within the window seqs stay monotonic across restarts.
	TTL time.Duration
}

// DefaultConfig reads replay bounds from the environment.
func DefaultConfig() Config {
	return Config{
		ReplaySize: config.GetEnvInt64("REPLAY_BUFFER_SIZE", 1000),
		TTL:        config.GetEnvDuration("REPLAY_TTL", 2*time.Hour),
	}
}

func seqKey(eventID string) string    { return "stream:" + eventID + ":seq" }
func bufferKey(eventID string) string { return "stream:" + eventID + ":buffer" }
func channel(eventID string) string   { return "stream:" + eventID }

// Publisher assigns seqs and writes events to channel + replay buffer.
type Publisher struct {
	client goredis.UniversalClient
	ps     *redis.TypedPubSub[models.StreamEvent]
	cfg    Config
}

// NewPublisher builds a publisher.
func NewPublisher(client goredis.UniversalClient, cfg Config) *Publisher {
	return &Publisher{
		client: client,
		ps:     redis.NewTypedPubSub[models.StreamEvent](client),
		cfg:    cfg,
	}
}

// Publish assigns the next seq for the event, fans the event out, and
// appends it to the replay buffer. Seq assignment happens before
// fan-out, so subscribers always observe monotonic ids.
func (p *Publisher) Publish(ctx context.Context, eventID, eventType string, data interface{}) (models.StreamEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return models.StreamEvent{}, fmt.Errorf("marshal stream payload: %w", err)
	}

	seq, err := p.client.Incr(ctx, seqKey(eventID)).Result()
	if err != nil {
		return models.StreamEvent{}, fmt.Errorf("next stream seq: %w", err)
	}
	p.client.Expire(ctx, seqKey(eventID), p.cfg.TTL)

	ev := models.StreamEvent{
		Seq:     seq,
		Type:    eventType,
		EventID: eventID,
		Data:    payload,
	}

	if err := p.ps.Publish(ctx, channel(eventID), ev); err != nil {
		return models.StreamEvent{}, err
	}

	buffered, err := json.Marshal(ev)
	if err != nil {
		return models.StreamEvent{}, fmt.Errorf("marshal buffered event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.RPush(ctx, bufferKey(eventID), buffered)
	pipe.LTrim(ctx, bufferKey(eventID), -p.cfg.ReplaySize, -1)
	pipe.Expire(ctx, bufferKey(eventID), p.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.StreamEvent{}, fmt.Errorf("append replay buffer: %w", err)
	}

	return ev, nil
}

// ReplaySince returns buffered events with seq > since, oldest first.
// ok=false means the buffer no longer covers the requested position and
// the caller should fall back to a snapshot.
func (p *Publisher) ReplaySince(ctx context.Context, eventID string, since int64) ([]models.StreamEvent, bool, error) {
	raw, err := p.client.LRange(ctx, bufferKey(eventID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read replay buffer: %w", err)
	}

	if len(raw) == 0 {
		current, err := p.client.Get(ctx, seqKey(eventID)).Int64()
		if err == goredis.Nil {
			current = 0
		} else if err != nil {
			return nil, false, fmt.Errorf("read stream seq: %w", err)
		}
		// An empty buffer only covers a client that is fully caught up.
		return nil, since >= current, nil
	}

	events := make([]models.StreamEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, false, nil
	}

	oldest := events[0].Seq
	if since+1 < oldest {
		// Trimmed past the client's position; replay would have a gap.
		return nil, false, nil
	}

	out := events[:0:0]
	for _, ev := range events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, true, nil
}
