// Package sources connects to the vehicle's local sensor publishers:
// GPS and vehicle-bus daemons at 10 Hz, the heart-rate bridge at ~1 Hz,
// each a local WebSocket endpoint pushing small typed JSON payloads.
//
// A source that cannot reach real hardware never synthesizes data.
// Simulators exist behind an explicit operator flag and stamp every
// sample is_simulated so the marker travels end-to-end.
package sources

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// DeviceStatus is what operators see for each sensor. Truthful by
// contract: simulated hardware is never reported as connected.
type DeviceStatus string

const (
	StatusConnected DeviceStatus = "connected"
	StatusMissing   DeviceStatus = "missing"
	StatusSimulated DeviceStatus = "simulated"
	StatusTimeout   DeviceStatus = "timeout"
)

// Message is one payload from a source, ready for the durable queue.
type Message struct {
	Source  models.Source
	TsMs    int64
	Payload []byte
}

// Source is a sensor stream feeding the collector.
type Source interface {
	Name() models.Source
	Status() DeviceStatus
	// Run pushes messages until the context ends. Implementations own
	// their reconnect policy and must not close out.
	Run(ctx context.Context, out chan<- Message)
}

// readTimeout declares a connected source dead when its publisher goes
// quiet; GPS and CAN publish at 10 Hz, ANT at 1 Hz, so 10 s of silence
// means the daemon hung.
const readTimeout = 10 * time.Second

const redialDelay = 2 * time.Second

// tsProbe extracts the publisher's own timestamp from a payload.
type tsProbe struct {
	TsMs int64 `json:"ts_ms"`
}

// WSSource subscribes to one local publisher over WebSocket.
type WSSource struct {
	name   models.Source
	url    string
	logger logging.Logger

	mu     sync.Mutex
	status DeviceStatus
}

// NewWSSource builds a client for one sensor endpoint.
func NewWSSource(name models.Source, url string, logger logging.Logger) *WSSource {
	return &WSSource{
		name:   name,
		url:    url,
		logger: logger,
		status: StatusMissing,
	}
}

func (s *WSSource) Name() models.Source { return s.name }

func (s *WSSource) Status() DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *WSSource) setStatus(status DeviceStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Run dials the publisher and forwards payloads, redialing on failure
// until the context ends.
func (s *WSSource) Run(ctx context.Context, out chan<- Message) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.setStatus(StatusMissing)
			s.logger.WithFields(logging.Fields{
				"source": s.name,
				"url":    s.url,
			}).WithError(err).Debug("Sensor endpoint unreachable")

			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		s.setStatus(StatusConnected)
		s.logger.WithField("source", s.name).Info("Sensor connected")
		s.readLoop(ctx, conn, out)
		_ = conn.Close()
	}
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Message) {
	// Unblock the read when the collector shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setStatus(StatusTimeout)
			s.logger.WithField("source", s.name).WithError(err).Warn("Sensor read failed, redialing")
			return
		}

		var probe tsProbe
		if err := json.Unmarshal(payload, &probe); err != nil || probe.TsMs == 0 {
			s.logger.WithField("source", s.name).Warn("Dropping sensor payload without ts_ms")
			continue
		}

		select {
		case out <- Message{Source: s.name, TsMs: probe.TsMs, Payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}
