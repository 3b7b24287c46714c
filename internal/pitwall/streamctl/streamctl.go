// Package streamctl runs the per-vehicle video stream state machine.
// The cloud never talks to the encoder directly: operators queue
// commands here, the edge agent picks them up on its next heartbeat and
// acks when the encoder actually changed state. Every transition
// publishes on a Redis channel for operator dashboards.
package streamctl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/redis"
)

// State is a vehicle's streaming state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateIdle         State = "IDLE"
	StateStarting     State = "STARTING"
	StateStreaming    State = "STREAMING"
	StateStopping     State = "STOPPING"
	StateError        State = "ERROR"
)

// ReasonEdgeTimeout marks commands the edge never acknowledged.
const ReasonEdgeTimeout = "EDGE_TIMEOUT"

// StateChannel is the Redis channel carrying transitions.
const StateChannel = "stream-state"

// heartbeatGrace bounds how stale a heartbeat can be for retry to land
// back in IDLE rather than DISCONNECTED.
const heartbeatGrace = 30 * time.Second

// Status is one vehicle's machine as the admin surface reports it.
type Status struct {
	VehicleID       string                `json:"vehicle_id"`
	State           State                 `json:"state"`
	Reason          string                `json:"reason,omitempty"`
	PendingCommand  *models.StreamCommand `json:"pending_command,omitempty"`
	LastHeartbeatMs int64                 `json:"last_heartbeat_ms,omitempty"`
}

type vehicle struct {
	state         State
	reason        string
	pending       *models.StreamCommand
	pendingSince  time.Time
	lastHeartbeat time.Time
}

// Controller holds every vehicle's machine behind one mutex.
type Controller struct {
	logger         logging.Logger
	ps             *redis.TypedPubSub[models.StreamStateChange]
	commandTimeout time.Duration

	mu       sync.Mutex
	vehicles map[string]*vehicle
}

// New builds a controller. client may carry transitions to dashboards;
// nil disables publishing (tests).
func New(client goredis.UniversalClient, logger logging.Logger) *Controller {
	c := &Controller{
		logger:         logger,
		commandTimeout: config.GetEnvDuration("STREAM_COMMAND_TIMEOUT", 15*time.Second),
		vehicles:       make(map[string]*vehicle),
	}
	if client != nil {
		c.ps = redis.NewTypedPubSub[models.StreamStateChange](client)
	}
	return c
}

func (c *Controller) get(vehicleID string) *vehicle {
	v, ok := c.vehicles[vehicleID]
	if !ok {
		v = &vehicle{state: StateDisconnected}
		c.vehicles[vehicleID] = v
	}
	return v
}

// Heartbeat records edge presence and returns the pending command, if
// any. A disconnected vehicle comes back as IDLE.
func (c *Controller) Heartbeat(ctx context.Context, vehicleID string) *models.StreamCommand {
	c.mu.Lock()
	v := c.get(vehicleID)
	v.lastHeartbeat = time.Now()
	transitioned := false
	if v.state == StateDisconnected {
		v.state = StateIdle
		v.reason = ""
		transitioned = true
	}
	var pending *models.StreamCommand
	if v.pending != nil {
		copied := *v.pending
		pending = &copied
	}
	state := v.state
	c.mu.Unlock()

	if transitioned {
		c.publish(ctx, vehicleID, state, "", "")
	}
	return pending
}

// Start queues a start command. Only an idle vehicle can start.
func (c *Controller) Start(ctx context.Context, vehicleID, sourceID string) (*models.StreamCommand, error) {
	c.mu.Lock()
	v := c.get(vehicleID)
	if v.state != StateIdle {
		state := v.state
		c.mu.Unlock()
		return nil, errs.Newf(errs.Conflict, "cannot start stream from %s", state)
	}

	cmd := &models.StreamCommand{
		CommandID: uuid.New().String(),
		Action:    models.StreamActionStart,
		SourceID:  sourceID,
		IssuedMs:  time.Now().UnixMilli(),
	}
	v.pending = cmd
	v.pendingSince = time.Now()
	v.state = StateStarting
	v.reason = ""
	c.mu.Unlock()

	c.publish(ctx, vehicleID, StateStarting, "", cmd.CommandID)
	copied := *cmd
	return &copied, nil
}

// Stop queues a stop command from any active state.
func (c *Controller) Stop(ctx context.Context, vehicleID string) (*models.StreamCommand, error) {
	c.mu.Lock()
	v := c.get(vehicleID)
	if v.state != StateStarting && v.state != StateStreaming {
		state := v.state
		c.mu.Unlock()
		return nil, errs.Newf(errs.Conflict, "cannot stop stream from %s", state)
	}

	cmd := &models.StreamCommand{
		CommandID: uuid.New().String(),
		Action:    models.StreamActionStop,
		IssuedMs:  time.Now().UnixMilli(),
	}
	v.pending = cmd
	v.pendingSince = time.Now()
	v.state = StateStopping
	v.reason = ""
	c.mu.Unlock()

	c.publish(ctx, vehicleID, StateStopping, "", cmd.CommandID)
	copied := *cmd
	return &copied, nil
}

// Ack applies an edge acknowledgment for the vehicle's pending command.
func (c *Controller) Ack(ctx context.Context, vehicleID string, ack models.StreamAck) error {
	c.mu.Lock()
	v := c.get(vehicleID)
	if v.pending == nil || v.pending.CommandID != ack.CommandID {
		c.mu.Unlock()
		return errs.Newf(errs.NotFound, "no pending command %s for vehicle %s", ack.CommandID, vehicleID)
	}

	v.pending = nil
	var next State
	var reason string
	if ack.Success {
		switch v.state {
		case StateStarting:
			next = StateStreaming
		case StateStopping:
			next = StateIdle
		default:
			// Ack arrived after a timeout already moved the machine.
			next = v.state
		}
	} else {
		next = StateError
		reason = ack.Error
		if reason == "" {
			reason = "edge reported failure"
		}
	}
	v.state = next
	v.reason = reason
	c.mu.Unlock()

	c.publish(ctx, vehicleID, next, reason, ack.CommandID)
	return nil
}

// Retry clears an error. A recently heartbeating vehicle returns to
// IDLE; a silent one is DISCONNECTED until it heartbeats again.
func (c *Controller) Retry(ctx context.Context, vehicleID string) (State, error) {
	c.mu.Lock()
	v := c.get(vehicleID)
	if v.state != StateError {
		state := v.state
		c.mu.Unlock()
		return "", errs.Newf(errs.Conflict, "retry only applies to ERROR, vehicle is %s", state)
	}

	next := StateDisconnected
	if time.Since(v.lastHeartbeat) <= heartbeatGrace {
		next = StateIdle
	}
	v.state = next
	v.reason = ""
	v.pending = nil
	c.mu.Unlock()

	c.publish(ctx, vehicleID, next, "", "")
	return next, nil
}

// Status reports one vehicle's machine.
func (c *Controller) Status(vehicleID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.get(vehicleID)
	st := Status{VehicleID: vehicleID, State: v.state, Reason: v.reason}
	if v.pending != nil {
		copied := *v.pending
		st.PendingCommand = &copied
	}
	if !v.lastHeartbeat.IsZero() {
		st.LastHeartbeatMs = v.lastHeartbeat.UnixMilli()
	}
	return st
}

// RunTimeoutPoller fails commands the edge never picked up or acked.
func (c *Controller) RunTimeoutPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expireCommands(ctx)
		}
	}
}

func (c *Controller) expireCommands(ctx context.Context) {
	type expired struct {
		vehicleID string
		commandID string
	}
	var timedOut []expired

	c.mu.Lock()
	for vehicleID, v := range c.vehicles {
		if v.pending == nil || time.Since(v.pendingSince) < c.commandTimeout {
			continue
		}
		timedOut = append(timedOut, expired{vehicleID, v.pending.CommandID})
		v.pending = nil
		v.state = StateError
		v.reason = ReasonEdgeTimeout
	}
	c.mu.Unlock()

	for _, e := range timedOut {
		c.logger.WithFields(logging.Fields{
			"vehicle_id": e.vehicleID,
			"command_id": e.commandID,
		}).Warn("Stream command timed out waiting for edge ack")
		c.publish(ctx, e.vehicleID, StateError, ReasonEdgeTimeout, e.commandID)
	}
}

func (c *Controller) publish(ctx context.Context, vehicleID string, state State, reason, commandID string) {
	if c.ps == nil {
		return
	}
	change := models.StreamStateChange{
		VehicleID: vehicleID,
		State:     string(state),
		Reason:    reason,
		CommandID: commandID,
		TsMs:      time.Now().UnixMilli(),
	}
	if err := c.ps.Publish(ctx, StateChannel, change); err != nil {
		c.logger.WithField("vehicle_id", vehicleID).WithError(err).Warn("Failed to publish stream state change")
	}
}
