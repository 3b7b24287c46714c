package models

import "encoding/json"

// Stream event types as they appear on the SSE `event:` line. Position,
// checkpoint, and permission events are buffered for replay; connected,
// snapshot, and heartbeat are transport-only.
const (
	StreamEventConnected  = "connected"
	StreamEventSnapshot   = "snapshot"
	StreamEventPosition   = "position"
	StreamEventCheckpoint = "checkpoint"
	StreamEventPermission = "permission"
	StreamEventHeartbeat  = "heartbeat"
)

// StreamEvent is one fan-out unit on an event's channel. Seq is assigned
// by the publisher before fan-out and is strictly monotonic per event;
// it doubles as the SSE id for Last-Event-ID resume.
type StreamEvent struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	EventID string          `json:"event_id"`
	Data    json.RawMessage `json:"data"`
}

// ConnectedFrame opens every SSE subscription.
type ConnectedFrame struct {
	ServerTsMs   int64  `json:"server_ts_ms"`
	ViewerAccess string `json:"viewer_access"`
	EventID      string `json:"event_id"`
}

// HeartbeatFrame keeps idle SSE connections alive. Heartbeats consume no
// sequence numbers and are never buffered.
type HeartbeatFrame struct {
	ServerTsMs int64 `json:"server_ts_ms"`
}

// PermissionChange announces a visibility or policy update for a
// vehicle. Subscribing projectors drop their cached policy on receipt.
type PermissionChange struct {
	EventID   string `json:"event_id"`
	VehicleID string `json:"vehicle_id"`
	TsMs      int64  `json:"ts_ms"`
	Type      string `json:"type"`
}

// LatestPosition is the merged live view of one vehicle: the last
// smoothed fix plus the most recent telemetry channels. It is what
// snapshots and position events carry before projection.
type LatestPosition struct {
	Type          string   `json:"type"`
	EventID       string   `json:"event_id"`
	VehicleID     string   `json:"vehicle_id"`
	VehicleNumber string   `json:"vehicle_number"`
	TeamName      string   `json:"team_name"`
	TsMs          int64    `json:"ts_ms"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	SpeedMps      float64  `json:"speed_mps"`
	HeadingDeg    float64  `json:"heading_deg"`
	AltitudeM     *float64 `json:"altitude_m,omitempty"`
	Hdop          *float64 `json:"hdop,omitempty"`
	Satellites    *int     `json:"satellites,omitempty"`
	RPM           *float64 `json:"rpm,omitempty"`
	Gear          *int     `json:"gear,omitempty"`
	ThrottlePct   *float64 `json:"throttle_pct,omitempty"`
	CoolantTempC  *float64 `json:"coolant_temp_c,omitempty"`
	OilPressure   *float64 `json:"oil_pressure_psi,omitempty"`
	FuelPressure  *float64 `json:"fuel_pressure_psi,omitempty"`
	SpeedMph      *float64 `json:"speed_mph,omitempty"`
	HeartRate     *int     `json:"heart_rate,omitempty"`
	HeartRateZone *int     `json:"heart_rate_zone,omitempty"`
	IsSimulated   bool     `json:"is_simulated,omitempty"`
}

// LeaderboardEntry is one ranked row. Vehicles with no crossing yet rank
// last and carry Status "Not Started".
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	VehicleID       string  `json:"vehicle_id"`
	VehicleNumber   string  `json:"vehicle_number"`
	TeamName        string  `json:"team_name"`
	DriverName      string  `json:"driver_name"`
	Lap             int     `json:"lap"`
	Checkpoint      int     `json:"checkpoint"`
	LastCrossingMs  int64   `json:"last_crossing_ms"`
	DeltaToLeaderMs int64   `json:"delta_to_leader_ms"`
	ProgressMiles   float64 `json:"progress_miles"`
	MilesRemaining  float64 `json:"miles_remaining"`
	Status          string  `json:"status"`
}

// Leaderboard is the full ranked response for an event.
type Leaderboard struct {
	EventID     string             `json:"event_id"`
	CourseMiles float64            `json:"course_miles"`
	TotalLaps   int                `json:"total_laps"`
	Entries     []LeaderboardEntry `json:"entries"`
	ServerTsMs  int64              `json:"server_ts_ms"`
}

// SplitRow is one crossing in the per-checkpoint splits view.
type SplitRow struct {
	VehicleID        string `json:"vehicle_id"`
	VehicleNumber    string `json:"vehicle_number"`
	CheckpointNumber int    `json:"checkpoint_number"`
	CheckpointName   string `json:"checkpoint_name"`
	Lap              int    `json:"lap"`
	TsMs             int64  `json:"ts_ms"`
}

// StreamAction is a stream-control verb sent to the edge.
type StreamAction string

const (
	StreamActionStart StreamAction = "start"
	StreamActionStop  StreamAction = "stop"
)

// StreamCommand is one pending instruction for a vehicle's edge agent,
// delivered on the heartbeat response and acknowledged via the ack
// endpoint.
type StreamCommand struct {
	CommandID string       `json:"command_id"`
	Action    StreamAction `json:"action"`
	SourceID  string       `json:"source_id,omitempty"`
	IssuedMs  int64        `json:"issued_ms"`
}

// StreamAck reports edge-side command completion.
type StreamAck struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StreamStateChange is published on the operator channel whenever a
// vehicle's streaming state machine transitions.
type StreamStateChange struct {
	VehicleID string `json:"vehicle_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	TsMs      int64  `json:"ts_ms"`
}
