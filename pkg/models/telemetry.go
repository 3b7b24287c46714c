package models

// Source identifies which edge sensor produced a sample.
type Source string

const (
	SourceGPS Source = "gps"
	SourceCAN Source = "can"
	SourceANT Source = "ant"
)

// PositionSample is one GPS fix as it travels edge → cloud. TsMs is
// edge-reported wall-clock milliseconds and the only time axis.
type PositionSample struct {
	TsMs        int64   `json:"ts_ms"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	SpeedMps    float64 `json:"speed_mps"`
	HeadingDeg  float64 `json:"heading_deg"`
	AltitudeM   float64 `json:"altitude_m"`
	Hdop        float64 `json:"hdop"`
	Satellites  int     `json:"satellites"`
	IsSimulated bool    `json:"is_simulated,omitempty"`
}

// TelemetrySample carries vehicle-bus and heart-rate channels. Channels
// a sample does not carry stay nil so partial sources (CAN without ANT)
// never fabricate zeros.
type TelemetrySample struct {
	TsMs            int64    `json:"ts_ms"`
	RPM             *float64 `json:"rpm,omitempty"`
	Gear            *int     `json:"gear,omitempty"`
	ThrottlePct     *float64 `json:"throttle_pct,omitempty"`
	CoolantTempC    *float64 `json:"coolant_temp_c,omitempty"`
	OilPressurePsi  *float64 `json:"oil_pressure_psi,omitempty"`
	FuelPressurePsi *float64 `json:"fuel_pressure_psi,omitempty"`
	SpeedMph        *float64 `json:"speed_mph,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	HeartRateZone   *int     `json:"heart_rate_zone,omitempty"`
	IsSimulated     bool     `json:"is_simulated,omitempty"`
}

// IngestRequest is one uplink batch from a vehicle.
type IngestRequest struct {
	Positions []PositionSample  `json:"positions"`
	Telemetry []TelemetrySample `json:"telemetry"`
}

// CheckpointCrossing records a vehicle entering a checkpoint's capture
// radius. (EventID, VehicleID, CheckpointID, Lap) is the uniqueness key.
type CheckpointCrossing struct {
	EventID          string         `json:"event_id" db:"event_id"`
	VehicleID        string         `json:"vehicle_id" db:"vehicle_id"`
	CheckpointID     string         `json:"checkpoint_id" db:"checkpoint_id"`
	CheckpointNumber int            `json:"checkpoint_number" db:"checkpoint_number"`
	CheckpointType   CheckpointType `json:"checkpoint_type" db:"checkpoint_type"`
	Lap              int            `json:"lap" db:"lap"`
	TsMs             int64          `json:"ts_ms" db:"ts_ms"`
}

// IngestResponse reports per-batch outcomes. Conflicted duplicates count
// toward neither Accepted nor Rejected.
type IngestResponse struct {
	Accepted  int                  `json:"accepted"`
	Rejected  int                  `json:"rejected"`
	Crossings []CheckpointCrossing `json:"checkpoint_crossings"`
}

// TruckIdentity is what a truck token resolves to: the vehicle plus the
// most recent in_progress event it is registered for.
type TruckIdentity struct {
	VehicleID     string      `json:"vehicle_id"`
	VehicleNumber string      `json:"vehicle_number"`
	TeamName      string      `json:"team_name"`
	EventID       string      `json:"event_id"`
	EventStatus   EventStatus `json:"event_status"`
}

// HeartbeatResponse answers an edge presence ping. PendingCommand rides
// along when the stream controller has work for this vehicle.
type HeartbeatResponse struct {
	VehicleID      string         `json:"vehicle_id"`
	EventID        string         `json:"event_id"`
	EventStatus    EventStatus    `json:"event_status"`
	ServerTsMs     int64          `json:"server_ts_ms"`
	PendingCommand *StreamCommand `json:"pending_command,omitempty"`
}
