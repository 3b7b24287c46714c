package models

import "time"

// EventStatus is the lifecycle state of a race event. Status only moves
// forward: draft → scheduled → in_progress → completed.
type EventStatus string

const (
	EventDraft      EventStatus = "draft"
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
)

// Rank orders statuses for forward-only transition checks. Unknown
// statuses rank -1.
func (s EventStatus) Rank() int {
	switch s {
	case EventDraft:
		return 0
	case EventScheduled:
		return 1
	case EventInProgress:
		return 2
	case EventCompleted:
		return 3
	default:
		return -1
	}
}

// Event represents one race on the calendar.
type Event struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Status      EventStatus `json:"status" db:"status"`
	TotalLaps   int         `json:"total_laps" db:"total_laps"`
	CourseMiles float64     `json:"course_miles" db:"course_miles"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Vehicle represents a race vehicle. TruckToken is the vehicle's ingest
// credential and never serializes into API responses; the admin mint
// endpoint returns it exactly once.
type Vehicle struct {
	ID         string    `json:"id" db:"id"`
	Number     string    `json:"vehicle_number" db:"vehicle_number"`
	TeamName   string    `json:"team_name" db:"team_name"`
	DriverName string    `json:"driver_name" db:"driver_name"`
	TruckToken string    `json:"-" db:"truck_token"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CheckpointType classifies a gate on the course.
type CheckpointType string

const (
	CheckpointStart  CheckpointType = "start"
	CheckpointFinish CheckpointType = "finish"
	CheckpointTiming CheckpointType = "timing"
	CheckpointPit    CheckpointType = "pit"
)

// Checkpoint is a capture gate on the course. Number is the dense 1..N
// ordinal within the event; (EventID, Number) is unique.
type Checkpoint struct {
	ID      string         `json:"id" db:"id"`
	EventID string         `json:"event_id" db:"event_id"`
	Number  int            `json:"checkpoint_number" db:"checkpoint_number"`
	Name    string         `json:"name" db:"name"`
	Lat     float64        `json:"lat" db:"lat"`
	Lon     float64        `json:"lon" db:"lon"`
	RadiusM float64        `json:"radius_m" db:"radius_m"`
	Type    CheckpointType `json:"type" db:"type"`
}

// EventVehicle registers a vehicle for an event. Visible=false hides the
// vehicle from non-team projections but never blocks ingest.
type EventVehicle struct {
	EventID   string `json:"event_id" db:"event_id"`
	VehicleID string `json:"vehicle_id" db:"vehicle_id"`
	Visible   bool   `json:"visible" db:"visible"`
}

// VehicleLapState tracks race progress for a vehicle within an event.
// Initialized to lap 1, checkpoint 0. CurrentLap never decreases;
// LastCheckpoint resets to 0 only when wrapping onto a higher lap.
type VehicleLapState struct {
	EventID        string `json:"event_id" db:"event_id"`
	VehicleID      string `json:"vehicle_id" db:"vehicle_id"`
	CurrentLap     int    `json:"current_lap" db:"current_lap"`
	LastCheckpoint int    `json:"last_checkpoint" db:"last_checkpoint"`
}

// TelemetryPolicy controls which telemetry fields reach which viewer
// tier for one (event, vehicle). AllowFans must be a subset of
// AllowProduction; writes that violate this are intersected down.
type TelemetryPolicy struct {
	EventID         string   `json:"event_id" db:"event_id"`
	VehicleID       string   `json:"vehicle_id" db:"vehicle_id"`
	AllowProduction []string `json:"allow_production" db:"allow_production"`
	AllowFans       []string `json:"allow_fans" db:"allow_fans"`
}

// DefaultProductionFields is the production allowance when no policy row
// exists: GPS only.
var DefaultProductionFields = []string{"lat", "lon", "speed_mps", "heading_deg"}
