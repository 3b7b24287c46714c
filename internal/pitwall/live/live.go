// Package live keeps the ephemeral per-event race picture in Redis: the
// merged latest view of every vehicle (last smoothed fix + most recent
// telemetry channels) and per-vehicle presence. Everything here expires;
// Postgres holds the durable record.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Tracker owns the live keys for all events.
type Tracker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// New builds a tracker. TTL bounds how long a dead event's keys linger.
func New(client goredis.UniversalClient) *Tracker {
	return &Tracker{
		client: client,
		ttl:    config.GetEnvDuration("LIVE_TTL", 2*time.Hour),
	}
}

func latestKey(eventID string) string   { return "live:" + eventID + ":latest" }
func lastSeenKey(eventID string) string { return "live:" + eventID + ":lastseen" }

// MergePosition overlays a new smoothed fix onto the vehicle's live view
// and returns the merged record. Telemetry channels from earlier merges
// are preserved.
func (t *Tracker) MergePosition(ctx context.Context, update models.LatestPosition) (*models.LatestPosition, error) {
	current, err := t.get(ctx, update.EventID, update.VehicleID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = &models.LatestPosition{}
	}

	current.Type = models.StreamEventPosition
	current.EventID = update.EventID
	current.VehicleID = update.VehicleID
	current.VehicleNumber = update.VehicleNumber
	current.TeamName = update.TeamName
	current.TsMs = update.TsMs
	current.Lat = update.Lat
	current.Lon = update.Lon
	current.SpeedMps = update.SpeedMps
	current.HeadingDeg = update.HeadingDeg
	current.AltitudeM = update.AltitudeM
	current.Hdop = update.Hdop
	current.Satellites = update.Satellites
	current.IsSimulated = update.IsSimulated

	if err := t.put(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// MergeTelemetry overlays telemetry channels onto the vehicle's live
// view. Channels the sample does not carry stay as they were.
func (t *Tracker) MergeTelemetry(ctx context.Context, eventID, vehicleID, vehicleNumber, teamName string, sample models.TelemetrySample) (*models.LatestPosition, error) {
	current, err := t.get(ctx, eventID, vehicleID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = &models.LatestPosition{}
	}

	current.Type = models.StreamEventPosition
	current.EventID = eventID
	current.VehicleID = vehicleID
	current.VehicleNumber = vehicleNumber
	current.TeamName = teamName
	if sample.TsMs > current.TsMs {
		current.TsMs = sample.TsMs
	}
	if sample.RPM != nil {
		current.RPM = sample.RPM
	}
	if sample.Gear != nil {
		current.Gear = sample.Gear
	}
	if sample.ThrottlePct != nil {
		current.ThrottlePct = sample.ThrottlePct
	}
	if sample.CoolantTempC != nil {
		current.CoolantTempC = sample.CoolantTempC
	}
	if sample.OilPressurePsi != nil {
		current.OilPressure = sample.OilPressurePsi
	}
	if sample.FuelPressurePsi != nil {
		current.FuelPressure = sample.FuelPressurePsi
	}
	if sample.SpeedMph != nil {
		current.SpeedMph = sample.SpeedMph
	}
	if sample.HeartRate != nil {
		current.HeartRate = sample.HeartRate
	}
	if sample.HeartRateZone != nil {
		current.HeartRateZone = sample.HeartRateZone
	}
	if sample.IsSimulated {
		current.IsSimulated = true
	}

	if err := t.put(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Latest returns the live view of every vehicle in the event.
func (t *Tracker) Latest(ctx context.Context, eventID string) ([]models.LatestPosition, error) {
	raw, err := t.client.HGetAll(ctx, latestKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read latest positions: %w", err)
	}

	out := make([]models.LatestPosition, 0, len(raw))
	for _, payload := range raw {
		var pos models.LatestPosition
		if err := json.Unmarshal([]byte(payload), &pos); err != nil {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// Touch records vehicle presence at the given server time.
func (t *Tracker) Touch(ctx context.Context, eventID, vehicleID string, at time.Time) error {
	pipe := t.client.Pipeline()
	pipe.HSet(ctx, lastSeenKey(eventID), vehicleID, at.UnixMilli())
	pipe.Expire(ctx, lastSeenKey(eventID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// LastSeen returns when the vehicle was last heard from, or ok=false.
func (t *Tracker) LastSeen(ctx context.Context, eventID, vehicleID string) (time.Time, bool, error) {
	ms, err := t.client.HGet(ctx, lastSeenKey(eventID), vehicleID).Int64()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last seen: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (t *Tracker) get(ctx context.Context, eventID, vehicleID string) (*models.LatestPosition, error) {
	payload, err := t.client.HGet(ctx, latestKey(eventID), vehicleID).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read live view: %w", err)
	}

	var pos models.LatestPosition
	if err := json.Unmarshal([]byte(payload), &pos); err != nil {
		// A corrupt entry is ephemeral; overwrite it.
		return nil, nil
	}
	return &pos, nil
}

func (t *Tracker) put(ctx context.Context, pos *models.LatestPosition) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal live view: %w", err)
	}

	pipe := t.client.Pipeline()
	pipe.HSet(ctx, latestKey(pos.EventID), pos.VehicleID, payload)
	pipe.Expire(ctx, latestKey(pos.EventID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write live view: %w", err)
	}
	return nil
}
