package store

import (
	"context"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// InsertPosition persists one smoothed position. The PK (event, vehicle,
// ts_ms) makes re-uploads idempotent: a conflicting insert affects zero
// rows and returns (false, nil).
func (s *Store) InsertPosition(ctx context.Context, eventID, vehicleID string, sample models.PositionSample) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (event_id, vehicle_id, ts_ms, lat, lon, speed_mps, heading_deg,
		                       altitude_m, hdop, satellites, is_simulated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, vehicle_id, ts_ms) DO NOTHING
	`, eventID, vehicleID, sample.TsMs, sample.Lat, sample.Lon, sample.SpeedMps, sample.HeadingDeg,
		sample.AltitudeM, sample.Hdop, sample.Satellites, sample.IsSimulated)
	if err != nil {
		return false, fmt.Errorf("insert position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("position rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertTelemetry persists one telemetry sample with the same
// idempotency contract as InsertPosition.
func (s *Store) InsertTelemetry(ctx context.Context, eventID, vehicleID string, sample models.TelemetrySample) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (event_id, vehicle_id, ts_ms, rpm, gear, throttle_pct, coolant_temp_c,
		                       oil_pressure_psi, fuel_pressure_psi, speed_mph, heart_rate, heart_rate_zone,
		                       is_simulated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id, vehicle_id, ts_ms) DO NOTHING
	`, eventID, vehicleID, sample.TsMs, sample.RPM, sample.Gear, sample.ThrottlePct, sample.CoolantTempC,
		sample.OilPressurePsi, sample.FuelPressurePsi, sample.SpeedMph, sample.HeartRate, sample.HeartRateZone,
		sample.IsSimulated)
	if err != nil {
		return false, fmt.Errorf("insert telemetry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("telemetry rows affected: %w", err)
	}
	return n > 0, nil
}
