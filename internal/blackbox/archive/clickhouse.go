package archive

import (
	"context"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/database"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
)

const insertArchive = `INSERT INTO telemetry_archive (
	event_id, vehicle_id, source, ts_ms,
	lat, lon, speed_mps, heading_deg,
	altitude_m, hdop, satellites,
	rpm, gear, throttle_pct, coolant_temp_c,
	oil_pressure_psi, fuel_pressure_psi, speed_mph,
	heart_rate, heart_rate_zone,
	is_outlier, is_simulated
)`

// ClickHouseSink writes archive batches over the native protocol.
type ClickHouseSink struct {
	conn database.ClickHouseNativeConn
}

// NewClickHouseSink wraps a native connection.
func NewClickHouseSink(conn database.ClickHouseNativeConn) *ClickHouseSink {
	return &ClickHouseSink{conn: conn}
}

// InsertBatch appends every row to one prepared batch and sends it.
func (s *ClickHouseSink) InsertBatch(ctx context.Context, rows []kafka.FirehoseRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, insertArchive)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}

	for i := range rows {
		rec := &rows[i]
		if err := batch.Append(
			rec.EventID, rec.VehicleID, rec.Source, rec.TsMs,
			rec.Lat, rec.Lon, rec.SpeedMps, rec.HeadingDeg,
			rec.AltitudeM, rec.Hdop, rec.Satellites,
			rec.RPM, rec.Gear, rec.ThrottlePct, rec.CoolantTempC,
			rec.OilPressurePsi, rec.FuelPressurePsi, rec.SpeedMph,
			rec.HeartRate, rec.HeartRateZone,
			boolUInt8(rec.IsOutlier), boolUInt8(rec.IsSimulated),
		); err != nil {
			return fmt.Errorf("append archive row %s/%d: %w", rec.VehicleID, rec.TsMs, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}

func boolUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
