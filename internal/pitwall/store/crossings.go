package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// GetLapState loads (current_lap, last_checkpoint) for a vehicle,
// defaulting to (1, 0) when no row exists yet.
func (s *Store) GetLapState(ctx context.Context, eventID, vehicleID string) (*models.VehicleLapState, error) {
	st := &models.VehicleLapState{EventID: eventID, VehicleID: vehicleID, CurrentLap: 1, LastCheckpoint: 0}
	err := s.db.QueryRowContext(ctx, `
		SELECT current_lap, last_checkpoint FROM vehicle_lap_state
		WHERE event_id = $1 AND vehicle_id = $2
	`, eventID, vehicleID).Scan(&st.CurrentLap, &st.LastCheckpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select lap state: %w", err)
	}
	return st, nil
}

// RecordCrossing inserts a crossing and advances the lap state in one
// transaction. The crossing key (event, vehicle, checkpoint, lap) is
// unique; when a concurrent request already inserted it, zero rows come
// back, the lap state is left alone, and (false, nil) is returned — the
// loser of the race must surface nothing.
func (s *Store) RecordCrossing(ctx context.Context, crossing models.CheckpointCrossing, newLap, newLastCheckpoint int) (bool, error) {
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_crossings (event_id, vehicle_id, checkpoint_id, lap, ts_ms)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id, vehicle_id, checkpoint_id, lap) DO NOTHING
		`, crossing.EventID, crossing.VehicleID, crossing.CheckpointID, crossing.Lap, crossing.TsMs)
		if err != nil {
			return fmt.Errorf("insert crossing: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("crossing rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vehicle_lap_state (event_id, vehicle_id, current_lap, last_checkpoint)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id, vehicle_id)
			DO UPDATE SET current_lap = $3, last_checkpoint = $4
		`, crossing.EventID, crossing.VehicleID, newLap, newLastCheckpoint); err != nil {
			return fmt.Errorf("update lap state: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// ListCrossings returns every crossing for an event joined with its
// checkpoint and vehicle, ordered by crossing time.
func (s *Store) ListCrossings(ctx context.Context, eventID string) ([]models.SplitRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.vehicle_id, v.vehicle_number, cp.checkpoint_number, cp.name, c.lap, c.ts_ms
		FROM checkpoint_crossings c
		JOIN checkpoints cp ON cp.id = c.checkpoint_id
		JOIN vehicles v ON v.id = c.vehicle_id
		WHERE c.event_id = $1
		ORDER BY c.ts_ms ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select crossings: %w", err)
	}
	defer rows.Close()

	var out []models.SplitRow
	for rows.Next() {
		var row models.SplitRow
		if err := rows.Scan(&row.VehicleID, &row.VehicleNumber, &row.CheckpointNumber,
			&row.CheckpointName, &row.Lap, &row.TsMs); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ProgressRow is the leaderboard engine's raw input: one registered
// vehicle with its best crossing, or null crossing columns when the
// vehicle has not started.
type ProgressRow struct {
	VehicleID     string
	VehicleNumber string
	TeamName      string
	DriverName    string
	Lap           sql.NullInt64
	Checkpoint    sql.NullInt64
	CrossingTsMs  sql.NullInt64
}

// LeaderboardRows returns every registered vehicle with its furthest
// crossing: highest lap, then highest ordinal, with the time it was
// reached.
func (s *Store) LeaderboardRows(ctx context.Context, eventID string) ([]ProgressRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.vehicle_number, v.team_name, v.driver_name,
		       best.lap, best.checkpoint_number, best.ts_ms
		FROM event_vehicles ev
		JOIN vehicles v ON v.id = ev.vehicle_id
		LEFT JOIN LATERAL (
			SELECT c.lap, cp.checkpoint_number, c.ts_ms
			FROM checkpoint_crossings c
			JOIN checkpoints cp ON cp.id = c.checkpoint_id
			WHERE c.event_id = ev.event_id AND c.vehicle_id = ev.vehicle_id
			ORDER BY c.lap DESC, cp.checkpoint_number DESC, c.ts_ms ASC
			LIMIT 1
		) best ON TRUE
		WHERE ev.event_id = $1
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard rows: %w", err)
	}
	defer rows.Close()

	var out []ProgressRow
	for rows.Next() {
		var row ProgressRow
		if err := rows.Scan(&row.VehicleID, &row.VehicleNumber, &row.TeamName, &row.DriverName,
			&row.Lap, &row.Checkpoint, &row.CrossingTsMs); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CrossingAt returns the crossing timestamp for a vehicle at an exact
// (lap, checkpoint ordinal), used for delta-to-leader computation.
func (s *Store) CrossingAt(ctx context.Context, eventID, vehicleID string, lap, checkpointNumber int) (int64, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT c.ts_ms
		FROM checkpoint_crossings c
		JOIN checkpoints cp ON cp.id = c.checkpoint_id
		WHERE c.event_id = $1 AND c.vehicle_id = $2 AND c.lap = $3 AND cp.checkpoint_number = $4
	`, eventID, vehicleID, lap, checkpointNumber).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select crossing at: %w", err)
	}
	return ts, true, nil
}
