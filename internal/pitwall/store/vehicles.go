package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// CreateVehicle inserts a vehicle with its freshly minted truck token.
func (s *Store) CreateVehicle(ctx context.Context, number, teamName, driverName, truckToken string) (*models.Vehicle, error) {
	if number == "" {
		return nil, errs.New(errs.InvalidInput, "vehicle_number is required")
	}

	var v models.Vehicle
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO vehicles (vehicle_number, team_name, driver_name, truck_token)
		VALUES ($1, $2, $3, $4)
		RETURNING id, vehicle_number, team_name, driver_name, truck_token, created_at
	`, number, teamName, driverName, truckToken).Scan(
		&v.ID, &v.Number, &v.TeamName, &v.DriverName, &v.TruckToken, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert vehicle: %w", err)
	}
	return &v, nil
}

// GetVehicle loads one vehicle.
func (s *Store) GetVehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vehicle_number, team_name, driver_name, truck_token, created_at
		FROM vehicles WHERE id = $1
	`, vehicleID).Scan(&v.ID, &v.Number, &v.TeamName, &v.DriverName, &v.TruckToken, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.NotFound, "vehicle %s not found", vehicleID)
	}
	if err != nil {
		return nil, fmt.Errorf("select vehicle: %w", err)
	}
	return &v, nil
}

// RegisterVehicle registers a vehicle for an event and initializes its
// lap state. Re-registering is a no-op.
func (s *Store) RegisterVehicle(ctx context.Context, eventID, vehicleID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_vehicles (event_id, vehicle_id, visible)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (event_id, vehicle_id) DO NOTHING
		`, eventID, vehicleID); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vehicle_lap_state (event_id, vehicle_id, current_lap, last_checkpoint)
			VALUES ($1, $2, 1, 0)
			ON CONFLICT (event_id, vehicle_id) DO NOTHING
		`, eventID, vehicleID); err != nil {
			return fmt.Errorf("insert lap state: %w", err)
		}
		return nil
	})
}

// SetVisibility flips the registration's visible flag.
func (s *Store) SetVisibility(ctx context.Context, eventID, vehicleID string, visible bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_vehicles SET visible = $3
		WHERE event_id = $1 AND vehicle_id = $2
	`, eventID, vehicleID, visible)
	if err != nil {
		return fmt.Errorf("update visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.NotFound, "vehicle %s not registered for event %s", vehicleID, eventID)
	}
	return nil
}

// RegisteredVehicle joins a registration with its vehicle row.
type RegisteredVehicle struct {
	models.Vehicle
	Visible bool
}

// ListEventVehicles returns every registration for an event, vehicle
// number ascending.
func (s *Store) ListEventVehicles(ctx context.Context, eventID string) ([]RegisteredVehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.vehicle_number, v.team_name, v.driver_name, v.created_at, ev.visible
		FROM event_vehicles ev
		JOIN vehicles v ON v.id = ev.vehicle_id
		WHERE ev.event_id = $1
		ORDER BY v.vehicle_number ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select event vehicles: %w", err)
	}
	defer rows.Close()

	var out []RegisteredVehicle
	for rows.Next() {
		var rv RegisteredVehicle
		if err := rows.Scan(&rv.ID, &rv.Number, &rv.TeamName, &rv.DriverName, &rv.CreatedAt, &rv.Visible); err != nil {
			return nil, fmt.Errorf("scan event vehicle: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// IsVisible reports whether a vehicle's registration is visible.
// Unregistered vehicles report false.
func (s *Store) IsVisible(ctx context.Context, eventID, vehicleID string) (bool, error) {
	var visible bool
	err := s.db.QueryRowContext(ctx, `
		SELECT visible FROM event_vehicles WHERE event_id = $1 AND vehicle_id = $2
	`, eventID, vehicleID).Scan(&visible)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select visibility: %w", err)
	}
	return visible, nil
}
