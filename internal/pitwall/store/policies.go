package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// GetPolicy loads the telemetry policy for (event, vehicle). When no row
// exists the defaults apply: production gets GPS fields, fans nothing.
func (s *Store) GetPolicy(ctx context.Context, eventID, vehicleID string) (*models.TelemetryPolicy, error) {
	var production, fans string
	err := s.db.QueryRowContext(ctx, `
		SELECT allow_production, allow_fans FROM telemetry_policies
		WHERE event_id = $1 AND vehicle_id = $2
	`, eventID, vehicleID).Scan(&production, &fans)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.TelemetryPolicy{
			EventID:         eventID,
			VehicleID:       vehicleID,
			AllowProduction: append([]string(nil), models.DefaultProductionFields...),
			AllowFans:       nil,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select policy: %w", err)
	}

	return &models.TelemetryPolicy{
		EventID:         eventID,
		VehicleID:       vehicleID,
		AllowProduction: parseTextArray(production),
		AllowFans:       parseTextArray(fans),
	}, nil
}

// UpsertPolicy writes a policy, silently intersecting allow_fans down to
// a subset of allow_production. The intersected policy is returned.
func (s *Store) UpsertPolicy(ctx context.Context, policy models.TelemetryPolicy) (*models.TelemetryPolicy, error) {
	policy.AllowFans = intersect(policy.AllowFans, policy.AllowProduction)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_policies (event_id, vehicle_id, allow_production, allow_fans)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, vehicle_id)
		DO UPDATE SET allow_production = $3, allow_fans = $4, updated_at = now()
	`, policy.EventID, policy.VehicleID, textArray(policy.AllowProduction), textArray(policy.AllowFans))
	if err != nil {
		return nil, fmt.Errorf("upsert policy: %w", err)
	}
	return &policy, nil
}

// intersect keeps the elements of a that also appear in b, preserving
// a's order.
func intersect(a, b []string) []string {
	allowed := make(map[string]struct{}, len(b))
	for _, f := range b {
		allowed[f] = struct{}{}
	}
	var out []string
	for _, f := range a {
		if _, ok := allowed[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
