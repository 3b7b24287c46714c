package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// ReplaceCheckpoints swaps an event's checkpoint set atomically. Input
// ordinals must be dense 1..N; crossings referencing old checkpoints
// cascade away with them.
func (s *Store) ReplaceCheckpoints(ctx context.Context, eventID string, cps []models.Checkpoint) ([]models.Checkpoint, error) {
	for i, cp := range cps {
		if cp.Number != i+1 {
			return nil, errs.Newf(errs.InvalidInput,
				"checkpoint_number must be dense 1..N: got %d at index %d", cp.Number, i)
		}
		if cp.RadiusM <= 0 {
			return nil, errs.Newf(errs.InvalidInput, "checkpoint %d radius_m must be positive", cp.Number)
		}
	}

	out := make([]models.Checkpoint, 0, len(cps))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE event_id = $1`, eventID); err != nil {
			return fmt.Errorf("delete checkpoints: %w", err)
		}
		for _, cp := range cps {
			var inserted models.Checkpoint
			err := tx.QueryRowContext(ctx, `
				INSERT INTO checkpoints (event_id, checkpoint_number, name, lat, lon, radius_m, type)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id, event_id, checkpoint_number, name, lat, lon, radius_m, type
			`, eventID, cp.Number, cp.Name, cp.Lat, cp.Lon, cp.RadiusM, cp.Type).Scan(
				&inserted.ID, &inserted.EventID, &inserted.Number, &inserted.Name,
				&inserted.Lat, &inserted.Lon, &inserted.RadiusM, &inserted.Type)
			if err != nil {
				return fmt.Errorf("insert checkpoint %d: %w", cp.Number, err)
			}
			out = append(out, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListCheckpoints returns an event's checkpoints ordinal ascending.
func (s *Store) ListCheckpoints(ctx context.Context, eventID string) ([]models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, checkpoint_number, name, lat, lon, radius_m, type
		FROM checkpoints WHERE event_id = $1
		ORDER BY checkpoint_number ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.EventID, &cp.Number, &cp.Name, &cp.Lat, &cp.Lon, &cp.RadiusM, &cp.Type); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
