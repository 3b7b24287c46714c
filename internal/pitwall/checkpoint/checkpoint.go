// Package checkpoint turns smoothed positions into checkpoint
// crossings. Gates must be taken in course order: a vehicle inside some
// gate's radius only scores when that gate is the next one its lap
// state expects, which keeps GPS jitter near an already-crossed gate
// from re-scoring it.
package checkpoint

import (
	"context"

	"github.com/waystellar/argusv4-sub001/pkg/geo"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Store is the slice of the persistence layer the detector needs. The
// crossing insert and lap-state advance happen in one transaction; a
// concurrent duplicate loses the insert and must not touch state.
type Store interface {
	GetLapState(ctx context.Context, eventID, vehicleID string) (*models.VehicleLapState, error)
	RecordCrossing(ctx context.Context, crossing models.CheckpointCrossing, newLap, newLastCheckpoint int) (bool, error)
}

// Detector detects gate captures.
type Detector struct {
	store Store
}

// New builds a detector.
func New(store Store) *Detector {
	return &Detector{store: store}
}

// Detect checks one smoothed position against the event's gates and
// returns the crossing it produced, or nil. Checkpoints must be the
// event's full set, ordinal ascending.
func (d *Detector) Detect(ctx context.Context, event *models.Event, checkpoints []models.Checkpoint, vehicleID string, lat, lon float64, tsMs int64) (*models.CheckpointCrossing, error) {
	if len(checkpoints) == 0 {
		return nil, nil
	}

	state, err := d.store.GetLapState(ctx, event.ID, vehicleID)
	if err != nil {
		return nil, err
	}

	expectedNext := state.LastCheckpoint + 1
	candidateLap := state.CurrentLap
	if expectedNext > len(checkpoints) {
		expectedNext = 1
		candidateLap++
		if candidateLap > event.TotalLaps {
			candidateLap = event.TotalLaps
		}
	}

	// Ordinal ascending; only the expected gate can score.
	var gate *models.Checkpoint
	for i := range checkpoints {
		if checkpoints[i].Number == expectedNext {
			gate = &checkpoints[i]
			break
		}
	}
	if gate == nil {
		return nil, nil
	}

	// Boundary inclusive: exactly on the radius counts.
	if geo.HaversineM(lat, lon, gate.Lat, gate.Lon) > gate.RadiusM {
		return nil, nil
	}

	crossing := models.CheckpointCrossing{
		EventID:          event.ID,
		VehicleID:        vehicleID,
		CheckpointID:     gate.ID,
		CheckpointNumber: gate.Number,
		CheckpointType:   gate.Type,
		Lap:              candidateLap,
		TsMs:             tsMs,
	}

	inserted, err := d.store.RecordCrossing(ctx, crossing, candidateLap, gate.Number)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent request recorded this crossing first.
		return nil, nil
	}
	return &crossing, nil
}
