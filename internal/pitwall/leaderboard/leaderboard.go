// Package leaderboard ranks an event's vehicles from their checkpoint
// progress. Crossings are the authoritative ordering signal; live
// positions only refine the progress-miles estimate between gates.
package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/course"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/store"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	LeaderboardRows(ctx context.Context, eventID string) ([]store.ProgressRow, error)
	CrossingAt(ctx context.Context, eventID, vehicleID string, lap, checkpointNumber int) (int64, bool, error)
}

// LiveSource supplies the latest smoothed positions.
type LiveSource interface {
	Latest(ctx context.Context, eventID string) ([]models.LatestPosition, error)
}

const (
	statusRacing     = "Racing"
	statusNotStarted = "Not Started"
)

// Engine builds leaderboards.
type Engine struct {
	store Store
	live  LiveSource
}

// New builds an engine.
func New(st Store, live LiveSource) *Engine {
	return &Engine{store: st, live: live}
}

// Build ranks every registered vehicle. crs may be nil when the event
// has no course yet; progress miles are then zero.
func (e *Engine) Build(ctx context.Context, event *models.Event, crs *course.Course) (*models.Leaderboard, error) {
	rows, err := e.store.LeaderboardRows(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	positions := map[string]models.LatestPosition{}
	if e.live != nil {
		latest, err := e.live.Latest(ctx, event.ID)
		if err == nil {
			for _, pos := range latest {
				positions[pos.VehicleID] = pos
			}
		}
	}

	var started, notStarted []store.ProgressRow
	for _, row := range rows {
		if row.Lap.Valid {
			started = append(started, row)
		} else {
			notStarted = append(notStarted, row)
		}
	}

	sort.SliceStable(started, func(i, j int) bool {
		a, b := started[i], started[j]
		if a.Lap.Int64 != b.Lap.Int64 {
			return a.Lap.Int64 > b.Lap.Int64
		}
		if a.Checkpoint.Int64 != b.Checkpoint.Int64 {
			return a.Checkpoint.Int64 > b.Checkpoint.Int64
		}
		return a.CrossingTsMs.Int64 < b.CrossingTsMs.Int64
	})
	sort.SliceStable(notStarted, func(i, j int) bool {
		return notStarted[i].VehicleNumber < notStarted[j].VehicleNumber
	})

	board := &models.Leaderboard{
		EventID:     event.ID,
		CourseMiles: event.CourseMiles,
		TotalLaps:   event.TotalLaps,
		Entries:     make([]models.LeaderboardEntry, 0, len(rows)),
		ServerTsMs:  time.Now().UnixMilli(),
	}

	var leaderID string
	for i, row := range started {
		entry := models.LeaderboardEntry{
			Rank:           i + 1,
			VehicleID:      row.VehicleID,
			VehicleNumber:  row.VehicleNumber,
			TeamName:       row.TeamName,
			DriverName:     row.DriverName,
			Lap:            int(row.Lap.Int64),
			Checkpoint:     int(row.Checkpoint.Int64),
			LastCrossingMs: row.CrossingTsMs.Int64,
			Status:         statusRacing,
		}

		if i == 0 {
			leaderID = row.VehicleID
		} else {
			// Delta against the leader's time at the same mark.
			leaderTs, ok, err := e.store.CrossingAt(ctx, event.ID, leaderID,
				entry.Lap, entry.Checkpoint)
			if err != nil {
				return nil, err
			}
			if ok {
				entry.DeltaToLeaderMs = entry.LastCrossingMs - leaderTs
			}
		}

		entry.ProgressMiles, entry.MilesRemaining = e.progress(event, crs, entry.Lap, positions[row.VehicleID])
		board.Entries = append(board.Entries, entry)
	}

	for _, row := range notStarted {
		board.Entries = append(board.Entries, models.LeaderboardEntry{
			Rank:           len(board.Entries) + 1,
			VehicleID:      row.VehicleID,
			VehicleNumber:  row.VehicleNumber,
			TeamName:       row.TeamName,
			DriverName:     row.DriverName,
			Lap:            1,
			MilesRemaining: event.CourseMiles * float64(event.TotalLaps),
			Status:         statusNotStarted,
		})
	}

	return board, nil
}

// progress estimates completed miles: finished laps plus the snapped
// distance along the current one.
func (e *Engine) progress(event *models.Event, crs *course.Course, lap int, pos models.LatestPosition) (progress, remaining float64) {
	total := event.CourseMiles * float64(event.TotalLaps)
	if crs == nil || pos.VehicleID == "" {
		return 0, total
	}

	if lap < 1 {
		lap = 1
	}
	progress = float64(lap-1)*event.CourseMiles + crs.ProgressMiles(pos.Lat, pos.Lon)
	if progress > total {
		progress = total
	}
	return progress, total - progress
}
