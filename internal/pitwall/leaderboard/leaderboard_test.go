package leaderboard

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/course"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/store"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

type fakeStore struct {
	rows      []store.ProgressRow
	crossings map[string]int64 // "vehicle:lap:cp" -> ts
}

func (f *fakeStore) LeaderboardRows(ctx context.Context, eventID string) ([]store.ProgressRow, error) {
	return f.rows, nil
}

func (f *fakeStore) CrossingAt(ctx context.Context, eventID, vehicleID string, lap, cp int) (int64, bool, error) {
	ts, ok := f.crossings[crossingKey(vehicleID, lap, cp)]
	return ts, ok, nil
}

func crossingKey(vehicleID string, lap, cp int) string {
	return fmt.Sprintf("%s:%d:%d", vehicleID, lap, cp)
}

type fakeLive struct {
	positions []models.LatestPosition
}

func (f *fakeLive) Latest(ctx context.Context, eventID string) ([]models.LatestPosition, error) {
	return f.positions, nil
}

func started(vehicleID, number string, lap, cp int, ts int64) store.ProgressRow {
	return store.ProgressRow{
		VehicleID:     vehicleID,
		VehicleNumber: number,
		Lap:           sql.NullInt64{Int64: int64(lap), Valid: true},
		Checkpoint:    sql.NullInt64{Int64: int64(cp), Valid: true},
		CrossingTsMs:  sql.NullInt64{Int64: ts, Valid: true},
	}
}

func notStarted(vehicleID, number string) store.ProgressRow {
	return store.ProgressRow{VehicleID: vehicleID, VehicleNumber: number}
}

func testEvent() *models.Event {
	return &models.Event{ID: "evt-1", TotalLaps: 2, CourseMiles: 10, Status: models.EventInProgress}
}

func TestRankingOrder(t *testing.T) {
	st := &fakeStore{
		rows: []store.ProgressRow{
			started("veh-slow", "3", 1, 2, 9000),
			started("veh-lead", "1", 2, 1, 8000),
			started("veh-mid", "2", 1, 2, 7000),
		},
		crossings: map[string]int64{},
	}
	e := New(st, &fakeLive{})

	board, err := e.Build(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	require.Len(t, board.Entries, 3)

	// Higher lap first, then higher checkpoint, then earlier time.
	assert.Equal(t, "veh-lead", board.Entries[0].VehicleID)
	assert.Equal(t, "veh-mid", board.Entries[1].VehicleID)
	assert.Equal(t, "veh-slow", board.Entries[2].VehicleID)
	for i, entry := range board.Entries {
		assert.Equal(t, i+1, entry.Rank)
		assert.Equal(t, "Racing", entry.Status)
	}
}

func TestNotStartedSortLastByVehicleNumber(t *testing.T) {
	st := &fakeStore{
		rows: []store.ProgressRow{
			notStarted("veh-b", "22"),
			started("veh-a", "7", 1, 1, 1000),
			notStarted("veh-c", "11"),
		},
		crossings: map[string]int64{},
	}
	e := New(st, &fakeLive{})

	board, err := e.Build(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	require.Len(t, board.Entries, 3)

	assert.Equal(t, "veh-a", board.Entries[0].VehicleID)
	assert.Equal(t, "11", board.Entries[1].VehicleNumber)
	assert.Equal(t, "22", board.Entries[2].VehicleNumber)
	assert.Equal(t, "Not Started", board.Entries[1].Status)
	assert.Equal(t, 3, board.Entries[2].Rank)
}

func TestDeltaToLeader(t *testing.T) {
	st := &fakeStore{
		rows: []store.ProgressRow{
			started("veh-lead", "1", 1, 3, 30000),
			started("veh-chase", "2", 1, 2, 25000),
		},
		crossings: map[string]int64{
			// The leader hit checkpoint 2 at t=20s.
			crossingKey("veh-lead", 1, 2): 20000,
		},
	}
	e := New(st, &fakeLive{})

	board, err := e.Build(context.Background(), testEvent(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), board.Entries[0].DeltaToLeaderMs)
	assert.Equal(t, int64(5000), board.Entries[1].DeltaToLeaderMs)
}

const courseDoc = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {"cumulative_m": [0, 8046.72, 16093.44]},
    "geometry": {"type": "LineString",
      "coordinates": [[-116.30, 34.10], [-116.30, 34.17], [-116.30, 34.24]]}
  }]
}`

func TestProgressMilesFromCourseSnap(t *testing.T) {
	crs, err := course.Parse([]byte(courseDoc))
	require.NoError(t, err)

	st := &fakeStore{
		rows:      []store.ProgressRow{started("veh-1", "1", 2, 1, 1000)},
		crossings: map[string]int64{},
	}
	live := &fakeLive{positions: []models.LatestPosition{{
		EventID: "evt-1", VehicleID: "veh-1", Lat: 34.17, Lon: -116.30,
	}}}
	e := New(st, live)

	board, err := e.Build(context.Background(), testEvent(), crs)
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)

	// Lap 2 at the course midpoint: 10 (lap 1) + 5 = 15 of 20 miles.
	assert.InDelta(t, 15.0, board.Entries[0].ProgressMiles, 0.1)
	assert.InDelta(t, 5.0, board.Entries[0].MilesRemaining, 0.1)
}

func TestNoCourseMeansZeroProgress(t *testing.T) {
	st := &fakeStore{
		rows:      []store.ProgressRow{started("veh-1", "1", 1, 1, 1000)},
		crossings: map[string]int64{},
	}
	e := New(st, &fakeLive{})

	board, err := e.Build(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Zero(t, board.Entries[0].ProgressMiles)
	assert.Equal(t, 20.0, board.Entries[0].MilesRemaining)
}
