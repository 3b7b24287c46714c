package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/checkpoint"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/live"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/pubsub"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/geo"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

const (
	baseLat = 34.10
	baseLon = -116.30
)

// fakeStore backs both the pipeline and the gate detector, mimicking
// the Postgres uniqueness semantics in memory.
type fakeStore struct {
	event       *models.Event
	checkpoints []models.Checkpoint

	positions map[string]bool
	telemetry map[string]bool
	states    map[string]*models.VehicleLapState
	crossings map[string]bool
}

func newFakeStore(totalLaps int, cps []models.Checkpoint) *fakeStore {
	return &fakeStore{
		event:       &models.Event{ID: "evt-1", TotalLaps: totalLaps, Status: models.EventInProgress},
		checkpoints: cps,
		positions:   make(map[string]bool),
		telemetry:   make(map[string]bool),
		states:      make(map[string]*models.VehicleLapState),
		crossings:   make(map[string]bool),
	}
}

func sampleKey(eventID, vehicleID string, tsMs int64) string {
	return fmt.Sprintf("%s:%s:%d", eventID, vehicleID, tsMs)
}

func (f *fakeStore) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	return f.event, nil
}

func (f *fakeStore) ListCheckpoints(ctx context.Context, eventID string) ([]models.Checkpoint, error) {
	return f.checkpoints, nil
}

func (f *fakeStore) InsertPosition(ctx context.Context, eventID, vehicleID string, sample models.PositionSample) (bool, error) {
	key := sampleKey(eventID, vehicleID, sample.TsMs)
	if f.positions[key] {
		return false, nil
	}
	f.positions[key] = true
	return true, nil
}

func (f *fakeStore) InsertTelemetry(ctx context.Context, eventID, vehicleID string, sample models.TelemetrySample) (bool, error) {
	key := sampleKey(eventID, vehicleID, sample.TsMs)
	if f.telemetry[key] {
		return false, nil
	}
	f.telemetry[key] = true
	return true, nil
}

func (f *fakeStore) GetLapState(ctx context.Context, eventID, vehicleID string) (*models.VehicleLapState, error) {
	if st, ok := f.states[eventID+":"+vehicleID]; ok {
		copied := *st
		return &copied, nil
	}
	return &models.VehicleLapState{EventID: eventID, VehicleID: vehicleID, CurrentLap: 1}, nil
}

func (f *fakeStore) RecordCrossing(ctx context.Context, crossing models.CheckpointCrossing, newLap, newLastCheckpoint int) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s:%d", crossing.EventID, crossing.VehicleID, crossing.CheckpointID, crossing.Lap)
	if f.crossings[key] {
		return false, nil
	}
	f.crossings[key] = true
	f.states[crossing.EventID+":"+crossing.VehicleID] = &models.VehicleLapState{
		EventID:        crossing.EventID,
		VehicleID:      crossing.VehicleID,
		CurrentLap:     newLap,
		LastCheckpoint: newLastCheckpoint,
	}
	return true, nil
}

type fakeFirehose struct {
	records []kafka.FirehoseRecord
}

func (f *fakeFirehose) PublishFirehoseBatch(recs []kafka.FirehoseRecord) error {
	f.records = append(f.records, recs...)
	return nil
}

// gatesNorth lays gates along the northbound test track, spacingM
// meters apart, radius 20 m.
func gatesNorth(n int, spacingM float64) []models.Checkpoint {
	plane := geo.NewTangentPlane(baseLat, baseLon)
	out := make([]models.Checkpoint, n)
	for i := range out {
		lat, lon := plane.ToLatLon(0, float64(i)*spacingM)
		out[i] = models.Checkpoint{
			ID:      fmt.Sprintf("cp-%d", i+1),
			EventID: "evt-1",
			Number:  i + 1,
			Lat:     lat,
			Lon:     lon,
			RadiusM: 20,
			Type:    models.CheckpointTiming,
		}
	}
	return out
}

// northbound returns a fix metersNorth up the track at 30 m/s.
func northbound(metersNorth float64, tsMs int64) models.PositionSample {
	plane := geo.NewTangentPlane(baseLat, baseLon)
	lat, lon := plane.ToLatLon(0, metersNorth)
	return models.PositionSample{
		TsMs:       tsMs,
		Lat:        lat,
		Lon:        lon,
		SpeedMps:   30,
		HeadingDeg: 0,
	}
}

func identity() *models.TruckIdentity {
	return &models.TruckIdentity{
		VehicleID:     "veh-1",
		VehicleNumber: "7",
		TeamName:      "Team Sidewinder",
		EventID:       "evt-1",
		EventStatus:   models.EventInProgress,
	}
}

func testPipeline(t *testing.T, st *fakeStore) (*Pipeline, *live.Tracker, *pubsub.Publisher, *fakeFirehose) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := live.New(client)
	pub := pubsub.NewPublisher(client, pubsub.DefaultConfig())
	fh := &fakeFirehose{}
	p := New(st, checkpoint.New(st), tracker, pub, fh, logging.NewLogger())
	return p, tracker, pub, fh
}

func TestBatchThroughThreeGates(t *testing.T) {
	st := newFakeStore(1, gatesNorth(3, 30))
	p, tracker, pub, fh := testPipeline(t, st)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	req := &models.IngestRequest{Positions: []models.PositionSample{
		northbound(0, base),
		northbound(30, base+1000),
		northbound(60, base+2000),
	}}

	resp, err := p.Ingest(ctx, identity(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Accepted)
	assert.Equal(t, 0, resp.Rejected)
	require.Len(t, resp.Crossings, 3)
	for i, crossing := range resp.Crossings {
		assert.Equal(t, i+1, crossing.CheckpointNumber)
		assert.Equal(t, 1, crossing.Lap)
	}

	// Live state carries the last smoothed fix.
	latest, err := tracker.Latest(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "veh-1", latest[0].VehicleID)
	assert.Equal(t, base+2000, latest[0].TsMs)

	// Position and checkpoint events consumed sequence numbers.
	events, ok, err := pub.ReplaySince(ctx, "evt-1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, events, 6)

	// All three accepted fixes reached the firehose.
	assert.Len(t, fh.records, 3)
	for _, rec := range fh.records {
		assert.False(t, rec.IsOutlier)
		assert.Equal(t, string(models.SourceGPS), rec.Source)
	}
}

func TestDuplicateBatchCountsNothing(t *testing.T) {
	st := newFakeStore(1, gatesNorth(3, 30))
	p, _, _, _ := testPipeline(t, st)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	req := &models.IngestRequest{Positions: []models.PositionSample{
		northbound(0, base),
		northbound(30, base+1000),
		northbound(60, base+2000),
	}}

	first, err := p.Ingest(ctx, identity(), req)
	require.NoError(t, err)
	require.Equal(t, 3, first.Accepted)
	require.Len(t, first.Crossings, 3)

	// The uploader retried after a network failure: same batch again.
	second, err := p.Ingest(ctx, identity(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 0, second.Rejected)
	assert.Empty(t, second.Crossings)
}

func TestStaleSampleRejected(t *testing.T) {
	st := newFakeStore(1, gatesNorth(1, 30))
	p, _, _, fh := testPipeline(t, st)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	req := &models.IngestRequest{Positions: []models.PositionSample{
		northbound(0, base-120_000),
		northbound(0, base),
	}}

	resp, err := p.Ingest(ctx, identity(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	assert.Len(t, fh.records, 1)
}

func TestBatchBounds(t *testing.T) {
	st := newFakeStore(1, gatesNorth(1, 30))
	p, _, _, _ := testPipeline(t, st)
	ctx := context.Background()

	_, err := p.Ingest(ctx, identity(), &models.IngestRequest{})
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "empty batch: %v", err)

	base := time.Now().UnixMilli()
	big := &models.IngestRequest{}
	for i := 0; i < 101; i++ {
		big.Telemetry = append(big.Telemetry, models.TelemetrySample{TsMs: base + int64(i)})
	}
	_, err = p.Ingest(ctx, identity(), big)
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "oversize batch: %v", err)
}

func TestRateLimitPerVehicle(t *testing.T) {
	st := newFakeStore(1, gatesNorth(1, 30))
	p, _, _, _ := testPipeline(t, st)
	p.limiter = newRateLimiter(1)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	req := &models.IngestRequest{Positions: []models.PositionSample{
		northbound(0, base),
		northbound(5, base+1000),
		northbound(10, base+2000),
	}}

	_, err := p.Ingest(ctx, identity(), req)
	assert.True(t, errs.IsKind(err, errs.RateLimited), "want rate limited, got %v", err)

	// Another vehicle has its own bucket.
	other := identity()
	other.VehicleID = "veh-2"
	small := &models.IngestRequest{Positions: []models.PositionSample{northbound(0, base)}}
	_, err = p.Ingest(ctx, other, small)
	assert.NoError(t, err)
}

func TestOutlierArchivedButNotPersisted(t *testing.T) {
	st := newFakeStore(1, nil)
	p, tracker, _, fh := testPipeline(t, st)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	jump := northbound(0, base+1000)
	jump.Lat = baseLat + 1 // ~111 km teleport

	resp, err := p.Ingest(ctx, identity(), &models.IngestRequest{Positions: []models.PositionSample{
		northbound(0, base),
		jump,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 0, resp.Rejected)

	// The outlier reached the archive flagged, but not the live state.
	require.Len(t, fh.records, 2)
	assert.False(t, fh.records[0].IsOutlier)
	assert.True(t, fh.records[1].IsOutlier)

	latest, err := tracker.Latest(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, base, latest[0].TsMs)
}

func TestTelemetryMergesChannels(t *testing.T) {
	st := newFakeStore(1, nil)
	p, tracker, _, fh := testPipeline(t, st)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	rpm := 4200.0
	hr := 141

	resp, err := p.Ingest(ctx, identity(), &models.IngestRequest{
		Positions: []models.PositionSample{northbound(0, base)},
		Telemetry: []models.TelemetrySample{{TsMs: base + 100, RPM: &rpm, HeartRate: &hr}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Accepted)

	latest, err := tracker.Latest(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.NotNil(t, latest[0].RPM)
	assert.Equal(t, rpm, *latest[0].RPM)
	require.NotNil(t, latest[0].HeartRate)
	assert.Equal(t, hr, *latest[0].HeartRate)
	// The GPS fix survives the telemetry merge.
	assert.InDelta(t, baseLat, latest[0].Lat, 1e-6)

	require.Len(t, fh.records, 2)
	assert.Equal(t, string(models.SourceCAN), fh.records[1].Source)
}
