// Package ingest runs the per-sample cloud pipeline: age gate, Kalman
// smoothing, idempotent persistence, checkpoint detection, live-state
// merge, fan-out, and the Kafka firehose. Batches are processed in
// order; each sample settles fully before the next one starts.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/checkpoint"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/kalman"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/live"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/pubsub"
	"github.com/waystellar/argusv4-sub001/pkg/cache"
	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// maxBatchSamples bounds positions+telemetry per request.
const maxBatchSamples = 100

// maxSampleAge rejects samples older than the replay horizon; a truck
// that was offline for an hour must not replay stale motion through
// the live pipeline. The archive still sees them via the edge queue
// being drained in order, so the window stays deliberately short.
const maxSampleAge = 60 * time.Second

// courseCacheTTL bounds how stale the per-event gate set may be.
const courseCacheTTL = 30 * time.Second

// Store is the persistence surface the pipeline writes through.
type Store interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	ListCheckpoints(ctx context.Context, eventID string) ([]models.Checkpoint, error)
	InsertPosition(ctx context.Context, eventID, vehicleID string, sample models.PositionSample) (bool, error)
	InsertTelemetry(ctx context.Context, eventID, vehicleID string, sample models.TelemetrySample) (bool, error)
}

// Firehose carries accepted samples to the archive topic.
type Firehose interface {
	PublishFirehoseBatch(recs []kafka.FirehoseRecord) error
}

// Detector scores smoothed positions against the event's gates.
type Detector interface {
	Detect(ctx context.Context, event *models.Event, checkpoints []models.Checkpoint, vehicleID string, lat, lon float64, tsMs int64) (*models.CheckpointCrossing, error)
}

// Pipeline is the ingest engine shared by every truck connection.
type Pipeline struct {
	store    Store
	filters  *kalman.Filters
	detector Detector
	tracker  *live.Tracker
	pub      *pubsub.Publisher
	firehose Firehose
	logger   logging.Logger

	events      *cache.Cache
	checkpoints *cache.Cache
	limiter     *rateLimiter
	now         func() time.Time
}

// New wires a pipeline. firehose may be nil when Kafka is not
// configured; accepted samples then skip the archive.
func New(store Store, detector Detector, tracker *live.Tracker, pub *pubsub.Publisher, firehose Firehose, logger logging.Logger) *Pipeline {
	opts := cache.Options{TTL: courseCacheTTL, MaxEntries: 1000}
	return &Pipeline{
		store:       store,
		filters:     kalman.New(kalman.DefaultConfig()),
		detector:    detector,
		tracker:     tracker,
		pub:         pub,
		firehose:    firehose,
		logger:      logger,
		events:      cache.New(opts, cache.MetricsHooks{}),
		checkpoints: cache.New(opts, cache.MetricsHooks{}),
		limiter:     newRateLimiter(config.GetEnvInt("INGEST_RATE_LIMIT_PER_SEC", 200)),
		now:         time.Now,
	}
}

// Ingest processes one uplink batch for an authenticated truck.
func (p *Pipeline) Ingest(ctx context.Context, identity *models.TruckIdentity, req *models.IngestRequest) (*models.IngestResponse, error) {
	total := len(req.Positions) + len(req.Telemetry)
	if total == 0 {
		return nil, errs.New(errs.InvalidInput, "batch is empty")
	}
	if total > maxBatchSamples {
		return nil, errs.Newf(errs.InvalidInput, "batch of %d exceeds %d samples", total, maxBatchSamples)
	}
	if !p.limiter.allow(identity.VehicleID, total, p.now()) {
		return nil, errs.Newf(errs.RateLimited, "vehicle %s exceeded ingest rate", identity.VehicleID)
	}

	event, checkpoints, err := p.courseContext(ctx, identity.EventID)
	if err != nil {
		return nil, err
	}

	resp := &models.IngestResponse{Crossings: []models.CheckpointCrossing{}}
	var firehose []kafka.FirehoseRecord

	for _, sample := range req.Positions {
		rec, err := p.ingestPosition(ctx, identity, event, checkpoints, sample, resp)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			firehose = append(firehose, *rec)
		}
	}
	for _, sample := range req.Telemetry {
		rec, err := p.ingestTelemetry(ctx, identity, sample, resp)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			firehose = append(firehose, *rec)
		}
	}

	if err := p.tracker.Touch(ctx, identity.EventID, identity.VehicleID, p.now()); err != nil {
		p.logger.WithField("vehicle_id", identity.VehicleID).WithError(err).Warn("Failed to touch live presence")
	}
	p.publishFirehose(firehose)
	return resp, nil
}

// ingestPosition settles one GPS fix. The returned firehose record is
// nil when the sample was rejected or deduplicated.
func (p *Pipeline) ingestPosition(ctx context.Context, identity *models.TruckIdentity, event *models.Event, checkpoints []models.Checkpoint, sample models.PositionSample, resp *models.IngestResponse) (*kafka.FirehoseRecord, error) {
	if p.tooOld(sample.TsMs) {
		resp.Rejected++
		return nil, nil
	}

	est := p.filters.Update(identity.VehicleID, sample)
	if est.IsOutlier {
		// Outliers reach the archive flagged, but never the live
		// pipeline. They count toward neither accepted nor rejected, so
		// a replayed duplicate batch (every sample lands at dt<=0)
		// reports zero accepted.
		rec := positionRecord(identity, sample, sample.Lat, sample.Lon, sample.SpeedMps, sample.HeadingDeg)
		rec.IsOutlier = true
		return &rec, nil
	}

	smoothed := sample
	smoothed.Lat = est.Lat
	smoothed.Lon = est.Lon
	smoothed.SpeedMps = est.SpeedMps
	smoothed.HeadingDeg = est.HeadingDeg

	inserted, err := p.store.InsertPosition(ctx, identity.EventID, identity.VehicleID, smoothed)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Duplicate (event, vehicle, ts_ms): counts toward neither.
		return nil, nil
	}
	resp.Accepted++

	if crossing, err := p.detector.Detect(ctx, event, checkpoints, identity.VehicleID, est.Lat, est.Lon, sample.TsMs); err != nil {
		return nil, err
	} else if crossing != nil {
		resp.Crossings = append(resp.Crossings, *crossing)
		p.publishStream(ctx, identity.EventID, models.StreamEventCheckpoint, crossing)
	}

	merged, err := p.tracker.MergePosition(ctx, models.LatestPosition{
		Type:          models.StreamEventPosition,
		EventID:       identity.EventID,
		VehicleID:     identity.VehicleID,
		VehicleNumber: identity.VehicleNumber,
		TeamName:      identity.TeamName,
		TsMs:          sample.TsMs,
		Lat:           est.Lat,
		Lon:           est.Lon,
		SpeedMps:      est.SpeedMps,
		HeadingDeg:    est.HeadingDeg,
		IsSimulated:   sample.IsSimulated,
	})
	if err != nil {
		p.logger.WithField("vehicle_id", identity.VehicleID).WithError(err).Warn("Failed to merge live position")
	} else {
		p.publishStream(ctx, identity.EventID, models.StreamEventPosition, merged)
	}

	rec := positionRecord(identity, sample, est.Lat, est.Lon, est.SpeedMps, est.HeadingDeg)
	return &rec, nil
}

// ingestTelemetry settles one bus/heart-rate sample.
func (p *Pipeline) ingestTelemetry(ctx context.Context, identity *models.TruckIdentity, sample models.TelemetrySample, resp *models.IngestResponse) (*kafka.FirehoseRecord, error) {
	if p.tooOld(sample.TsMs) {
		resp.Rejected++
		return nil, nil
	}

	inserted, err := p.store.InsertTelemetry(ctx, identity.EventID, identity.VehicleID, sample)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	resp.Accepted++

	merged, err := p.tracker.MergeTelemetry(ctx, identity.EventID, identity.VehicleID, identity.VehicleNumber, identity.TeamName, sample)
	if err != nil {
		p.logger.WithField("vehicle_id", identity.VehicleID).WithError(err).Warn("Failed to merge live telemetry")
	} else {
		p.publishStream(ctx, identity.EventID, models.StreamEventPosition, merged)
	}

	rec := telemetryRecord(identity, sample)
	return &rec, nil
}

func (p *Pipeline) tooOld(tsMs int64) bool {
	return p.now().UnixMilli()-tsMs > maxSampleAge.Milliseconds()
}

// courseContext loads the event and its gates through short-lived
// caches so a 10 Hz fleet does not hammer Postgres.
func (p *Pipeline) courseContext(ctx context.Context, eventID string) (*models.Event, []models.Checkpoint, error) {
	ev, ok, err := p.events.Get(ctx, eventID, func(ctx context.Context, key string) (interface{}, bool, error) {
		event, err := p.store.GetEvent(ctx, key)
		return event, err == nil, err
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errs.Newf(errs.NotFound, "event %s not found", eventID)
	}
	cps, ok, err := p.checkpoints.Get(ctx, eventID, func(ctx context.Context, key string) (interface{}, bool, error) {
		list, err := p.store.ListCheckpoints(ctx, key)
		return list, err == nil, err
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errs.Newf(errs.NotFound, "checkpoints for event %s not found", eventID)
	}
	return ev.(*models.Event), cps.([]models.Checkpoint), nil
}

func (p *Pipeline) publishStream(ctx context.Context, eventID, eventType string, data interface{}) {
	if p.pub == nil {
		return
	}
	if _, err := p.pub.Publish(ctx, eventID, eventType, data); err != nil {
		p.logger.WithField("event_id", eventID).WithError(err).Warn("Failed to publish stream event")
	}
}

func (p *Pipeline) publishFirehose(recs []kafka.FirehoseRecord) {
	if p.firehose == nil || len(recs) == 0 {
		return
	}
	if err := p.firehose.PublishFirehoseBatch(recs); err != nil {
		p.logger.WithError(err).Warn("Failed to publish firehose batch")
	}
}

func positionRecord(identity *models.TruckIdentity, sample models.PositionSample, lat, lon, speed, heading float64) kafka.FirehoseRecord {
	rec := kafka.FirehoseRecord{
		EventID:     identity.EventID,
		VehicleID:   identity.VehicleID,
		Source:      string(models.SourceGPS),
		TsMs:        sample.TsMs,
		Lat:         lat,
		Lon:         lon,
		SpeedMps:    speed,
		HeadingDeg:  heading,
		IsSimulated: sample.IsSimulated,
	}
	if sample.AltitudeM != 0 {
		alt := sample.AltitudeM
		rec.AltitudeM = &alt
	}
	if sample.Hdop != 0 {
		hdop := sample.Hdop
		rec.Hdop = &hdop
	}
	if sample.Satellites != 0 {
		sats := sample.Satellites
		rec.Satellites = &sats
	}
	return rec
}

func telemetryRecord(identity *models.TruckIdentity, sample models.TelemetrySample) kafka.FirehoseRecord {
	return kafka.FirehoseRecord{
		EventID:         identity.EventID,
		VehicleID:       identity.VehicleID,
		Source:          string(models.SourceCAN),
		TsMs:            sample.TsMs,
		RPM:             sample.RPM,
		Gear:            sample.Gear,
		ThrottlePct:     sample.ThrottlePct,
		CoolantTempC:    sample.CoolantTempC,
		OilPressurePsi:  sample.OilPressurePsi,
		FuelPressurePsi: sample.FuelPressurePsi,
		SpeedMph:        sample.SpeedMph,
		HeartRate:       sample.HeartRate,
		HeartRateZone:   sample.HeartRateZone,
		IsSimulated:     sample.IsSimulated,
	}
}

// NewDetector builds the default gate detector over a store that also
// records crossings.
func NewDetector(st checkpoint.Store) Detector {
	return checkpoint.New(st)
}

// rateLimiter is a per-vehicle token bucket counted in samples.
type rateLimiter struct {
	perSec int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(perSec int) *rateLimiter {
	return &rateLimiter{perSec: perSec, buckets: make(map[string]*bucket)}
}

func (r *rateLimiter) allow(vehicleID string, n int, now time.Time) bool {
	if r.perSec <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[vehicleID]
	if !ok {
		// Burst capacity of two seconds lets the uploader's batch
		// cadence land without throttling.
		b = &bucket{tokens: float64(2 * r.perSec), last: now}
		r.buckets[vehicleID] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * float64(r.perSec)
	if limit := float64(2 * r.perSec); b.tokens > limit {
		b.tokens = limit
	}
	b.last = now

	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}
