// Package uploader drains the durable queue toward the cloud ingest
// endpoint in batches. Records leave the queue only after the server
// acknowledges them; the server deduplicates on (event, vehicle, ts_ms),
// so re-uploading after an ambiguous failure is always safe.
package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/copilot/queue"
	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Ingester posts one batch and reports the HTTP status for policy.
type Ingester interface {
	Ingest(ctx context.Context, batch *models.IngestRequest) (*models.IngestResponse, int, error)
}

// Config bounds batching and backoff.
type Config struct {
	BatchSize      int
	BatchTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DrainTimeout bounds the final upload attempt at shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig reads uploader bounds from the environment.
func DefaultConfig() Config {
	return Config{
		BatchSize:      config.GetEnvInt("UPLOAD_BATCH_SIZE", 50),
		BatchTimeout:   config.GetEnvDuration("UPLOAD_BATCH_TIMEOUT", time.Second),
		InitialBackoff: config.GetEnvDuration("UPLOAD_INITIAL_BACKOFF", time.Second),
		MaxBackoff:     config.GetEnvDuration("UPLOAD_MAX_BACKOFF", 60*time.Second),
		DrainTimeout:   config.GetEnvDuration("UPLOAD_DRAIN_TIMEOUT", 5*time.Second),
	}
}

// Snapshot is the uploader's view for the local status endpoint.
type Snapshot struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueBytes    int64  `json:"queue_bytes"`
	Uploaded      int64  `json:"uploaded"`
	Accepted      int64  `json:"accepted"`
	Rejected      int64  `json:"rejected"`
	Malformed     int64  `json:"malformed"`
	AuthFailed    bool   `json:"auth_failed"`
	LastError     string `json:"last_error,omitempty"`
	BackoffMillis int64  `json:"backoff_ms"`
}

// Uploader runs the upload loop.
type Uploader struct {
	queue  *queue.Queue
	client Ingester
	cfg    Config
	logger logging.Logger

	mu         sync.Mutex
	backoff    time.Duration
	authFailed bool
	lastErr    string
	uploaded   int64
	accepted   int64
	rejected   int64
	malformed  int64
}

// New builds an uploader over the queue and ingest client.
func New(q *queue.Queue, client Ingester, cfg Config, logger logging.Logger) *Uploader {
	return &Uploader{
		queue:   q,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		backoff: cfg.InitialBackoff,
	}
}

// Run uploads until the context ends, then drains with one final
// attempt. A 401 halts uploads entirely: the token is wrong and
// retrying only hammers the server; records stay queued for a restart
// with fixed credentials.
func (u *Uploader) Run(ctx context.Context) {
	wait := u.cfg.BatchTimeout
	for {
		if wait > 0 {
			select {
			case <-ctx.Done():
				u.drain()
				return
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			u.drain()
			return
		}

		if u.haltedForAuth() {
			wait = u.cfg.MaxBackoff
			continue
		}

		full, ok := u.uploadOnce(ctx)
		switch {
		case !ok:
			wait = u.currentBackoff()
		case full:
			// A full dequeue means backlog; ship the next batch
			// immediately or the drain rate caps at one batch per
			// timeout and never catches up.
			wait = 0
		default:
			wait = u.cfg.BatchTimeout
		}
	}
}

// uploadOnce ships at most one batch. full reports that the dequeue
// filled the batch, so more records are likely waiting; ok is false
// when the caller should back off before the next attempt.
func (u *Uploader) uploadOnce(ctx context.Context) (full, ok bool) {
	records, err := u.queue.DequeueBatch(u.cfg.BatchSize)
	if err != nil {
		u.setError(err.Error())
		u.logger.WithError(err).Error("Failed to read upload batch from queue")
		return false, false
	}
	if len(records) == 0 {
		return false, true
	}
	full = len(records) == u.cfg.BatchSize

	batch, ids, dropIDs := u.buildBatch(records)
	if len(dropIDs) > 0 {
		// Malformed payloads will never upload; shed them.
		if err := u.queue.Remove(dropIDs); err != nil {
			u.logger.WithError(err).Error("Failed to drop malformed records")
		}
	}
	if len(batch.Positions)+len(batch.Telemetry) == 0 {
		return full, true
	}

	resp, status, err := u.client.Ingest(ctx, batch)
	switch {
	case err == nil:
		if err := u.queue.Remove(ids); err != nil {
			u.logger.WithError(err).Error("Failed to remove uploaded records")
		}
		u.recordSuccess(int64(len(ids)), resp)
		return full, true

	case status == http.StatusUnauthorized:
		u.mu.Lock()
		u.authFailed = true
		u.lastErr = "truck token rejected (401)"
		u.mu.Unlock()
		u.logger.Error("Truck token rejected, halting uploads")
		return false, false

	case status == http.StatusTooManyRequests:
		u.doubleBackoff()
		u.setError("rate limited (429)")
		u.logger.WithField("backoff", u.currentBackoff()).Warn("Ingest rate limited")
		return false, false

	default:
		u.doubleBackoff()
		u.setError(err.Error())
		u.logger.WithFields(logging.Fields{
			"status":  status,
			"backoff": u.currentBackoff(),
			"queued":  u.queue.Len(),
		}).WithError(err).Warn("Upload failed, records stay queued")
		return false, false
	}
}

// buildBatch splits records by source: gps fixes into positions, can
// and ant channels into telemetry.
func (u *Uploader) buildBatch(records []queue.Record) (*models.IngestRequest, []int64, []int64) {
	batch := &models.IngestRequest{}
	ids := make([]int64, 0, len(records))
	var dropIDs []int64

	for _, rec := range records {
		switch rec.Source {
		case models.SourceGPS:
			var pos models.PositionSample
			if err := json.Unmarshal(rec.Payload, &pos); err != nil {
				dropIDs = append(dropIDs, rec.ID)
				u.countMalformed(rec, err)
				continue
			}
			batch.Positions = append(batch.Positions, pos)
		default:
			var tele models.TelemetrySample
			if err := json.Unmarshal(rec.Payload, &tele); err != nil {
				dropIDs = append(dropIDs, rec.ID)
				u.countMalformed(rec, err)
				continue
			}
			batch.Telemetry = append(batch.Telemetry, tele)
		}
		ids = append(ids, rec.ID)
	}
	return batch, ids, dropIDs
}

// drain makes one final bounded attempt so a clean shutdown does not
// leave a full batch behind when the network is up.
func (u *Uploader) drain() {
	if u.haltedForAuth() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.DrainTimeout)
	defer cancel()
	u.uploadOnce(ctx)
}

func (u *Uploader) recordSuccess(n int64, resp *models.IngestResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.backoff = u.cfg.InitialBackoff
	u.lastErr = ""
	u.uploaded += n
	if resp != nil {
		u.accepted += int64(resp.Accepted)
		u.rejected += int64(resp.Rejected)
	}
}

func (u *Uploader) countMalformed(rec queue.Record, err error) {
	u.mu.Lock()
	u.malformed++
	u.mu.Unlock()
	u.logger.WithFields(logging.Fields{
		"source": rec.Source,
		"ts_ms":  rec.TsMs,
	}).WithError(err).Warn("Dropping malformed queue record")
}

func (u *Uploader) doubleBackoff() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.backoff *= 2
	if u.backoff > u.cfg.MaxBackoff {
		u.backoff = u.cfg.MaxBackoff
	}
}

func (u *Uploader) currentBackoff() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.backoff
}

func (u *Uploader) haltedForAuth() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.authFailed
}

func (u *Uploader) setError(msg string) {
	u.mu.Lock()
	u.lastErr = msg
	u.mu.Unlock()
}

// Status reports current uploader state.
func (u *Uploader) Status() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Snapshot{
		QueueDepth:    u.queue.Len(),
		QueueBytes:    u.queue.Bytes(),
		Uploaded:      u.uploaded,
		Accepted:      u.accepted,
		Rejected:      u.rejected,
		Malformed:     u.malformed,
		AuthFailed:    u.authFailed,
		LastError:     u.lastErr,
		BackoffMillis: u.backoff.Milliseconds(),
	}
}
