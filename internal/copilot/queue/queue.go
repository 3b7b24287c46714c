// Package queue is the edge durable queue: an on-disk FIFO that owns
// every sensor record from the moment the collector hands it over until
// the cloud acknowledges the upload. Network loss is the common case on
// a moving vehicle, so enqueue persists before returning and survives
// power loss; the uploader reads without removing and deletes only
// after a 2xx.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Record is one queued sensor sample.
type Record struct {
	ID         int64
	TsMs       int64
	Source     models.Source
	Payload    []byte
	EnqueuedAt time.Time
}

// Config bounds the queue. Both caps hold simultaneously; breaching
// either drops oldest records first.
type Config struct {
	Path     string
	MaxSize  int
	MaxBytes int64
	// BusyTimeout guards concurrent reader/writer access in WAL mode.
	BusyTimeout time.Duration
}

// DefaultConfig reads queue bounds from the environment.
func DefaultConfig() Config {
	return Config{
		Path:        config.GetEnv("QUEUE_DB_PATH", "copilot-queue.db"),
		MaxSize:     config.GetEnvInt("QUEUE_MAX_SIZE", 100000),
		MaxBytes:    config.GetEnvInt64("QUEUE_MAX_BYTES", 50*1024*1024),
		BusyTimeout: config.GetEnvDuration("QUEUE_BUSY_TIMEOUT", 5*time.Second),
	}
}

// dropBatchMin is the smallest number of records shed on a cap breach;
// shedding one at a time would thrash at the boundary.
const dropBatchMin = 100

// Queue is the disk-backed FIFO. One advisory mutex serializes
// queue-management operations (enqueue cap checks, removal); plain
// reads go through WAL concurrently.
type Queue struct {
	db     *sql.DB
	logger logging.Logger
	cfg    Config

	mu sync.Mutex
	// count/bytes mirror the table so cap checks stay O(1).
	count int
	bytes int64
}

// Open opens or creates the queue database. An unreadable file is
// preserved under a dated suffix and replaced with a fresh queue; edge
// telemetry must keep flowing even after disk corruption.
func Open(cfg Config, logger logging.Logger) (*Queue, error) {
	q, err := open(cfg, logger)
	if err == nil {
		return q, nil
	}

	quarantine := fmt.Sprintf("%s.corrupt-%s", cfg.Path, time.Now().UTC().Format("20060102T150405"))
	logger.WithFields(logging.Fields{
		"path":       cfg.Path,
		"quarantine": quarantine,
	}).WithError(err).Error("Queue database unreadable, starting fresh")

	if renameErr := os.Rename(cfg.Path, quarantine); renameErr != nil && !os.IsNotExist(renameErr) {
		return nil, fmt.Errorf("quarantine corrupt queue: %w", renameErr)
	}
	// WAL sidecars belong to the dead file.
	_ = os.Remove(cfg.Path + "-wal")
	_ = os.Remove(cfg.Path + "-shm")

	return open(cfg, logger)
}

func open(cfg Config, logger logging.Logger) (*Queue, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=auto_vacuum(INCREMENTAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			source TEXT NOT NULL,
			payload BLOB NOT NULL,
			bytes INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}

	q := &Queue{db: db, logger: logger, cfg: cfg}
	if err := q.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM queue_records`).Scan(&q.count, &q.bytes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load queue totals: %w", err)
	}

	return q, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Len returns the current record count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Bytes returns the current payload byte total.
func (q *Queue) Bytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Enqueue persists a record. When it returns nil the record is on disk.
// Cap breaches shed oldest records first and never fail the enqueue.
func (q *Queue) Enqueue(rec Record) error {
	recBytes := int64(len(rec.Payload))

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := q.enforceCapsLocked(tx, recBytes); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO queue_records (ts_ms, source, payload, bytes, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
		rec.TsMs, string(rec.Source), rec.Payload, recBytes, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert queue record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}

	q.count++
	q.bytes += recBytes
	return nil
}

// enforceCapsLocked sheds oldest records until the new record fits both
// caps. Count breaches drop at least dropBatchMin; byte breaches drop
// 10% of the count per round.
func (q *Queue) enforceCapsLocked(tx *sql.Tx, incomingBytes int64) error {
	dropped := 0
	for q.count > 0 {
		over := q.count+1 > q.cfg.MaxSize
		overBytes := q.bytes+incomingBytes > q.cfg.MaxBytes
		if !over && !overBytes {
			break
		}

		dropN := 0
		if over {
			dropN = q.count + 1 - q.cfg.MaxSize
			if dropN < dropBatchMin {
				dropN = dropBatchMin
			}
		}
		if overBytes {
			tenth := q.count / 10
			if tenth < dropBatchMin {
				tenth = dropBatchMin
			}
			if tenth > dropN {
				dropN = tenth
			}
		}
		if dropN > q.count {
			dropN = q.count
		}

		var freed sql.NullInt64
		var n int
		row := tx.QueryRow(`
			SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM queue_records
			WHERE id IN (SELECT id FROM queue_records ORDER BY id ASC LIMIT ?)
		`, dropN)
		if err := row.Scan(&n, &freed); err != nil {
			return fmt.Errorf("measure drop batch: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM queue_records
			WHERE id IN (SELECT id FROM queue_records ORDER BY id ASC LIMIT ?)
		`, dropN); err != nil {
			return fmt.Errorf("drop oldest records: %w", err)
		}

		q.count -= n
		q.bytes -= freed.Int64
		dropped += n
	}

	if dropped > 0 {
		q.logger.WithFields(logging.Fields{
			"dropped":   dropped,
			"count":     q.count,
			"bytes":     q.bytes,
			"max_size":  q.cfg.MaxSize,
			"max_bytes": q.cfg.MaxBytes,
		}).Warn("Queue cap breached, dropped oldest records")
	}
	return nil
}

// DequeueBatch returns up to n oldest records without removing them.
// Callers pass the returned IDs to Remove after the cloud acks.
func (q *Queue) DequeueBatch(n int) ([]Record, error) {
	rows, err := q.db.Query(`
		SELECT id, ts_ms, source, payload, enqueued_at
		FROM queue_records ORDER BY id ASC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var source string
		var enqueuedAt int64
		if err := rows.Scan(&rec.ID, &rec.TsMs, &source, &rec.Payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue record: %w", err)
		}
		rec.Source = models.Source(source)
		rec.EnqueuedAt = time.UnixMilli(enqueuedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Remove deletes the identified records. Removing an id twice, or an id
// the cap enforcement already dropped, is a no-op.
func (q *Queue) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var freed sql.NullInt64
	var n int
	if err := tx.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM queue_records WHERE id IN (`+in+`)`, args...,
	).Scan(&n, &freed); err != nil {
		return fmt.Errorf("measure remove batch: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM queue_records WHERE id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("remove queue records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove: %w", err)
	}

	q.count -= n
	q.bytes -= freed.Int64
	return nil
}

// Compact reclaims space after bulk deletes.
func (q *Queue) Compact() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.Exec(`PRAGMA incremental_vacuum`); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	if _, err := q.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// RunCompaction compacts on an interval until the context ends.
func (q *Queue) RunCompaction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Compact(); err != nil {
				q.logger.WithError(err).Warn("Queue compaction failed")
			}
		}
	}
}
