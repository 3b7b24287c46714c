package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// CreateEvent inserts a draft event and returns it with its id.
func (s *Store) CreateEvent(ctx context.Context, name string, totalLaps int) (*models.Event, error) {
	if name == "" {
		return nil, errs.New(errs.InvalidInput, "event name is required")
	}
	if totalLaps < 1 {
		return nil, errs.New(errs.InvalidInput, "total_laps must be at least 1")
	}

	var ev models.Event
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (name, status, total_laps)
		VALUES ($1, $2, $3)
		RETURNING id, name, status, total_laps, course_miles, created_at, updated_at
	`, name, models.EventDraft, totalLaps).Scan(
		&ev.ID, &ev.Name, &ev.Status, &ev.TotalLaps, &ev.CourseMiles, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &ev, nil
}

// GetEvent loads one event.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var ev models.Event
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, total_laps, course_miles, created_at, updated_at
		FROM events WHERE id = $1
	`, eventID).Scan(&ev.ID, &ev.Name, &ev.Status, &ev.TotalLaps, &ev.CourseMiles, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.NotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("select event: %w", err)
	}
	return &ev, nil
}

// AdvanceEventStatus moves an event to the next lifecycle status.
// Backward moves and skips are rejected.
func (s *Store) AdvanceEventStatus(ctx context.Context, eventID string, next models.EventStatus) (*models.Event, error) {
	if next.Rank() < 0 {
		return nil, errs.Newf(errs.InvalidInput, "unknown event status %q", next)
	}

	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if next.Rank() != ev.Status.Rank()+1 {
		return nil, errs.Newf(errs.InvalidInput,
			"cannot move event from %s to %s", ev.Status, next)
	}

	err = s.db.QueryRowContext(ctx, `
		UPDATE events SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING id, name, status, total_laps, course_miles, created_at, updated_at
	`, eventID, next, ev.Status).Scan(
		&ev.ID, &ev.Name, &ev.Status, &ev.TotalLaps, &ev.CourseMiles, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with another transition.
		return nil, errs.Newf(errs.Conflict, "event %s status changed concurrently", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("update event status: %w", err)
	}
	return ev, nil
}

// SetCourse stores the validated course document and its length.
func (s *Store) SetCourse(ctx context.Context, eventID string, courseGeoJSON []byte, courseMiles float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET course_geojson = $2, course_miles = $3, updated_at = now()
		WHERE id = $1
	`, eventID, courseGeoJSON, courseMiles)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.NotFound, "event %s not found", eventID)
	}
	return nil
}

// GetCourse returns the raw course document, or NotFound when the event
// has none.
func (s *Store) GetCourse(ctx context.Context, eventID string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT course_geojson FROM events WHERE id = $1`, eventID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.NotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("select course: %w", err)
	}
	if len(raw) == 0 {
		return nil, errs.Newf(errs.NotFound, "event %s has no course", eventID)
	}
	return raw, nil
}
