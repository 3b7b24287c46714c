package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/cache"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// TruckTokenHeader authenticates all vehicle-to-cloud traffic.
const TruckTokenHeader = "X-Truck-Token"

// MintTruckToken returns a fresh 256-bit hex token.
func MintTruckToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint truck token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TruckResolver maps truck tokens to identities, caching hits for 24 h
// so steady-state ingest does not touch Postgres per batch.
type TruckResolver struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewTruckResolver builds a resolver over the vehicles table.
func NewTruckResolver(db *sql.DB, ttl time.Duration) *TruckResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TruckResolver{
		db: db,
		cache: cache.New(cache.Options{
			TTL:         ttl,
			NegativeTTL: 30 * time.Second,
			MaxEntries:  10000,
		}, cache.MetricsHooks{}),
	}
}

// Resolve returns the identity for a token: the vehicle plus its most
// relevant event registration, preferring in_progress events and then
// recency. An unknown token yields errs.Unauthenticated.
func (r *TruckResolver) Resolve(ctx context.Context, token string) (*models.TruckIdentity, error) {
	if token == "" {
		return nil, errs.New(errs.Unauthenticated, "missing truck token")
	}

	val, ok, err := r.cache.Get(ctx, token, func(ctx context.Context, key string) (interface{}, bool, error) {
		ident, err := r.lookup(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return ident, true, nil
	})
	if err != nil || !ok {
		if err == nil {
			err = errs.New(errs.Unauthenticated, "invalid truck token")
		}
		return nil, err
	}
	return val.(*models.TruckIdentity), nil
}

// Invalidate drops a cached token, e.g. after rotation.
func (r *TruckResolver) Invalidate(token string) {
	r.cache.Delete(token)
}

func (r *TruckResolver) lookup(ctx context.Context, token string) (*models.TruckIdentity, error) {
	var ident models.TruckIdentity
	var eventID, eventStatus sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT v.id, v.vehicle_number, v.team_name, e.id, e.status
		FROM vehicles v
		LEFT JOIN LATERAL (
			SELECT ev.id, ev.status
			FROM events ev
			JOIN event_vehicles reg ON reg.event_id = ev.id AND reg.vehicle_id = v.id
			ORDER BY (ev.status = 'in_progress') DESC, ev.created_at DESC
			LIMIT 1
		) e ON TRUE
		WHERE v.truck_token = $1
	`, token).Scan(&ident.VehicleID, &ident.VehicleNumber, &ident.TeamName, &eventID, &eventStatus)

	if err == sql.ErrNoRows {
		return nil, errs.New(errs.Unauthenticated, "invalid truck token")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve truck token: %w", err)
	}

	ident.EventID = eventID.String
	ident.EventStatus = models.EventStatus(eventStatus.String)
	return &ident, nil
}

// RegisteredForEvent reports whether the vehicle behind a token is
// registered for a specific event. Used to scope team access: a valid
// token for the wrong event degrades to public.
func (r *TruckResolver) RegisteredForEvent(ctx context.Context, vehicleID, eventID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM event_vehicles WHERE event_id = $1 AND vehicle_id = $2
	`, eventID, vehicleID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event registration: %w", err)
	}
	return true, nil
}
