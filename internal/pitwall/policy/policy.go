// Package policy enforces field-level telemetry permissions at the
// server. Teams see what their policy grants production; everyone else
// sees the fans allowance; a hidden vehicle disappears entirely for
// non-team viewers. Clients never receive a field they are not entitled
// to, so there is nothing to strip client-side.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/cache"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Store is the slice of the persistence layer the projector needs.
type Store interface {
	GetPolicy(ctx context.Context, eventID, vehicleID string) (*models.TelemetryPolicy, error)
	IsVisible(ctx context.Context, eventID, vehicleID string) (bool, error)
}

// metadataFields always pass projection regardless of policy: they
// identify the record without exposing telemetry. is_simulated rides
// along so the simulation marker survives end-to-end.
var metadataFields = map[string]struct{}{
	"vehicle_id":     {},
	"vehicle_number": {},
	"team_name":      {},
	"ts_ms":          {},
	"event_id":       {},
	"type":           {},
	"is_simulated":   {},
}

// cacheTTL bounds how stale a projection decision can be; permission
// events invalidate sooner.
const cacheTTL = 60 * time.Second

// Projector filters records per viewer tier with cached policy reads.
type Projector struct {
	store      Store
	policies   *cache.Cache
	visibility *cache.Cache
}

// New builds a projector over the store.
func New(store Store) *Projector {
	opts := cache.Options{TTL: cacheTTL, MaxEntries: 10000}
	return &Projector{
		store:      store,
		policies:   cache.New(opts, cache.MetricsHooks{}),
		visibility: cache.New(opts, cache.MetricsHooks{}),
	}
}

func cacheKey(eventID, vehicleID string) string {
	return eventID + ":" + vehicleID
}

// Invalidate drops cached state for one (event, vehicle). Called when a
// permission event announces a visibility or policy change.
func (p *Projector) Invalidate(eventID, vehicleID string) {
	p.policies.Delete(cacheKey(eventID, vehicleID))
	p.visibility.Delete(cacheKey(eventID, vehicleID))
}

// ProjectLatest filters one live record for the viewer. ok=false means
// the record must be dropped entirely.
func (p *Projector) ProjectLatest(ctx context.Context, viewer auth.ViewerAccess, pos models.LatestPosition) (map[string]interface{}, bool, error) {
	if viewer != auth.ViewerTeam {
		visible, err := p.isVisible(ctx, pos.EventID, pos.VehicleID)
		if err != nil {
			return nil, false, err
		}
		if !visible {
			return nil, false, nil
		}
	}

	allowed, err := p.allowedFields(ctx, viewer, pos.EventID, pos.VehicleID)
	if err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(pos)
	if err != nil {
		return nil, false, fmt.Errorf("marshal live record: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("decode live record: %w", err)
	}

	out := make(map[string]interface{}, len(allowed)+len(metadataFields))
	for key, value := range doc {
		if _, ok := metadataFields[key]; ok {
			out[key] = value
			continue
		}
		if _, ok := allowed[key]; ok {
			out[key] = value
		}
	}
	return out, true, nil
}

// Project filters one stream event. Position events get field-level
// projection; checkpoint events pass subject to visibility; permission
// events always pass (they carry no telemetry and every tier may react
// to them).
func (p *Projector) Project(ctx context.Context, viewer auth.ViewerAccess, ev models.StreamEvent) (models.StreamEvent, bool, error) {
	switch ev.Type {
	case models.StreamEventPosition:
		var pos models.LatestPosition
		if err := json.Unmarshal(ev.Data, &pos); err != nil {
			return ev, false, fmt.Errorf("decode position event: %w", err)
		}
		doc, ok, err := p.ProjectLatest(ctx, viewer, pos)
		if err != nil || !ok {
			return ev, false, err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return ev, false, fmt.Errorf("encode projected event: %w", err)
		}
		projected := ev
		projected.Data = data
		return projected, true, nil

	case models.StreamEventCheckpoint:
		var crossing models.CheckpointCrossing
		if err := json.Unmarshal(ev.Data, &crossing); err != nil {
			return ev, false, fmt.Errorf("decode checkpoint event: %w", err)
		}
		if viewer != auth.ViewerTeam {
			visible, err := p.isVisible(ctx, ev.EventID, crossing.VehicleID)
			if err != nil {
				return ev, false, err
			}
			if !visible {
				return ev, false, nil
			}
		}
		return ev, true, nil

	default:
		return ev, true, nil
	}
}

// allowedFields returns the viewer's field allowance as a set.
func (p *Projector) allowedFields(ctx context.Context, viewer auth.ViewerAccess, eventID, vehicleID string) (map[string]struct{}, error) {
	pol, err := p.policy(ctx, eventID, vehicleID)
	if err != nil {
		return nil, err
	}

	var fields []string
	if viewer == auth.ViewerTeam {
		fields = pol.AllowProduction
	} else {
		fields = pol.AllowFans
	}

	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out, nil
}

func (p *Projector) policy(ctx context.Context, eventID, vehicleID string) (*models.TelemetryPolicy, error) {
	v, _, err := p.policies.Get(ctx, cacheKey(eventID, vehicleID), func(ctx context.Context, _ string) (interface{}, bool, error) {
		pol, err := p.store.GetPolicy(ctx, eventID, vehicleID)
		if err != nil {
			return nil, false, err
		}
		return pol, true, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TelemetryPolicy), nil
}

func (p *Projector) isVisible(ctx context.Context, eventID, vehicleID string) (bool, error) {
	v, _, err := p.visibility.Get(ctx, cacheKey(eventID, vehicleID), func(ctx context.Context, _ string) (interface{}, bool, error) {
		visible, err := p.store.IsVisible(ctx, eventID, vehicleID)
		if err != nil {
			return nil, false, err
		}
		return visible, true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
