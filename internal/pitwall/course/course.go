// Package course parses an event's GeoJSON course and answers how far
// along it a position is. The course is a FeatureCollection holding one
// LineString whose properties carry cumulative_m: the surveyed distance
// in meters at each vertex, monotone and aligned with the coordinates.
package course

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/geo"
)

// Course is a parsed polyline with per-vertex cumulative distance.
type Course struct {
	line        orb.LineString
	cumulativeM []float64
}

// Parse decodes a GeoJSON course document.
func Parse(data []byte) (*Course, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parse course geojson", err)
	}

	for _, f := range fc.Features {
		line, ok := f.Geometry.(orb.LineString)
		if !ok {
			continue
		}
		cumulative, err := cumulativeMeters(f)
		if err != nil {
			return nil, err
		}
		return build(line, cumulative)
	}
	return nil, errs.New(errs.InvalidInput, "course has no LineString feature")
}

func cumulativeMeters(f *geojson.Feature) ([]float64, error) {
	raw, ok := f.Properties["cumulative_m"]
	if !ok {
		return nil, errs.New(errs.InvalidInput, "course LineString missing cumulative_m")
	}
	values, ok := raw.([]interface{})
	if !ok {
		return nil, errs.New(errs.InvalidInput, "course cumulative_m is not an array")
	}

	out := make([]float64, len(values))
	for i, v := range values {
		n, ok := v.(float64)
		if !ok {
			return nil, errs.Newf(errs.InvalidInput, "course cumulative_m[%d] is not a number", i)
		}
		out[i] = n
	}
	return out, nil
}

func build(line orb.LineString, cumulative []float64) (*Course, error) {
	if len(line) < 2 {
		return nil, errs.New(errs.InvalidInput, "course LineString needs at least 2 points")
	}
	if len(cumulative) != len(line) {
		return nil, errs.Newf(errs.InvalidInput,
			"course cumulative_m length %d does not match %d coordinates", len(cumulative), len(line))
	}
	for i := 1; i < len(cumulative); i++ {
		if cumulative[i] < cumulative[i-1] {
			return nil, errs.Newf(errs.InvalidInput, "course cumulative_m not monotone at index %d", i)
		}
	}
	return &Course{line: line, cumulativeM: cumulative}, nil
}

// TotalM returns the surveyed course length in meters.
func (c *Course) TotalM() float64 {
	return c.cumulativeM[len(c.cumulativeM)-1]
}

// TotalMiles returns the surveyed course length in miles.
func (c *Course) TotalMiles() float64 {
	return c.TotalM() / geo.MetersPerMile
}

// ProgressM snaps (lat, lon) to the nearest point on the polyline and
// returns the surveyed distance there. Segments are short relative to
// Earth, so each one is projected on a local tangent plane anchored at
// its first vertex.
func (c *Course) ProgressM(lat, lon float64) float64 {
	best := 0.0
	bestDist := -1.0

	for i := 0; i+1 < len(c.line); i++ {
		a, b := c.line[i], c.line[i+1]
		plane := geo.NewTangentPlane(a.Lat(), a.Lon())

		px, py := plane.ToXY(lat, lon)
		bx, by := plane.ToXY(b.Lat(), b.Lon())

		segLen2 := bx*bx + by*by
		t := 0.0
		if segLen2 > 0 {
			t = (px*bx + py*by) / segLen2
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
		}

		dx, dy := px-t*bx, py-t*by
		dist := dx*dx + dy*dy
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = c.cumulativeM[i] + t*(c.cumulativeM[i+1]-c.cumulativeM[i])
		}
	}
	return best
}

// ProgressMiles is ProgressM in miles.
func (c *Course) ProgressMiles(lat, lon float64) float64 {
	return c.ProgressM(lat, lon) / geo.MetersPerMile
}

// Validate re-parses a raw document, for admin upload validation.
func Validate(data []byte) error {
	_, err := Parse(data)
	return err
}

// Describe summarizes a course for API responses.
func (c *Course) Describe() string {
	return fmt.Sprintf("%d points, %.1f miles", len(c.line), c.TotalMiles())
}
