package geo

import (
	"math"
	"testing"
)

func TestHaversineZeroAndSymmetry(t *testing.T) {
	if d := HaversineM(39.74, -105.0, 39.74, -105.0); d != 0 {
		t.Fatalf("haversine(p, p) = %v, want 0", d)
	}

	d1 := HaversineM(39.74, -105.0, 39.75, -104.99)
	d2 := HaversineM(39.75, -104.99, 39.74, -105.0)
	if math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("haversine not symmetric: %v vs %v", d1, d2)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude on the fixed-radius sphere.
	d := HaversineM(0, 0, 1, 0)
	want := EarthRadiusM * math.Pi / 180
	if math.Abs(d-want) > 1 {
		t.Fatalf("1 degree latitude = %v m, want %v", d, want)
	}
}

func TestTangentPlaneRoundTrip(t *testing.T) {
	p := NewTangentPlane(39.74, -105.0)
	for _, fix := range [][2]float64{
		{39.74, -105.0},
		{39.75, -104.98},
		{39.70, -105.05},
	} {
		x, y := p.ToXY(fix[0], fix[1])
		lat, lon := p.ToLatLon(x, y)
		if math.Abs(lat-fix[0]) > 1e-9 || math.Abs(lon-fix[1]) > 1e-9 {
			t.Fatalf("round trip drifted: (%v,%v) -> (%v,%v)", fix[0], fix[1], lat, lon)
		}
	}
}

func TestTangentPlaneAgreesWithHaversine(t *testing.T) {
	p := NewTangentPlane(39.74, -105.0)
	x, y := p.ToXY(39.75, -104.99)
	planar := math.Hypot(x, y)
	spherical := HaversineM(39.74, -105.0, 39.75, -104.99)
	// Within a couple kilometers the planar error is sub-meter.
	if math.Abs(planar-spherical) > 1 {
		t.Fatalf("planar %v vs spherical %v", planar, spherical)
	}
}

func TestHeadingDeg(t *testing.T) {
	cases := []struct {
		vx, vy float64
		want   float64
	}{
		{0, 1, 0},    // north
		{1, 0, 90},   // east
		{0, -1, 180}, // south
		{-1, 0, 270}, // west
	}
	for _, c := range cases {
		if got := HeadingDeg(c.vx, c.vy); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("heading(%v,%v) = %v, want %v", c.vx, c.vy, got, c.want)
		}
	}
}
