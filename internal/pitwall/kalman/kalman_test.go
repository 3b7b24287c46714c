package kalman

import (
	"fmt"
	"math"
	"testing"

	"github.com/waystellar/argusv4-sub001/pkg/geo"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

const (
	baseLat = 34.10
	baseLon = -116.30
)

// northbound returns a fix i seconds into a constant 20 m/s run due
// north from the base point.
func northbound(i int) models.PositionSample {
	plane := geo.NewTangentPlane(baseLat, baseLon)
	lat, lon := plane.ToLatLon(0, float64(i)*20)
	return models.PositionSample{
		TsMs:       int64(i) * 1000,
		Lat:        lat,
		Lon:        lon,
		SpeedMps:   20,
		HeadingDeg: 0,
	}
}

func TestFirstFixPassesThrough(t *testing.T) {
	f := New(DefaultConfig())
	est := f.Update("veh-1", northbound(0))

	if est.IsOutlier {
		t.Fatalf("first fix marked outlier")
	}
	if est.Lat != baseLat || est.Lon != baseLon {
		t.Fatalf("first estimate moved: (%v, %v)", est.Lat, est.Lon)
	}
	if est.SpeedMps != 20 || est.HeadingDeg != 0 {
		t.Fatalf("first estimate lost speed/heading: %v m/s %v deg", est.SpeedMps, est.HeadingDeg)
	}
}

func TestCleanTrackReproducedWithinNoiseFloor(t *testing.T) {
	f := New(DefaultConfig())

	var est Estimate
	for i := 0; i < 30; i++ {
		sample := northbound(i)
		est = f.Update("veh-1", sample)
		if est.IsOutlier {
			t.Fatalf("clean sample %d marked outlier", i)
		}
		if d := geo.HaversineM(est.Lat, est.Lon, sample.Lat, sample.Lon); d > 5 {
			t.Fatalf("sample %d: estimate %.1f m from truth", i, d)
		}
	}

	if math.Abs(est.SpeedMps-20) > 1 {
		t.Fatalf("converged speed = %v, want ~20", est.SpeedMps)
	}
	if est.HeadingDeg > 5 && est.HeadingDeg < 355 {
		t.Fatalf("converged heading = %v, want ~0", est.HeadingDeg)
	}
}

func TestOutlierJumpRejectedThenRecovers(t *testing.T) {
	f := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		f.Update("veh-1", northbound(i))
	}

	// A multipath teleport to the other side of the planet.
	jump := models.PositionSample{TsMs: 5000, Lat: 10, Lon: 10, SpeedMps: 20}
	est := f.Update("veh-1", jump)
	if !est.IsOutlier {
		t.Fatalf("teleport not marked outlier")
	}

	// The returned position must be the prediction, not the jump.
	want := northbound(5)
	if d := geo.HaversineM(est.Lat, est.Lon, want.Lat, want.Lon); d > 20 {
		t.Fatalf("outlier estimate %.1f m from predicted track", d)
	}

	// The next clean fix is accepted.
	est = f.Update("veh-1", northbound(6))
	if est.IsOutlier {
		t.Fatalf("clean fix after outlier still rejected")
	}
	want = northbound(6)
	if d := geo.HaversineM(est.Lat, est.Lon, want.Lat, want.Lon); d > 10 {
		t.Fatalf("post-recovery estimate %.1f m from truth", d)
	}
}

func TestNonPositiveDtIsOutlierButFilterSurvives(t *testing.T) {
	f := New(DefaultConfig())
	f.Update("veh-1", northbound(0))
	f.Update("veh-1", northbound(1))

	stale := northbound(1) // same timestamp again
	est := f.Update("veh-1", stale)
	if !est.IsOutlier {
		t.Fatalf("repeated timestamp not marked outlier")
	}

	est = f.Update("veh-1", northbound(2))
	if est.IsOutlier {
		t.Fatalf("filter dead after non-positive dt")
	}
}

func TestLongGapClampsPrediction(t *testing.T) {
	f := New(DefaultConfig())
	f.Update("veh-1", northbound(0))
	f.Update("veh-1", northbound(1))

	// 120 s later the vehicle is far ahead, but the clamped prediction
	// only extrapolates 10 s. The fix is beyond the outlier gate, gets
	// rejected, and the filter re-converges on subsequent fixes without
	// having flung its state 120 s downrange.
	late := northbound(120)
	est := f.Update("veh-1", late)
	if !est.IsOutlier {
		t.Fatalf("post-gap fix unexpectedly accepted")
	}
	plane := geo.NewTangentPlane(baseLat, baseLon)
	_, y := plane.ToXY(est.Lat, est.Lon)
	if y > 20*(1+10+1) {
		t.Fatalf("prediction overshot the clamp: y=%.1f m", y)
	}
}

func TestLRUEvictsColdestVehicle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVehicles = 3
	f := New(cfg)

	for i := 0; i < 3; i++ {
		f.Update(fmt.Sprintf("veh-%d", i), northbound(0))
	}
	// Touch veh-0 so veh-1 is coldest.
	f.Update("veh-0", northbound(1))

	f.Update("veh-3", northbound(0))
	if f.Len() != 3 {
		t.Fatalf("len = %d, want 3", f.Len())
	}

	// veh-1 was evicted: its next fix re-anchors (passes through).
	est := f.Update("veh-1", models.PositionSample{TsMs: 9000, Lat: 35, Lon: -117, SpeedMps: 5})
	if est.IsOutlier || est.Lat != 35 {
		t.Fatalf("evicted vehicle did not re-anchor: %+v", est)
	}
}

func TestVehiclesAreIndependent(t *testing.T) {
	f := New(DefaultConfig())
	f.Update("veh-1", northbound(0))

	// A second vehicle far away anchors its own plane.
	other := models.PositionSample{TsMs: 0, Lat: 36.0, Lon: -115.0, SpeedMps: 10, HeadingDeg: 90}
	est := f.Update("veh-2", other)
	if est.IsOutlier {
		t.Fatalf("independent vehicle's first fix marked outlier")
	}
	if est.Lat != 36.0 || est.Lon != -115.0 {
		t.Fatalf("second vehicle estimate polluted: %+v", est)
	}
}
