// Package kalman smooths raw GPS fixes per vehicle with a 2-D
// constant-velocity filter. Consumer GPS under desert canyon walls
// produces multipath jumps of tens of meters; the filter rides through
// them and flags implausible fixes as outliers so the checkpoint
// detector never sees a teleporting vehicle.
package kalman

import (
	"container/list"
	"math"
	"sync"

	"github.com/waystellar/argusv4-sub001/pkg/geo"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Config tunes the filter.
type Config struct {
	// ProcessNoise is acceleration uncertainty in m/s².
	ProcessNoise float64
	// MeasurementNoise is GPS position uncertainty in meters.
	MeasurementNoise float64
	// OutlierThresholdM marks fixes whose innovation exceeds this.
	OutlierThresholdM float64
	// MaxVehicles caps the per-vehicle state LRU.
	MaxVehicles int
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		ProcessNoise:      1.0,
		MeasurementNoise:  5.0,
		OutlierThresholdM: 50.0,
		MaxVehicles:       500,
	}
}

// maxDtSeconds clamps the prediction horizon; beyond this the velocity
// extrapolation is meaningless and the filter trusts the measurement.
const maxDtSeconds = 10.0

// Estimate is one smoothed fix.
type Estimate struct {
	Lat        float64
	Lon        float64
	SpeedMps   float64
	HeadingDeg float64
	IsOutlier  bool
}

// state is one vehicle's filter: tangent-plane position/velocity with a
// shared diagonal covariance scalar.
type state struct {
	vehicleID string
	plane     geo.TangentPlane
	x, y      float64
	vx, vy    float64
	p         float64
	lastTsMs  int64
}

// Filters holds per-vehicle filter state behind one mutex. The LRU cap
// bounds memory across events; evicting a cold vehicle only costs a
// re-anchor on its next fix.
type Filters struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*list.Element
	order   *list.List // front = most recent
}

// New builds the filter set.
func New(cfg Config) *Filters {
	return &Filters{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Len reports how many vehicles currently hold state.
func (f *Filters) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Update feeds one raw fix through the vehicle's filter and returns the
// smoothed estimate. Outliers return the predicted position and must
// not be persisted by the caller.
func (f *Filters) Update(vehicleID string, sample models.PositionSample) Estimate {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.touch(vehicleID)
	if st == nil {
		st = f.insert(vehicleID, sample)
		return Estimate{
			Lat:        sample.Lat,
			Lon:        sample.Lon,
			SpeedMps:   sample.SpeedMps,
			HeadingDeg: sample.HeadingDeg,
		}
	}
	return st.step(&f.cfg, sample)
}

// touch returns the vehicle's state and marks it most recent, or nil.
func (f *Filters) touch(vehicleID string) *state {
	el, ok := f.entries[vehicleID]
	if !ok {
		return nil
	}
	f.order.MoveToFront(el)
	return el.Value.(*state)
}

// insert anchors a fresh filter at the first fix, evicting the coldest
// vehicle when at capacity.
func (f *Filters) insert(vehicleID string, sample models.PositionSample) *state {
	if f.cfg.MaxVehicles > 0 && len(f.entries) >= f.cfg.MaxVehicles {
		oldest := f.order.Back()
		if oldest != nil {
			f.order.Remove(oldest)
			delete(f.entries, oldest.Value.(*state).vehicleID)
		}
	}

	vx, vy := velocityComponents(sample.SpeedMps, sample.HeadingDeg)
	st := &state{
		vehicleID: vehicleID,
		plane:     geo.NewTangentPlane(sample.Lat, sample.Lon),
		vx:        vx,
		vy:        vy,
		p:         f.cfg.MeasurementNoise * f.cfg.MeasurementNoise,
		lastTsMs:  sample.TsMs,
	}
	f.entries[vehicleID] = f.order.PushFront(st)
	return st
}

func (st *state) step(cfg *Config, sample models.PositionSample) Estimate {
	dt := float64(sample.TsMs-st.lastTsMs) / 1000.0
	if dt <= 0 {
		// Out-of-order or repeated timestamp: reject the sample but
		// keep the filter alive at its current state.
		return st.estimate(true)
	}
	if dt > maxDtSeconds {
		dt = maxDtSeconds
	}

	// Predict.
	px := st.x + st.vx*dt
	py := st.y + st.vy*dt
	pp := st.p + cfg.ProcessNoise*dt*dt

	zx, zy := st.plane.ToXY(sample.Lat, sample.Lon)
	ix, iy := zx-px, zy-py
	innovation := math.Hypot(ix, iy)

	if innovation > cfg.OutlierThresholdM {
		// Implausible jump: commit the prediction so the filter keeps
		// tracking the believable trajectory, and advance time so a
		// stuck GPS cannot wedge the filter in the past.
		st.x, st.y = px, py
		st.p = pp
		st.lastTsMs = sample.TsMs
		return st.estimate(true)
	}

	r := cfg.MeasurementNoise * cfg.MeasurementNoise
	k := pp / (pp + r)

	st.x = px + k*ix
	st.y = py + k*iy

	// Velocity learns from the position correction at half weight; the
	// innovation rate is noisy at 10 Hz.
	st.vx += 0.5 * k * (ix / dt)
	st.vy += 0.5 * k * (iy / dt)

	// When the receiver supplies doppler speed/heading, trust it as
	// much as the derived velocity.
	if sample.SpeedMps > 0 {
		mvx, mvy := velocityComponents(sample.SpeedMps, sample.HeadingDeg)
		st.vx = 0.5*st.vx + 0.5*mvx
		st.vy = 0.5*st.vy + 0.5*mvy
	}

	st.p = (1 - k) * pp
	st.lastTsMs = sample.TsMs
	return st.estimate(false)
}

func (st *state) estimate(outlier bool) Estimate {
	lat, lon := st.plane.ToLatLon(st.x, st.y)
	return Estimate{
		Lat:        lat,
		Lon:        lon,
		SpeedMps:   math.Hypot(st.vx, st.vy),
		HeadingDeg: geo.HeadingDeg(st.vx, st.vy),
		IsOutlier:  outlier,
	}
}

// velocityComponents converts speed + compass heading into (east, north).
func velocityComponents(speedMps, headingDeg float64) (vx, vy float64) {
	rad := headingDeg * math.Pi / 180
	return speedMps * math.Sin(rad), speedMps * math.Cos(rad)
}
