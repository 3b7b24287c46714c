package sources

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// SimSource replaces one sensor with generated data. It is constructed
// only when the operator sets SIMULATION_MODE; every payload carries
// is_simulated=true and the device status reads "simulated" so nothing
// downstream can mistake it for hardware.
type SimSource struct {
	name     models.Source
	interval time.Duration
	logger   logging.Logger

	// origin anchors the simulated loop.
	lat float64
	lon float64

	step int
}

// NewSimSource builds a simulator for the named source.
func NewSimSource(name models.Source, lat, lon float64, logger logging.Logger) *SimSource {
	interval := 100 * time.Millisecond
	if name == models.SourceANT {
		interval = time.Second
	}
	return &SimSource{name: name, interval: interval, logger: logger, lat: lat, lon: lon}
}

func (s *SimSource) Name() models.Source { return s.name }
func (s *SimSource) Status() DeviceStatus { return StatusSimulated }

// Run emits samples on the source's natural cadence.
func (s *SimSource) Run(ctx context.Context, out chan<- Message) {
	s.logger.WithField("source", s.name).Warn("Source running in simulation mode")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tsMs := time.Now().UnixMilli()
			payload, err := s.sample(tsMs)
			if err != nil {
				continue
			}
			select {
			case out <- Message{Source: s.name, TsMs: tsMs, Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *SimSource) sample(tsMs int64) ([]byte, error) {
	s.step++
	switch s.name {
	case models.SourceGPS:
		// A slow oval around the origin, ~20 m/s.
		angle := float64(s.step) * 0.01
		pos := models.PositionSample{
			TsMs:        tsMs,
			Lat:         s.lat + 0.002*math.Sin(angle),
			Lon:         s.lon + 0.003*math.Cos(angle),
			SpeedMps:    20,
			HeadingDeg:  math.Mod(angle*180/math.Pi+90, 360),
			AltitudeM:   1600,
			Hdop:        0.9,
			Satellites:  10,
			IsSimulated: true,
		}
		return json.Marshal(pos)
	case models.SourceANT:
		hr := 130 + int(20*math.Sin(float64(s.step)*0.05))
		zone := 3
		tele := models.TelemetrySample{TsMs: tsMs, HeartRate: &hr, HeartRateZone: &zone, IsSimulated: true}
		return json.Marshal(tele)
	default:
		rpm := 4000 + 800*math.Sin(float64(s.step)*0.1)
		gear := 4
		throttle := 55 + 30*math.Sin(float64(s.step)*0.1)
		coolant := 90.0
		oil := 50.0
		fuel := 44.0
		mph := 45 + 10*math.Sin(float64(s.step)*0.02)
		tele := models.TelemetrySample{
			TsMs:            tsMs,
			RPM:             &rpm,
			Gear:            &gear,
			ThrottlePct:     &throttle,
			CoolantTempC:    &coolant,
			OilPressurePsi:  &oil,
			FuelPressurePsi: &fuel,
			SpeedMph:        &mph,
			IsSimulated:     true,
		}
		return json.Marshal(tele)
	}
}
