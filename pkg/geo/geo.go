// Package geo provides the spherical-earth math shared by the
// checkpoint detector, the Kalman filter, and course progress.
//
// All distances use a fixed mean earth radius rather than orb's WGS84
// equatorial radius, so gate captures are reproducible against recorded
// race data.
package geo

import "math"

// EarthRadiusM is the mean earth radius used for all haversine math.
const EarthRadiusM = 6371000.0

// MetersPerMile converts course distances for viewer-facing output.
const MetersPerMile = 1609.344

// HaversineM returns the great-circle distance in meters between two
// (lat, lon) points in degrees.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// TangentPlane is a local flat-earth approximation anchored at one fix.
// Within a race course (tens of kilometers) the distortion is far below
// GPS noise, and it keeps the Kalman filter's state in meters.
type TangentPlane struct {
	lat0 float64
	lon0 float64
	// cosLat0 scales longitude degrees to meters at the anchor.
	cosLat0 float64
}

// NewTangentPlane anchors a plane at the given fix.
func NewTangentPlane(lat0, lon0 float64) TangentPlane {
	return TangentPlane{
		lat0:    lat0,
		lon0:    lon0,
		cosLat0: math.Cos(lat0 * math.Pi / 180),
	}
}

// ToXY projects (lat, lon) to meters east (x) and north (y) of the anchor.
func (p TangentPlane) ToXY(lat, lon float64) (x, y float64) {
	x = (lon - p.lon0) * p.cosLat0 * EarthRadiusM * math.Pi / 180
	y = (lat - p.lat0) * EarthRadiusM * math.Pi / 180
	return x, y
}

// ToLatLon inverts ToXY.
func (p TangentPlane) ToLatLon(x, y float64) (lat, lon float64) {
	lat = p.lat0 + y/(EarthRadiusM*math.Pi/180)
	if p.cosLat0 != 0 {
		lon = p.lon0 + x/(p.cosLat0*EarthRadiusM*math.Pi/180)
	} else {
		lon = p.lon0
	}
	return lat, lon
}

// HeadingDeg converts an (east, north) velocity to a compass heading in
// [0, 360), 0 = north, 90 = east.
func HeadingDeg(vx, vy float64) float64 {
	h := math.Atan2(vx, vy) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	return h
}
