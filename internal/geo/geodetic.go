package geo

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// ECEF is an Earth-centered, Earth-fixed position in meters.
type ECEF struct {
	X, Y, Z float64
}

// Array returns the position as [x, y, z].
func (e ECEF) Array() [3]float64 {
	return [3]float64{e.X, e.Y, e.Z}
}

// GeodeticToECEF converts a geodetic position on the WGS-84 ellipsoid to ECEF meters.
func GeodeticToECEF(latDeg, lonDeg, altM float64) ECEF {
	lat := latDeg * rad
	lon := lonDeg * rad

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ECEF{
		X: (N + altM) * cosLat * math.Cos(lon),
		Y: (N + altM) * cosLat * math.Sin(lon),
		Z: (N*(1-wgs84E2) + altM) * sinLat,
	}
}
