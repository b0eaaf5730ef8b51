// Package geo provides the geographic math used by telemetry playback:
// great-circle interpolation between waypoints and WGS-84 geodetic/ECEF
// conversion for 3D placement.
package geo

import "math"

const (
	rad = math.Pi / 180.0
	deg = 180.0 / math.Pi

	// EarthRadiusKm is the mean Earth radius used to scale angular distance.
	EarthRadiusKm = 6371.0
)

// Point is a geographic coordinate in interpolation order: longitude first.
type Point struct {
	Lon, Lat float64 // degrees
}

// Interpolate returns a function that moves along the great circle from a to
// b as t goes from 0 to 1. Values outside [0,1] extrapolate along the same
// circle.
//
// The angular distance uses the haversine form, which stays accurate for the
// short segments between telemetry waypoints:
//
//	d = 2·asin(√(hav(φ1−φ0) + cos φ0·cos φ1·hav(λ1−λ0)))
//
// and a point at fraction t is the spherical linear blend of the two unit
// vectors with weights sin((1−t)·d)/sin d and sin(t·d)/sin d.
func Interpolate(a, b Point) func(t float64) Point {
	x0, y0 := a.Lon*rad, a.Lat*rad
	x1, y1 := b.Lon*rad, b.Lat*rad

	cy0, sy0 := math.Cos(y0), math.Sin(y0)
	cy1, sy1 := math.Cos(y1), math.Sin(y1)

	kx0, ky0 := cy0*math.Cos(x0), cy0*math.Sin(x0)
	kx1, ky1 := cy1*math.Cos(x1), cy1*math.Sin(x1)

	d := 2 * math.Asin(math.Sqrt(haversin(y1-y0)+cy0*cy1*haversin(x1-x0)))
	k := math.Sin(d)

	// Coincident endpoints: the great circle is undefined, stay put.
	if d == 0 {
		return func(float64) Point { return a }
	}

	return func(t float64) Point {
		td := t * d
		B := math.Sin(td) / k
		A := math.Sin(d-td) / k
		x := A*kx0 + B*kx1
		y := A*ky0 + B*ky1
		z := A*sy0 + B*sy1
		return Point{
			Lon: math.Atan2(y, x) * deg,
			Lat: math.Atan2(z, math.Sqrt(x*x+y*y)) * deg,
		}
	}
}

// InterpolateNumber returns a function that blends linearly from a to b.
func InterpolateNumber(a, b float64) func(t float64) float64 {
	return func(t float64) float64 {
		return a*(1-t) + b*t
	}
}

// Distance returns the great-circle angular distance between a and b in radians.
func Distance(a, b Point) float64 {
	y0, y1 := a.Lat*rad, b.Lat*rad
	return 2 * math.Asin(math.Sqrt(haversin(y1-y0)+math.Cos(y0)*math.Cos(y1)*haversin((b.Lon-a.Lon)*rad)))
}

func haversin(x float64) float64 {
	s := math.Sin(x / 2)
	return s * s
}
