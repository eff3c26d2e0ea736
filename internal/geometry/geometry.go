// Package geometry holds the planar primitives used to derive joint metrics
// from pose landmarks.
package geometry

import "math"

// Point is a 2-D position in frame pixel space.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// AngleAt returns the angle in degrees at vertex b formed by the rays b→a and
// b→c. ok is false when either ray has zero length; the caller should skip the
// metric rather than use the value.
func AngleAt(a, b, c Point) (deg float64, ok bool) {
	abx, aby := a.X-b.X, a.Y-b.Y
	cbx, cby := c.X-b.X, c.Y-b.Y

	magAB := math.Hypot(abx, aby)
	magCB := math.Hypot(cbx, cby)
	if magAB == 0 || magCB == 0 {
		return 0, false
	}

	cos := (abx*cbx + aby*cby) / (magAB * magCB)
	// Rounding can push the ratio just outside [-1, 1].
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
