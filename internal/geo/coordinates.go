package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Coordinates is a position snapshot in metres. Z is the altitude; the planar
// helpers (Bearing, SegmentIntersection) work on the XY projection.
type Coordinates struct {
	X float64
	Y float64
	Z float64
}

func CreateCoordinates(x, y, z float64) Coordinates {
	return Coordinates{X: x, Y: y, Z: z}
}

func (c Coordinates) vec() r3.Vec {
	return r3.Vec{X: c.X, Y: c.Y, Z: c.Z}
}

// DistanceTo is the 3D Euclidean distance.
func (c Coordinates) DistanceTo(other Coordinates) float64 {
	return r3.Norm(r3.Sub(c.vec(), other.vec()))
}

// PlanarDistanceTo ignores altitude.
func (c Coordinates) PlanarDistanceTo(other Coordinates) float64 {
	return math.Hypot(c.X-other.X, c.Y-other.Y)
}

func (c Coordinates) Equals(other Coordinates) bool {
	return c.X == other.X && c.Y == other.Y && c.Z == other.Z
}

// Midpoint of the XY projection, altitude averaged.
func Midpoint(a, b Coordinates) Coordinates {
	return Coordinates{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

// Bearing returns the angle of the vector from -> to in radians, (-pi, pi].
func Bearing(from, to Coordinates) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X)
}

// ClockwiseAngle is how far one has to turn clockwise from bearing ref to
// reach bearing theta, in (0, 2pi]. A zero turn maps to a full turn so the
// edge a packet arrived on is picked last.
func ClockwiseAngle(ref, theta float64) float64 {
	d := math.Mod(ref-theta, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	if d <= angleEpsilon {
		d = 2 * math.Pi
	}
	return d
}

const angleEpsilon = 1e-12

// SegmentIntersection reports where segments p1-p2 and q1-q2 cross on the XY
// plane. Parallel or disjoint segments return ok=false.
func SegmentIntersection(p1, p2, q1, q2 Coordinates) (Coordinates, bool) {
	rx, ry := p2.X-p1.X, p2.Y-p1.Y
	sx, sy := q2.X-q1.X, q2.Y-q1.Y
	denom := rx*sy - ry*sx
	if math.Abs(denom) < 1e-12 {
		return Coordinates{}, false
	}
	qpx, qpy := q1.X-p1.X, q1.Y-p1.Y
	t := (qpx*sy - qpy*sx) / denom
	u := (qpx*ry - qpy*rx) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Coordinates{}, false
	}
	return Coordinates{
		X: p1.X + t*rx,
		Y: p1.Y + t*ry,
		Z: p1.Z + t*(p2.Z-p1.Z),
	}, true
}
