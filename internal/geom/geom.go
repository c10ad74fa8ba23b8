// Package geom is the numeric geometry kernel: circle-from-three-points,
// arc length, chord/arc deviation and sagitta bounds (SPEC_FULL.md §4.1).
//
// Vector algebra (cross products, dot products, lengths) is expressed with
// github.com/go-gl/mathgl/mgl64 rather than hand-rolled component math, so
// that the circle fit's colinearity test and the direction-stability check
// in internal/fitter read as ordinary vector operations instead of
// repeated x1*y2-x2*y1 terms.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Point is a position in the XYZ machine frame.
type Point struct {
	X, Y, Z float64
}

// Vec returns p as an mgl64.Vec3, Z included.
func (p Point) Vec() mgl64.Vec3 { return mgl64.Vec3{p.X, p.Y, p.Z} }

// Sub returns p-q as a vector.
func (p Point) Sub(q Point) mgl64.Vec3 { return p.Vec().Sub(q.Vec()) }

// Hypot2D returns the XY-plane distance between p and q using math.Hypot,
// per §4.3's numerical-hygiene note (hypot avoids overflow on large coords).
func Hypot2D(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// relEpsilon scales an absolute epsilon by the largest coordinate magnitude
// involved, per §4.1's "colinear within an epsilon proportional to the
// largest coordinate magnitude (relative ε ≈ 1e-10)".
func relEpsilon(mag float64) float64 {
	const relTol = 1e-10
	if mag < 1 {
		mag = 1
	}
	return relTol * mag
}

// Circle is a fitted center/radius hypothesis in the XY plane.
type Circle struct {
	Center Point
	Radius float64
}

// CircleFromThree solves the perpendicular-bisector intersection for the
// circle through p0, p1, p2 (projected to XY). ok is false when the three
// points are colinear within the coordinate-scaled epsilon.
func CircleFromThree(p0, p1, p2 Point) (c Circle, ok bool) {
	ax, ay := p0.X, p0.Y
	bx, by := p1.X, p1.Y
	cx, cy := p2.X, p2.Y

	v1 := mgl64.Vec3{bx - ax, by - ay, 0}
	v2 := mgl64.Vec3{cx - ax, cy - ay, 0}
	cross := v1.Cross(v2)

	maxMag := math.Max(math.Abs(ax), math.Max(math.Abs(ay), math.Max(math.Abs(bx),
		math.Max(math.Abs(by), math.Max(math.Abs(cx), math.Abs(cy))))))
	// cross.Z() has units of area (length^2); compare against a
	// length^2-scaled epsilon so the colinearity test stays dimensionally
	// consistent across tiny and huge coordinate magnitudes.
	if math.Abs(cross.Z()) <= relEpsilon(maxMag)*maxMag {
		return Circle{}, false
	}

	d := 2 * (ax*(by-cy) + bx*(cy-ay) + cx*(ay-by))
	if d == 0 {
		return Circle{}, false
	}

	ax2ay2 := ax*ax + ay*ay
	bx2by2 := bx*bx + by*by
	cx2cy2 := cx*cx + cy*cy

	ux := (ax2ay2*(by-cy) + bx2by2*(cy-ay) + cx2cy2*(ay-by)) / d
	uy := (ax2ay2*(cx-bx) + bx2by2*(ax-cx) + cx2cy2*(bx-ax)) / d

	center := Point{X: ux, Y: uy, Z: 0}
	radius := Hypot2D(center, p0)
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return Circle{}, false
	}
	return Circle{Center: center, Radius: radius}, true
}

// PointOnCircle reports whether p's distance from center is within eps of
// radius (§4.1's point_on_circle predicate).
func PointOnCircle(c Circle, p Point, eps float64) bool {
	return math.Abs(Hypot2D(c.Center, p)-c.Radius) <= eps
}

// ChordDeviation is the sagitta for the chord a->b on circle c: the
// perpendicular distance from the chord midpoint to the circle.
// Per §4.1, |chord|>2r is guarded by clamping the discriminant to zero.
func ChordDeviation(c Circle, a, b Point) float64 {
	chord := Hypot2D(a, b)
	half := chord / 2
	disc := c.Radius*c.Radius - half*half
	if disc < 0 {
		disc = 0
	}
	return c.Radius - math.Sqrt(disc)
}

// SweepAngle returns the signed rotation (always in (0, 2π]) from start to
// end around center, walking in the given direction. start and end
// coinciding means a full revolution (2π), not zero rotation — a window
// only reaches matching start/end points by actually traveling all the way
// around the circle.
func SweepAngle(center, start, end Point, ccw bool) float64 {
	theta0 := math.Atan2(start.Y-center.Y, start.X-center.X)
	theta1 := math.Atan2(end.Y-center.Y, end.X-center.X)
	var delta float64
	if ccw {
		delta = theta1 - theta0
	} else {
		delta = theta0 - theta1
	}
	const twoPi = 2 * math.Pi
	delta = math.Mod(delta, twoPi)
	if delta <= 0 {
		delta += twoPi
	}
	return delta
}

// ArcLength computes r*|Δθ| for the sweep from start to end in the given
// rotation direction (§4.1's arc_length).
func ArcLength(c Circle, start, end Point, ccw bool) float64 {
	return c.Radius * SweepAngle(c.Center, start, end, ccw)
}

// CrossSignZ returns the Z component of the cross product of vectors u and
// v (both treated as lying in the XY plane); its sign is used by the
// fitter's direction-stability predicate (§4.3) to detect inflections.
func CrossSignZ(u, v mgl64.Vec3) float64 {
	return u.Cross(v).Z()
}

// ChordXY returns the vector from a to b, projected into the XY plane
// (Z zeroed), for direction-stability comparisons that must ignore a
// helical Z component.
func ChordXY(a, b Point) mgl64.Vec3 {
	return mgl64.Vec3{b.X - a.X, b.Y - a.Y, 0}
}
