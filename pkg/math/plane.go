package math

// Plane is the set of points p with N·p = D. N is kept unit length.
type Plane struct {
	N Vec3
	D float32
}

// PlaneFromPoints builds the plane through a, b, c with normal (b-a)x(c-a).
// ok is false when the points are collinear.
func PlaneFromPoints(a, b, c Vec3) (Plane, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.LengthSq() == 0 {
		return Plane{}, false
	}
	n = n.Normalize()
	return Plane{N: n, D: n.Dot(a)}, true
}

// PlaneFromNormal builds the plane with unit normal n through point p.
func PlaneFromNormal(n, p Vec3) Plane {
	n = n.Normalize()
	return Plane{N: n, D: n.Dot(p)}
}

// SignedDistance returns the distance of p in front of (positive) or behind the plane.
func (pl Plane) SignedDistance(p Vec3) float32 {
	return pl.N.Dot(p) - pl.D
}

// Mirror reflects p through the plane (the image-source position of p).
func (pl Plane) Mirror(p Vec3) Vec3 {
	return p.Sub(pl.N.Scale(2 * pl.SignedDistance(p)))
}

// Project returns the orthogonal projection of p onto the plane.
func (pl Plane) Project(p Vec3) Vec3 {
	return p.Sub(pl.N.Scale(pl.SignedDistance(p)))
}

// Flip returns the plane with the opposite orientation.
func (pl Plane) Flip() Plane {
	return Plane{N: pl.N.Neg(), D: -pl.D}
}

// IntersectSegment intersects the segment a→b with the plane.
// t is the segment parameter in [0, 1]; ok is false when the segment is parallel
// to the plane or does not cross it.
func (pl Plane) IntersectSegment(a, b Vec3) (point Vec3, t float32, ok bool) {
	da := pl.SignedDistance(a)
	db := pl.SignedDistance(b)
	denom := da - db
	if abs32(denom) < Epsilon {
		return Vec3{}, 0, false
	}
	t = da / denom
	if t < 0 || t > 1 {
		return Vec3{}, t, false
	}
	return a.Lerp(b, t), t, true
}

// Coplanar reports whether two planes have the same orientation and offset within tolerance.
func (pl Plane) Coplanar(other Plane, normalEps, distEps float32) bool {
	return pl.N.Dot(other.N) >= 1-normalEps && abs32(pl.D-other.D) <= distEps
}
