package math

// TriangleEpsilon is the barycentric tolerance of IntersectTriangle. A ray
// crossing the triangle's plane less than this far (in barycentric units)
// outside an edge still counts as a hit.
const TriangleEpsilon = 1e-5

// IntersectTriangle is the Möller–Trumbore determinant test. It returns the ray
// parameter t and barycentric weights (u, v) of vertex p1 and p2; the hit point
// is (1-u-v)*p0 + u*p1 + v*p2. Both faces are hit. ok is false when the ray is
// parallel to the triangle, misses it, or the hit lies behind the origin.
func IntersectTriangle(orig, dir, p0, p1, p2 Vec3) (t, u, v float32, ok bool) {
	e1 := p1.Sub(p0)
	e2 := p2.Sub(p0)
	pvec := dir.Cross(e2)
	det := e1.Dot(pvec)
	if abs32(det) < 1e-12 {
		return 0, 0, 0, false
	}
	inv := 1 / det

	tvec := orig.Sub(p0)
	u = tvec.Dot(pvec) * inv
	if u < -TriangleEpsilon || u > 1+TriangleEpsilon {
		return 0, 0, 0, false
	}

	qvec := tvec.Cross(e1)
	v = dir.Dot(qvec) * inv
	if v < -TriangleEpsilon || u+v > 1+TriangleEpsilon {
		return 0, 0, 0, false
	}

	t = e2.Dot(qvec) * inv
	if t < 0 {
		return 0, 0, 0, false
	}
	return t, u, v, true
}

// Barycentric evaluates (1-u-v)*p0 + u*p1 + v*p2.
func Barycentric(p0, p1, p2 Vec3, u, v float32) Vec3 {
	return p0.Scale(1 - u - v).Add(p1.Scale(u)).Add(p2.Scale(v))
}

// TriangleArea returns the area of the triangle.
func TriangleArea(p0, p1, p2 Vec3) float32 {
	return p1.Sub(p0).Cross(p2.Sub(p0)).Length() / 2
}

// ClosestPointOnSegment returns the point of segment a→b nearest to p and its parameter.
func ClosestPointOnSegment(p, a, b Vec3) (Vec3, float32) {
	ab := b.Sub(a)
	l2 := ab.LengthSq()
	if l2 == 0 {
		return a, 0
	}
	t := Clamp(p.Sub(a).Dot(ab)/l2, 0, 1)
	return a.Add(ab.Scale(t)), t
}
