package geometry

import "github.com/Faultbox/midgard-acoustics/pkg/math"

// ImageSourceTriangle is a triangle prepared for repeated plane hit tests.
// For a point p on the triangle's plane, u = U·(p-P0) and v = V·(p-P0) are the
// barycentric weights of the second and third vertices.
type ImageSourceTriangle struct {
	P0    math.Vec3
	N     math.Vec3 // unit normal
	U, V  math.Vec3
	Plane int32 // index into the owning set's planes
}

func newImageSourceTriangle(p0, p1, p2 math.Vec3) ImageSourceTriangle {
	e1 := p1.Sub(p0)
	e2 := p2.Sub(p0)
	n := e1.Cross(e2)
	l2 := n.LengthSq()
	return ImageSourceTriangle{
		P0: p0,
		N:  n.Normalize(),
		U:  e2.Cross(n).Scale(1 / l2),
		V:  n.Cross(e1).Scale(1 / l2),
	}
}

// Contains reports whether p, assumed on the triangle's plane, lies inside it.
func (t *ImageSourceTriangle) Contains(p math.Vec3) bool {
	d := p.Sub(t.P0)
	u := t.U.Dot(d)
	if u < -math.TriangleEpsilon {
		return false
	}
	v := t.V.Dot(d)
	return v >= -math.TriangleEpsilon && u+v <= 1+math.TriangleEpsilon
}

// Intersect returns the distance along dir at which the ray from orig hits
// the triangle, from either side. dir must be unit length.
func (t *ImageSourceTriangle) Intersect(orig, dir math.Vec3) (float32, bool) {
	denom := t.N.Dot(dir)
	if math.Abs(denom) < 1e-9 {
		return 0, false
	}
	dist := t.N.Dot(t.P0.Sub(orig)) / denom
	if dist < 0 {
		return 0, false
	}
	if !t.Contains(orig.Add(dir.Scale(dist))) {
		return 0, false
	}
	return dist, true
}

// triangleBounds returns the box of a triangle.
func triangleBounds(a, b, c math.Vec3) math.AABB {
	return math.NewAABB(a, b).Extend(c)
}
