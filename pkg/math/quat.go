package math

import "math"

// Quat represents a quaternion for 3D rotations.
// Components are stored as X, Y, Z, W where W is the scalar part.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity returns an identity quaternion (no rotation).
func QuatIdentity() Quat {
	return Quat{X: 0, Y: 0, Z: 0, W: 1}
}

// QuatFromAxisAngle creates a quaternion from axis-angle rotation.
// axis should be normalized, angle is in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	halfAngle := angle / 2
	s := float32(math.Sin(float64(halfAngle)))
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: float32(math.Cos(float64(halfAngle))),
	}
}

// QuatBetween returns the shortest rotation taking direction from onto direction to.
// Both inputs must be non-zero; they need not be normalized.
func QuatBetween(from, to Vec3) Quat {
	f := from.Normalize()
	t := to.Normalize()
	d := f.Dot(t)
	if d >= 1-Epsilon {
		return QuatIdentity()
	}
	if d <= -1+Epsilon {
		// Opposite directions: any perpendicular axis works.
		axis := f.Cross(Vec3{1, 0, 0})
		if axis.LengthSq() < Epsilon {
			axis = f.Cross(Vec3{0, 1, 0})
		}
		return QuatFromAxisAngle(axis.Normalize(), math.Pi)
	}
	c := f.Cross(t)
	return Quat{X: c.X, Y: c.Y, Z: c.Z, W: 1 + d}.Normalize()
}

// Normalize returns a normalized quaternion.
func (q Quat) Normalize() Quat {
	length := float32(math.Sqrt(float64(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
	if length < 0.0001 {
		return QuatIdentity()
	}
	invLen := 1.0 / length
	return Quat{
		X: q.X * invLen,
		Y: q.Y * invLen,
		Z: q.Z * invLen,
		W: q.W * invLen,
	}
}

// Mul multiplies two quaternions (combines rotations, other applied first).
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	// v' = v + 2w(u x v) + 2u x (u x v)
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Transform is a position with a front/up orientation frame.
type Transform struct {
	Position Vec3
	Front    Vec3
	Up       Vec3
}

// DefaultTransform returns a transform at the origin facing +Z with +Y up.
func DefaultTransform() Transform {
	return Transform{Front: Vec3{0, 0, 1}, Up: Vec3{0, 1, 0}}
}

// Rotated returns the transform with its orientation rotated by q.
func (t Transform) Rotated(q Quat) Transform {
	return Transform{
		Position: t.Position,
		Front:    q.Rotate(t.Front),
		Up:       q.Rotate(t.Up),
	}
}
