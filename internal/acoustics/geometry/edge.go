package geometry

import (
	stdmath "math"
	"sync"

	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Zone classifies a point against the two faces of an edge.
type Zone uint8

const (
	// Zone0 is in front of face 0 only.
	Zone0 Zone = iota
	// Zone1 is in front of face 1 only.
	Zone1
	// ViewZone is in front of both faces.
	ViewZone
	// OcclusionZone is behind both faces.
	OcclusionZone
)

// Opposite returns the other shadow zone. View and occlusion zones map to themselves.
func (z Zone) Opposite() Zone {
	switch z {
	case Zone0:
		return Zone1
	case Zone1:
		return Zone0
	}
	return z
}

// Shadow reports whether z is one of the two shadow zones.
func (z Zone) Shadow() bool { return z == Zone0 || z == Zone1 }

func (z Zone) String() string {
	switch z {
	case Zone0:
		return "zone0"
	case Zone1:
		return "zone1"
	case ViewZone:
		return "view"
	default:
		return "occlusion"
	}
}

// Edge is a diffraction edge: a segment bordering one or two triangles.
// N0/N1 are the outward normals of the bordering faces and Z0/Z1 the in-face
// directions pointing from the edge into each face. A boundary edge has a
// single face; it is treated as a zero-thickness plate with N1 = -N0, Z1 = Z0.
type Edge struct {
	Start    math.Vec3
	Dir      math.Vec3 // unit
	Length   float32
	N0, N1   math.Vec3
	Z0, Z1   math.Vec3
	Out      math.Vec3 // unit direction pointing away from the solid
	Planes   [2]int32  // bordering planes in the owning set, -1 when absent
	Boundary bool
	Portal   PortalID // non-zero for synthetic portal-opening edges
	Set      handle.Handle
	Handle   handle.Handle
	zoneEps  float32

	mu     sync.Mutex
	vis    State
	edges0 []VisLink
	edges1 []VisLink
}

func newEdge(a, b, n0, z0, n1, z1 math.Vec3, boundary bool) *Edge {
	d := b.Sub(a)
	l := d.Length()
	e := &Edge{
		Start:    a,
		Dir:      d.Scale(1 / l),
		Length:   l,
		N0:       n0,
		N1:       n1,
		Z0:       z0,
		Z1:       z1,
		Boundary: boundary,
		Planes:   [2]int32{-1, -1},
		vis:      Dirty,
	}
	e.Out = z0.Add(z1).Neg().Normalize()
	if e.Out.IsZero() {
		e.Out = n0.Add(n1).Normalize()
	}
	return e
}

// NewPlateEdge builds a boundary edge from a to b on a face with outward normal
// n; z points from the edge into the face.
func NewPlateEdge(a, b, n, z math.Vec3) *Edge {
	return newEdge(a, b, n, z, n.Neg(), z, true)
}

// End returns the second endpoint.
func (e *Edge) End() math.Vec3 {
	return e.Start.Add(e.Dir.Scale(e.Length))
}

// Mid returns the midpoint.
func (e *Edge) Mid() math.Vec3 {
	return e.Start.Add(e.Dir.Scale(e.Length / 2))
}

// Degenerate reports whether the edge has no usable length.
func (e *Edge) Degenerate() bool {
	return e.Length < math.Epsilon
}

// Zone classifies p. A point in front of exactly one face plane is in that
// face's shadow zone. A point within the tolerance of one plane and behind the
// other lies on a face surface and belongs to that face's zone; a point on
// both planes lies on the edge and counts as occluded. Every point gets
// exactly one zone.
func (e *Edge) Zone(p math.Vec3) Zone {
	eps := e.zoneEps
	if eps == 0 {
		eps = DefaultTolerances().Zone
	}
	r := p.Sub(e.Start)
	d0 := e.N0.Dot(r)
	d1 := e.N1.Dot(r)
	front0, front1 := d0 > eps, d1 > eps
	switch {
	case front0 && front1:
		return ViewZone
	case front0:
		return Zone0
	case front1:
		return Zone1
	case d0 >= -eps && d1 < -eps:
		return Zone0
	case d1 >= -eps && d0 < -eps:
		return Zone1
	}
	return OcclusionZone
}

// face returns the in-face direction of the face bordering zone z.
func (e *Edge) face(z Zone) math.Vec3 {
	if z == Zone1 {
		return e.Z1
	}
	return e.Z0
}

// perp removes the component of v along the edge.
func (e *Edge) perp(v math.Vec3) math.Vec3 {
	return v.Sub(e.Dir.Scale(v.Dot(e.Dir)))
}

// InShadowZone reports whether the straight line from emitter to listener is
// bent by this edge: the two points are in opposite shadow zones and the
// listener lies past the shadow boundary cast by the emitter, measured in the
// plane perpendicular to the edge.
func (e *Edge) InShadowZone(emitter, listener math.Vec3) bool {
	ze := e.Zone(emitter)
	zl := e.Zone(listener)
	if !ze.Shadow() || zl != ze.Opposite() {
		return false
	}
	a := e.perp(emitter.Sub(e.Start))
	b := e.perp(listener.Sub(e.Start))
	if a.LengthSq() < math.Epsilon || b.LengthSq() < math.Epsilon {
		return false
	}
	sb := a.Cross(b).Dot(e.Dir)
	sf := a.Cross(e.face(zl)).Dot(e.Dir)
	return (sb > 0) == (sf > 0) && sb != 0
}

// ShadowFan appends n directions leaving the edge point p into the shadow
// zone opposite from. The directions sweep from the shadow boundary cast by
// from toward the far face and keep the along-edge component of the incident
// direction, so they lie on the diffraction cone.
func (e *Edge) ShadowFan(dst []math.Vec3, from, p math.Vec3, n int) []math.Vec3 {
	zone := e.Zone(from)
	if !zone.Shadow() || n <= 0 {
		return dst
	}
	target := zone.Opposite()
	d := p.Sub(from).Normalize()
	u := e.perp(d)
	if u.LengthSq() < math.Epsilon {
		return dst
	}
	u = u.Normalize()
	f := e.face(target)
	phi := math.AngleBetween(u, f)
	if u.Cross(f).Dot(e.Dir) < 0 {
		phi = -phi
	}
	if e.Zone(p.Add(math.QuatFromAxisAngle(e.Dir, phi/2).Rotate(u))) != target {
		// The short way round crosses the solid.
		if phi > 0 {
			phi -= 2 * pi
		} else {
			phi += 2 * pi
		}
	}

	a := d.Dot(e.Dir)
	s := float32(stdmath.Sqrt(float64(math.Clamp(1-a*a, 0, 1))))
	step := phi / float32(n+1)
	for k := 1; k <= n; k++ {
		w := math.QuatFromAxisAngle(e.Dir, step*float32(k)).Rotate(u)
		dst = append(dst, e.Dir.Scale(a).Add(w.Scale(s)).Normalize())
	}
	return dst
}

const pi = float32(stdmath.Pi)

// DiffractionAngle returns the turning angle in radians of a path a → p → b
// passing the edge at p.
func DiffractionAngle(a, p, b math.Vec3) float32 {
	in := p.Sub(a)
	out := b.Sub(p)
	if in.IsZero() || out.IsZero() {
		return 0
	}
	return math.AngleBetween(in, out)
}

// DetourParam returns the distance along the edge from Start of the point
// minimising |a-p| + |p-b| on the infinite edge line. ok is false when both
// points lie on the line.
func (e *Edge) DetourParam(a, b math.Vec3) (float32, bool) {
	ra := a.Sub(e.Start)
	rb := b.Sub(e.Start)
	ta := ra.Dot(e.Dir)
	tb := rb.Dot(e.Dir)
	da := e.perp(ra).Length()
	db := e.perp(rb).Length()
	if da+db < math.Epsilon {
		return ta, false
	}
	return ta + (tb-ta)*da/(da+db), true
}

// PointBetween returns the point on the edge minimising |a-p| + |p-b|, the
// apex of the shortest detour. ok is false when the point falls outside the
// segment or both points lie on the edge line.
func (e *Edge) PointBetween(a, b math.Vec3) (math.Vec3, bool) {
	t, ok := e.DetourParam(a, b)
	if !ok || t < 0 || t > e.Length {
		return math.Vec3{}, false
	}
	return e.Start.Add(e.Dir.Scale(t)), true
}

// ClampedPointBetween is PointBetween with the result clamped to the segment.
func (e *Edge) ClampedPointBetween(a, b math.Vec3) math.Vec3 {
	t, _ := e.DetourParam(a, b)
	return e.Start.Add(e.Dir.Scale(math.Clamp(t, 0, e.Length)))
}

// DistanceTo returns the distance from p to the segment.
func (e *Edge) DistanceTo(p math.Vec3) float32 {
	q, _ := math.ClosestPointOnSegment(p, e.Start, e.End())
	return q.Distance(p)
}

// samples returns points along the edge pushed off its faces.
func (e *Edge) samples(nudge float32) [3]math.Vec3 {
	off := e.Out.Scale(nudge)
	return [3]math.Vec3{
		e.Mid().Add(off),
		e.Start.Add(e.Dir.Scale(nudge)).Add(off),
		e.End().Sub(e.Dir.Scale(nudge)).Add(off),
	}
}

// zoneOf returns the shadow zone of e containing other, testing other's nudged
// midpoint then endpoints. ok is false when no sample lies in a shadow zone.
func (e *Edge) zoneOf(other *Edge, nudge float32) (Zone, bool) {
	for _, p := range other.samples(nudge) {
		if z := e.Zone(p); z.Shadow() {
			return z, true
		}
	}
	return OcclusionZone, false
}
