package geometry

import (
	"sort"
	"sync/atomic"

	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Line-of-sight states of a visibility link.
const (
	losUnverified uint32 = iota
	losValid
	losInvalid
)

// VisLink is an entry of an edge's visibility list: another edge lying in one
// of this edge's shadow zones which, from its own point of view, sees this
// edge in Zone. Line of sight is checked the first time the link is used.
type VisLink struct {
	Edge handle.Handle
	Zone Zone
	Dist float32
	los  uint32
}

// Verified reports whether line of sight has been checked.
func (l *VisLink) Verified() bool {
	return atomic.LoadUint32(&l.los) != losUnverified
}

func (e *Edge) invalidateVisibility() {
	e.mu.Lock()
	e.vis = Dirty
	e.edges0 = nil
	e.edges1 = nil
	e.mu.Unlock()
}

// VisibilityState returns the state of the edge's visibility cache.
func (e *Edge) VisibilityState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vis
}

// LinkCounts returns the sizes of the edge's visibility lists without
// building them; both are zero while the cache is not clean.
func (e *Edge) LinkCounts() (zone0, zone1 int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vis != Clean {
		return 0, 0
	}
	return len(e.edges0), len(e.edges1)
}

// EnsureVisibility builds the edge's visibility lists if they are not clean.
// Safe for concurrent use on a scene that is not being mutated.
func (s *Scene) EnsureVisibility(e *Edge) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vis == Clean {
		return
	}
	e.vis = Rebuilding
	e.edges0, e.edges1 = s.computeVisibility(e)
	e.vis = Clean
}

// Links returns the edges lying in shadow zone z of e, nearest first. The
// lists are built on demand.
func (s *Scene) Links(e *Edge, z Zone) []VisLink {
	s.EnsureVisibility(e)
	switch z {
	case Zone0:
		return e.edges0
	case Zone1:
		return e.edges1
	}
	return nil
}

// LinkPair returns the shadow zone of a containing b and of b containing a.
// ok is false when either edge sees the other only from its view or occlusion
// zone. The result for (b, a) is the swap of the result for (a, b).
func (s *Scene) LinkPair(a, b *Edge) (zoneOfB, zoneOfA Zone, ok bool) {
	if a == b || a.Degenerate() || b.Degenerate() || a.Portal != 0 || b.Portal != 0 {
		return 0, 0, false
	}
	zb, okb := a.zoneOf(b, s.Tol.Nudge)
	if !okb {
		return 0, 0, false
	}
	za, oka := b.zoneOf(a, s.Tol.Nudge)
	if !oka {
		return 0, 0, false
	}
	return zb, za, true
}

func (s *Scene) computeVisibility(e *Edge) (edges0, edges1 []VisLink) {
	if e.Degenerate() || e.Portal != 0 {
		return nil, nil
	}
	mid := e.Mid()
	s.edges.Each(func(h handle.Handle, o *Edge) bool {
		zb, za, ok := s.LinkPair(e, o)
		if !ok {
			return true
		}
		l := VisLink{Edge: h, Zone: za, Dist: mid.Distance(o.Mid())}
		if zb == Zone0 {
			edges0 = append(edges0, l)
		} else {
			edges1 = append(edges1, l)
		}
		return true
	})
	byDist := func(ls []VisLink) {
		sort.Slice(ls, func(i, j int) bool {
			if ls[i].Dist != ls[j].Dist {
				return ls[i].Dist < ls[j].Dist
			}
			return ls[i].Edge.Less(ls[j].Edge)
		})
	}
	byDist(edges0)
	byDist(edges1)
	return edges0, edges1
}

// VerifyLink checks, once, whether e and the linked edge see each other past
// the scene geometry. Either the nudged midpoints or the nudged closest points
// of the two segments must be unobstructed.
func (s *Scene) VerifyLink(e *Edge, l *VisLink) bool {
	switch atomic.LoadUint32(&l.los) {
	case losValid:
		return true
	case losInvalid:
		return false
	}
	o, ok := s.edges.Get(l.Edge)
	valid := ok && s.edgesSee(e, o)
	state := losInvalid
	if valid {
		state = losValid
	}
	atomic.StoreUint32(&l.los, state)
	return valid
}

func (s *Scene) edgesSee(a, b *Edge) bool {
	n := s.Tol.Nudge
	if !s.Occluded(a.Mid().Add(a.Out.Scale(n)), b.Mid().Add(b.Out.Scale(n))) {
		return true
	}
	pa, pb := closestPoints(a.Start, a.End(), b.Start, b.End())
	return !s.Occluded(pa.Add(a.Out.Scale(n)), pb.Add(b.Out.Scale(n)))
}

// closestPoints returns the closest pair of points of segments p1-q1 and p2-q2.
func closestPoints(p1, q1, p2, q2 math.Vec3) (math.Vec3, math.Vec3) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.Dot(d1)
	e := d2.Dot(d2)
	f := d2.Dot(r)
	var s, t float32
	switch {
	case a <= math.Epsilon && e <= math.Epsilon:
		return p1, p2
	case a <= math.Epsilon:
		t = math.Clamp(f/e, 0, 1)
	default:
		c := d1.Dot(r)
		if e <= math.Epsilon {
			s = math.Clamp(-c/a, 0, 1)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom != 0 {
				s = math.Clamp((b*f-c*e)/denom, 0, 1)
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = math.Clamp(-c/a, 0, 1)
			} else if t > 1 {
				t = 1
				s = math.Clamp((b-c)/a, 0, 1)
			}
		}
	}
	return p1.Add(d1.Scale(s)), p2.Add(d2.Scale(t))
}
