package geometry

import (
	"sort"

	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
	"github.com/Faultbox/midgard-acoustics/pkg/rtree"
)

// State is the lifecycle of a lazily rebuilt cache.
type State uint8

const (
	Clean State = iota
	Dirty
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	default:
		return "rebuilding"
	}
}

// Scene is one connected acoustic island: the geometry sets of a group of
// rooms linked by portals, indexed for ray queries.
//
// Mutation (Index/Unindex, holes, MarkDirty, rebuild) requires exclusive
// access; queries and lazy edge visibility may run concurrently.
type Scene struct {
	ID  uint64
	Tol Tolerances

	sets     handle.Pool[*GeometrySet]
	edges    handle.Pool[*Edge]
	tris     *rtree.Tree[TriRef]
	edgeTree *rtree.Tree[handle.Handle]

	refs    int
	state   State
	version uint64
}

// NewScene creates an empty scene. capacity bounds the number of indexed
// triangles and edges; zero means unbounded.
func NewScene(id uint64, tol Tolerances, capacity int) *Scene {
	var opts []rtree.Option
	if capacity > 0 {
		opts = append(opts, rtree.WithCapacity(capacity))
	}
	return &Scene{
		ID:       id,
		Tol:      tol,
		tris:     rtree.New[TriRef](opts...),
		edgeTree: rtree.New[handle.Handle](opts...),
		version:  1,
	}
}

// Retain adds a reference.
func (s *Scene) Retain() { s.refs++ }

// Release drops a reference and returns the count left.
func (s *Scene) Release() int {
	if s.refs > 0 {
		s.refs--
	}
	return s.refs
}

// Refs returns the reference count.
func (s *Scene) Refs() int { return s.refs }

// State returns the scene's cache state.
func (s *Scene) State() State { return s.state }

// Version changes every time the scene is marked dirty.
func (s *Scene) Version() uint64 { return s.version }

// MarkDirty records a geometry change. Edge visibility is rebuilt lazily after
// the next BeginRebuild.
func (s *Scene) MarkDirty() {
	s.state = Dirty
	s.version++
}

// BeginRebuild moves a dirty scene to Rebuilding and invalidates every edge's
// visibility cache. It reports whether the scene was dirty.
func (s *Scene) BeginRebuild() bool {
	if s.state != Dirty {
		return false
	}
	s.state = Rebuilding
	s.edges.Each(func(_ handle.Handle, e *Edge) bool {
		e.invalidateVisibility()
		return true
	})
	return true
}

// FinishRebuild marks the scene clean.
func (s *Scene) FinishRebuild() {
	if s.state == Rebuilding {
		s.state = Clean
	}
}

// TriangleCount returns the number of indexed triangles.
func (s *Scene) TriangleCount() int { return s.tris.Len() }

// EdgeCount returns the number of indexed edges.
func (s *Scene) EdgeCount() int { return s.edges.Len() }

// SetCount returns the number of indexed geometry sets.
func (s *Scene) SetCount() int { return s.sets.Len() }

// Set resolves a set handle.
func (s *Scene) Set(h handle.Handle) (*GeometrySet, bool) { return s.sets.Get(h) }

// Edge resolves an edge handle.
func (s *Scene) Edge(h handle.Handle) (*Edge, bool) { return s.edges.Get(h) }

// EachSet visits the indexed sets in slot order.
func (s *Scene) EachSet(fn func(*GeometrySet) bool) {
	s.sets.Each(func(_ handle.Handle, g *GeometrySet) bool { return fn(g) })
}

// EachEdge visits the indexed edges in slot order.
func (s *Scene) EachEdge(fn func(*Edge) bool) {
	s.edges.Each(func(_ handle.Handle, e *Edge) bool { return fn(e) })
}

// Plane resolves a plane reference.
func (s *Scene) Plane(ref PlaneRef) (*Plane, *GeometrySet, bool) {
	g, ok := s.sets.Get(ref.Set)
	if !ok || ref.Index < 0 || int(ref.Index) >= len(g.Planes) {
		return nil, nil, false
	}
	return g.Planes[ref.Index], g, true
}

// TrianglesInside returns the triangles whose boxes reach into the convex
// volume in front of every plane. The test is conservative.
func (s *Scene) TrianglesInside(planes []math.Plane) []TriRef {
	hs := make([]rtree.HalfSpace, len(planes))
	for i, pl := range planes {
		hs[i] = rtree.HalfSpace{N: pl.N.Array(), D: pl.D}
	}
	var out []TriRef
	s.tris.HalfSpaceSearch(hs, func(r TriRef) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Hit is the result of a ray query.
type Hit struct {
	Tri    TriRef
	Plane  PlaneRef
	T      float32
	Point  math.Vec3
	Normal math.Vec3
}

func triLess(a, b TriRef) bool {
	if a.Set != b.Set {
		return a.Set.Less(b.Set)
	}
	return a.Index < b.Index
}

// Raycast returns the nearest triangle hit by the ray within (tmin, tmax].
// dir must be unit length. Hits inside portal holes are ignored. Exact ties go
// to the triangle first in set and array order.
func (s *Scene) Raycast(orig, dir math.Vec3, tmin, tmax float32) (Hit, bool) {
	ref, d, ok := s.tris.RayNearestSearch(orig.Array(), dir.Array(), tmax, s.intersect(orig, dir, tmin), triLess)
	if !ok {
		return Hit{}, false
	}
	g, _ := s.sets.Get(ref.Set)
	t := &g.IST[ref.Index]
	return Hit{
		Tri:    ref,
		Plane:  PlaneRef{Set: ref.Set, Index: t.Plane},
		T:      d,
		Point:  orig.Add(dir.Scale(d)),
		Normal: t.N,
	}, true
}

// OcclusionHit returns the first obstacle between a and b, ignoring the ray
// offset tolerance at both ends.
func (s *Scene) OcclusionHit(a, b math.Vec3) (Hit, bool) {
	d := b.Sub(a)
	l := d.Length()
	if l <= 2*s.Tol.RayOffset {
		return Hit{}, false
	}
	return s.Raycast(a, d.Scale(1/l), s.Tol.RayOffset, l-s.Tol.RayOffset)
}

// Occluded reports whether geometry blocks the segment a-b. It stops at the
// first blocker found rather than the nearest.
func (s *Scene) Occluded(a, b math.Vec3) bool {
	d := b.Sub(a)
	l := d.Length()
	if l <= 2*s.Tol.RayOffset {
		return false
	}
	dir := d.Scale(1 / l)
	tmax := l - s.Tol.RayOffset
	hit := s.intersect(a, dir, s.Tol.RayOffset)
	blocked := false
	s.tris.RaySearch(a.Array(), dir.Array(), tmax, true, func(r TriRef) bool {
		if t, ok := hit(r); ok && t <= tmax {
			blocked = true
		}
		return !blocked
	})
	return blocked
}

// intersect returns the exact ray test for triangle r: the distance along
// the ray past tmin, skipping hits inside portal holes.
func (s *Scene) intersect(orig, dir math.Vec3, tmin float32) func(TriRef) (float32, bool) {
	return func(r TriRef) (float32, bool) {
		g, ok := s.sets.Get(r.Set)
		if !ok {
			return 0, false
		}
		t := &g.IST[r.Index]
		d, ok := t.Intersect(orig, dir)
		if !ok || d <= tmin {
			return 0, false
		}
		if pl := g.Planes[t.Plane]; len(pl.Holes) > 0 {
			if _, in := pl.InHole(orig.Add(dir.Scale(d))); in {
				return 0, false
			}
		}
		return d, true
	}
}

// EdgesNear returns the non-portal edges within radius of p, nearest first
// with ties broken by handle.
func (s *Scene) EdgesNear(p math.Vec3, radius float32) []handle.Handle {
	type cand struct {
		h handle.Handle
		d float32
	}
	var out []cand
	b := math.AABBAround(p, radius)
	s.edgeTree.Search(b.Min.Array(), b.Max.Array(), func(h handle.Handle) bool {
		e, ok := s.edges.Get(h)
		if !ok || e.Portal != 0 {
			return true
		}
		if d := e.DistanceTo(p); d <= radius {
			out = append(out, cand{h, d})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].d != out[j].d {
			return out[i].d < out[j].d
		}
		return out[i].h.Less(out[j].h)
	})
	hs := make([]handle.Handle, len(out))
	for i, c := range out {
		hs[i] = c.h
	}
	return hs
}

// Bounds returns the box around every indexed triangle.
func (s *Scene) Bounds() (math.AABB, bool) {
	r, ok := s.tris.Bounds()
	if !ok {
		return math.AABB{}, false
	}
	return math.AABB{Min: math.FromArray(r.Min), Max: math.FromArray(r.Max)}, true
}
