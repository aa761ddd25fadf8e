package geometry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
	"github.com/Faultbox/midgard-acoustics/pkg/rtree"
)

func indexedBox(t *testing.T, s *Scene, id SetID, lo, hi math.Vec3) *GeometrySet {
	t.Helper()
	p := Box(lo, hi, NoSurface)
	p.EnableDiffraction = true
	g, err := NewGeometrySet(id, p, s.Tol)
	require.NoError(t, err)
	require.NoError(t, g.Index(s))
	return g
}

func TestScene_IndexUnindex(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	g := indexedBox(t, s, 7, math.V3(-1, -1, -1), math.V3(1, 1, 1))

	assert.Equal(t, 12, s.TriangleCount())
	assert.Equal(t, 12, s.EdgeCount())
	assert.Equal(t, 1, s.SetCount())
	assert.Equal(t, Dirty, s.State())
	assert.ErrorIs(t, g.Index(s), ErrAlreadyIndexed)
	assert.ErrorIs(t, g.Term(), ErrStillIndexed)

	h := g.Handle()
	edges := append([]handle.Handle(nil), g.Edges()...)
	v := s.Version()
	g.Unindex()

	assert.Equal(t, 0, s.TriangleCount())
	assert.Equal(t, 0, s.EdgeCount())
	assert.Greater(t, s.Version(), v)
	_, ok := s.Set(h)
	assert.False(t, ok, "stale set handle must not resolve")
	for _, eh := range edges {
		_, ok := s.Edge(eh)
		assert.False(t, ok, "stale edge handle must not resolve")
	}
	assert.Empty(t, s.TrianglesInside(boxPlanes(math.AABBAround(math.Vec3{}, 100))))
	assert.NoError(t, g.Term())
}

func TestScene_IndexCapacityRollsBack(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 10)
	p := Box(math.V3(0, 0, 0), math.V3(1, 1, 1), NoSurface)
	g, err := NewGeometrySet(1, p, s.Tol)
	require.NoError(t, err)

	err = g.Index(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rtree.ErrCapacity))
	assert.Equal(t, 0, s.TriangleCount())
	assert.Equal(t, 0, s.SetCount())
	assert.Nil(t, g.Scene())
}

func TestScene_Raycast(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	indexedBox(t, s, 1, math.V3(4, -1, -1), math.V3(6, 1, 1))
	indexedBox(t, s, 2, math.V3(10, -1, -1), math.V3(12, 1, 1))

	hit, ok := s.Raycast(math.Vec3{}, math.V3(1, 0, 0), 0, 100)
	require.True(t, ok)
	assert.InDelta(t, 4, hit.T, 1e-5)
	assert.Equal(t, math.V3(-1, 0, 0), hit.Normal)
	assert.True(t, hit.Point.ApproxEqual(math.V3(4, 0, 0), 1e-5))

	_, ok = s.Raycast(math.Vec3{}, math.V3(1, 0, 0), 0, 3)
	assert.False(t, ok, "beyond tmax")

	_, ok = s.Raycast(math.Vec3{}, math.V3(0, 1, 0), 0, 100)
	assert.False(t, ok)

	assert.True(t, s.Occluded(math.Vec3{}, math.V3(8, 0, 0)))
	assert.False(t, s.Occluded(math.V3(7, 0, 0), math.V3(9, 0, 0)))
	assert.False(t, s.Occluded(math.V3(0, 3, 0), math.V3(20, 3, 0)))
}

// boxPlanes returns the inward planes of b.
func boxPlanes(b math.AABB) []math.Plane {
	return []math.Plane{
		{N: math.V3(1, 0, 0), D: b.Min.X}, {N: math.V3(-1, 0, 0), D: -b.Max.X},
		{N: math.V3(0, 1, 0), D: b.Min.Y}, {N: math.V3(0, -1, 0), D: -b.Max.Y},
		{N: math.V3(0, 0, 1), D: b.Min.Z}, {N: math.V3(0, 0, -1), D: -b.Max.Z},
	}
}

func TestScene_OccludedAgreesWithNearestHit(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	indexedBox(t, s, 1, math.V3(4, -1, -1), math.V3(6, 1, 1))
	indexedBox(t, s, 2, math.V3(10, -1, -1), math.V3(12, 1, 1))

	segments := [][2]math.Vec3{
		{{}, {X: 20}},
		{{}, {X: 4}},
		{{X: 7}, {X: 9}},
		{{X: 7}, {X: 11}},
		{{Y: 0.5}, {X: 20, Y: -0.5}},
		{{Y: 3}, {X: 20, Y: 3}},
		{{X: 5, Y: -5}, {X: 5, Y: 5}},
		{{X: 5}, {X: 5, Y: 0.5}},
	}
	for _, seg := range segments {
		_, want := s.OcclusionHit(seg[0], seg[1])
		assert.Equal(t, want, s.Occluded(seg[0], seg[1]), "segment %v", seg)
	}
}

func TestScene_TrianglesInside(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	a := indexedBox(t, s, 1, math.V3(4, -1, -1), math.V3(6, 1, 1))
	indexedBox(t, s, 2, math.V3(10, -1, -1), math.V3(12, 1, 1))

	got := s.TrianglesInside(boxPlanes(math.AABB{Min: math.V3(3, -2, -2), Max: math.V3(7, 2, 2)}))
	assert.Len(t, got, 12)
	for _, r := range got {
		assert.Equal(t, a.Handle(), r.Set)
	}
	assert.Len(t, s.TrianglesInside(boxPlanes(math.AABB{Min: math.V3(0, -2, -2), Max: math.V3(20, 2, 2)})), 24)
	assert.Empty(t, s.TrianglesInside(boxPlanes(math.AABB{Min: math.V3(7, -2, -2), Max: math.V3(9, 2, 2)})))
}

func TestScene_PortalHole(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	// Wall at x=5 spanning y,z in [-5,5].
	p := Quad([4]math.Vec3{{X: 5, Y: -5, Z: -5}, {X: 5, Y: 5, Z: -5}, {X: 5, Y: 5, Z: 5}, {X: 5, Y: -5, Z: 5}}, NoSurface)
	g, err := NewGeometrySet(1, p, s.Tol)
	require.NoError(t, err)
	require.NoError(t, g.Index(s))
	require.Len(t, g.Planes, 1)

	a, b := math.V3(0, 0, 0), math.V3(10, 0, 0)
	require.True(t, s.Occluded(a, b))

	hole := g.Planes[0].AddPortalHole(42, [4]math.Vec3{{X: 5, Y: -1, Z: -1}, {X: 5, Y: 1, Z: -1}, {X: 5, Y: 1, Z: 1}, {X: 5, Y: -1, Z: 1}})
	assert.Len(t, hole.Edges, 4)
	for _, e := range hole.Edges {
		assert.Equal(t, PortalID(42), e.Portal)
		assert.Greater(t, e.Z0.Dot(e.Mid().Sub(math.V3(5, 0, 0))), float32(0), "solid side lies outside the opening")
	}
	assert.False(t, s.Occluded(a, b), "ray through the opening")
	assert.True(t, s.Occluded(math.V3(0, 3, 0), math.V3(10, 3, 0)), "ray beside the opening")

	id, in := g.Planes[0].InHole(math.V3(5, 0.5, 0.5))
	assert.True(t, in)
	assert.Equal(t, PortalID(42), id)

	assert.True(t, g.Planes[0].RemovePortalHoles(42))
	assert.False(t, g.Planes[0].RemovePortalHoles(42))
	assert.True(t, s.Occluded(a, b))
}

func TestScene_EdgesNear(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	indexedBox(t, s, 1, math.V3(0, 0, 0), math.V3(1, 1, 1))

	near := s.EdgesNear(math.V3(1.1, 1.1, 0.5), 0.2)
	require.Len(t, near, 1)
	e, ok := s.Edge(near[0])
	require.True(t, ok)
	assert.InDelta(t, 1, e.Dir.Z*e.Dir.Z, 1e-6, "the vertical edge at x=1,y=1")

	near = s.EdgesNear(math.V3(1, 1, 1), 0.01)
	assert.Len(t, near, 3, "three edges meet at a corner")
	assert.Empty(t, s.EdgesNear(math.V3(5, 5, 5), 0.5))
}

func TestScene_StateMachine(t *testing.T) {
	s := NewScene(1, DefaultTolerances(), 0)
	assert.Equal(t, Clean, s.State())
	assert.False(t, s.BeginRebuild())

	g := indexedBox(t, s, 1, math.V3(0, 0, 0), math.V3(1, 1, 1))
	e, _ := s.Edge(g.Edges()[0])
	assert.Equal(t, Dirty, e.VisibilityState(), "new edges start unbuilt")
	n0, n1 := e.LinkCounts()
	assert.Zero(t, n0+n1)
	s.Links(e, Zone0)
	assert.Equal(t, Clean, e.VisibilityState())

	s.MarkDirty()
	require.True(t, s.BeginRebuild())
	assert.Equal(t, Rebuilding, s.State())
	assert.Equal(t, Dirty, e.VisibilityState(), "rebuild invalidates edge caches")
	s.FinishRebuild()
	assert.Equal(t, Clean, s.State())
}

// twoBoxes builds two boxes side by side along X so that many edges see each other.
func twoBoxes(t *testing.T) *Scene {
	s := NewScene(1, DefaultTolerances(), 0)
	indexedBox(t, s, 1, math.V3(0, 0, 0), math.V3(2, 2, 2))
	indexedBox(t, s, 2, math.V3(4, 0.5, 0.5), math.V3(6, 3, 3))
	return s
}

func TestScene_VisibilitySymmetry(t *testing.T) {
	s := twoBoxes(t)
	total := 0
	s.EachEdge(func(a *Edge) bool {
		for _, za := range []Zone{Zone0, Zone1} {
			for _, l := range s.Links(a, za) {
				total++
				b, ok := s.Edge(l.Edge)
				require.True(t, ok)
				found := false
				for _, back := range s.Links(b, l.Zone) {
					if back.Edge == a.Handle {
						assert.Equal(t, za, back.Zone, "reverse link records the forward zone")
						found = true
					}
				}
				assert.True(t, found, "edge %v missing from %v's zone %v list", a.Handle, b.Handle, l.Zone)
			}
		}
		return true
	})
	assert.Greater(t, total, 0)
}

func TestScene_VisibilitySortedAndLazy(t *testing.T) {
	s := twoBoxes(t)
	s.EachEdge(func(a *Edge) bool {
		for _, z := range []Zone{Zone0, Zone1} {
			links := s.Links(a, z)
			for i := 1; i < len(links); i++ {
				assert.LessOrEqual(t, links[i-1].Dist, links[i].Dist)
			}
			for i := range links {
				assert.False(t, links[i].Verified(), "line of sight checked on first use only")
				first := s.VerifyLink(a, &links[i])
				assert.True(t, links[i].Verified())
				assert.Equal(t, first, s.VerifyLink(a, &links[i]))
			}
		}
		return true
	})
}

func TestClosestPoints(t *testing.T) {
	p, q := closestPoints(math.V3(0, 0, 0), math.V3(2, 0, 0), math.V3(1, -1, 1), math.V3(1, 1, 1))
	assert.True(t, p.ApproxEqual(math.V3(1, 0, 0), 1e-5))
	assert.True(t, q.ApproxEqual(math.V3(1, 0, 1), 1e-5))
}
