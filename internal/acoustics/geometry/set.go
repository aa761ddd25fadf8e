package geometry

import (
	"fmt"

	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// TriRef names a triangle of an indexed geometry set.
type TriRef struct {
	Set   handle.Handle
	Index int32
}

// PlaneRef names a reflector plane of an indexed geometry set.
type PlaneRef struct {
	Set   handle.Handle
	Index int32
}

// GeometrySet is one SetGeometry payload with its derived reflector planes and
// diffraction edges. It must be unindexed before Term.
type GeometrySet struct {
	ID        SetID
	Room      RoomID
	Vertices  []math.Vec3
	Triangles []Triangle
	Surfaces  []Surface
	IST       []ImageSourceTriangle
	Planes    []*Plane

	edgeSpecs []*Edge
	edges     []handle.Handle
	triBounds []math.AABB

	scene  *Scene
	handle handle.Handle
}

// NewGeometrySet validates p and derives planes and edges. The slices of p are
// taken over by the set.
func NewGeometrySet(id SetID, p Params, tol Tolerances) (*GeometrySet, error) {
	if err := ValidateParams(&p); err != nil {
		return nil, fmt.Errorf("geometry %d: %w", id, err)
	}
	g := &GeometrySet{
		ID:        id,
		Room:      p.Room,
		Vertices:  p.Vertices,
		Triangles: p.Triangles,
		Surfaces:  p.Surfaces,
		IST:       make([]ImageSourceTriangle, len(p.Triangles)),
		triBounds: make([]math.AABB, len(p.Triangles)),
	}
	for i, t := range p.Triangles {
		a, b, c := g.Vertices[t.A], g.Vertices[t.B], g.Vertices[t.C]
		g.IST[i] = newImageSourceTriangle(a, b, c)
		g.triBounds[i] = triangleBounds(a, b, c)
	}
	g.buildPlanes(tol)
	if p.EnableDiffraction {
		g.buildEdges(p.EnableBoundaryEdges, tol)
	}
	return g, nil
}

func (g *GeometrySet) buildPlanes(tol Tolerances) {
	for i := range g.IST {
		t := &g.IST[i]
		geom := math.Plane{N: t.N, D: t.N.Dot(t.P0)}
		idx := -1
		for j, pl := range g.Planes {
			if pl.Geom.Coplanar(geom, tol.CoplanarNormal, tol.CoplanarDist) {
				idx = j
				break
			}
		}
		if idx < 0 {
			idx = len(g.Planes)
			g.Planes = append(g.Planes, &Plane{Geom: geom})
		}
		t.Plane = int32(idx)
		g.Planes[idx].Tris = append(g.Planes[idx].Tris, int32(i))
	}
}

type edgeKey struct{ lo, hi uint32 }

type edgeUse struct {
	tri   int32
	third uint32
}

func (g *GeometrySet) buildEdges(boundary bool, tol Tolerances) {
	uses := make(map[edgeKey][]edgeUse)
	var order []edgeKey
	add := func(a, b, third uint32, tri int) {
		k := edgeKey{min(a, b), max(a, b)}
		if _, ok := uses[k]; !ok {
			order = append(order, k)
		}
		uses[k] = append(uses[k], edgeUse{tri: int32(tri), third: third})
	}
	for i, t := range g.Triangles {
		add(t.A, t.B, t.C, i)
		add(t.B, t.C, t.A, i)
		add(t.C, t.A, t.B, i)
	}

	for _, k := range order {
		u := uses[k]
		a, b := g.Vertices[k.lo], g.Vertices[k.hi]
		inFace := func(use edgeUse) math.Vec3 {
			p := g.Vertices[use.third]
			q, _ := math.ClosestPointOnSegment(p, a, b)
			return p.Sub(q).Normalize()
		}
		switch len(u) {
		case 1:
			if !boundary {
				continue
			}
			t := &g.IST[u[0].tri]
			e := NewPlateEdge(a, b, t.N, inFace(u[0]))
			e.Planes[0] = t.Plane
			g.addEdge(e)
		case 2:
			t0, t1 := &g.IST[u[0].tri], &g.IST[u[1].tri]
			if t0.Plane == t1.Plane {
				continue
			}
			z0, z1 := inFace(u[0]), inFace(u[1])
			// Only convex wedges diffract: face 1 must fall behind face 0.
			if z1.Dot(t0.N) > -tol.CoplanarNormal {
				continue
			}
			e := newEdge(a, b, t0.N, z0, t1.N, z1, false)
			e.Planes = [2]int32{t0.Plane, t1.Plane}
			g.addEdge(e)
		}
	}
	for _, e := range g.edgeSpecs {
		e.zoneEps = tol.Zone
	}
}

func (g *GeometrySet) addEdge(e *Edge) {
	if e.Degenerate() {
		return
	}
	idx := int32(len(g.edgeSpecs))
	g.edgeSpecs = append(g.edgeSpecs, e)
	for _, p := range e.Planes {
		if p >= 0 {
			g.Planes[p].edgeSpecs = append(g.Planes[p].edgeSpecs, idx)
		}
	}
}

// EdgeCount returns the number of diffraction edges derived from the set.
func (g *GeometrySet) EdgeCount() int { return len(g.edgeSpecs) }

// Edges returns the scene handles of the set's edges; empty until indexed.
func (g *GeometrySet) Edges() []handle.Handle { return g.edges }

// Handle returns the set's handle in its scene.
func (g *GeometrySet) Handle() handle.Handle { return g.handle }

// Scene returns the scene the set is indexed in, or nil.
func (g *GeometrySet) Scene() *Scene { return g.scene }

// Bounds returns the box around every triangle.
func (g *GeometrySet) Bounds() math.AABB {
	b := math.EmptyAABB()
	for _, tb := range g.triBounds {
		b = b.Union(tb)
	}
	return b
}

// SurfaceOf returns the surface of triangle i, if any.
func (g *GeometrySet) SurfaceOf(i int32) (Surface, bool) {
	s := g.Triangles[i].Surface
	if s == NoSurface {
		return Surface{}, false
	}
	return g.Surfaces[s], true
}

// Index inserts the set's triangles and edges into s. On failure everything
// already inserted is removed again and the set stays unindexed.
func (g *GeometrySet) Index(s *Scene) error {
	if g.scene != nil {
		return ErrAlreadyIndexed
	}
	g.scene = s
	g.handle = s.sets.Insert(g)

	for i := range g.IST {
		b := g.triBounds[i]
		if err := s.tris.Insert(b.Min.Array(), b.Max.Array(), TriRef{Set: g.handle, Index: int32(i)}); err != nil {
			g.unindex(i, 0)
			return fmt.Errorf("index geometry %d: %w", g.ID, err)
		}
	}

	g.edges = make([]handle.Handle, 0, len(g.edgeSpecs))
	for i, e := range g.edgeSpecs {
		e.Set = g.handle
		e.Handle = s.edges.Insert(e)
		b := math.NewAABB(e.Start, e.End())
		if err := s.edgeTree.Insert(b.Min.Array(), b.Max.Array(), e.Handle); err != nil {
			s.edges.Remove(e.Handle)
			g.unindex(len(g.IST), i)
			return fmt.Errorf("index geometry %d edges: %w", g.ID, err)
		}
		g.edges = append(g.edges, e.Handle)
	}
	for _, pl := range g.Planes {
		pl.Edges = pl.Edges[:0]
		for _, ei := range pl.edgeSpecs {
			pl.Edges = append(pl.Edges, g.edgeSpecs[ei].Handle)
		}
	}
	s.MarkDirty()
	return nil
}

// Unindex removes the set from its scene. It is a no-op for unindexed sets.
func (g *GeometrySet) Unindex() {
	if g.scene == nil {
		return
	}
	g.unindex(len(g.IST), len(g.edges))
}

func (g *GeometrySet) unindex(tris, edges int) {
	s := g.scene
	for i := 0; i < tris; i++ {
		b := g.triBounds[i]
		s.tris.Remove(b.Min.Array(), b.Max.Array(), TriRef{Set: g.handle, Index: int32(i)})
	}
	for i := 0; i < edges; i++ {
		e := g.edgeSpecs[i]
		b := math.NewAABB(e.Start, e.End())
		s.edgeTree.Remove(b.Min.Array(), b.Max.Array(), e.Handle)
		s.edges.Remove(e.Handle)
		e.Handle = handle.Handle{}
		e.Set = handle.Handle{}
		e.invalidateVisibility()
	}
	for _, pl := range g.Planes {
		pl.Edges = pl.Edges[:0]
	}
	g.edges = nil
	s.sets.Remove(g.handle)
	g.handle = handle.Handle{}
	g.scene = nil
	s.MarkDirty()
}

// Term releases the set's arrays. The set must be unindexed.
func (g *GeometrySet) Term() error {
	if g.scene != nil {
		return fmt.Errorf("%w: geometry %d", ErrStillIndexed, g.ID)
	}
	g.Vertices = nil
	g.Triangles = nil
	g.Surfaces = nil
	g.IST = nil
	g.Planes = nil
	g.edgeSpecs = nil
	g.triBounds = nil
	return nil
}
