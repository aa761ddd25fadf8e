package geometry

import (
	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Plane groups the coplanar triangles of a geometry set. It is the reflector
// unit of the image-source method.
type Plane struct {
	Geom  math.Plane
	Tris  []int32         // indices into the set's triangles
	Edges []handle.Handle // diffraction edges bordering the plane, set once indexed
	Holes []Hole          // portal openings cut into the plane

	edgeSpecs []int32 // indices into the set's edge specs
}

// Hole is the negative-space rectangle where a portal opening crosses a plane.
// Points inside it are neither reflected nor occluding.
type Hole struct {
	Portal  PortalID
	Corners [4]math.Vec3
	Edges   []*Edge // synthetic portal-opening edges along the rectangle
	tris    [2]ImageSourceTriangle
}

// Contains reports whether p, assumed on the plane, lies inside the hole.
func (h *Hole) Contains(p math.Vec3) bool {
	return h.tris[0].Contains(p) || h.tris[1].Contains(p)
}

// AddPortalHole projects the portal rectangle onto the plane and records it as
// a hole with four synthetic edges. Corners go around the rectangle.
func (p *Plane) AddPortalHole(portal PortalID, corners [4]math.Vec3) *Hole {
	var c [4]math.Vec3
	for i := range corners {
		c[i] = p.Geom.Project(corners[i])
	}
	h := Hole{
		Portal:  portal,
		Corners: c,
		tris: [2]ImageSourceTriangle{
			newImageSourceTriangle(c[0], c[1], c[2]),
			newImageSourceTriangle(c[0], c[2], c[3]),
		},
	}
	center := c[0].Add(c[1]).Add(c[2]).Add(c[3]).Scale(0.25)
	for i := 0; i < 4; i++ {
		a, b := c[i], c[(i+1)%4]
		if a.Distance(b) < math.Epsilon {
			continue
		}
		// The solid face lies outside the opening.
		mid := a.Add(b).Scale(0.5)
		z := mid.Sub(center)
		z = z.Sub(b.Sub(a).Normalize().Scale(z.Dot(b.Sub(a).Normalize()))).Normalize()
		e := NewPlateEdge(a, b, p.Geom.N, z)
		e.Portal = portal
		h.Edges = append(h.Edges, e)
	}
	p.Holes = append(p.Holes, h)
	return &p.Holes[len(p.Holes)-1]
}

// RemovePortalHoles drops every hole cut by portal and reports whether any existed.
func (p *Plane) RemovePortalHoles(portal PortalID) bool {
	kept := p.Holes[:0]
	for _, h := range p.Holes {
		if h.Portal != portal {
			kept = append(kept, h)
		}
	}
	removed := len(kept) != len(p.Holes)
	for i := len(kept); i < len(p.Holes); i++ {
		p.Holes[i] = Hole{}
	}
	p.Holes = kept
	return removed
}

// InHole returns the portal whose opening contains p.
func (p *Plane) InHole(pt math.Vec3) (PortalID, bool) {
	for i := range p.Holes {
		if p.Holes[i].Contains(pt) {
			return p.Holes[i].Portal, true
		}
	}
	return 0, false
}
