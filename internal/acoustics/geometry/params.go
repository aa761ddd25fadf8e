// Package geometry holds the acoustic scene model: geometry sets of triangles,
// the coplanar reflector planes and diffraction edges derived from them, the
// per-component Scene with its spatial indices, and the lazily built edge
// visibility graph.
package geometry

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Identifiers supplied by the caller of the mutation API.
type (
	SetID    uint64
	RoomID   uint64
	PortalID uint64
)

// NoRoom is the room of objects outside every room; it maps to the default scene.
const NoRoom RoomID = 0

// NoSurface marks a triangle without an acoustic surface.
const NoSurface uint16 = 0xFFFF

// Validation errors.
var (
	ErrEmptyGeometry      = errors.New("geometry has no triangles")
	ErrIndexOutOfRange    = errors.New("vertex index out of range")
	ErrSurfaceOutOfRange  = errors.New("surface index out of range")
	ErrDegenerateTriangle = errors.New("degenerate triangle")
	ErrStillIndexed       = errors.New("geometry set still indexed")
	ErrAlreadyIndexed     = errors.New("geometry set already indexed")
)

// Triangle references three vertices of its geometry set and an optional surface.
type Triangle struct {
	A, B, C uint32
	Surface uint16
}

// Surface is an acoustic material.
type Surface struct {
	TextureID    uint32
	Transmission float32 // fraction of energy passing through, 0..1
	Name         string
}

// Params describes a geometry set as supplied to SetGeometry. The slices are
// owned by the set once accepted.
type Params struct {
	Vertices  []math.Vec3
	Triangles []Triangle
	Surfaces  []Surface
	Room      RoomID

	EnableDiffraction   bool
	EnableBoundaryEdges bool // diffraction on edges bordering a single triangle
}

// minTriangleArea is the area below which a triangle is rejected.
const minTriangleArea = 1e-8

// ValidateParams rejects geometry the engine cannot index: out-of-range indices,
// triangles repeating a vertex and zero-area triangles.
func ValidateParams(p *Params) error {
	if len(p.Triangles) == 0 {
		return ErrEmptyGeometry
	}
	n := uint32(len(p.Vertices))
	for i, t := range p.Triangles {
		if t.A >= n || t.B >= n || t.C >= n {
			return fmt.Errorf("%w: triangle %d references %d/%d/%d of %d vertices", ErrIndexOutOfRange, i, t.A, t.B, t.C, n)
		}
		if t.Surface != NoSurface && int(t.Surface) >= len(p.Surfaces) {
			return fmt.Errorf("%w: triangle %d surface %d of %d", ErrSurfaceOutOfRange, i, t.Surface, len(p.Surfaces))
		}
		if t.A == t.B || t.B == t.C || t.A == t.C {
			return fmt.Errorf("%w: triangle %d shares a vertex", ErrDegenerateTriangle, i)
		}
		a, b, c := p.Vertices[t.A], p.Vertices[t.B], p.Vertices[t.C]
		if a == b || b == c || a == c {
			return fmt.Errorf("%w: triangle %d has coincident vertices", ErrDegenerateTriangle, i)
		}
		if math.TriangleArea(a, b, c) < minTriangleArea {
			return fmt.Errorf("%w: triangle %d has zero area", ErrDegenerateTriangle, i)
		}
	}
	return nil
}

// Tolerances are the geometric thresholds of a scene.
type Tolerances struct {
	// Zone is the distance within which a point counts as on a face plane.
	Zone float32
	// CoplanarNormal and CoplanarDist group triangles into reflector planes.
	CoplanarNormal float32
	CoplanarDist   float32
	// Nudge offsets edge sample points off their faces for visibility tests.
	Nudge float32
	// RayOffset is ignored at both ends of occlusion rays.
	RayOffset float32
}

// DefaultTolerances returns thresholds suited to scenes modelled in metres.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Zone:           1e-3,
		CoplanarNormal: 1e-4,
		CoplanarDist:   1e-3,
		Nudge:          1e-2,
		RayOffset:      1e-3,
	}
}
