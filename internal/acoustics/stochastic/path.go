// Package stochastic finds reflection paths by casting random rays from a
// listener and validating the surfaces they hit against each emitter with the
// image-source method.
package stochastic

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// SourceKind tags a Source.
type SourceKind uint8

const (
	// Reflector is a specular bounce off a plane.
	Reflector SourceKind = iota + 1
	// Diffractor is a bend around an edge.
	Diffractor
)

func (k SourceKind) String() string {
	switch k {
	case Reflector:
		return "reflector"
	case Diffractor:
		return "diffractor"
	default:
		return "unknown"
	}
}

// Source is one interaction of a candidate path. Reflectors use Plane, diffractors Edge.
type Source struct {
	Kind  SourceKind
	Plane geometry.PlaneRef
	Edge  handle.Handle
	Point math.Vec3 // where the cast ray met it
}

// ReflectorAt returns a reflector source.
func ReflectorAt(plane geometry.PlaneRef, p math.Vec3) Source {
	return Source{Kind: Reflector, Plane: plane, Point: p}
}

// DiffractorAt returns a diffractor source.
func DiffractorAt(edge handle.Handle, p math.Vec3) Source {
	return Source{Kind: Diffractor, Edge: edge, Point: p}
}

// Ray is a candidate path found by casting: the sequence of surfaces and edges
// a primary ray and its children met, ordered from the origin.
type Ray struct {
	Sources []Source
	Group   int    // index of the primary ray
	Hash    uint64 // PathID of Sources
	Tail    math.Ray
	Length  float32 // travelled distance to the last source
}

// Reflections counts the reflector sources.
func (r *Ray) Reflections() int { return countKind(r.Sources, Reflector) }

// Diffractions counts the diffractor sources.
func (r *Ray) Diffractions() int { return countKind(r.Sources, Diffractor) }

func countKind(src []Source, k SourceKind) int {
	n := 0
	for i := range src {
		if src[i].Kind == k {
			n++
		}
	}
	return n
}

// PathID hashes the identity of a source sequence. It depends only on which
// planes and edges are visited, so it stays stable while they do.
func PathID(src []Source) uint64 {
	var buf [18]byte
	d := xxhash.New()
	for i := range src {
		s := &src[i]
		b := buf[:0]
		b = append(b, byte(s.Kind))
		switch s.Kind {
		case Reflector:
			b = binary.LittleEndian.AppendUint64(b, s.Plane.Set.Key())
			b = binary.LittleEndian.AppendUint32(b, uint32(s.Plane.Index))
		case Diffractor:
			b = binary.LittleEndian.AppendUint64(b, s.Edge.Key())
		}
		d.Write(b)
	}
	return d.Sum64()
}

// ReflectionPath is a validated listener-to-emitter path through one or more
// reflections, possibly bending around edges.
type ReflectionPath struct {
	ID          uint64
	Sources     []Source
	Points      []math.Vec3 // one per source, from the listener side
	Diffraction []float32   // normalized diffraction per point, zero at reflections
	TextureIDs  []uint32    // surface texture per point, zero at edges
	Surfaces    []string
	Total       float32 // accumulated diffraction
	Length      float32
	ImageSource math.Vec3 // emitter seen straight along the first leg at path length
	Order       int       // number of reflections
}

// Clone returns a deep copy.
func (p *ReflectionPath) Clone() ReflectionPath {
	c := *p
	c.Sources = append([]Source(nil), p.Sources...)
	c.Points = append([]math.Vec3(nil), p.Points...)
	c.Diffraction = append([]float32(nil), p.Diffraction...)
	c.TextureIDs = append([]uint32(nil), p.TextureIDs...)
	c.Surfaces = append([]string(nil), p.Surfaces...)
	return c
}
