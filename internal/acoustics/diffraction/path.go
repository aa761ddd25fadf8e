// Package diffraction finds diffraction paths around scene edges and defines
// the path records handed to the renderer.
package diffraction

import (
	stdmath "math"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// MaxDiffraction is the accumulated diffraction of a fully blocked path, in
// normalized units where 1 is a turn of π radians.
const MaxDiffraction float32 = 2.0

// MaxLength bounds the number of nodes of a path.
const MaxLength = 8

// Normalize converts a turning angle in radians to diffraction units.
func Normalize(angle float32) float32 {
	return angle / stdmath.Pi
}

// Accumulate adds next to acc. It returns false, leaving acc at MaxDiffraction,
// when the sum would exceed it; acc never decreases. Negative next counts as 0.
func Accumulate(acc *float32, next float32) bool {
	if next < 0 {
		next = 0
	}
	sum := *acc + next
	if sum > MaxDiffraction {
		*acc = MaxDiffraction
		return false
	}
	*acc = sum
	return true
}

// Node is one bend of a path: a point on a diffraction edge or in a portal opening.
type Node struct {
	Point  math.Vec3
	Angle  float32 // turning angle in radians
	Edge   handle.Handle
	Room   geometry.RoomID // room the path enters at this node
	Portal geometry.PortalID
}

// Path is a listener-to-emitter route. Nodes run from the listener side. A path
// without nodes is the direct line of sight.
type Path struct {
	Nodes       []Node
	Diffraction float32 // accumulated, normalized
	Length      float32
	Gain        float32 // product of portal gains along the route
	Emitter     math.Transform
	Placeholder bool // no route found through occluding geometry
}

// NodeCount returns the number of bends.
func (p *Path) NodeCount() int { return len(p.Nodes) }

// SetVirtualEmitter places the emitter at the path length along the direction
// of the first bend as seen from the listener, rotated by the detour.
func (p *Path) SetVirtualEmitter(listener math.Vec3, emitter math.Transform) {
	if len(p.Nodes) == 0 {
		p.Emitter = emitter
		return
	}
	toFirst := p.Nodes[0].Point.Sub(listener)
	toEmitter := emitter.Position.Sub(listener)
	if toFirst.IsZero() || toEmitter.IsZero() {
		p.Emitter = emitter
		return
	}
	virtual := emitter.Rotated(math.QuatBetween(toEmitter, toFirst))
	virtual.Position = listener.Add(toFirst.Normalize().Scale(p.Length))
	p.Emitter = virtual
}

// Segment is an edge chain between two fixed points, as produced by the
// search and cached between portals.
type Segment struct {
	Points      []math.Vec3
	Angles      []float32
	Edges       []handle.Handle
	Diffraction float32
	Length      float32
}

// Direct reports whether the segment is a straight line.
func (s *Segment) Direct() bool { return len(s.Points) == 0 }

// Nodes converts the segment's bends to path nodes.
func (s *Segment) Nodes() []Node {
	nodes := make([]Node, len(s.Points))
	for i := range s.Points {
		nodes[i] = Node{Point: s.Points[i], Angle: s.Angles[i], Edge: s.Edges[i]}
	}
	return nodes
}

// Reversed returns the segment walked from the other end.
func (s Segment) Reversed() Segment {
	n := len(s.Points)
	r := Segment{
		Points:      make([]math.Vec3, n),
		Angles:      make([]float32, n),
		Edges:       make([]handle.Handle, n),
		Diffraction: s.Diffraction,
		Length:      s.Length,
	}
	for i := 0; i < n; i++ {
		r.Points[i] = s.Points[n-1-i]
		r.Angles[i] = s.Angles[n-1-i]
		r.Edges[i] = s.Edges[n-1-i]
	}
	return r
}

// Placeholder returns the maximum-diffraction path standing in for a blocked
// emitter the search could not route around.
func Placeholder(listener math.Vec3, emitter math.Transform) Path {
	return Path{
		Diffraction: MaxDiffraction,
		Length:      listener.Distance(emitter.Position),
		Gain:        1,
		Emitter:     emitter,
		Placeholder: true,
	}
}

// BuildPaths turns the segments found between listener and emitter into paths.
// A blocked pair without any segment gets a placeholder.
func BuildPaths(segs []Segment, blocked bool, listener math.Vec3, emitter math.Transform) []Path {
	if len(segs) == 0 {
		if blocked {
			return []Path{Placeholder(listener, emitter)}
		}
		return nil
	}
	paths := make([]Path, 0, len(segs))
	for i := range segs {
		p := Path{
			Nodes:       segs[i].Nodes(),
			Diffraction: segs[i].Diffraction,
			Length:      segs[i].Length,
			Gain:        1,
		}
		p.SetVirtualEmitter(listener, emitter)
		paths = append(paths, p)
	}
	return paths
}
