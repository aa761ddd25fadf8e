package rooms

import (
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// MaxTraversal bounds the number of portals on a propagation path.
const MaxTraversal = 8

// PassMargin keeps pass points inside the portal frame.
const PassMargin float32 = 0.01

// PathNode is a portal on a propagation path and the room entered through it.
type PathNode struct {
	Portal geometry.PortalID
	Room   geometry.RoomID
	Point  math.Vec3 // where the path passes the opening
}

// PropagationPath is a route from the listener's room to the emitter's room
// through portals. Nodes run from the listener side.
type PropagationPath struct {
	Nodes       []PathNode
	Length      float32
	Gain        float32 // product of portal gains
	Diffraction float32 // capped at diffraction.MaxDiffraction
}

// FirstPortal returns the portal nearest the listener.
func (p *PropagationPath) FirstPortal() geometry.PortalID { return p.Nodes[0].Portal }

// Rooms returns the rooms entered along the path.
func (p *PropagationPath) Rooms() []geometry.RoomID {
	out := make([]geometry.RoomID, len(p.Nodes))
	for i := range p.Nodes {
		out[i] = p.Nodes[i].Room
	}
	return out
}

type traversal struct {
	g        *Graph
	target   geometry.RoomID
	emitter  math.Vec3
	maxDepth int
	visited  []geometry.RoomID
	nodes    []PathNode
	best     map[geometry.PortalID]PropagationPath
}

// Propagate finds the paths from the listener's room to the emitter's room
// through enabled portals, at most maxDepth portals deep. Only the shortest
// path per first portal is kept. Paths come back shortest first. A listener
// and emitter in the same room have no propagation path.
func (g *Graph) Propagate(listenerRoom geometry.RoomID, listener math.Vec3, emitterRoom geometry.RoomID, emitter math.Vec3, maxDepth int) []PropagationPath {
	if listenerRoom == emitterRoom {
		return nil
	}
	if _, ok := g.rooms[listenerRoom]; !ok {
		return nil
	}
	if _, ok := g.rooms[emitterRoom]; !ok {
		return nil
	}
	if maxDepth <= 0 || maxDepth > MaxTraversal {
		maxDepth = MaxTraversal
	}
	t := &traversal{
		g:        g,
		target:   emitterRoom,
		emitter:  emitter,
		maxDepth: maxDepth,
		visited:  make([]geometry.RoomID, 0, maxDepth+1),
		best:     make(map[geometry.PortalID]PropagationPath),
	}
	t.visit(listenerRoom, listener)

	out := make([]PropagationPath, 0, len(t.best))
	for _, p := range t.best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].FirstPortal() < out[j].FirstPortal()
	})
	return out
}

func (t *traversal) seen(r geometry.RoomID) bool {
	for _, v := range t.visited {
		if v == r {
			return true
		}
	}
	return false
}

func (t *traversal) visit(room geometry.RoomID, listener math.Vec3) {
	r, ok := t.g.rooms[room]
	if !ok {
		return
	}
	t.visited = append(t.visited, room)
	defer func() { t.visited = t.visited[:len(t.visited)-1] }()

	for _, pid := range r.portals {
		p, ok := t.g.portals[pid]
		if !ok || !p.Params.Enabled {
			continue
		}
		next, ok := p.Other(room)
		if !ok || t.seen(next) {
			continue
		}
		if _, ok := t.g.rooms[next]; !ok {
			continue
		}
		t.nodes = append(t.nodes, PathNode{Portal: pid, Room: next})
		if next == t.target {
			t.record(listener)
		} else if len(t.nodes) < t.maxDepth {
			t.visit(next, listener)
		}
		t.nodes = t.nodes[:len(t.nodes)-1]
	}
}

// record places the pass points of the current chain and keeps it if it is
// the shortest through its first portal.
func (t *traversal) record(listener math.Vec3) {
	n := len(t.nodes)
	portals := make([]*Portal, n)
	nodes := make([]PathNode, n)
	copy(nodes, t.nodes)
	for i := range nodes {
		portals[i] = t.g.portals[nodes[i].Portal]
		nodes[i].Point = portals[i].Center()
	}
	at := func(i int) math.Vec3 {
		switch {
		case i < 0:
			return listener
		case i >= n:
			return t.emitter
		}
		return nodes[i].Point
	}
	// Pull the pass points towards the straight line, a few sweeps suffice.
	for it := 0; it < 4; it++ {
		for i := range nodes {
			nodes[i].Point = portals[i].PassPoint(at(i-1), at(i+1), PassMargin)
		}
	}

	p := PropagationPath{Nodes: nodes, Gain: 1}
	for i := -1; i < n; i++ {
		p.Length += at(i).Distance(at(i + 1))
	}
	for i := range nodes {
		p.Gain *= portals[i].Gain()
		diffraction.Accumulate(&p.Diffraction, diffraction.Normalize(geometry.DiffractionAngle(at(i-1), at(i), at(i+1))))
	}

	first := nodes[0].Portal
	if best, ok := t.best[first]; ok && best.Length <= p.Length {
		return
	}
	t.best[first] = p
}
