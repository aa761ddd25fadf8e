package spatial

import (
	"slices"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/imagesource"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/monitor"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
)

// The slices returned by the path queries are replaced, never modified, by
// later ticks; callers must not modify their elements.

func (e *Engine) pairOf(emitter, listener GameObjectID) (*pair, bool) {
	em, ok := e.emitters[emitter]
	if !ok {
		return nil, false
	}
	p, ok := em.pairs[listener]
	return p, ok
}

// DiffractionPaths returns the diffraction paths from emitter to listener
// computed by the last tick. ok is false for an unknown pair.
func (e *Engine) DiffractionPaths(emitter, listener GameObjectID) ([]diffraction.Path, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairOf(emitter, listener)
	if !ok {
		return nil, false
	}
	return slices.Clone(p.diffraction), true
}

// ReflectionPaths returns the virtual sources of the reflection paths from
// emitter to listener.
func (e *Engine) ReflectionPaths(emitter, listener GameObjectID) ([]imagesource.VirtualSource, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairOf(emitter, listener)
	if !ok {
		return nil, false
	}
	return slices.Clone(p.virtual), true
}

// PropagationPaths returns the room-to-room routes from the listener's room
// to the emitter's room. It is empty when both share a room.
func (e *Engine) PropagationPaths(emitter, listener GameObjectID) ([]rooms.PropagationPath, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairOf(emitter, listener)
	if !ok {
		return nil, false
	}
	return slices.Clone(p.propagation), true
}

// Stats returns the counters of the last tick.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// SceneInfo describes one scene.
type SceneInfo struct {
	ID        uint64
	Version   uint64
	State     geometry.State
	Sets      int
	Triangles int
	Edges     int
}

// Scenes describes every scene, the default scene first.
func (e *Engine) Scenes() []SceneInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SceneInfo, 0, len(e.scenes))
	for _, id := range sortedIDs(e.scenes) {
		out = append(out, sceneInfo(e.scenes[id]))
	}
	return out
}

// SceneOf describes the scene holding a room's geometry.
func (e *Engine) SceneOf(room geometry.RoomID) SceneInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sceneInfo(e.sceneFor(room))
}

func sceneInfo(sc *geometry.Scene) SceneInfo {
	return SceneInfo{
		ID:        sc.ID,
		Version:   sc.Version(),
		State:     sc.State(),
		Sets:      sc.SetCount(),
		Triangles: sc.TriangleCount(),
		Edges:     sc.EdgeCount(),
	}
}

// Snapshot captures the rooms, portals, edges and paths of the last tick for
// the monitor.
func (e *Engine) Snapshot() *monitor.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &monitor.Snapshot{Tick: e.tick}
	for _, rid := range e.graph.RoomIDs() {
		r, _ := e.graph.Room(rid)
		mr := monitor.Room{ID: uint64(rid), Name: r.Params.Name}
		for _, pid := range r.Portals() {
			mr.Portals = append(mr.Portals, uint64(pid))
		}
		s.Rooms = append(s.Rooms, mr)
	}
	for _, pid := range e.graph.PortalIDs() {
		p, _ := e.graph.Portal(pid)
		s.Portals = append(s.Portals, monitor.Portal{
			ID:        uint64(pid),
			FrontRoom: uint64(p.Params.FrontRoom),
			BackRoom:  uint64(p.Params.BackRoom),
			Enabled:   p.Params.Enabled,
			Gain:      p.Gain(),
			Corners:   p.Corners(),
		})
	}
	for _, id := range sortedIDs(e.scenes) {
		sc := e.scenes[id]
		sc.EachEdge(func(ed *geometry.Edge) bool {
			z0, z1 := ed.LinkCounts()
			s.Edges = append(s.Edges, monitor.Edge{
				Start:    ed.Start,
				End:      ed.End(),
				Visible0: uint32(z0),
				Visible1: uint32(z1),
			})
			return true
		})
		// portal openings
		sc.EachSet(func(g *geometry.GeometrySet) bool {
			for _, pl := range g.Planes {
				for _, h := range pl.Holes {
					for _, ed := range h.Edges {
						s.Edges = append(s.Edges, monitor.Edge{Start: ed.Start, End: ed.End(), Portal: uint64(h.Portal)})
					}
				}
			}
			return true
		})
	}

	for _, eid := range sortedIDs(e.emitters) {
		em := e.emitters[eid]
		for _, lid := range sortedIDs(em.pairs) {
			p := em.pairs[lid]
			for i := range p.diffraction {
				d := &p.diffraction[i]
				md := monitor.DiffractionPath{
					Emitter:     uint64(eid),
					Listener:    uint64(lid),
					Placeholder: d.Placeholder,
					Diffraction: d.Diffraction,
					Length:      d.Length,
				}
				for _, n := range d.Nodes {
					md.Nodes = append(md.Nodes, monitor.Node{
						Point:  n.Point,
						Angle:  n.Angle,
						Room:   uint64(n.Room),
						Portal: uint64(n.Portal),
					})
				}
				s.Diffraction = append(s.Diffraction, md)
			}
			for i := range p.virtual {
				v := &p.virtual[i]
				mr := monitor.ReflectionPath{
					Emitter:     uint64(eid),
					Listener:    uint64(lid),
					ID:          v.ID,
					Order:       uint16(v.Order),
					Diffraction: v.Diffraction,
					Length:      v.Length,
					Image:       v.Position,
				}
				for _, b := range v.Bounces {
					mr.Bounces = append(mr.Bounces, monitor.Bounce{Point: b.Point, TextureID: b.TextureID})
				}
				s.Reflection = append(s.Reflection, mr)
			}
		}
	}
	return s
}
