package rooms

import (
	"fmt"
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Graph is the registry of rooms and portals. Rooms and portals refer to each
// other by ID only. Graph is not safe for concurrent mutation.
type Graph struct {
	rooms   map[geometry.RoomID]*Room
	portals map[geometry.PortalID]*Portal
	sync    uint64
}

// NewGraph returns a graph holding only the outdoors room.
func NewGraph() *Graph {
	g := &Graph{
		rooms:   make(map[geometry.RoomID]*Room),
		portals: make(map[geometry.PortalID]*Portal),
		sync:    1,
	}
	g.rooms[Outdoors] = newRoom(Outdoors, RoomParams{
		Front: math.V3(0, 0, 1),
		Up:    math.V3(0, 1, 0),
		Name:  "outdoors",
	})
	return g
}

// Sync changes whenever a room or portal changes. Caches built from the graph
// compare it to detect staleness.
func (g *Graph) Sync() uint64 { return g.sync }

func (g *Graph) touch() uint64 {
	g.sync++
	return g.sync
}

// SetRoom adds or updates a room.
func (g *Graph) SetRoom(id geometry.RoomID, p RoomParams) error {
	if id == Outdoors {
		return ErrOutdoors
	}
	if err := ValidateRoom(&p); err != nil {
		return fmt.Errorf("room %d: %w", id, err)
	}
	r, ok := g.rooms[id]
	if !ok {
		r = newRoom(id, p)
		g.rooms[id] = r
		for _, pid := range g.PortalIDs() {
			if _, touches := g.portals[pid].Other(id); touches {
				r.link(pid)
			}
		}
	}
	r.Params = p
	r.sync = g.touch()
	return nil
}

// RemoveRoom drops a room. Portals into it stay registered but lead nowhere
// until the room is set again.
func (g *Graph) RemoveRoom(id geometry.RoomID) bool {
	r, ok := g.rooms[id]
	if !ok || id == Outdoors {
		return false
	}
	for _, pid := range r.portals {
		if other, ok := g.portals[pid].Other(id); ok {
			if o, ok := g.rooms[other]; ok {
				o.MarkPortalPathsDirty()
			}
		}
	}
	delete(g.rooms, id)
	g.touch()
	return true
}

// SetPortal adds or updates a portal. Both rooms must exist.
func (g *Graph) SetPortal(id geometry.PortalID, p PortalParams) error {
	if err := ValidatePortal(&p); err != nil {
		return fmt.Errorf("portal %d: %w", id, err)
	}
	for _, rid := range []geometry.RoomID{p.FrontRoom, p.BackRoom} {
		if _, ok := g.rooms[rid]; !ok {
			return fmt.Errorf("portal %d: %w %d", id, ErrUnknownRoom, rid)
		}
	}
	pt, ok := g.portals[id]
	if ok {
		g.unlinkPortal(pt)
	} else {
		pt = &Portal{ID: id}
		g.portals[id] = pt
	}
	pt.Params = p
	pt.sync = g.touch()
	g.rooms[p.FrontRoom].link(id)
	g.rooms[p.BackRoom].link(id)
	return nil
}

func (g *Graph) unlinkPortal(p *Portal) {
	for _, rid := range []geometry.RoomID{p.Params.FrontRoom, p.Params.BackRoom} {
		if r, ok := g.rooms[rid]; ok {
			r.unlink(p.ID)
		}
	}
}

// RemovePortal drops a portal.
func (g *Graph) RemovePortal(id geometry.PortalID) bool {
	p, ok := g.portals[id]
	if !ok {
		return false
	}
	g.unlinkPortal(p)
	delete(g.portals, id)
	g.touch()
	return true
}

// SetPortalObstructionAndOcclusion sets the attenuation of a portal, both in [0, 1].
func (g *Graph) SetPortalObstructionAndOcclusion(id geometry.PortalID, obstruction, occlusion float32) error {
	p, ok := g.portals[id]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownPortal, id)
	}
	if obstruction < 0 || obstruction > 1 || occlusion < 0 || occlusion > 1 {
		return fmt.Errorf("portal %d: %w: obstruction %v occlusion %v", id, ErrBadGain, obstruction, occlusion)
	}
	p.Obstruction = obstruction
	p.Occlusion = occlusion
	p.sync = g.touch()
	return nil
}

// Room resolves a room ID.
func (g *Graph) Room(id geometry.RoomID) (*Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

// Portal resolves a portal ID.
func (g *Graph) Portal(id geometry.PortalID) (*Portal, bool) {
	p, ok := g.portals[id]
	return p, ok
}

// RoomIDs returns every room ID in ascending order, outdoors first.
func (g *Graph) RoomIDs() []geometry.RoomID {
	ids := make([]geometry.RoomID, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PortalIDs returns every portal ID in ascending order.
func (g *Graph) PortalIDs() []geometry.PortalID {
	ids := make([]geometry.PortalID, 0, len(g.portals))
	for id := range g.portals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Components partitions the rooms into groups connected by portals, enabled
// or not. Rooms within a group are sorted and groups are ordered by their
// first room, so the outdoors group comes first.
func (g *Graph) Components() [][]geometry.RoomID {
	ids := g.RoomIDs()
	index := make(map[geometry.RoomID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	parent := make([]int, len(ids))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for _, p := range g.portals {
		a, okA := index[p.Params.FrontRoom]
		b, okB := index[p.Params.BackRoom]
		if !okA || !okB {
			continue
		}
		if ra, rb := find(a), find(b); ra != rb {
			parent[rb] = ra
		}
	}
	var out [][]geometry.RoomID
	group := make(map[int]int)
	for i, id := range ids {
		root := find(i)
		k, ok := group[root]
		if !ok {
			k = len(out)
			group[root] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], id)
	}
	return out
}
