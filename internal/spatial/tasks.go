package spatial

import (
	"slices"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/imagesource"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/stochastic"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// passSweeps is the number of relaxation sweeps over the portal pass points
// of a stitched path.
const passSweeps = 8

// portalInset pulls the corner samples of a portal towards its centre.
const portalInset float32 = 0.1

// portalTask finds the planes a portal opening crosses.
type portalTask struct {
	id       geometry.PortalID
	portal   *rooms.Portal
	corners  [4]math.Vec3
	scene    *geometry.Scene
	shape    portalShape
	old      []geometry.PlaneRef
	reshaped bool

	planes []geometry.PlaneRef
}

// runPortal casts rays through the portal volume from the centre and the
// inset corners and collects every plane they cross.
func (e *Engine) runPortal(t *portalTask) {
	p := t.portal
	if len(t.scene.TrianglesInside(p.Volume(e.opts.PortalRayOffset))) == 0 {
		return
	}
	front := p.Params.Transform.Front.Normalize()
	depth := p.Params.Extent.Z + e.opts.PortalRayOffset
	c := p.Center()
	samples := [5]math.Vec3{c}
	for i, k := range t.corners {
		samples[i+1] = k.Lerp(c, portalInset)
	}

	seen := make(map[geometry.PlaneRef]struct{})
	for _, s := range samples {
		orig := s.Sub(front.Scale(depth))
		var tmin float32
		for {
			hit, ok := t.scene.Raycast(orig, front, tmin, 2*depth)
			if !ok {
				break
			}
			if _, dup := seen[hit.Plane]; !dup {
				seen[hit.Plane] = struct{}{}
				t.planes = append(t.planes, hit.Plane)
			}
			tmin = hit.T + t.scene.Tol.RayOffset
		}
	}
	sortPlaneRefs(t.planes)
}

func (e *Engine) processPortal(t *portalTask) {
	for _, ref := range t.planes {
		if pl, _, ok := t.scene.Plane(ref); ok {
			pl.AddPortalHole(t.id, t.corners)
		}
	}
	if t.reshaped || !slices.Equal(t.old, t.planes) {
		e.cutDirty[t.scene] = true
	}
	e.cuts[t.id] = &portalCut{scene: t.scene, shape: t.shape, planes: t.planes}
}

// p2pTask searches the diffraction segments between two portals of a room.
type p2pTask struct {
	room     *rooms.Room
	scene    *geometry.Scene
	a, b     geometry.PortalID
	from, to math.Vec3

	segs []diffraction.Segment
}

func (e *Engine) runP2P(t *p2pTask) {
	s := diffraction.NewSearcher(e.opts.Search)
	t.segs, _ = s.Search(t.scene, t.from, t.to)
}

func (e *Engine) processP2P(t *p2pTask) {
	t.room.SetPortalPaths(t.a, t.b, t.segs)
}

// portalEnd is a portal of the room a game object is in.
type portalEnd struct {
	id     geometry.PortalID
	center math.Vec3
}

func (e *Engine) portalEnds(room geometry.RoomID) []portalEnd {
	r, ok := e.graph.Room(room)
	if !ok {
		return nil
	}
	var ends []portalEnd
	for _, id := range r.Portals() {
		if p, ok := e.graph.Portal(id); ok && p.Params.Enabled {
			ends = append(ends, portalEnd{id: id, center: p.Center()})
		}
	}
	return ends
}

// refreshSegments recomputes cached segments between pos and the portals of
// its room when they are stale. toPortal orders the search from pos to the
// portal; otherwise the segments run from the portal to pos.
func (e *Engine) refreshSegments(c *portalSegments, s *diffraction.Searcher, scene *geometry.Scene,
	pos math.Vec3, room geometry.RoomID, ends []portalEnd, sync uint64, toPortal bool) bool {
	if !c.stale(pos, room, scene, sync, e.opts.MovementThreshold) {
		return false
	}
	segs := make(map[geometry.PortalID][]diffraction.Segment, len(ends))
	for _, end := range ends {
		if toPortal {
			segs[end.id], _ = s.Search(scene, pos, end.center)
		} else {
			segs[end.id], _ = s.Search(scene, end.center, pos)
		}
	}
	*c = portalSegments{
		segs:    segs,
		at:      pos,
		room:    room,
		scene:   scene,
		version: scene.Version(),
		sync:    sync,
		valid:   true,
	}
	return true
}

// listenerTask casts the listener's rays and searches its portal segments.
type listenerTask struct {
	l    *listener
	ends []portalEnd
	sync uint64

	cast     bool
	searched bool
}

func (e *Engine) runListener(t *listenerTask) {
	l := t.l
	t.cast = l.caster.Refresh(l.scene, l.pos)
	t.searched = e.refreshSegments(&l.portals, l.searcher, l.scene, l.pos, l.room, t.ends, t.sync, true)
}

// castTask casts the rays of a portal into one of its rooms.
type castTask struct {
	caster *stochastic.Engine
	scene  *geometry.Scene
	origin math.Vec3

	cast bool
}

func runCast(t *castTask) {
	t.cast = t.caster.Refresh(t.scene, t.origin)
}

// emitterTask searches the segments from the portals of the emitter's room
// to the emitter.
type emitterTask struct {
	em   *emitter
	ends []portalEnd
	sync uint64

	searched bool
}

func (e *Engine) runEmitter(t *emitterTask) {
	em := t.em
	t.searched = e.refreshSegments(&em.portals, em.searcher, em.scene, em.transform.Position, em.room, t.ends, t.sync, false)
}

// pairTask computes every path of one emitter-listener pair.
type pairTask struct {
	l    *listener
	em   *emitter
	pair *pair

	diffraction []diffraction.Path
	propagation []rooms.PropagationPath
	virtual     []imagesource.VirtualSource
}

func (e *Engine) runPair(t *pairTask) {
	l, em, p := t.l, t.em, t.pair
	lpos := l.pos
	epos := em.transform.Position

	if l.room == em.room {
		segs, blocked := p.searcher.Search(l.scene, lpos, epos)
		t.diffraction = diffraction.BuildPaths(segs, blocked, lpos, em.transform)
		for i := range t.diffraction {
			for j := range t.diffraction[i].Nodes {
				t.diffraction[i].Nodes[j].Room = l.room
			}
		}
	} else {
		t.propagation = e.graph.Propagate(l.room, lpos, em.room, epos, e.opts.MaxTraversal)
		for i := range t.propagation {
			if path, ok := e.stitch(l, em, &t.propagation[i]); ok {
				t.diffraction = append(t.diffraction, path)
			}
		}
		if len(t.diffraction) == 0 {
			ph := diffraction.Placeholder(lpos, em.transform)
			if len(t.propagation) > 0 {
				ph.Gain = t.propagation[0].Gain
			} else {
				ph.Gain = e.transmission(l.room) * e.transmission(em.room)
			}
			t.diffraction = []diffraction.Path{ph}
		}
	}

	var found []stochastic.ReflectionPath
	if l.scene == em.scene {
		found = l.caster.Update(l.scene, lpos, epos, &p.reflections)
	} else {
		p.reflections.Reset()
	}
	t.virtual = imagesource.Package(lpos, dedupe(found, e.throughPortal(t)))
}

func processPair(t *pairTask) {
	p := t.pair
	p.diffraction = t.diffraction
	p.propagation = t.propagation
	p.virtual = t.virtual
}

// transmission returns the share of energy passing the walls of a room.
func (e *Engine) transmission(room geometry.RoomID) float32 {
	if r, ok := e.graph.Room(room); ok {
		return 1 - r.Params.TransmissionLoss
	}
	return 1
}

// stitch joins the cached segments along a propagation path into one
// diffraction path: listener to first portal, portal to portal inside each
// room crossed, last portal to emitter. A portal with depth gets a pass point
// on each face of the opening. The pass points are relaxed towards the
// shortest route through the openings and a face the route crosses without
// bending is dropped.
func (e *Engine) stitch(l *listener, em *emitter, prop *rooms.PropagationPath) (diffraction.Path, bool) {
	n := len(prop.Nodes)
	if n == 0 {
		return diffraction.Path{}, false
	}
	var pass []passPoint

	first, ok := l.portals.segs[prop.Nodes[0].Portal]
	if !ok || len(first) == 0 {
		return diffraction.Path{}, false
	}
	nodes := appendSegment(nil, &first[0], l.room)
	gain := prop.Gain
	for i, pn := range prop.Nodes {
		pt, ok := e.graph.Portal(pn.Portal)
		if !ok {
			return diffraction.Path{}, false
		}
		gain *= 1 - pt.Obstruction
		for _, off := range pt.Faces(pn.Room) {
			pass = append(pass, passPoint{portal: pt, offset: off, node: len(nodes)})
			nodes = append(nodes, diffraction.Node{Point: pt.Center(), Portal: pn.Portal, Room: pn.Room})
		}
		if i+1 == n {
			break
		}
		r, ok := e.graph.Room(pn.Room)
		if !ok {
			return diffraction.Path{}, false
		}
		segs, ok := r.PortalPaths(pn.Portal, prop.Nodes[i+1].Portal)
		if !ok || len(segs) == 0 {
			return diffraction.Path{}, false
		}
		nodes = appendSegment(nodes, &segs[0], pn.Room)
	}
	last, ok := em.portals.segs[prop.Nodes[n-1].Portal]
	if !ok || len(last) == 0 {
		return diffraction.Path{}, false
	}
	nodes = appendSegment(nodes, &last[0], em.room)

	lpos, epos := l.pos, em.transform.Position
	point := func(i int) math.Vec3 {
		switch {
		case i < 0:
			return lpos
		case i >= len(nodes):
			return epos
		}
		return nodes[i].Point
	}
	for it := 0; it < passSweeps; it++ {
		for _, ps := range pass {
			i := ps.node
			nodes[i].Point = ps.portal.PassPointAt(point(i-1), point(i+1), rooms.PassMargin, ps.offset)
		}
	}
	nodes = dropStraightFaces(nodes, pass, point)
	if len(nodes) > diffraction.MaxLength {
		return diffraction.Path{}, false
	}

	path := diffraction.Path{Nodes: nodes, Gain: gain}
	for i := -1; i < len(nodes); i++ {
		path.Length += point(i).Distance(point(i + 1))
	}
	for i := range nodes {
		nodes[i].Angle = geometry.DiffractionAngle(point(i-1), point(i), point(i+1))
		diffraction.Accumulate(&path.Diffraction, diffraction.Normalize(nodes[i].Angle))
	}
	path.SetVirtualEmitter(lpos, em.transform)
	return path, true
}

// passPoint is a node of a stitched path placed on a face of a portal.
type passPoint struct {
	portal *rooms.Portal
	offset float32
	node   int
}

// straightAngle is the turning angle below which a face pass point is not
// a bend.
const straightAngle float32 = 1e-3

// dropStraightFaces removes one of the two face nodes of a portal when the
// path runs straight through it. Every portal keeps at least one node.
func dropStraightFaces(nodes []diffraction.Node, pass []passPoint, point func(int) math.Vec3) []diffraction.Node {
	drop := make(map[int]bool)
	for j := 0; j+1 < len(pass); j++ {
		a, b := pass[j], pass[j+1]
		if a.portal != b.portal || b.node != a.node+1 {
			continue
		}
		switch {
		case geometry.DiffractionAngle(point(a.node-1), point(a.node), point(a.node+1)) < straightAngle:
			drop[a.node] = true
		case geometry.DiffractionAngle(point(b.node-1), point(b.node), point(b.node+1)) < straightAngle:
			drop[b.node] = true
		}
		j++
	}
	if len(drop) == 0 {
		return nodes
	}
	out := nodes[:0]
	for i, nd := range nodes {
		if !drop[i] {
			out = append(out, nd)
		}
	}
	return out
}

func appendSegment(nodes []diffraction.Node, s *diffraction.Segment, room geometry.RoomID) []diffraction.Node {
	for _, n := range s.Nodes() {
		n.Room = room
		nodes = append(nodes, n)
	}
	return nodes
}

// throughPortal validates the rays a portal cast into the emitter's room and
// extends them back to the listener along the shortest propagation path.
func (e *Engine) throughPortal(t *pairTask) []stochastic.ReflectionPath {
	p := t.pair
	if len(t.propagation) == 0 {
		p.through.Reset()
		return nil
	}
	prop := &t.propagation[0]
	last := prop.Nodes[len(prop.Nodes)-1]
	side := portalSide{portal: last.Portal, room: t.em.room}
	c, ok := e.casters[side]
	if !ok {
		p.through.Reset()
		return nil
	}
	if p.side != side {
		p.through.Reset()
		p.side = side
	}

	lpos, epos := t.l.pos, t.em.transform.Position
	found := c.Update(t.em.scene, c.Origin(), epos, &p.through)
	if len(found) == 0 {
		return nil
	}
	prefix := prop.Length - last.Point.Distance(epos) + last.Point.Distance(c.Origin())
	dir := prop.Nodes[0].Point.Sub(lpos).Normalize()
	out := make([]stochastic.ReflectionPath, 0, len(found))
	for i := range found {
		rp := found[i].Clone()
		rp.Length += prefix
		rp.ImageSource = lpos.Add(dir.Scale(rp.Length))
		out = append(out, rp)
	}
	return out
}

// dedupe joins path lists keeping the first path of every ID.
func dedupe(lists ...[]stochastic.ReflectionPath) []stochastic.ReflectionPath {
	var out []stochastic.ReflectionPath
	seen := make(map[uint64]struct{})
	for _, paths := range lists {
		for _, p := range paths {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
