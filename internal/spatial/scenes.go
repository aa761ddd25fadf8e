package spatial

import (
	"sort"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// sceneFor returns the scene of a room. Unknown rooms share the default scene
// with the outdoors.
func (e *Engine) sceneFor(room geometry.RoomID) *geometry.Scene {
	if sc, ok := e.roomScene[room]; ok {
		return sc
	}
	return e.defaultScene
}

func (e *Engine) newScene() *geometry.Scene {
	e.nextScene++
	sc := geometry.NewScene(e.nextScene, e.opts.Tolerances, e.opts.SceneCapacity)
	e.scenes[sc.ID] = sc
	e.log.Debug("scene created", zap.Uint64("scene", sc.ID))
	return sc
}

// syncScenes maps every group of rooms connected by portals to one scene and
// moves geometry sets whose room changed scene. The group holding the
// outdoors keeps the default scene; other groups keep a scene one of their
// rooms already used when possible.
func (e *Engine) syncScenes() {
	if e.graphSync == e.graph.Sync() {
		return
	}
	e.graphSync = e.graph.Sync()

	next := make(map[geometry.RoomID]*geometry.Scene, len(e.roomScene))
	used := make(map[*geometry.Scene]bool)
	for _, comp := range e.graph.Components() {
		var sc *geometry.Scene
		if comp[0] == rooms.Outdoors {
			sc = e.defaultScene
		} else {
			for _, r := range comp {
				if old, ok := e.roomScene[r]; ok && old != e.defaultScene && !used[old] {
					sc = old
					break
				}
			}
			if sc == nil {
				sc = e.newScene()
			}
		}
		used[sc] = true
		for _, r := range comp {
			next[r] = sc
		}
	}

	for r, sc := range e.roomScene {
		sc.Release()
		if next[r] != sc {
			if room, ok := e.graph.Room(r); ok {
				room.MarkPortalPathsDirty()
			}
		}
	}
	for _, sc := range next {
		sc.Retain()
	}
	e.roomScene = next

	for _, id := range sortedIDs(e.sets) {
		g := e.sets[id]
		to := e.sceneFor(g.Room)
		from := g.Scene()
		if from == to {
			continue
		}
		for _, pl := range g.Planes {
			for len(pl.Holes) > 0 {
				pl.RemovePortalHoles(pl.Holes[0].Portal)
			}
		}
		if from != nil {
			g.Unindex()
			from.Release()
		}
		if err := g.Index(to); err != nil {
			e.log.Error("geometry dropped while moving scenes",
				zap.Uint64("geometry", uint64(id)), zap.Uint64("scene", to.ID), zap.Error(err))
			e.dropSet(g)
			continue
		}
		to.Retain()
		e.log.Debug("geometry moved", zap.Uint64("geometry", uint64(id)), zap.Uint64("scene", to.ID))
	}
}

// pruneScenes drops scenes nothing refers to any more.
func (e *Engine) pruneScenes() {
	for id, sc := range e.scenes {
		if sc == e.defaultScene || sc.Refs() > 0 {
			continue
		}
		delete(e.scenes, id)
		e.log.Debug("scene released", zap.Uint64("scene", id))
	}
}

// portalShape is the part of a portal that decides the holes it cuts.
type portalShape struct {
	transform math.Transform
	extent    math.Vec3
	enabled   bool
	front     geometry.RoomID
	back      geometry.RoomID
}

func shapeOf(p *rooms.Portal) portalShape {
	return portalShape{
		transform: p.Params.Transform,
		extent:    p.Params.Extent,
		enabled:   p.Params.Enabled,
		front:     p.Params.FrontRoom,
		back:      p.Params.BackRoom,
	}
}

// removeHoles takes the holes of portal id out of the planes of c and
// reports whether any existed.
func removeHoles(id geometry.PortalID, c *portalCut) bool {
	changed := false
	for _, ref := range c.planes {
		if pl, _, ok := c.scene.Plane(ref); ok && pl.RemovePortalHoles(id) {
			changed = true
		}
	}
	return changed
}

// uncut drops the holes of a removed portal.
func (e *Engine) uncut(id geometry.PortalID) {
	c, ok := e.cuts[id]
	if !ok {
		return
	}
	delete(e.cuts, id)
	if removeHoles(id, c) {
		c.scene.MarkDirty()
	}
}

// touchCut records the version of a scene before the portal phase changes it.
func (e *Engine) touchCut(sc *geometry.Scene) {
	if _, ok := e.cutPre[sc]; !ok {
		e.cutPre[sc] = sc.Version()
	}
}

// queuePortalTasks finds the portals whose holes are out of date, takes their
// old holes out and queues a raycast for each enabled one.
func (e *Engine) queuePortalTasks() {
	for _, id := range e.graph.PortalIDs() {
		p, _ := e.graph.Portal(id)
		sc := e.sceneFor(p.Params.FrontRoom)
		shape := shapeOf(p)
		c, had := e.cuts[id]
		if had && c.scene == sc && c.shape == shape && c.version == sc.Version() {
			continue
		}
		e.touchCut(sc)

		var old []geometry.PlaneRef
		if had {
			if removeHoles(id, c) && c.scene != sc {
				e.touchCut(c.scene)
				e.cutDirty[c.scene] = true
			}
			if c.scene == sc {
				old = c.planes
			}
		}
		reshaped := !had || c.shape != shape || c.scene != sc
		if !p.Params.Enabled {
			if len(old) > 0 || reshaped {
				e.cutDirty[sc] = true
			}
			e.cuts[id] = &portalCut{scene: sc, shape: shape}
			continue
		}
		e.portalQ.Add(portalTask{
			id:       id,
			portal:   p,
			corners:  p.Corners(),
			scene:    sc,
			shape:    shape,
			old:      old,
			reshaped: reshaped,
		})
	}
}

// finishPortalCuts marks the scenes whose holes changed dirty once and
// stamps the cuts made against them with the new version.
func (e *Engine) finishPortalCuts() {
	for sc := range e.cutDirty {
		sc.MarkDirty()
	}
	for _, c := range e.cuts {
		if pre, ok := e.cutPre[c.scene]; ok && (c.version == 0 || c.version == pre) {
			c.version = c.scene.Version()
		}
	}
	clear(e.cutPre)
	clear(e.cutDirty)
}

func sortPlaneRefs(refs []geometry.PlaneRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Set != refs[j].Set {
			return refs[i].Set.Less(refs[j].Set)
		}
		return refs[i].Index < refs[j].Index
	})
}
