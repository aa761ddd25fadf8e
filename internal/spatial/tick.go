package spatial

import (
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/stochastic"
	"github.com/Faultbox/midgard-acoustics/internal/scheduler"
)

// execute runs the parallel phase of q under the shared geometry lock and its
// write-back under the exclusive lock, then empties q.
func execute[T any](e *Engine, q *scheduler.Queue[T]) int {
	n := q.Len()
	if n == 0 {
		return 0
	}
	e.mu.RLock()
	q.Run(e.sched, e.opts.Grain)
	e.mu.RUnlock()

	e.mu.Lock()
	q.ProcessResults()
	q.Reset()
	e.mu.Unlock()
	return n
}

// Tick applies the queued mutations and recomputes every path:
//
//  1. commands, transforms, objects left in removed rooms
//  2. scene assignment and portal holes
//  3. dirty scenes and the portal-to-portal caches of their rooms
//  4. listener rays and segments, portal rays, emitter segments
//  5. every emitter-listener pair
//
// Tick must not be called concurrently with itself.
func (e *Engine) Tick() Stats {
	e.mu.Lock()
	e.tick++
	st := Stats{Tick: e.tick}
	st.Commands, st.Rejected = e.applyCommands()
	e.readInputs()
	e.collectGarbage()
	st.Invalidated = e.invalidateMoved()
	e.syncScenes()
	e.queuePortalTasks()
	e.mu.Unlock()

	st.PortalTasks = execute(e, e.portalQ)

	e.mu.Lock()
	e.finishPortalCuts()
	st.Rebuilt = e.beginRebuilds()
	e.queueP2P()
	e.mu.Unlock()

	st.P2PTasks = execute(e, e.p2pQ)

	e.mu.Lock()
	for _, r := range e.p2pRooms {
		r.FinishPortalPaths(e.sceneFor(r.ID).Version())
	}
	e.p2pRooms = e.p2pRooms[:0]
	e.queueListeners()
	e.queueCasts()
	e.queueEmitters()
	e.mu.Unlock()

	st.ListenerTasks = execute(e, e.listenerQ)
	st.CastTasks = execute(e, e.castQ)
	st.EmitterTasks = execute(e, e.emitterQ)

	e.mu.Lock()
	e.queuePairs()
	e.mu.Unlock()

	st.PairTasks = execute(e, e.pairQ)

	e.mu.Lock()
	for _, sc := range e.scenes {
		sc.FinishRebuild()
	}
	e.pruneScenes()
	st.Scenes = len(e.scenes)
	e.stats = st
	e.mu.Unlock()

	e.log.Debug("tick",
		zap.Uint64("tick", st.Tick),
		zap.Int("commands", st.Commands),
		zap.Int("rejected", st.Rejected),
		zap.Int("rebuilt", st.Rebuilt),
		zap.Int("portal", st.PortalTasks),
		zap.Int("p2p", st.P2PTasks),
		zap.Int("listener", st.ListenerTasks),
		zap.Int("cast", st.CastTasks),
		zap.Int("emitter", st.EmitterTasks),
		zap.Int("pair", st.PairTasks))
	return st
}

// collectGarbage moves objects out of rooms that no longer exist.
func (e *Engine) collectGarbage() {
	for _, id := range sortedIDs(e.objects) {
		o := e.objects[id]
		if _, ok := e.graph.Room(o.room); ok {
			continue
		}
		e.log.Debug("game object moved outdoors",
			zap.Uint64("object", uint64(id)), zap.Uint64("room", uint64(o.room)))
		o.room = rooms.Outdoors
	}
}

// invalidateMoved drops the portal segments of emitters that moved past the
// threshold or changed room, and the portal reflections of their pairs when
// the room changed.
func (e *Engine) invalidateMoved() int {
	n := 0
	for _, id := range sortedIDs(e.emitters) {
		em := e.emitters[id]
		o := e.objects[id]
		if !em.portals.valid {
			continue
		}
		pos := o.transform.Position
		if em.portals.room != o.room {
			for _, p := range em.pairs {
				p.through.Reset()
			}
		} else if em.portals.at.Distance(pos) <= e.opts.MovementThreshold {
			continue
		}
		em.portals.valid = false
		n++
	}
	return n
}

// beginRebuilds starts the rebuild of every dirty scene and marks the
// portal-to-portal caches built against an older scene version dirty.
func (e *Engine) beginRebuilds() int {
	n := 0
	for _, id := range sortedIDs(e.scenes) {
		sc := e.scenes[id]
		if !sc.BeginRebuild() {
			continue
		}
		n++
		e.log.Debug("scene rebuild",
			zap.Uint64("scene", id),
			zap.Uint64("version", sc.Version()),
			zap.Int("triangles", sc.TriangleCount()),
			zap.Int("edges", sc.EdgeCount()))
	}
	for _, rid := range e.graph.RoomIDs() {
		r, _ := e.graph.Room(rid)
		if r.PortalPathsState() == geometry.Clean && r.PortalPathsSync() != e.sceneFor(rid).Version() {
			r.MarkPortalPathsDirty()
		}
	}
	return n
}

// queueP2P clears the dirty portal-to-portal caches and queues a search per
// pair of enabled portals of each such room.
func (e *Engine) queueP2P() {
	for _, rid := range e.graph.RoomIDs() {
		r, _ := e.graph.Room(rid)
		if !r.BeginPortalPaths() {
			continue
		}
		e.p2pRooms = append(e.p2pRooms, r)
		sc := e.sceneFor(rid)
		ends := e.portalEnds(rid)
		for i := range ends {
			for j := i + 1; j < len(ends); j++ {
				e.p2pQ.Add(p2pTask{
					room:  r,
					scene: sc,
					a:     ends[i].id,
					b:     ends[j].id,
					from:  ends[i].center,
					to:    ends[j].center,
				})
			}
		}
	}
}

func (e *Engine) queueListeners() {
	sync := e.graph.Sync()
	for _, id := range sortedIDs(e.listeners) {
		l := e.listeners[id]
		o := e.objects[id]
		l.pos = o.transform.Position
		l.room = o.room
		l.scene = e.sceneFor(o.room)
		e.listenerQ.Add(listenerTask{l: l, ends: e.portalEnds(o.room), sync: sync})
	}
}

// queueCasts keeps one caster per enabled portal side holding an emitter
// and queues its refresh.
func (e *Engine) queueCasts() {
	want := make(map[portalSide]bool)
	for _, id := range sortedIDs(e.emitters) {
		room := e.objects[id].room
		for _, end := range e.portalEnds(room) {
			want[portalSide{portal: end.id, room: room}] = true
		}
	}
	for side := range e.casters {
		if !want[side] {
			delete(e.casters, side)
		}
	}
	for _, pid := range e.graph.PortalIDs() {
		p, _ := e.graph.Portal(pid)
		for _, room := range []geometry.RoomID{p.Params.FrontRoom, p.Params.BackRoom} {
			side := portalSide{portal: pid, room: room}
			if !want[side] {
				continue
			}
			c, ok := e.casters[side]
			if !ok {
				c = stochastic.New(e.opts.Stochastic, nil)
				e.casters[side] = c
			}
			e.castQ.Add(castTask{
				caster: c,
				scene:  e.sceneFor(room),
				origin: p.RayTracePosition(room, e.opts.PortalRayOffset),
			})
		}
	}
}

func (e *Engine) queueEmitters() {
	sync := e.graph.Sync()
	for _, id := range sortedIDs(e.emitters) {
		em := e.emitters[id]
		o := e.objects[id]
		em.transform = o.transform
		em.room = o.room
		em.scene = e.sceneFor(o.room)
		e.emitterQ.Add(emitterTask{em: em, ends: e.portalEnds(o.room), sync: sync})
	}
}

func (e *Engine) queuePairs() {
	lids := sortedIDs(e.listeners)
	for _, eid := range sortedIDs(e.emitters) {
		em := e.emitters[eid]
		for _, lid := range lids {
			p, ok := em.pairs[lid]
			if !ok {
				p = &pair{searcher: diffraction.NewSearcher(e.opts.Search)}
				em.pairs[lid] = p
			}
			e.pairQ.Add(pairTask{l: e.listeners[lid], em: em, pair: p})
		}
	}
}
