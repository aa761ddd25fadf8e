package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/scheduler"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

const (
	listenerID GameObjectID = 1
	emitterID  GameObjectID = 2
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Stochastic.Rays = 32
	return opts
}

func at(x, y, z float32) math.Transform {
	t := math.DefaultTransform()
	t.Position = math.V3(x, y, z)
	return t
}

func place(t *testing.T, e *Engine, id GameObjectID, listener bool, room geometry.RoomID, pos math.Transform) {
	t.Helper()
	if listener {
		require.NoError(t, e.RegisterListener(id))
	} else {
		require.NoError(t, e.RegisterEmitter(id))
	}
	require.NoError(t, e.SetGameObjectInRoom(id, room))
	require.NoError(t, e.SetTransform(id, pos))
}

func roomParams(name string) rooms.RoomParams {
	return rooms.RoomParams{Front: math.V3(0, 0, 1), Up: math.V3(0, 1, 0), Name: name}
}

// twoRooms builds a wall at x=0 with a doorway at z in [-0.5, 0.5], y in
// [0, 2], between room 1 (x < 0) and room 2 (x > 0).
func twoRooms(t *testing.T, e *Engine, enabled bool) {
	t.Helper()
	hall := roomParams("hall")
	hall.TransmissionLoss = 0.5
	kitchen := roomParams("kitchen")
	kitchen.TransmissionLoss = 0.2
	require.NoError(t, e.SetRoom(1, hall))
	require.NoError(t, e.SetRoom(2, kitchen))

	wall := geometry.Box(math.V3(-0.1, 0, -10), math.V3(0.1, 4, 10), geometry.NoSurface)
	wall.Room = 1
	require.NoError(t, e.SetGeometry(7, wall))

	require.NoError(t, e.SetPortal(10, rooms.PortalParams{
		Transform: math.Transform{Position: math.V3(0, 1, 0), Front: math.V3(1, 0, 0), Up: math.V3(0, 1, 0)},
		Extent:    math.V3(0.5, 1, 0.1),
		Enabled:   enabled,
		FrontRoom: 2,
		BackRoom:  1,
		Gain:      1,
	}))
	place(t, e, listenerID, true, 1, at(-5, 1, -5))
	place(t, e, emitterID, false, 2, at(2, 1, -5))
}

func TestEngine_SameRoomDirect(t *testing.T) {
	e := New(testOptions(), nil, nil)
	place(t, e, listenerID, true, rooms.Outdoors, at(0, 1, 0))
	place(t, e, emitterID, false, rooms.Outdoors, at(3, 1, 0))
	st := e.Tick()
	assert.Equal(t, 4, st.Commands)
	assert.Equal(t, 1, st.PairTasks)

	paths, ok := e.DiffractionPaths(emitterID, listenerID)
	require.True(t, ok)
	require.Len(t, paths, 1)
	assert.Empty(t, paths[0].Nodes)
	assert.Zero(t, paths[0].Diffraction)
	assert.InDelta(t, 3, paths[0].Length, 1e-5)
	assert.False(t, paths[0].Placeholder)

	props, ok := e.PropagationPaths(emitterID, listenerID)
	require.True(t, ok)
	assert.Empty(t, props)

	refl, ok := e.ReflectionPaths(emitterID, listenerID)
	require.True(t, ok)
	assert.Empty(t, refl, "no geometry, no reflections")

	_, ok = e.DiffractionPaths(listenerID, emitterID)
	assert.False(t, ok, "a listener is not an emitter")
}

func TestEngine_AroundBox(t *testing.T) {
	e := New(testOptions(), nil, nil)
	box := geometry.Box(math.V3(-1, -1, -1), math.V3(1, 1, 1), geometry.NoSurface)
	box.EnableDiffraction = true
	require.NoError(t, e.SetGeometry(1, box))
	place(t, e, listenerID, true, rooms.Outdoors, at(-5, 0, 0))
	place(t, e, emitterID, false, rooms.Outdoors, at(5, 0, 0))
	e.Tick()

	paths, ok := e.DiffractionPaths(emitterID, listenerID)
	require.True(t, ok)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.False(t, p.Placeholder)
		assert.Len(t, p.Nodes, 2)
		assert.Greater(t, p.Diffraction, float32(0))
		assert.Greater(t, p.Length, float32(10))
		for _, n := range p.Nodes {
			assert.Equal(t, rooms.Outdoors, n.Room)
		}
	}
}

func TestEngine_ThroughPortal(t *testing.T) {
	e := New(testOptions(), nil, nil)
	twoRooms(t, e, true)
	st := e.Tick()
	assert.Zero(t, st.Rejected)
	assert.Equal(t, 1, st.PortalTasks)

	props, ok := e.PropagationPaths(emitterID, listenerID)
	require.True(t, ok)
	require.Len(t, props, 1)
	require.Len(t, props[0].Nodes, 1)
	assert.Equal(t, geometry.PortalID(10), props[0].Nodes[0].Portal)
	assert.Equal(t, geometry.RoomID(2), props[0].Nodes[0].Room)

	paths, ok := e.DiffractionPaths(emitterID, listenerID)
	require.True(t, ok)
	require.Len(t, paths, 1)
	p := paths[0]
	assert.False(t, p.Placeholder)
	require.Len(t, p.Nodes, 2, "one bend on each face of the wall")
	for i, x := range []float32{-0.1, 0.1} {
		n := p.Nodes[i]
		assert.Equal(t, geometry.PortalID(10), n.Portal)
		assert.InDelta(t, x, n.Point.X, 1e-4)
		assert.InDelta(t, -0.49, n.Point.Z, 1e-3, "pass point clamped to the door frame")
		assert.Greater(t, n.Angle, float32(0))
	}
	assert.Greater(t, p.Diffraction, float32(0))
	a, b := p.Nodes[0].Point, p.Nodes[1].Point
	want := math.V3(-5, 1, -5).Distance(a) + a.Distance(b) + b.Distance(math.V3(2, 1, -5))
	assert.InDelta(t, want, p.Length, 1e-4)
	assert.InDelta(t, 1, p.Gain, 1e-6)
	assert.InDelta(t, p.Length, p.Emitter.Position.Distance(math.V3(-5, 1, -5)), 1e-3)

	cut := e.cuts[10]
	require.NotNil(t, cut)
	assert.Len(t, cut.planes, 2, "both faces of the wall are opened")
}

// thickDoorway builds a wall 0.8 thick at x=0 with a doorway at z in
// [-0.5, 0.5], y in [0, 2], between room 1 (x < 0) and room 2 (x > 0).
func thickDoorway(t *testing.T, e *Engine, listener, emitter math.Vec3) {
	t.Helper()
	require.NoError(t, e.SetRoom(1, roomParams("hall")))
	require.NoError(t, e.SetRoom(2, roomParams("kitchen")))

	wall := geometry.Box(math.V3(-0.4, 0, -10), math.V3(0.4, 4, 10), geometry.NoSurface)
	wall.Room = 1
	require.NoError(t, e.SetGeometry(7, wall))
	require.NoError(t, e.SetPortal(10, rooms.PortalParams{
		Transform: math.Transform{Position: math.V3(0, 1, 0), Front: math.V3(1, 0, 0), Up: math.V3(0, 1, 0)},
		Extent:    math.V3(0.5, 1, 0.4),
		Enabled:   true,
		FrontRoom: 2,
		BackRoom:  1,
		Gain:      1,
	}))
	place(t, e, listenerID, true, 1, at(listener.X, listener.Y, listener.Z))
	place(t, e, emitterID, false, 2, at(emitter.X, emitter.Y, emitter.Z))
}

func TestEngine_ThickDoorway(t *testing.T) {
	t.Run("oblique", func(t *testing.T) {
		lpos, epos := math.V3(-4, 1, -4), math.V3(4, 1, -4)
		e := New(testOptions(), nil, nil)
		thickDoorway(t, e, lpos, epos)
		e.Tick()

		paths, ok := e.DiffractionPaths(emitterID, listenerID)
		require.True(t, ok)
		require.Len(t, paths, 1)
		p := paths[0]
		require.False(t, p.Placeholder)
		require.Len(t, p.Nodes, 2, "the path bends at both jambs")
		assert.True(t, p.Nodes[0].Point.ApproxEqual(math.V3(-0.4, 1, -0.49), 1e-3), "entry at %v", p.Nodes[0].Point)
		assert.True(t, p.Nodes[1].Point.ApproxEqual(math.V3(0.4, 1, -0.49), 1e-3), "exit at %v", p.Nodes[1].Point)

		sc := e.sceneFor(1)
		legs := append(append([]math.Vec3{lpos}, p.Nodes[0].Point, p.Nodes[1].Point), epos)
		for i := 0; i+1 < len(legs); i++ {
			assert.False(t, sc.Occluded(legs[i], legs[i+1]), "leg %d runs through the wall", i)
		}
		want := lpos.Distance(legs[1]) + legs[1].Distance(legs[2]) + legs[2].Distance(epos)
		assert.InDelta(t, want, p.Length, 1e-4)
	})

	t.Run("straight through", func(t *testing.T) {
		e := New(testOptions(), nil, nil)
		thickDoorway(t, e, math.V3(-4, 1, 0), math.V3(4, 1, 0))
		e.Tick()

		paths, ok := e.DiffractionPaths(emitterID, listenerID)
		require.True(t, ok)
		require.Len(t, paths, 1)
		require.Len(t, paths[0].Nodes, 1, "a face crossed without bending is dropped")
		assert.Equal(t, geometry.PortalID(10), paths[0].Nodes[0].Portal)
		assert.InDelta(t, 8, paths[0].Length, 1e-4)
	})
}

func TestEngine_DisabledPortalFallsBackToTransmission(t *testing.T) {
	e := New(testOptions(), nil, nil)
	twoRooms(t, e, false)
	e.Tick()

	props, _ := e.PropagationPaths(emitterID, listenerID)
	assert.Empty(t, props)

	paths, ok := e.DiffractionPaths(emitterID, listenerID)
	require.True(t, ok)
	require.Len(t, paths, 1)
	assert.True(t, paths[0].Placeholder)
	assert.InDelta(t, 0.5*0.8, paths[0].Gain, 1e-6)
	assert.Empty(t, e.cuts[10].planes, "a closed portal cuts no holes")
}

func TestEngine_ObstructionScalesGain(t *testing.T) {
	e := New(testOptions(), nil, nil)
	twoRooms(t, e, true)
	require.NoError(t, e.SetPortalObstructionAndOcclusion(10, 0.5, 0.25))
	e.Tick()

	props, _ := e.PropagationPaths(emitterID, listenerID)
	require.Len(t, props, 1)
	assert.InDelta(t, 0.75, props[0].Gain, 1e-6)

	paths, _ := e.DiffractionPaths(emitterID, listenerID)
	require.Len(t, paths, 1)
	assert.InDelta(t, 0.75*0.5, paths[0].Gain, 1e-6)
}

func TestEngine_StableWithoutChanges(t *testing.T) {
	e := New(testOptions(), nil, nil)
	twoRooms(t, e, true)
	first := e.Tick()
	assert.Positive(t, first.Rebuilt)

	second := e.Tick()
	assert.Zero(t, second.Rebuilt)
	assert.Zero(t, second.PortalTasks)
	assert.Zero(t, second.P2PTasks)
	assert.Equal(t, 1, second.PairTasks)

	info := e.SceneOf(1)
	assert.Equal(t, geometry.Clean, info.State)
	assert.Equal(t, info, e.SceneOf(2), "connected rooms share a scene")
	assert.NotEqual(t, e.SceneOf(rooms.Outdoors).ID, info.ID)
}

func TestEngine_SetThenRemoveInOneTick(t *testing.T) {
	e := New(testOptions(), nil, nil)
	require.NoError(t, e.SetRoom(1, roomParams("cell")))
	e.Tick()
	r, ok := e.graph.Room(1)
	require.True(t, ok)
	require.Equal(t, geometry.Clean, r.PortalPathsState())
	before := r.PortalPathsSync()

	p := geometry.Box(math.V3(-1, 0, -1), math.V3(1, 2, 1), geometry.NoSurface)
	p.Room = 1
	p.EnableDiffraction = true
	require.NoError(t, e.SetGeometry(3, p))
	require.NoError(t, e.RemoveGeometry(3))
	assert.Equal(t, 2, e.Pending())

	st := e.Tick()
	assert.Equal(t, 2, st.Commands)
	assert.Zero(t, st.Rejected)
	assert.Zero(t, e.Pending())

	info := e.SceneOf(1)
	assert.Zero(t, info.Triangles)
	assert.Zero(t, info.Sets)
	assert.Zero(t, info.Edges, "the edge tree is emptied")
	assert.Zero(t, e.sceneFor(1).EdgeCount())

	assert.Equal(t, geometry.Clean, r.PortalPathsState())
	assert.Equal(t, info.Version, r.PortalPathsSync())
	assert.Greater(t, r.PortalPathsSync(), before, "the portal paths were rebuilt")
}

func TestEngine_RejectedMutationIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := New(testOptions(), nil, zap.New(core))
	require.NoError(t, e.SetRoom(1, roomParams("hall")))
	require.NoError(t, e.SetPortal(4, rooms.PortalParams{
		Transform: at(0, 1, 0),
		Extent:    math.V3(1, 1, 0),
		FrontRoom: 1,
		BackRoom:  9,
		Gain:      1,
	}))
	require.NoError(t, e.RemoveGeometry(42))

	st := e.Tick()
	assert.Equal(t, 1, st.Commands)
	assert.Equal(t, 2, st.Rejected)
	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "mutation rejected", entries[0].Message)
	assert.Equal(t, "SetPortal", entries[0].ContextMap()["op"])
	assert.Equal(t, "RemoveGeometry", entries[1].ContextMap()["op"])

	_, ok := e.graph.Room(1)
	assert.True(t, ok, "later commands still apply")
}

func TestEngine_SynchronousValidation(t *testing.T) {
	e := New(testOptions(), nil, nil)

	assert.ErrorIs(t, e.SetGeometry(1, geometry.Params{}), geometry.ErrEmptyGeometry)
	assert.ErrorIs(t, e.SetRoom(rooms.Outdoors, roomParams("x")), rooms.ErrOutdoors)
	assert.ErrorIs(t, e.RemoveRoom(rooms.Outdoors), rooms.ErrOutdoors)
	assert.ErrorIs(t, e.SetRoom(1, rooms.RoomParams{}), rooms.ErrBadOrientation)
	assert.ErrorIs(t, e.SetPortal(1, rooms.PortalParams{
		Transform: at(0, 0, 0), Extent: math.V3(1, 1, 0), FrontRoom: 1, BackRoom: 1,
	}), rooms.ErrSameRoom)
	assert.ErrorIs(t, e.SetPortalObstructionAndOcclusion(1, 1.5, 0), ErrBadAttenuation)

	bad := at(0, 0, 0)
	bad.Up = bad.Front
	assert.ErrorIs(t, e.SetTransform(1, bad), ErrBadTransform)

	assert.Zero(t, e.Pending(), "invalid mutations are never queued")
}

func TestEngine_RemovedRoomMovesObjectsOutdoors(t *testing.T) {
	e := New(testOptions(), nil, nil)
	require.NoError(t, e.SetRoom(1, roomParams("hall")))
	place(t, e, listenerID, true, 1, at(0, 1, 0))
	place(t, e, emitterID, false, rooms.Outdoors, at(4, 1, 0))
	e.Tick()

	paths, _ := e.DiffractionPaths(emitterID, listenerID)
	require.Len(t, paths, 1)
	assert.True(t, paths[0].Placeholder, "unconnected rooms")

	require.NoError(t, e.RemoveRoom(1))
	e.Tick()
	paths, _ = e.DiffractionPaths(emitterID, listenerID)
	require.Len(t, paths, 1)
	assert.False(t, paths[0].Placeholder)
	assert.Empty(t, paths[0].Nodes)
	assert.InDelta(t, 4, paths[0].Length, 1e-5)
}

func TestEngine_Unregister(t *testing.T) {
	e := New(testOptions(), nil, nil)
	place(t, e, listenerID, true, rooms.Outdoors, at(0, 0, 0))
	place(t, e, emitterID, false, rooms.Outdoors, at(1, 0, 0))
	e.Tick()
	_, ok := e.DiffractionPaths(emitterID, listenerID)
	require.True(t, ok)

	require.NoError(t, e.UnregisterGameObject(listenerID))
	st := e.Tick()
	assert.Zero(t, st.PairTasks)
	_, ok = e.DiffractionPaths(emitterID, listenerID)
	assert.False(t, ok)

	require.NoError(t, e.UnregisterGameObject(listenerID))
	assert.Equal(t, 1, e.Tick().Rejected)
}

func TestEngine_PoolMatchesSerial(t *testing.T) {
	run := func(s scheduler.Scheduler) *Engine {
		e := New(testOptions(), s, nil)
		twoRooms(t, e, true)
		place(t, e, 3, false, 1, at(-2, 1, 4))
		place(t, e, 4, true, 2, at(3, 1, 3))
		e.Tick()
		return e
	}
	serial := run(scheduler.Serial{})
	pool := run(scheduler.NewPool(4))

	for _, em := range []GameObjectID{emitterID, 3} {
		for _, l := range []GameObjectID{listenerID, 4} {
			a, okA := serial.DiffractionPaths(em, l)
			b, okB := pool.DiffractionPaths(em, l)
			require.True(t, okA)
			require.True(t, okB)
			assert.Equal(t, a, b, "diffraction %d->%d", em, l)

			ra, _ := serial.ReflectionPaths(em, l)
			rb, _ := pool.ReflectionPaths(em, l)
			assert.Equal(t, ra, rb, "reflections %d->%d", em, l)
		}
	}
}

func TestEngine_Snapshot(t *testing.T) {
	e := New(testOptions(), nil, nil)
	twoRooms(t, e, true)
	e.Tick()

	s := e.Snapshot()
	assert.Equal(t, uint64(1), s.Tick)
	require.Len(t, s.Rooms, 3)
	assert.Equal(t, "outdoors", s.Rooms[0].Name)
	assert.Equal(t, []uint64{10}, s.Rooms[1].Portals)
	require.Len(t, s.Portals, 1)
	assert.True(t, s.Portals[0].Enabled)
	require.Len(t, s.Diffraction, 1)
	assert.Equal(t, uint64(emitterID), s.Diffraction[0].Emitter)
	assert.Equal(t, uint64(10), s.Diffraction[0].Nodes[0].Portal)

	var opening int
	for _, ed := range s.Edges {
		if ed.Portal == 10 {
			opening++
		}
	}
	assert.Equal(t, 8, opening, "four opening edges on each face")
}
