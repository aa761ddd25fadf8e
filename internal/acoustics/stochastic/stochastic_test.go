package stochastic

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

func newScene(t *testing.T, sets ...geometry.Params) (*geometry.Scene, []*geometry.GeometrySet) {
	t.Helper()
	s := geometry.NewScene(1, geometry.DefaultTolerances(), 0)
	var gs []*geometry.GeometrySet
	for i, p := range sets {
		g, err := geometry.NewGeometrySet(geometry.SetID(i+1), p, s.Tol)
		require.NoError(t, err)
		require.NoError(t, g.Index(s))
		gs = append(gs, g)
	}
	return s, gs
}

// floor is the plane y=0 between -10 and maxX on x.
func floor(maxX float32) geometry.Params {
	p := geometry.Quad([4]math.Vec3{{X: -10, Y: 0, Z: -10}, {X: maxX, Y: 0, Z: -10}, {X: maxX, Y: 0, Z: 10}, {X: -10, Y: 0, Z: 10}}, 0)
	p.Surfaces = []geometry.Surface{{TextureID: 7, Name: "concrete"}}
	return p
}

func floorRef(g *geometry.GeometrySet) geometry.PlaneRef {
	return geometry.PlaneRef{Set: g.Handle(), Index: 0}
}

var (
	wallListener = math.V3(-2, 3, 0)
	wallEmitter  = math.V3(2, 1, 0)
	wallBounce   = math.V3(1, 0, 0)
)

func TestUniformSphere(t *testing.T) {
	gen := NewUniformSphere(42)
	dirs := gen.Generate(nil, 4096)
	require.Len(t, dirs, 4096)

	var mean math.Vec3
	for _, d := range dirs {
		assert.InDelta(t, 1, d.Length(), 1e-5)
		mean = mean.Add(d)
	}
	mean = mean.Scale(1.0 / 4096)
	assert.Less(t, mean.Length(), float32(0.05), "directions cover the sphere evenly")

	again := gen.Generate(nil, 4096)
	assert.Equal(t, dirs, again, "same seed, same directions")
	assert.NotEqual(t, dirs[:8], NewUniformSphere(43).Generate(nil, 8))
}

func TestPathID(t *testing.T) {
	_, gs := newScene(t, floor(10), geometry.Box(math.V3(3, 1, -1), math.V3(4, 2, 1), geometry.NoSurface))
	a := ReflectorAt(floorRef(gs[0]), math.V3(0, 0, 0))
	b := ReflectorAt(geometry.PlaneRef{Set: gs[1].Handle(), Index: 2}, math.V3(1, 1, 1))

	assert.Equal(t, PathID([]Source{a, b}), PathID([]Source{a, b}))
	moved := a
	moved.Point = math.V3(5, 0, 5)
	assert.Equal(t, PathID([]Source{a, b}), PathID([]Source{moved, b}), "hit points do not change identity")
	assert.NotEqual(t, PathID([]Source{a, b}), PathID([]Source{b, a}))
	assert.NotEqual(t, PathID([]Source{a}), PathID([]Source{a, b}))
}

func TestSingleWall_ImageSource(t *testing.T) {
	s, _ := newScene(t, floor(10))
	cfg := DefaultConfig()
	cfg.Rays = 1
	eng := New(cfg, FixedDirections{wallBounce.Sub(wallListener)})
	eng.Cast(s, wallListener)
	require.Len(t, eng.Rays(), 1)
	assert.Equal(t, 1, eng.Rays()[0].Reflections())

	var st EmitterState
	paths := eng.Update(s, wallListener, wallEmitter, &st)
	require.Len(t, paths, 1)
	p := paths[0]

	mirror := math.PlaneFromNormal(math.V3(0, 1, 0), math.Vec3{})
	assert.Equal(t, 1, p.Order)
	assert.True(t, p.Points[0].ApproxEqual(wallBounce, 1e-4), "bounce at %v", p.Points[0])
	assert.True(t, p.ImageSource.ApproxEqual(mirror.Mirror(wallEmitter), 1e-4), "image at %v", p.ImageSource)
	assert.True(t, mirror.Mirror(p.ImageSource).ApproxEqual(wallEmitter, 1e-4))
	assert.InDelta(t, 4*stdmath.Sqrt2, p.Length, 1e-4)
	assert.Zero(t, p.Total)
	assert.Equal(t, uint32(7), p.TextureIDs[0])
	assert.Equal(t, "concrete", p.Surfaces[0])
	assert.Equal(t, PathID(p.Sources), p.ID)
}

func TestValidate_Failures(t *testing.T) {
	t.Run("off plane", func(t *testing.T) {
		s, gs := newScene(t, floor(0))
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}, wallListener, wallEmitter)
		assert.Equal(t, FailOffPlane, f)
	})

	t.Run("portal opening", func(t *testing.T) {
		s, gs := newScene(t, floor(10))
		pl, _, ok := s.Plane(floorRef(gs[0]))
		require.True(t, ok)
		pl.AddPortalHole(3, [4]math.Vec3{{X: 0.5, Y: 0, Z: -0.5}, {X: 1.5, Y: 0, Z: -0.5}, {X: 1.5, Y: 0, Z: 0.5}, {X: 0.5, Y: 0, Z: 0.5}})
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}, wallListener, wallEmitter)
		assert.Equal(t, FailPortal, f)
	})

	t.Run("blocked second leg", func(t *testing.T) {
		s, gs := newScene(t, floor(10), geometry.Box(math.V3(1.4, 0.4, -0.1), math.V3(1.6, 0.6, 0.1), geometry.NoSurface))
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}, wallListener, wallEmitter)
		assert.Equal(t, FailOccluded, f)
	})

	t.Run("blocked first leg", func(t *testing.T) {
		s, gs := newScene(t, floor(10), geometry.Box(math.V3(-0.6, 1.4, -0.1), math.V3(-0.4, 1.6, 0.1), geometry.NoSurface))
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}, wallListener, wallEmitter)
		assert.Equal(t, FailListenerOccluded, f)
	})

	t.Run("removed geometry", func(t *testing.T) {
		s, gs := newScene(t, floor(10))
		src := []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}
		gs[0].Unindex()
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, src, wallListener, wallEmitter)
		assert.Equal(t, FailMissing, f)
	})

	t.Run("emitter behind the reflector", func(t *testing.T) {
		s, gs := newScene(t, floor(10))
		eng := New(DefaultConfig(), nil)
		_, f := eng.Validate(s, []Source{ReflectorAt(floorRef(gs[0]), wallBounce)}, wallListener, math.V3(2, -1, 0))
		assert.Equal(t, FailOffPlane, f)
	})
}

func roomScene(t *testing.T) *geometry.Scene {
	s, _ := newScene(t, geometry.Box(math.V3(-5, 0, -5), math.V3(5, 4, 5), geometry.NoSurface))
	return s
}

func TestUpdate_RevalidationStable(t *testing.T) {
	s := roomScene(t)
	listener, emitter := math.V3(-2, 1.5, 0.5), math.V3(2, 1.2, -1)

	cfg := DefaultConfig()
	cfg.Rays = 512
	eng := New(cfg, nil)
	require.True(t, eng.Refresh(s, listener))
	assert.Greater(t, eng.Receptor(), float32(0))

	var st EmitterState
	first := eng.Update(s, listener, emitter, &st)
	require.NotEmpty(t, first)
	ids := st.IDs()

	for _, p := range first {
		assert.GreaterOrEqual(t, p.Order, 1)
		assert.GreaterOrEqual(t, p.Length, listener.Distance(emitter))
		if p.Order != 1 {
			continue
		}
		pl, _, ok := s.Plane(p.Sources[0].Plane)
		require.True(t, ok)
		assert.True(t, pl.Geom.Mirror(p.ImageSource).ApproxEqual(emitter, 1e-3), "first order image mirrors back to the emitter")
	}

	for i := 0; i < 3; i++ {
		assert.False(t, eng.Refresh(s, listener), "nothing moved")
		eng.Update(s, listener, emitter, &st)
		assert.Equal(t, ids, st.IDs())
	}
}

func TestRefresh(t *testing.T) {
	s := roomScene(t)
	cfg := DefaultConfig()
	cfg.Rays = 16
	eng := New(cfg, nil)
	p := math.V3(0, 2, 0)

	assert.True(t, eng.Refresh(s, p))
	assert.False(t, eng.Refresh(s, p))
	assert.False(t, eng.Refresh(s, p.Add(math.V3(0.1, 0, 0))), "below the movement threshold")
	assert.True(t, eng.Refresh(s, p.Add(math.V3(1, 0, 0))))

	s.MarkDirty()
	assert.True(t, eng.Refresh(s, eng.Origin()), "scene changed")
	eng.Invalidate()
	assert.True(t, eng.Refresh(s, eng.Origin()))
}

func TestUpdate_RepairsBlockedFirstLeg(t *testing.T) {
	// A ledge standing on the floor between the listener and the bounce point.
	ledge := geometry.Box(math.V3(-1, 0, -5), math.V3(0, 1.8, 5), geometry.NoSurface)
	ledge.EnableDiffraction = true
	s, _ := newScene(t, floor(10), ledge)

	start := math.V3(-2, 5, 0)
	cfg := DefaultConfig()
	cfg.Rays = 1
	eng := New(cfg, FixedDirections{math.V3(10, -15, 0)})
	eng.Cast(s, start)

	var st EmitterState
	paths := eng.Update(s, start, wallEmitter, &st)
	require.Len(t, paths, 1)
	require.Len(t, paths[0].Sources, 1)

	// Lowering the listener puts the ledge in the way of the first leg.
	paths = eng.Update(s, wallListener, wallEmitter, &st)
	require.Len(t, paths, 1)
	p := paths[0]
	assert.Equal(t, 1, st.Repaired)
	require.Len(t, p.Sources, 2)
	assert.Equal(t, Diffractor, p.Sources[0].Kind)
	assert.Equal(t, Reflector, p.Sources[1].Kind)
	assert.True(t, p.Points[0].ApproxEqual(math.V3(0, 1.8, 0), 1e-3), "bends over the ledge's far edge, got %v", p.Points[0])
	assert.Greater(t, p.Total, float32(0))
	assert.Equal(t, 1, p.Order)

	// The repaired path is kept as is on the next update.
	id := p.ID
	paths = eng.Update(s, wallListener, wallEmitter, &st)
	require.Len(t, paths, 1)
	assert.Equal(t, id, paths[0].ID)
	assert.Zero(t, st.Repaired)
}

func TestCast_ExploresEdgesAfterReflection(t *testing.T) {
	// A pillar in front of a back wall: rays bouncing off the wall hit the
	// pillar and explore its edges.
	back := geometry.Quad([4]math.Vec3{{X: 10, Y: -10, Z: -10}, {X: 10, Y: -10, Z: 10}, {X: 10, Y: 10, Z: 10}, {X: 10, Y: 10, Z: -10}}, geometry.NoSurface)
	pillar := geometry.Box(math.V3(-1, -5, -1), math.V3(1, 5, 1), geometry.NoSurface)
	pillar.EnableDiffraction = true
	s, _ := newScene(t, back, pillar)

	cfg := DefaultConfig()
	cfg.Rays = 1
	eng := New(cfg, FixedDirections{math.V3(1, 0, 0)})
	eng.Cast(s, math.V3(5, 0, 0))

	var reflections, bends int
	for _, r := range eng.Rays() {
		reflections += r.Reflections()
		if r.Diffractions() > 0 {
			bends++
			assert.Greater(t, r.Reflections(), 0, "bends are recorded with a reflection")
		}
	}
	assert.Greater(t, reflections, 0)
	assert.Greater(t, bends, 0)

	hashes := map[uint64]bool{}
	for _, r := range eng.Rays() {
		if r.Diffractions() == 0 {
			continue
		}
		assert.False(t, hashes[r.Hash], "edge sequences are explored once")
		hashes[r.Hash] = true
	}
}

func TestCast_BendsThenReflects(t *testing.T) {
	// A long pillar hides both the emitter and its mirror image in the wall
	// from the listener. Sound bends over the pillar corner and reaches the
	// emitter off the wall.
	pillar := geometry.Box(math.V3(-1, -50, 1), math.V3(3, 50, 3), geometry.NoSurface)
	pillar.EnableDiffraction = true
	wall := geometry.Quad([4]math.Vec3{{X: 6, Y: -50, Z: -50}, {X: 6, Y: -50, Z: 50}, {X: 6, Y: 50, Z: 50}, {X: 6, Y: 50, Z: -50}}, geometry.NoSurface)
	s, sets := newScene(t, pillar, wall)

	listener := math.V3(0, 0, 0)
	emitter := math.V3(0, 0, 6)

	cfg := DefaultConfig()
	cfg.Rays = 1
	eng := New(cfg, FixedDirections{math.V3(2, 0, 1)})
	eng.Cast(s, listener)

	_, fail := eng.Validate(s, []Source{ReflectorAt(floorRef(sets[1]), math.V3(6, 0, 3))}, listener, emitter)
	assert.Equal(t, FailListenerOccluded, fail, "the mirror path runs through the pillar")

	var found *ReflectionPath
	for _, r := range eng.Rays() {
		if len(r.Sources) != 2 || r.Sources[0].Kind != Diffractor || r.Sources[1].Kind != Reflector {
			continue
		}
		p, fail := eng.Validate(s, r.Sources, listener, emitter)
		if fail == Valid {
			found = &p
			break
		}
	}
	require.NotNil(t, found, "a path bending over the pillar then reflecting")
	assert.Equal(t, 1, found.Order)
	assert.True(t, found.Points[0].ApproxEqual(math.V3(3, 0, 1), 1e-3), "apex at %v", found.Points[0])
	assert.True(t, found.Points[1].ApproxEqual(math.V3(6, 0, 8.0/3), 1e-3), "bounce at %v", found.Points[1])
	assert.Greater(t, found.Diffraction[0], float32(0))
	assert.Zero(t, found.Diffraction[1])
}
