package stochastic

import (
	stdmath "math"

	"github.com/tphakala/simd/f32"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Config tunes an Engine.
type Config struct {
	Rays                int     // primary rays per cast
	MaxReflectionOrder  int     // reflections per path
	MaxDiffractionOrder int     // edges per path
	MaxPathLength       float32 // longest path considered
	ReceptorSampleRatio float32 // share of candidates sampled for the receptor size
	MovementThreshold   float32 // origin movement that triggers a recast
	RepairRadius        float32 // search radius for edges around a new obstacle
	Seed                uint64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Rays:                256,
		MaxReflectionOrder:  2,
		MaxDiffractionOrder: 1,
		MaxPathLength:       100,
		ReceptorSampleRatio: 0.2,
		MovementThreshold:   0.25,
		RepairRadius:        2,
		Seed:                1,
	}
}

// Engine casts rays from one origin, a listener or a portal, and validates
// the candidates against emitters. Cast and Refresh mutate the engine; Update
// and Validate only read it and may run concurrently for different emitters.
type Engine struct {
	cfg Config
	gen RayGenerator

	scene    *geometry.Scene
	version  uint64
	origin   math.Vec3
	cast     bool
	rays     []Ray
	seen     map[uint64]struct{}
	dirs     []math.Vec3
	samples  []float32
	receptor float32
}

// New creates an engine. A nil generator samples the unit sphere with cfg.Seed.
func New(cfg Config, gen RayGenerator) *Engine {
	if cfg.MaxReflectionOrder < 1 {
		cfg.MaxReflectionOrder = 1
	}
	if cfg.MaxReflectionOrder > diffraction.MaxLength {
		cfg.MaxReflectionOrder = diffraction.MaxLength
	}
	if cfg.MaxDiffractionOrder < 0 {
		cfg.MaxDiffractionOrder = 0
	}
	if cfg.MaxReflectionOrder+cfg.MaxDiffractionOrder > diffraction.MaxLength {
		cfg.MaxDiffractionOrder = diffraction.MaxLength - cfg.MaxReflectionOrder
	}
	if cfg.MaxPathLength <= 0 {
		cfg.MaxPathLength = DefaultConfig().MaxPathLength
	}
	if cfg.ReceptorSampleRatio <= 0 || cfg.ReceptorSampleRatio > 1 {
		cfg.ReceptorSampleRatio = DefaultConfig().ReceptorSampleRatio
	}
	if gen == nil {
		gen = NewUniformSphere(cfg.Seed)
	}
	return &Engine{
		cfg:  cfg,
		gen:  gen,
		seen: make(map[uint64]struct{}),
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Origin returns the position of the last cast.
func (e *Engine) Origin() math.Vec3 { return e.origin }

// Rays returns the candidates of the last cast.
func (e *Engine) Rays() []Ray { return e.rays }

// Receptor returns the receptor size estimated at the last cast.
func (e *Engine) Receptor() float32 { return e.receptor }

// Invalidate forces the next Refresh to cast.
func (e *Engine) Invalidate() { e.cast = false }

// Refresh casts again when the origin moved past the movement threshold, the
// scene changed or nothing was cast yet. It reports whether it cast.
func (e *Engine) Refresh(scene *geometry.Scene, origin math.Vec3) bool {
	if e.cast && e.scene == scene && e.version == scene.Version() &&
		e.origin.Distance(origin) <= e.cfg.MovementThreshold {
		return false
	}
	e.Cast(scene, origin)
	return true
}

// Cast traces the primary rays from origin and records every candidate path.
func (e *Engine) Cast(scene *geometry.Scene, origin math.Vec3) {
	e.scene = scene
	e.version = scene.Version()
	e.origin = origin
	e.cast = true
	e.rays = e.rays[:0]
	clear(e.seen)

	e.dirs = e.gen.Generate(e.dirs[:0], e.cfg.Rays)
	for i, d := range e.dirs {
		e.trace(scene, i, origin, d, nil, 0)
	}
	e.receptor = e.estimateReceptor()
}

func (e *Engine) trace(scene *geometry.Scene, group int, from, dir math.Vec3, chain []Source, travelled float32) {
	if len(chain) >= diffraction.MaxLength {
		return
	}
	hit, ok := scene.Raycast(from, dir, scene.Tol.RayOffset, e.cfg.MaxPathLength-travelled)
	if !ok {
		return
	}
	if countKind(chain, Diffractor) < e.cfg.MaxDiffractionOrder {
		e.exploreEdges(scene, group, from, chain, travelled, hit)
	}

	chain = append(chain[:len(chain):len(chain)], ReflectorAt(hit.Plane, hit.Point))
	out := dir.Reflect(hit.Normal)
	travelled += hit.T
	id := PathID(chain)
	if countKind(chain, Diffractor) > 0 {
		// Fan rays leaving one apex reach the same planes.
		if _, dup := e.seen[id]; dup {
			return
		}
		e.seen[id] = struct{}{}
	}
	e.rays = append(e.rays, Ray{
		Sources: chain,
		Group:   group,
		Hash:    id,
		Tail:    math.Ray{Origin: hit.Point, Direction: out},
		Length:  travelled,
	})
	if countKind(chain, Reflector) < e.cfg.MaxReflectionOrder {
		e.trace(scene, group, hit.Point, out, chain, travelled)
	}
}

// exploreEdges follows paths bending around the edges of the plane that
// blocked a ray leaving from.
func (e *Engine) exploreEdges(scene *geometry.Scene, group int, from math.Vec3, chain []Source, travelled float32, hit geometry.Hit) {
	pl, _, ok := scene.Plane(hit.Plane)
	if !ok {
		return
	}
	for _, h := range pl.Edges {
		edge, ok := scene.Edge(h)
		if !ok || edge.Portal != 0 || edge.Degenerate() {
			continue
		}
		if !edge.Zone(from).Shadow() {
			continue
		}
		e.diffract(scene, group, from, chain, edge, travelled)
	}
}

func (e *Engine) diffract(scene *geometry.Scene, group int, from math.Vec3, chain []Source, edge *geometry.Edge, travelled float32) {
	if len(chain) >= diffraction.MaxLength {
		return
	}
	p, _ := math.ClosestPointOnSegment(from, edge.Start, edge.End())
	next := append(chain[:len(chain):len(chain)], DiffractorAt(edge.Handle, p))
	id := PathID(next)
	if _, dup := e.seen[id]; dup {
		return
	}
	e.seen[id] = struct{}{}
	travelled += from.Distance(p)
	if travelled > e.cfg.MaxPathLength {
		return
	}
	// Chains without a reflection are found by the edge graph search.
	if countKind(next, Reflector) > 0 {
		e.rays = append(e.rays, Ray{Sources: next, Group: group, Hash: id, Tail: math.Ray{Origin: p}, Length: travelled})
	}

	if countKind(next, Reflector) < e.cfg.MaxReflectionOrder {
		fan := edge.ShadowFan(nil, from, p, fanRays)
		for _, d := range fan {
			e.trace(scene, group, p, d, next, travelled)
		}
	}

	if countKind(next, Diffractor) >= e.cfg.MaxDiffractionOrder {
		return
	}
	links := scene.Links(edge, edge.Zone(from).Opposite())
	for i := range links {
		other, ok := scene.Edge(links[i].Edge)
		if !ok || other.Degenerate() || onPath(next, other) {
			continue
		}
		if !scene.VerifyLink(edge, &links[i]) {
			continue
		}
		e.diffract(scene, group, p, next, other, travelled)
	}
}

// fanRays is the number of rays cast from a diffraction apex into the shadow
// zone behind its edge.
const fanRays = 4

func onPath(src []Source, edge *geometry.Edge) bool {
	for i := range src {
		if src[i].Kind == Diffractor && src[i].Edge == edge.Handle {
			return true
		}
	}
	return false
}

// estimateReceptor returns the receptor radius per path segment: the mean
// segment length of a sample of the candidates times the angular spacing of
// the primary rays.
func (e *Engine) estimateReceptor() float32 {
	if len(e.rays) == 0 || e.cfg.Rays <= 0 {
		return 0
	}
	step := int(1/e.cfg.ReceptorSampleRatio + 0.5)
	if step < 1 {
		step = 1
	}
	e.samples = e.samples[:0]
	for i := 0; i < len(e.rays); i += step {
		r := &e.rays[i]
		e.samples = append(e.samples, r.Length/float32(len(r.Sources)))
	}
	mean := f32.Sum(e.samples) / float32(len(e.samples))
	spacing := float32(stdmath.Sqrt(4 * stdmath.Pi / float64(e.cfg.Rays)))
	return mean * spacing
}

// admits is the cheap pre-test run before validating r against an emitter.
// A reflection candidate's outgoing ray must pass through the receptor box
// around the emitter, grown with the number of segments travelled.
func (e *Engine) admits(r *Ray, emitter math.Vec3) bool {
	if r.Tail.Direction.IsZero() {
		return r.Length+r.Tail.Origin.Distance(emitter) <= e.cfg.MaxPathLength
	}
	if e.receptor <= 0 {
		return true
	}
	radius := e.receptor * float32(len(r.Sources)+1)
	t, hit := r.Tail.IntersectAABB(math.AABBAround(emitter, radius))
	return hit && r.Length+t <= e.cfg.MaxPathLength+radius
}
