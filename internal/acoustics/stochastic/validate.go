package stochastic

import (
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Failure tells why a candidate did not validate.
type Failure uint8

const (
	Valid Failure = iota
	// FailMissing: a plane or edge of the path is gone.
	FailMissing
	// FailOffPlane: a reflection point falls outside its plane's triangles.
	FailOffPlane
	// FailPortal: a reflection point falls inside a portal opening.
	FailPortal
	// FailShadow: an edge does not bend the path.
	FailShadow
	// FailDiffraction: the accumulated diffraction exceeds the maximum.
	FailDiffraction
	// FailOccluded: geometry blocks a leg.
	FailOccluded
	// FailListenerOccluded: geometry blocks the leg leaving the listener.
	FailListenerOccluded
	// FailLength: the path is longer than the configured maximum.
	FailLength
	// FailNoReflection: the path has no reflection left.
	FailNoReflection
)

func (f Failure) String() string {
	switch f {
	case Valid:
		return "valid"
	case FailMissing:
		return "missing"
	case FailOffPlane:
		return "off plane"
	case FailPortal:
		return "portal"
	case FailShadow:
		return "shadow"
	case FailDiffraction:
		return "diffraction"
	case FailOccluded:
		return "occluded"
	case FailListenerOccluded:
		return "listener occluded"
	case FailLength:
		return "length"
	case FailNoReflection:
		return "no reflection"
	default:
		return "unknown"
	}
}

const (
	relaxIterations  = 8
	maxSubstitutions = 4
	maxRepairs       = 4
	apexSlack        = 1e-3
)

type resolved struct {
	plane *geometry.Plane
	set   *geometry.GeometrySet
	edge  *geometry.Edge
	tri   int32
}

type validation struct {
	path    ReflectionPath
	fail    Failure
	at      int       // index of the failing source
	blocker math.Vec3 // first obstacle on an occluded leg
}

// Validate checks the candidate src between listener and emitter with the
// image-source method. A reflection point missing its plane is retried with
// one of the plane's edges in place of the reflector.
func (e *Engine) Validate(scene *geometry.Scene, src []Source, listener, emitter math.Vec3) (ReflectionPath, Failure) {
	v := e.check(scene, src, listener, emitter)
	return v.path, v.fail
}

func (e *Engine) check(scene *geometry.Scene, src []Source, listener, emitter math.Vec3) validation {
	v := e.validate(scene, src, listener, emitter)
	if v.fail == FailOffPlane {
		if p, ok := e.substitute(scene, src, v.at, listener, emitter); ok {
			return validation{path: p}
		}
	}
	return v
}

func (e *Engine) validate(scene *geometry.Scene, src []Source, listener, emitter math.Vec3) validation {
	n := len(src)
	if n == 0 || n > diffraction.MaxLength {
		return validation{fail: FailMissing}
	}
	if countKind(src, Reflector) == 0 {
		return validation{fail: FailNoReflection}
	}
	res := make([]resolved, n)
	points := make([]math.Vec3, n)
	edges := 0
	for i := range src {
		switch src[i].Kind {
		case Reflector:
			pl, g, ok := scene.Plane(src[i].Plane)
			if !ok {
				return validation{fail: FailMissing, at: i}
			}
			res[i] = resolved{plane: pl, set: g, tri: -1}
		case Diffractor:
			ed, ok := scene.Edge(src[i].Edge)
			if !ok || ed.Degenerate() {
				return validation{fail: FailMissing, at: i}
			}
			res[i] = resolved{edge: ed, tri: -1}
			points[i] = ed.Mid()
			edges++
		default:
			return validation{fail: FailMissing, at: i}
		}
	}
	anchor := func(i int) math.Vec3 {
		switch {
		case i < 0:
			return listener
		case i >= n:
			return emitter
		}
		return points[i]
	}

	// Edge apexes minimise the unfolded path; more than one edge needs a few sweeps.
	if edges > 0 {
		iters := 1
		if edges > 1 {
			iters = relaxIterations
		}
		for it := 0; it < iters; it++ {
			for i := range res {
				if res[i].edge == nil {
					continue
				}
				prev, next := unfold(res, i, anchor)
				points[i] = res[i].edge.ClampedPointBetween(prev, next)
			}
		}
	}

	// Reflection points, one run of consecutive reflectors at a time.
	for i := 0; i < n; {
		if res[i].edge != nil {
			i++
			continue
		}
		j := i
		for j < n && res[j].edge == nil {
			j++
		}
		if at, ok := reflectRun(res, points, i, j, anchor(i-1), anchor(j)); !ok {
			return validation{fail: FailOffPlane, at: at}
		}
		i = j
	}

	p := ReflectionPath{
		Sources:     append([]Source(nil), src...),
		Points:      points,
		Diffraction: make([]float32, n),
		TextureIDs:  make([]uint32, n),
		Surfaces:    make([]string, n),
	}
	for i := range res {
		r := &res[i]
		if r.edge == nil {
			if _, in := r.plane.InHole(points[i]); in {
				return validation{fail: FailPortal, at: i}
			}
			r.tri = containing(r.set, r.plane, points[i])
			if r.tri < 0 {
				return validation{fail: FailOffPlane, at: i}
			}
			if s, ok := r.set.SurfaceOf(r.tri); ok {
				p.TextureIDs[i] = s.TextureID
				p.Surfaces[i] = s.Name
			}
			p.Order++
			continue
		}
		uprev, unext := unfold(res, i, anchor)
		t, ok := r.edge.DetourParam(uprev, unext)
		if !ok || t < -apexSlack*r.edge.Length || t > r.edge.Length*(1+apexSlack) {
			return validation{fail: FailShadow, at: i}
		}
		prev, next := anchor(i-1), anchor(i+1)
		if !r.edge.InShadowZone(next, prev) {
			return validation{fail: FailShadow, at: i}
		}
		p.Diffraction[i] = diffraction.Normalize(geometry.DiffractionAngle(prev, points[i], next))
		if !diffraction.Accumulate(&p.Total, p.Diffraction[i]) {
			return validation{fail: FailDiffraction, at: i}
		}
	}

	nudge := scene.Tol.Nudge
	lift := func(i int) math.Vec3 {
		if i >= 0 && i < n && res[i].edge != nil {
			return points[i].Add(res[i].edge.Out.Scale(nudge))
		}
		return anchor(i)
	}
	for i := -1; i < n; i++ {
		p.Length += anchor(i).Distance(anchor(i + 1))
		if hit, blocked := scene.OcclusionHit(lift(i), lift(i+1)); blocked {
			if i < 0 {
				return validation{fail: FailListenerOccluded, at: 0, blocker: hit.Point}
			}
			return validation{fail: FailOccluded, at: i}
		}
	}
	if p.Length > e.cfg.MaxPathLength {
		return validation{fail: FailLength}
	}

	p.ID = PathID(p.Sources)
	if dir := points[0].Sub(listener); !dir.IsZero() {
		p.ImageSource = listener.Add(dir.Normalize().Scale(p.Length))
	} else {
		p.ImageSource = listener
	}
	return validation{path: p}
}

// unfold returns the neighbours of the edge at i mirrored through the
// reflectors separating them from it, so the path through those reflectors
// becomes straight.
func unfold(res []resolved, i int, anchor func(int) math.Vec3) (prev, next math.Vec3) {
	j := i - 1
	for j >= 0 && res[j].edge == nil {
		j--
	}
	prev = anchor(j)
	for k := j + 1; k < i; k++ {
		prev = res[k].plane.Geom.Mirror(prev)
	}

	m := i + 1
	for m < len(res) && res[m].edge == nil {
		m++
	}
	next = anchor(m)
	for k := m - 1; k > i; k-- {
		next = res[k].plane.Geom.Mirror(next)
	}
	return prev, next
}

// reflectRun places the reflection points of reflectors i..j-1 between a and
// b. It mirrors b through the planes from the far end, then walks from a
// towards each image.
func reflectRun(res []resolved, points []math.Vec3, i, j int, a, b math.Vec3) (int, bool) {
	images := make([]math.Vec3, j-i)
	img := b
	for k := j - 1; k >= i; k-- {
		img = res[k].plane.Geom.Mirror(img)
		images[k-i] = img
	}
	cur := a
	for k := i; k < j; k++ {
		pt, _, ok := res[k].plane.Geom.IntersectSegment(cur, images[k-i])
		if !ok {
			return k, false
		}
		points[k] = pt
		cur = pt
	}
	return 0, true
}

// containing returns the plane triangle containing p, first in array order.
func containing(g *geometry.GeometrySet, pl *geometry.Plane, p math.Vec3) int32 {
	for _, ti := range pl.Tris {
		if g.IST[ti].Contains(p) {
			return ti
		}
	}
	return -1
}

// substitute retries src with the reflector at index at replaced by one of
// its plane's edges, nearest to the cast hit first.
func (e *Engine) substitute(scene *geometry.Scene, src []Source, at int, listener, emitter math.Vec3) (ReflectionPath, bool) {
	if at < 0 || at >= len(src) || src[at].Kind != Reflector {
		return ReflectionPath{}, false
	}
	if countKind(src, Reflector) < 2 || countKind(src, Diffractor) >= e.cfg.MaxDiffractionOrder {
		return ReflectionPath{}, false
	}
	pl, _, ok := scene.Plane(src[at].Plane)
	if !ok {
		return ReflectionPath{}, false
	}
	type cand struct {
		h handle.Handle
		d float32
	}
	hit := src[at].Point
	var cands []cand
	for _, h := range pl.Edges {
		ed, ok := scene.Edge(h)
		if !ok || ed.Portal != 0 || ed.Degenerate() {
			continue
		}
		cands = append(cands, cand{h, ed.DistanceTo(hit)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].d != cands[j].d {
			return cands[i].d < cands[j].d
		}
		return cands[i].h.Less(cands[j].h)
	})
	alt := append([]Source(nil), src...)
	for k, c := range cands {
		if k == maxSubstitutions {
			break
		}
		alt[at] = DiffractorAt(c.h, hit)
		if v := e.validate(scene, alt, listener, emitter); v.fail == Valid {
			return v.path, true
		}
	}
	return ReflectionPath{}, false
}

// repair bends a path whose first leg became blocked around one of the edges
// nearest to the obstacle.
func (e *Engine) repair(scene *geometry.Scene, src []Source, blocker, listener, emitter math.Vec3) (ReflectionPath, bool) {
	if len(src) >= diffraction.MaxLength || countKind(src, Diffractor) >= e.cfg.MaxDiffractionOrder {
		return ReflectionPath{}, false
	}
	for k, h := range scene.EdgesNear(blocker, e.cfg.RepairRadius) {
		if k == maxRepairs {
			break
		}
		if src[0].Kind == Diffractor && src[0].Edge == h {
			continue
		}
		alt := make([]Source, 0, len(src)+1)
		alt = append(alt, DiffractorAt(h, blocker))
		alt = append(alt, src...)
		if v := e.validate(scene, alt, listener, emitter); v.fail == Valid {
			return v.path, true
		}
	}
	return ReflectionPath{}, false
}
