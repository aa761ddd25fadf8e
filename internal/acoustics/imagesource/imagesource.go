// Package imagesource packages validated reflection paths as virtual sources
// for the panner and reverb stage.
package imagesource

import (
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/stochastic"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Bounce is one point of a reflection path.
type Bounce struct {
	Point       math.Vec3
	Diffraction float32 // zero at reflections
	TextureID   uint32  // zero at edges
	Surface     string
}

// VirtualSource is a reflection path seen from the listener: an equivalent
// direct source at the image position. ID is stable across frames as long
// as the path runs over the same reflectors and edges.
type VirtualSource struct {
	ID          uint64
	Position    math.Vec3
	Order       int // reflections
	Length      float32
	Diffraction float32
	Bounces     []Bounce
}

// Package converts paths to virtual sources ordered by reflection order, then
// length, then ID. Paths without points are skipped.
func Package(listener math.Vec3, paths []stochastic.ReflectionPath) []VirtualSource {
	out := make([]VirtualSource, 0, len(paths))
	for i := range paths {
		p := &paths[i]
		if len(p.Points) == 0 {
			continue
		}
		vs := VirtualSource{
			ID:          p.ID,
			Position:    p.ImageSource,
			Order:       p.Order,
			Length:      p.Length,
			Diffraction: p.Total,
			Bounces:     make([]Bounce, len(p.Points)),
		}
		if vs.Position.IsZero() {
			vs.Position = imageOf(listener, p.Points[0], p.Length)
		}
		for j := range p.Points {
			b := Bounce{Point: p.Points[j]}
			if j < len(p.Diffraction) {
				b.Diffraction = p.Diffraction[j]
			}
			if j < len(p.TextureIDs) {
				b.TextureID = p.TextureIDs[j]
			}
			if j < len(p.Surfaces) {
				b.Surface = p.Surfaces[j]
			}
			vs.Bounces[j] = b
		}
		out = append(out, vs)
	}
	Sort(out)
	return out
}

// Sort orders sources by reflection order, length and ID.
func Sort(vs []VirtualSource) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := &vs[i], &vs[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Length != b.Length {
			return a.Length < b.Length
		}
		return a.ID < b.ID
	})
}

func imageOf(listener, first math.Vec3, length float32) math.Vec3 {
	d := first.Sub(listener)
	if d.IsZero() {
		return first
	}
	return listener.Add(d.Normalize().Scale(length))
}

// Mirror reflects p through the planes in order. Mirroring the emitter through
// a path's reflectors, last reflector first, gives its image source.
func Mirror(p math.Vec3, planes ...math.Plane) math.Vec3 {
	for _, pl := range planes {
		p = pl.Mirror(p)
	}
	return p
}

// Changes compares two frames of sources by ID. Added and removed IDs come
// back in ascending order.
func Changes(prev, cur []VirtualSource) (added, removed []uint64) {
	before := make(map[uint64]struct{}, len(prev))
	for i := range prev {
		before[prev[i].ID] = struct{}{}
	}
	now := make(map[uint64]struct{}, len(cur))
	for i := range cur {
		id := cur[i].ID
		now[id] = struct{}{}
		if _, ok := before[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range before {
		if _, ok := now[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}
