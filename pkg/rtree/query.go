package rtree

import "math"

// Search calls fn for every item whose box overlaps [minB, maxB], stopping early
// when fn returns false.
func (t *Tree[T]) Search(minB, maxB [Dims]float32, fn func(T) bool) {
	q := Rect{Min: minB, Max: maxB}
	searchRec(t.root, q, fn)
}

func searchRec[T comparable](n *node[T], q Rect, fn func(T) bool) bool {
	for i := range n.branches {
		b := &n.branches[i]
		if !b.rect.overlaps(q) {
			continue
		}
		if n.level == 0 {
			if !fn(b.item) {
				return false
			}
			continue
		}
		if !searchRec(b.child, q, fn) {
			return false
		}
	}
	return true
}

// Collect returns the items overlapping [minB, maxB] in tree order.
func (t *Tree[T]) Collect(minB, maxB [Dims]float32) []T {
	var out []T
	t.Search(minB, maxB, func(item T) bool {
		out = append(out, item)
		return true
	})
	return out
}

// slab returns the parametric interval in which origin + t*dir lies inside r.
// invDir holds 1/dir per axis (±Inf for zero components).
func slab(r Rect, origin, invDir [Dims]float32, maxT float32) (float32, bool) {
	tmin, tmax := float32(0), maxT
	for i := 0; i < Dims; i++ {
		if math.IsInf(float64(invDir[i]), 0) {
			if origin[i] < r.Min[i] || origin[i] > r.Max[i] {
				return 0, false
			}
			continue
		}
		t1 := (r.Min[i] - origin[i]) * invDir[i]
		t2 := (r.Max[i] - origin[i]) * invDir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = max(tmin, t1)
		tmax = min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}

func inverse(dir [Dims]float32) [Dims]float32 {
	var inv [Dims]float32
	for i := 0; i < Dims; i++ {
		if dir[i] == 0 {
			inv[i] = float32(math.Inf(1))
		} else {
			inv[i] = 1 / dir[i]
		}
	}
	return inv
}

// RaySearch calls fn for every leaf entry whose box the segment origin + t*dir,
// t in [0, maxT], crosses. With skipLeafBounds the leaf-level box test is
// skipped and every item of a crossed leaf node is reported; use it when fn
// performs its own exact test anyway.
func (t *Tree[T]) RaySearch(origin, dir [Dims]float32, maxT float32, skipLeafBounds bool, fn func(T) bool) {
	inv := inverse(dir)
	raySearchRec(t.root, origin, inv, maxT, skipLeafBounds, fn)
}

func raySearchRec[T comparable](n *node[T], origin, inv [Dims]float32, maxT float32, skip bool, fn func(T) bool) bool {
	for i := range n.branches {
		b := &n.branches[i]
		if n.level == 0 {
			if !skip {
				if _, ok := slab(b.rect, origin, inv, maxT); !ok {
					continue
				}
			}
			if !fn(b.item) {
				return false
			}
			continue
		}
		if _, ok := slab(b.rect, origin, inv, maxT); !ok {
			continue
		}
		if !raySearchRec(b.child, origin, inv, maxT, skip, fn) {
			return false
		}
	}
	return true
}

// RayNearestSearch visits the candidates of a nearest-hit query. hit performs the
// exact intersection and returns the distance along the ray and whether it hit;
// subtrees whose boxes start beyond the best distance so far are pruned. It
// returns the nearest item, its distance and whether anything was hit. Among
// equal distances less decides; with a nil less the first candidate visited wins.
func (t *Tree[T]) RayNearestSearch(origin, dir [Dims]float32, maxT float32, hit func(T) (float32, bool), less func(a, b T) bool) (T, float32, bool) {
	inv := inverse(dir)
	s := nearestState[T]{best: maxT, less: less}
	s.visit(t.root, origin, inv, hit)
	return s.item, s.best, s.found
}

type nearestState[T comparable] struct {
	item  T
	best  float32
	found bool
	less  func(a, b T) bool
}

func (s *nearestState[T]) visit(n *node[T], origin, inv [Dims]float32, hit func(T) (float32, bool)) {
	for i := range n.branches {
		b := &n.branches[i]
		tEnter, ok := slab(b.rect, origin, inv, s.best)
		if !ok || (s.found && tEnter > s.best) {
			continue
		}
		if n.level > 0 {
			s.visit(b.child, origin, inv, hit)
			continue
		}
		d, ok := hit(b.item)
		if !ok || d > s.best {
			continue
		}
		if s.found && d == s.best && (s.less == nil || !s.less(b.item, s.item)) {
			continue
		}
		s.item, s.best, s.found = b.item, d, true
	}
}

// HalfSpace is the region {p : N·p >= D}.
type HalfSpace struct {
	N [Dims]float32
	D float32
}

// HalfSpaceSearch calls fn for every item whose box intersects all the given
// half-spaces (a convex volume such as a frustum around a bundle of rays). The
// test is conservative: boxes straddling a plane are reported.
func (t *Tree[T]) HalfSpaceSearch(planes []HalfSpace, fn func(T) bool) {
	halfSpaceRec(t.root, planes, fn)
}

func halfSpaceRec[T comparable](n *node[T], planes []HalfSpace, fn func(T) bool) bool {
	for i := range n.branches {
		b := &n.branches[i]
		if !insideAll(b.rect, planes) {
			continue
		}
		if n.level == 0 {
			if !fn(b.item) {
				return false
			}
			continue
		}
		if !halfSpaceRec(b.child, planes, fn) {
			return false
		}
	}
	return true
}

// insideAll tests the box corner furthest along each plane normal.
func insideAll(r Rect, planes []HalfSpace) bool {
	for _, pl := range planes {
		var d float32
		for i := 0; i < Dims; i++ {
			if pl.N[i] >= 0 {
				d += pl.N[i] * r.Max[i]
			} else {
				d += pl.N[i] * r.Min[i]
			}
		}
		if d < pl.D {
			return false
		}
	}
	return true
}
