// Package rtree implements a three-dimensional R-tree over (min, max, payload)
// entries, with box, ray, nearest-ray and half-space queries.
//
// Nodes split with the quadratic heuristic: seeds are the pair wasting the most
// volume, remaining entries are assigned greedily by volume growth. Removal
// condenses under-full nodes and re-inserts their branches at the level they
// came from.
package rtree

import (
	"errors"
	"math"
)

// Dims is the dimensionality of the tree.
const Dims = 3

// Default node fan-out.
const (
	DefaultMaxEntries = 16
	DefaultMinEntries = 4
)

// ErrCapacity is returned by Insert when the tree already holds its configured
// maximum number of items. The tree is left unchanged.
var ErrCapacity = errors.New("rtree: capacity exhausted")

// Rect is an axis-aligned box.
type Rect struct {
	Min, Max [Dims]float32
}

func (r Rect) union(o Rect) Rect {
	for i := 0; i < Dims; i++ {
		r.Min[i] = min(r.Min[i], o.Min[i])
		r.Max[i] = max(r.Max[i], o.Max[i])
	}
	return r
}

func (r Rect) overlaps(o Rect) bool {
	for i := 0; i < Dims; i++ {
		if r.Min[i] > o.Max[i] || o.Min[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// volume is the volume of the sphere bounding r (constant factor dropped).
// Flat boxes, common for axis-aligned triangles, still get a useful measure.
func (r Rect) volume() float32 {
	var sq float32
	for i := 0; i < Dims; i++ {
		h := (r.Max[i] - r.Min[i]) * 0.5
		sq += h * h
	}
	rad := float32(math.Sqrt(float64(sq)))
	return rad * rad * rad
}

type branch[T comparable] struct {
	rect  Rect
	child *node[T]
	item  T
}

type node[T comparable] struct {
	level    int // 0 for leaves
	branches []branch[T]
}

func (n *node[T]) cover() Rect {
	r := n.branches[0].rect
	for _, b := range n.branches[1:] {
		r = r.union(b.rect)
	}
	return r
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	maxEntries int
	minEntries int
	capacity   int
}

// WithFanout sets the maximum and minimum branches per node.
func WithFanout(maxEntries, minEntries int) Option {
	return func(o *options) {
		o.maxEntries = maxEntries
		o.minEntries = minEntries
	}
}

// WithCapacity bounds the number of items; Insert fails with ErrCapacity beyond it.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// Tree is an R-tree with payloads of type T. It is not safe for concurrent
// mutation; concurrent queries are safe once mutation has stopped.
type Tree[T comparable] struct {
	root       *node[T]
	maxEntries int
	minEntries int
	capacity   int
	size       int
}

// New creates an empty tree.
func New[T comparable](opts ...Option) *Tree[T] {
	o := options{maxEntries: DefaultMaxEntries, minEntries: DefaultMinEntries}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxEntries < 4 {
		o.maxEntries = 4
	}
	if o.minEntries < 1 || o.minEntries > o.maxEntries/2 {
		o.minEntries = o.maxEntries / 2
	}
	return &Tree[T]{
		root:       &node[T]{},
		maxEntries: o.maxEntries,
		minEntries: o.minEntries,
		capacity:   o.capacity,
	}
}

// Len returns the number of items.
func (t *Tree[T]) Len() int { return t.size }

// Height returns the number of levels (1 for a tree that is a single leaf).
func (t *Tree[T]) Height() int { return t.root.level + 1 }

// Bounds returns the box covering every item; ok is false for an empty tree.
func (t *Tree[T]) Bounds() (Rect, bool) {
	if len(t.root.branches) == 0 {
		return Rect{}, false
	}
	return t.root.cover(), true
}

// Clear removes every item.
func (t *Tree[T]) Clear() {
	t.root = &node[T]{}
	t.size = 0
}

// Insert adds item with the given bounds. The same bounds must be passed to Remove.
func (t *Tree[T]) Insert(minB, maxB [Dims]float32, item T) error {
	if t.capacity > 0 && t.size >= t.capacity {
		return ErrCapacity
	}
	t.insertBranch(branch[T]{rect: Rect{Min: minB, Max: maxB}, item: item}, 0)
	t.size++
	return nil
}

func (t *Tree[T]) insertBranch(b branch[T], level int) {
	split := t.insertRec(b, t.root, level)
	if split == nil {
		return
	}
	old := t.root
	t.root = &node[T]{
		level: old.level + 1,
		branches: []branch[T]{
			{rect: old.cover(), child: old},
			{rect: split.cover(), child: split},
		},
	}
}

// insertRec places b in a node at the given level below n. It returns the new
// sibling when n had to split.
func (t *Tree[T]) insertRec(b branch[T], n *node[T], level int) *node[T] {
	if n.level > level {
		i := pickBranch(b.rect, n)
		child := n.branches[i].child
		split := t.insertRec(b, child, level)
		if split == nil {
			n.branches[i].rect = n.branches[i].rect.union(b.rect)
			return nil
		}
		n.branches[i].rect = child.cover()
		return t.addBranch(n, branch[T]{rect: split.cover(), child: split})
	}
	return t.addBranch(n, b)
}

func (t *Tree[T]) addBranch(n *node[T], b branch[T]) *node[T] {
	if len(n.branches) < t.maxEntries {
		n.branches = append(n.branches, b)
		return nil
	}
	return t.split(n, b)
}

// pickBranch chooses the child needing the least volume growth, ties going to
// the smaller child.
func pickBranch[T comparable](r Rect, n *node[T]) int {
	best := 0
	var bestGrowth, bestVol float32
	for i, b := range n.branches {
		vol := b.rect.volume()
		growth := b.rect.union(r).volume() - vol
		if i == 0 || growth < bestGrowth || (growth == bestGrowth && vol < bestVol) {
			best, bestGrowth, bestVol = i, growth, vol
		}
	}
	return best
}

// split distributes the branches of n plus extra over n and a new sibling.
func (t *Tree[T]) split(n *node[T], extra branch[T]) *node[T] {
	all := make([]branch[T], 0, len(n.branches)+1)
	all = append(all, n.branches...)
	all = append(all, extra)

	a, b := quadraticPartition(all, t.minEntries)
	n.branches = a
	return &node[T]{level: n.level, branches: b}
}

func quadraticPartition[T comparable](all []branch[T], minFill int) (groupA, groupB []branch[T]) {
	seedA, seedB := pickSeeds(all)
	assigned := make([]bool, len(all))
	assigned[seedA], assigned[seedB] = true, true

	groupA = append(make([]branch[T], 0, len(all)), all[seedA])
	groupB = append(make([]branch[T], 0, len(all)), all[seedB])
	coverA, coverB := all[seedA].rect, all[seedB].rect
	remaining := len(all) - 2

	for remaining > 0 {
		// Force the rest into a group that would otherwise stay under-full.
		if len(groupA)+remaining <= minFill || len(groupB)+remaining <= minFill {
			toA := len(groupA)+remaining <= minFill
			for i := range all {
				if assigned[i] {
					continue
				}
				assigned[i] = true
				if toA {
					groupA = append(groupA, all[i])
				} else {
					groupB = append(groupB, all[i])
				}
			}
			break
		}

		// Pick the entry with the strongest preference for one group.
		next := -1
		var bestDiff, growA, growB float32
		volA, volB := coverA.volume(), coverB.volume()
		for i := range all {
			if assigned[i] {
				continue
			}
			ga := coverA.union(all[i].rect).volume() - volA
			gb := coverB.union(all[i].rect).volume() - volB
			diff := ga - gb
			if diff < 0 {
				diff = -diff
			}
			if next < 0 || diff > bestDiff {
				next, bestDiff, growA, growB = i, diff, ga, gb
			}
		}

		assigned[next] = true
		remaining--
		toA := growA < growB ||
			(growA == growB && (volA < volB || (volA == volB && len(groupA) <= len(groupB))))
		if toA {
			groupA = append(groupA, all[next])
			coverA = coverA.union(all[next].rect)
		} else {
			groupB = append(groupB, all[next])
			coverB = coverB.union(all[next].rect)
		}
	}
	return groupA, groupB
}

// pickSeeds returns the pair whose covering box wastes the most volume.
func pickSeeds[T comparable](all []branch[T]) (int, int) {
	seedA, seedB := 0, 1
	worst := float32(-math.MaxFloat32)
	for i := 0; i < len(all)-1; i++ {
		vi := all[i].rect.volume()
		for j := i + 1; j < len(all); j++ {
			waste := all[i].rect.union(all[j].rect).volume() - vi - all[j].rect.volume()
			if waste > worst {
				worst, seedA, seedB = waste, i, j
			}
		}
	}
	return seedA, seedB
}

// Remove deletes the entry matching bounds and item exactly. It reports whether
// such an entry existed.
func (t *Tree[T]) Remove(minB, maxB [Dims]float32, item T) bool {
	r := Rect{Min: minB, Max: maxB}
	var orphans []*node[T]
	if !t.removeRec(r, item, t.root, &orphans) {
		return false
	}
	t.size--

	// Orphans were collected bottom-up; re-insert the highest first.
	for i := len(orphans) - 1; i >= 0; i-- {
		o := orphans[i]
		if len(t.root.branches) == 0 {
			t.root = o
			continue
		}
		for _, b := range o.branches {
			t.insertBranch(b, o.level)
		}
	}

	for t.root.level > 0 && len(t.root.branches) == 1 {
		t.root = t.root.branches[0].child
	}
	if t.root.level > 0 && len(t.root.branches) == 0 {
		t.root = &node[T]{}
	}
	return true
}

func (t *Tree[T]) removeRec(r Rect, item T, n *node[T], orphans *[]*node[T]) bool {
	if n.level == 0 {
		for i, b := range n.branches {
			if b.item == item && b.rect == r {
				n.branches = append(n.branches[:i], n.branches[i+1:]...)
				return true
			}
		}
		return false
	}

	for i := range n.branches {
		if !n.branches[i].rect.overlaps(r) {
			continue
		}
		child := n.branches[i].child
		if !t.removeRec(r, item, child, orphans) {
			continue
		}
		if len(child.branches) >= t.minEntries {
			n.branches[i].rect = child.cover()
		} else {
			if len(child.branches) > 0 {
				*orphans = append(*orphans, child)
			}
			n.branches = append(n.branches[:i], n.branches[i+1:]...)
		}
		return true
	}
	return false
}
