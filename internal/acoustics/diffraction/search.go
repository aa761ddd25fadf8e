package diffraction

import (
	"container/heap"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/handle"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Params tunes the edge path search.
type Params struct {
	MaxPaths          int     // distinct paths per search
	MaxDegree         int     // edges per path
	MaxPathLength     float32 // longest path considered, also the cost normalizer
	DistanceWeight    float32
	DiffractionWeight float32
	MaxExpansions     int // node expansions per path before giving up
	RelaxIterations   int // refinement sweeps over the edge chain
}

// DefaultParams weights diffraction twice as much as distance.
func DefaultParams() Params {
	return Params{
		MaxPaths:          2,
		MaxDegree:         4,
		MaxPathLength:     100,
		DistanceWeight:    1,
		DiffractionWeight: 2,
		MaxExpansions:     4096,
		RelaxIterations:   12,
	}
}

// searchNode is a (diffraction edge, entry zone) pair reached by a chain of edges.
type searchNode struct {
	edge     *geometry.Edge
	zone     geometry.Zone // zone of edge containing the previous point
	point    math.Vec3     // provisional apex on the edge
	g        float32       // length from the origin to point
	diff     float32       // diffraction accumulated before this node
	f        float32
	depth    int
	parent   *searchNode
	verified bool
	seq      int
	index    int
}

type nodeHeap []*searchNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x interface{}) {
	n := x.(*searchNode)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*h = old[:n-1]
	return node
}

type nodeKey struct {
	edge uint64
	zone geometry.Zone
}

func keyOf(e *geometry.Edge, z geometry.Zone) nodeKey {
	return nodeKey{edge: e.Handle.Key(), zone: z}
}

// Searcher finds diffraction paths over a scene's edge visibility graph. It
// keeps scratch state between calls and is not safe for concurrent use.
type Searcher struct {
	params       Params
	open         nodeHeap
	best         map[nodeKey]float32
	inadmissible map[nodeKey]bool
	seq          int
}

// NewSearcher creates a searcher.
func NewSearcher(p Params) *Searcher {
	if p.MaxDegree <= 0 || p.MaxDegree > MaxLength {
		p.MaxDegree = MaxLength
	}
	if p.MaxPaths <= 0 {
		p.MaxPaths = 1
	}
	if p.MaxPathLength <= 0 {
		p.MaxPathLength = DefaultParams().MaxPathLength
	}
	if p.RelaxIterations <= 0 {
		p.RelaxIterations = 1
	}
	return &Searcher{
		params:       p,
		best:         make(map[nodeKey]float32),
		inadmissible: make(map[nodeKey]bool),
	}
}

// Params returns the searcher's configuration.
func (s *Searcher) Params() Params { return s.params }

func (s *Searcher) cost(length, diff float32) float32 {
	p := &s.params
	return p.DistanceWeight*math.Clamp(length/p.MaxPathLength, 0, 1) +
		p.DiffractionWeight*math.Clamp(diff/MaxDiffraction, 0, 1)
}

// Search returns the segments connecting from and to. A visible pair yields a
// single direct segment. Otherwise up to MaxPaths distinct edge chains are
// returned, cheapest first; blocked reports that the direct line is occluded.
func (s *Searcher) Search(scene *geometry.Scene, from, to math.Vec3) (segs []Segment, blocked bool) {
	if !scene.Occluded(from, to) {
		return []Segment{{Length: from.Distance(to)}}, false
	}
	clear(s.inadmissible)
	for len(segs) < s.params.MaxPaths {
		seg, chain, ok := s.searchOne(scene, from, to)
		if !ok {
			break
		}
		for n := chain; n != nil; n = n.parent {
			s.inadmissible[keyOf(n.edge, n.zone)] = true
		}
		segs = append(segs, seg)
	}
	return segs, true
}

func (s *Searcher) push(n *searchNode) {
	n.seq = s.seq
	s.seq++
	heap.Push(&s.open, n)
}

func (s *Searcher) searchOne(scene *geometry.Scene, from, to math.Vec3) (Segment, *searchNode, bool) {
	clear(s.best)
	s.open = s.open[:0]
	s.seq = 0

	scene.EachEdge(func(e *geometry.Edge) bool {
		if e.Portal != 0 || e.Degenerate() {
			return true
		}
		z := e.Zone(from)
		if !z.Shadow() || s.inadmissible[keyOf(e, z)] {
			return true
		}
		if e.DistanceTo(from) > s.params.MaxPathLength {
			return true
		}
		p := e.ClampedPointBetween(from, to)
		g := from.Distance(p)
		h := p.Distance(to)
		if g+h > s.params.MaxPathLength {
			return true
		}
		n := &searchNode{edge: e, zone: z, point: p, g: g}
		n.f = s.cost(g+h, Normalize(geometry.DiffractionAngle(from, p, to)))
		s.best[keyOf(e, z)] = n.f
		s.push(n)
		return true
	})

	for expansions := 0; s.open.Len() > 0 && expansions < s.params.MaxExpansions; expansions++ {
		n := heap.Pop(&s.open).(*searchNode)
		key := keyOf(n.edge, n.zone)
		if best, ok := s.best[key]; ok && best < n.f {
			continue
		}
		if n.parent == nil && !n.verified {
			n.verified = true
			if scene.Occluded(from, n.point.Add(n.edge.Out.Scale(scene.Tol.Nudge))) {
				continue
			}
		}

		if n.edge.Zone(to) == n.zone.Opposite() {
			if seg, ok := s.finish(scene, n, from, to); ok {
				return seg, n, true
			}
		}

		if n.depth+1 >= s.params.MaxDegree {
			continue
		}
		s.expand(scene, n, from, to)
	}
	return Segment{}, nil, false
}

func (s *Searcher) expand(scene *geometry.Scene, n *searchNode, from, to math.Vec3) {
	prev := from
	if n.parent != nil {
		prev = n.parent.point
	}
	links := scene.Links(n.edge, n.zone.Opposite())
	for i := range links {
		l := &links[i]
		b, ok := scene.Edge(l.Edge)
		if !ok || b.Degenerate() || onChain(n, b) {
			continue
		}
		key := keyOf(b, l.Zone)
		if s.inadmissible[key] {
			continue
		}
		p := b.ClampedPointBetween(n.point, to)
		g := n.g + n.point.Distance(p)
		h := p.Distance(to)
		if g+h > s.params.MaxPathLength {
			continue
		}
		diff := n.diff
		if !Accumulate(&diff, Normalize(geometry.DiffractionAngle(prev, n.point, p))) {
			continue
		}
		est := diff
		Accumulate(&est, Normalize(geometry.DiffractionAngle(n.point, p, to)))
		f := s.cost(g+h, est)
		if best, ok := s.best[key]; ok && best <= f {
			continue
		}
		if !scene.VerifyLink(n.edge, l) {
			continue
		}
		s.best[key] = f
		s.push(&searchNode{
			edge:   b,
			zone:   l.Zone,
			point:  p,
			g:      g,
			diff:   diff,
			f:      f,
			depth:  n.depth + 1,
			parent: n,
		})
	}
}

func onChain(n *searchNode, e *geometry.Edge) bool {
	for ; n != nil; n = n.parent {
		if n.edge == e {
			return true
		}
	}
	return false
}

// finish refines the apex points of the chain ending at n and validates the
// resulting path: every apex inside its edge, every edge bending the path
// (shadow-zone continuity), capped diffraction and unobstructed legs.
func (s *Searcher) finish(scene *geometry.Scene, n *searchNode, from, to math.Vec3) (Segment, bool) {
	count := n.depth + 1
	edges := make([]*geometry.Edge, count)
	points := make([]math.Vec3, count)
	for c := n; c != nil; c = c.parent {
		edges[c.depth] = c.edge
		points[c.depth] = c.point
	}

	at := func(i int) math.Vec3 {
		switch {
		case i < 0:
			return from
		case i >= count:
			return to
		}
		return points[i]
	}
	for it := 0; it < s.params.RelaxIterations; it++ {
		for i, e := range edges {
			points[i] = e.ClampedPointBetween(at(i-1), at(i+1))
		}
	}

	seg := Segment{
		Points: points,
		Angles: make([]float32, count),
		Edges:  make([]handle.Handle, count),
	}
	const slack = 1e-3
	for i, e := range edges {
		prev, next := at(i-1), at(i+1)
		t, ok := e.DetourParam(prev, next)
		if !ok || t < -slack*e.Length || t > e.Length*(1+slack) {
			return Segment{}, false
		}
		if !e.InShadowZone(next, prev) {
			return Segment{}, false
		}
		seg.Angles[i] = geometry.DiffractionAngle(prev, points[i], next)
		if !Accumulate(&seg.Diffraction, Normalize(seg.Angles[i])) {
			return Segment{}, false
		}
		seg.Edges[i] = e.Handle
	}

	nudge := scene.Tol.Nudge
	lift := func(i int) math.Vec3 {
		if i < 0 || i >= count {
			return at(i)
		}
		return points[i].Add(edges[i].Out.Scale(nudge))
	}
	for i := -1; i < count; i++ {
		a, b := at(i), at(i+1)
		seg.Length += a.Distance(b)
		if scene.Occluded(lift(i), lift(i+1)) {
			return Segment{}, false
		}
	}
	if seg.Length > s.params.MaxPathLength {
		return Segment{}, false
	}
	return seg, true
}
