package stochastic

import (
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// EmitterState carries the paths validated for one emitter from one update to
// the next. It is owned by a single listener-emitter pair.
type EmitterState struct {
	Paths []ReflectionPath

	Listener math.Vec3
	Emitter  math.Vec3
	Repaired int // paths repaired by the last update
}

// Reset drops every path.
func (s *EmitterState) Reset() {
	s.Paths = nil
	s.Repaired = 0
}

// IDs returns the path IDs in path order.
func (s *EmitterState) IDs() []uint64 {
	ids := make([]uint64, len(s.Paths))
	for i := range s.Paths {
		ids[i] = s.Paths[i].ID
	}
	return ids
}

// Update validates reflection paths between listener and emitter. Paths kept
// in st are revalidated first; one whose first leg became blocked is repaired
// around an edge near the obstacle. Then the candidates of the last cast that
// pass the receptor pre-test are validated. The result is stored in st and
// returned shortest first.
func (e *Engine) Update(scene *geometry.Scene, listener, emitter math.Vec3, st *EmitterState) []ReflectionPath {
	tried := make(map[uint64]struct{}, len(st.Paths))
	kept := make(map[uint64]struct{}, len(st.Paths))
	var out []ReflectionPath
	keep := func(p ReflectionPath) {
		if _, dup := kept[p.ID]; dup {
			return
		}
		kept[p.ID] = struct{}{}
		out = append(out, p)
	}

	repaired := 0
	for i := range st.Paths {
		prev := &st.Paths[i]
		v := e.check(scene, prev.Sources, listener, emitter)
		switch v.fail {
		case Valid:
			keep(v.path)
		case FailListenerOccluded:
			if p, ok := e.repair(scene, prev.Sources, v.blocker, listener, emitter); ok {
				keep(p)
				repaired++
			}
		}
		tried[prev.ID] = struct{}{}
	}

	for i := range e.rays {
		r := &e.rays[i]
		if _, done := tried[r.Hash]; done {
			continue
		}
		if !e.admits(r, emitter) {
			continue
		}
		tried[r.Hash] = struct{}{}
		if v := e.check(scene, r.Sources, listener, emitter); v.fail == Valid {
			keep(v.path)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].ID < out[j].ID
	})
	st.Paths = out
	st.Listener = listener
	st.Emitter = emitter
	st.Repaired = repaired
	return out
}
