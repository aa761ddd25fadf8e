// Package handle provides generational handles into arena pools.
//
// A Handle names a slot and the generation it was issued for. Removing an entry
// bumps the slot's generation, so every handle issued before the removal stops
// resolving, even after the slot is reused.
package handle

import "fmt"

// Handle refers to an entry of a Pool. The zero Handle never resolves.
type Handle struct {
	index uint32
	gen   uint32
}

// Index returns the slot index.
func (h Handle) Index() uint32 { return h.index }

// Valid reports whether h was ever issued by a pool.
func (h Handle) Valid() bool { return h.gen != 0 }

// Less orders handles by slot index, then generation.
func (h Handle) Less(o Handle) bool {
	if h.index != o.index {
		return h.index < o.index
	}
	return h.gen < o.gen
}

// Key packs the handle into a single integer, usable as a map key or hash input.
func (h Handle) Key() uint64 {
	return uint64(h.gen)<<32 | uint64(h.index)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Pool is an arena of values addressed by Handle.
type Pool[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle. Freed slots are reused lowest-first.
func (p *Pool[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, slot[T]{})
	}
	s := &p.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.val = v
	s.used = true
	p.live++
	return Handle{index: idx, gen: s.gen}
}

// Get resolves h. ok is false for stale or foreign handles.
func (p *Pool[T]) Get(h Handle) (T, bool) {
	var zero T
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return zero, false
	}
	s := &p.slots[h.index]
	if !s.used || s.gen != h.gen {
		return zero, false
	}
	return s.val, true
}

// Remove frees the entry named by h. It reports whether h was live.
func (p *Pool[T]) Remove(h Handle) bool {
	if _, ok := p.Get(h); !ok {
		return false
	}
	s := &p.slots[h.index]
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	p.live--
	// Keep the free list sorted descending so the lowest index pops first.
	i := len(p.free)
	p.free = append(p.free, h.index)
	for i > 0 && p.free[i-1] < p.free[i] {
		p.free[i-1], p.free[i] = p.free[i], p.free[i-1]
		i--
	}
	return true
}

// Len returns the number of live entries.
func (p *Pool[T]) Len() int { return p.live }

// Each calls fn for every live entry in slot order until fn returns false.
func (p *Pool[T]) Each(fn func(Handle, T) bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.used {
			continue
		}
		if !fn(Handle{index: uint32(i), gen: s.gen}, s.val) {
			return
		}
	}
}

// Clear removes every entry, invalidating all handles.
func (p *Pool[T]) Clear() {
	for i := range p.slots {
		if p.slots[i].used {
			p.Remove(Handle{index: uint32(i), gen: p.slots[i].gen})
		}
	}
}
