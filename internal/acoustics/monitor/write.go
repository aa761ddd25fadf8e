package monitor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	stdmath "math"

	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

type encoder struct {
	buf bytes.Buffer
	tmp [8]byte
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.tmp[:2], v)
	e.buf.Write(e.tmp[:2])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.tmp[:4], v)
	e.buf.Write(e.tmp[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.tmp[:8], v)
	e.buf.Write(e.tmp[:8])
}

func (e *encoder) f32(v float32) { e.u32(stdmath.Float32bits(v)) }

func (e *encoder) vec(v math.Vec3) {
	e.f32(v.X)
	e.f32(v.Y)
	e.f32(v.Z)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf.WriteString(s)
}

// Write encodes s to w.
func Write(w io.Writer, s *Snapshot) error {
	if err := s.check(); err != nil {
		return err
	}
	var e encoder
	h := s.Header()
	e.buf.WriteString(Magic)
	e.u16(h.Version)
	e.u16(0)
	e.u64(h.Tick)
	for _, c := range []uint32{h.Rooms, h.Portals, h.Edges, h.DiffractionPaths, h.ReflectionPaths} {
		e.u32(c)
	}

	for i := range s.Rooms {
		r := &s.Rooms[i]
		e.u64(r.ID)
		e.str(r.Name)
		e.u32(uint32(len(r.Portals)))
		for _, p := range r.Portals {
			e.u64(p)
		}
	}
	for i := range s.Portals {
		p := &s.Portals[i]
		e.u64(p.ID)
		e.u64(p.FrontRoom)
		e.u64(p.BackRoom)
		e.bool(p.Enabled)
		e.f32(p.Gain)
		for _, c := range p.Corners {
			e.vec(c)
		}
	}
	for i := range s.Edges {
		ed := &s.Edges[i]
		e.vec(ed.Start)
		e.vec(ed.End)
		e.u64(ed.Portal)
		e.u32(ed.Visible0)
		e.u32(ed.Visible1)
	}
	for i := range s.Diffraction {
		d := &s.Diffraction[i]
		e.u64(d.Emitter)
		e.u64(d.Listener)
		e.bool(d.Placeholder)
		e.f32(d.Diffraction)
		e.f32(d.Length)
		e.u32(uint32(len(d.Nodes)))
		for _, n := range d.Nodes {
			e.vec(n.Point)
			e.f32(n.Angle)
			e.u64(n.Room)
			e.u64(n.Portal)
		}
	}
	for i := range s.Reflection {
		r := &s.Reflection[i]
		e.u64(r.Emitter)
		e.u64(r.Listener)
		e.u64(r.ID)
		e.u16(r.Order)
		e.f32(r.Diffraction)
		e.f32(r.Length)
		e.vec(r.Image)
		e.u32(uint32(len(r.Bounces)))
		for _, b := range r.Bounces {
			e.vec(b.Point)
			e.u32(b.TextureID)
		}
	}

	_, err := w.Write(e.buf.Bytes())
	return err
}

func (s *Snapshot) check() error {
	for _, n := range []int{len(s.Rooms), len(s.Portals), len(s.Edges), len(s.Diffraction), len(s.Reflection)} {
		if n > maxCount {
			return fmt.Errorf("%w: %d records", ErrTooLarge, n)
		}
	}
	for i := range s.Rooms {
		if len(s.Rooms[i].Name) > stdmath.MaxUint16 {
			return fmt.Errorf("%w: room %d name", ErrTooLarge, s.Rooms[i].ID)
		}
	}
	return nil
}
