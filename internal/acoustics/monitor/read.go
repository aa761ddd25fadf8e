package monitor

import (
	"encoding/binary"
	"fmt"
	"io"
	stdmath "math"

	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// decoder reads little-endian fields and keeps the first error.
type decoder struct {
	r   io.Reader
	tmp [8]byte
	err error
}

func (d *decoder) fill(n int, what string) []byte {
	if d.err != nil {
		return d.tmp[:n]
	}
	if _, err := io.ReadFull(d.r, d.tmp[:n]); err != nil {
		d.err = fmt.Errorf("%w: reading %s", ErrTruncated, what)
	}
	return d.tmp[:n]
}

func (d *decoder) u8(what string) uint8 { return d.fill(1, what)[0] }

func (d *decoder) u16(what string) uint16 {
	return binary.LittleEndian.Uint16(d.fill(2, what))
}

func (d *decoder) u32(what string) uint32 {
	return binary.LittleEndian.Uint32(d.fill(4, what))
}

func (d *decoder) u64(what string) uint64 {
	return binary.LittleEndian.Uint64(d.fill(8, what))
}

func (d *decoder) f32(what string) float32 {
	return stdmath.Float32frombits(d.u32(what))
}

func (d *decoder) vec(what string) math.Vec3 {
	return math.Vec3{X: d.f32(what), Y: d.f32(what), Z: d.f32(what)}
}

func (d *decoder) count(what string) int {
	n := d.u32(what)
	if d.err == nil && n > maxCount {
		d.err = fmt.Errorf("%w: %d %s", ErrTooLarge, n, what)
	}
	if d.err != nil {
		return 0
	}
	return int(n)
}

func (d *decoder) str(what string) string {
	n := int(d.u16(what))
	if d.err != nil {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("%w: reading %s", ErrTruncated, what)
		return ""
	}
	return string(b)
}

// Read decodes a whole blob. Records are appended as they decode, so a
// header claiming more records than the body holds fails with ErrTruncated
// before the claimed counts are allocated.
func Read(r io.Reader) (*Snapshot, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	d := &decoder{r: r}
	s := &Snapshot{Tick: h.Tick}

	for i := uint32(0); i < h.Rooms && d.err == nil; i++ {
		var rm Room
		rm.ID = d.u64("room id")
		rm.Name = d.str("room name")
		n := d.count("room portals")
		for j := 0; j < n && d.err == nil; j++ {
			rm.Portals = append(rm.Portals, d.u64("room portal"))
		}
		s.Rooms = append(s.Rooms, rm)
	}
	for i := uint32(0); i < h.Portals && d.err == nil; i++ {
		var p Portal
		p.ID = d.u64("portal id")
		p.FrontRoom = d.u64("portal front room")
		p.BackRoom = d.u64("portal back room")
		p.Enabled = d.u8("portal enabled") != 0
		p.Gain = d.f32("portal gain")
		for j := range p.Corners {
			p.Corners[j] = d.vec("portal corner")
		}
		s.Portals = append(s.Portals, p)
	}
	for i := uint32(0); i < h.Edges && d.err == nil; i++ {
		var e Edge
		e.Start = d.vec("edge start")
		e.End = d.vec("edge end")
		e.Portal = d.u64("edge portal")
		e.Visible0 = d.u32("edge visibility")
		e.Visible1 = d.u32("edge visibility")
		s.Edges = append(s.Edges, e)
	}
	for i := uint32(0); i < h.DiffractionPaths && d.err == nil; i++ {
		var p DiffractionPath
		p.Emitter = d.u64("path emitter")
		p.Listener = d.u64("path listener")
		p.Placeholder = d.u8("path flags") != 0
		p.Diffraction = d.f32("path diffraction")
		p.Length = d.f32("path length")
		n := d.count("path nodes")
		for j := 0; j < n && d.err == nil; j++ {
			p.Nodes = append(p.Nodes, Node{
				Point:  d.vec("node point"),
				Angle:  d.f32("node angle"),
				Room:   d.u64("node room"),
				Portal: d.u64("node portal"),
			})
		}
		s.Diffraction = append(s.Diffraction, p)
	}
	for i := uint32(0); i < h.ReflectionPaths && d.err == nil; i++ {
		var p ReflectionPath
		p.Emitter = d.u64("reflection emitter")
		p.Listener = d.u64("reflection listener")
		p.ID = d.u64("reflection id")
		p.Order = d.u16("reflection order")
		p.Diffraction = d.f32("reflection diffraction")
		p.Length = d.f32("reflection length")
		p.Image = d.vec("reflection image")
		n := d.count("reflection bounces")
		for j := 0; j < n && d.err == nil; j++ {
			p.Bounces = append(p.Bounces, Bounce{Point: d.vec("bounce point"), TextureID: d.u32("bounce texture")})
		}
		s.Reflection = append(s.Reflection, p)
	}
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}
