package rooms

import (
	"fmt"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// PortalParams describes a rectangular opening between two rooms. The opening
// lies in the plane through Transform.Position perpendicular to Transform.Front;
// Front points into FrontRoom. Extent holds the half width, half height and
// half depth.
type PortalParams struct {
	Transform math.Transform
	Extent    math.Vec3
	Enabled   bool
	FrontRoom geometry.RoomID
	BackRoom  geometry.RoomID
	Gain      float32
}

// ValidatePortal checks p before it is queued.
func ValidatePortal(p *PortalParams) error {
	if p.FrontRoom == p.BackRoom {
		return fmt.Errorf("%w: room %d", ErrSameRoom, p.FrontRoom)
	}
	if p.Extent.X <= 0 || p.Extent.Y <= 0 || p.Extent.Z < 0 {
		return fmt.Errorf("%w: %v", ErrZeroExtent, p.Extent)
	}
	if err := validateOrientation(p.Transform.Front, p.Transform.Up); err != nil {
		return err
	}
	if p.Gain < 0 || p.Gain > 1 {
		return fmt.Errorf("%w: portal gain %v", ErrBadGain, p.Gain)
	}
	return nil
}

// Portal is a registry entry linking two rooms by ID.
type Portal struct {
	ID     geometry.PortalID
	Params PortalParams

	Obstruction float32
	Occlusion   float32

	sync uint64
}

// Sync returns the graph token of the portal's last change.
func (p *Portal) Sync() uint64 { return p.sync }

// Other returns the room on the other side of the portal from r.
func (p *Portal) Other(r geometry.RoomID) (geometry.RoomID, bool) {
	switch r {
	case p.Params.FrontRoom:
		return p.Params.BackRoom, true
	case p.Params.BackRoom:
		return p.Params.FrontRoom, true
	}
	return 0, false
}

// Gain returns the transmission of the opening after occlusion.
func (p *Portal) Gain() float32 {
	return p.Params.Gain * (1 - p.Occlusion)
}

// Center returns the centre of the opening.
func (p *Portal) Center() math.Vec3 { return p.Params.Transform.Position }

func (p *Portal) axes() (front, right, up math.Vec3) {
	front = p.Params.Transform.Front.Normalize()
	up = p.Params.Transform.Up
	up = up.Sub(front.Scale(up.Dot(front))).Normalize()
	right = up.Cross(front)
	return front, right, up
}

// Corners returns the four corners of the opening, going around it.
func (p *Portal) Corners() [4]math.Vec3 {
	_, right, up := p.axes()
	c := p.Center()
	rx := right.Scale(p.Params.Extent.X)
	uy := up.Scale(p.Params.Extent.Y)
	return [4]math.Vec3{
		c.Sub(rx).Sub(uy),
		c.Add(rx).Sub(uy),
		c.Add(rx).Add(uy),
		c.Sub(rx).Add(uy),
	}
}

// Bounds returns the box of the portal volume.
func (p *Portal) Bounds() math.AABB {
	front, _, _ := p.axes()
	b := math.EmptyAABB()
	for _, c := range p.Corners() {
		d := front.Scale(p.Params.Extent.Z)
		b = b.Extend(c.Add(d)).Extend(c.Sub(d))
	}
	return b
}

// Volume returns the planes bounding the box of the opening, facing inwards,
// with the depth grown by pad on both faces.
func (p *Portal) Volume(pad float32) []math.Plane {
	front, right, up := p.axes()
	c := p.Center()
	half := [3]float32{p.Params.Extent.X, p.Params.Extent.Y, p.Params.Extent.Z + pad}
	out := make([]math.Plane, 0, 6)
	for i, axis := range [3]math.Vec3{right, up, front} {
		d := axis.Dot(c)
		out = append(out,
			math.Plane{N: axis, D: d - half[i]},
			math.Plane{N: axis.Neg(), D: -d - half[i]})
	}
	return out
}

// Side returns the room on the side of the opening plane containing x.
func (p *Portal) Side(x math.Vec3) geometry.RoomID {
	front, _, _ := p.axes()
	if front.Dot(x.Sub(p.Center())) >= 0 {
		return p.Params.FrontRoom
	}
	return p.Params.BackRoom
}

// Faces returns the offsets along Front of the faces of the opening, in the
// order a path entering room r crosses them. An opening without depth has a
// single face through its centre.
func (p *Portal) Faces(r geometry.RoomID) []float32 {
	d := p.Params.Extent.Z
	switch {
	case d <= math.Epsilon:
		return []float32{0}
	case r == p.Params.FrontRoom:
		return []float32{-d, d}
	}
	return []float32{d, -d}
}

// RayTracePosition returns the point just inside room r in front of the
// opening, used as the origin of rays cast into r through the portal.
func (p *Portal) RayTracePosition(r geometry.RoomID, offset float32) math.Vec3 {
	front, _, _ := p.axes()
	if r == p.Params.BackRoom {
		front = front.Neg()
	}
	return p.Center().Add(front.Scale(offset))
}

// PassPoint returns where a path from a to b crosses the opening: the
// crossing of the segment with the opening plane, clamped into the rectangle
// shrunk by margin. Without a crossing the point nearest the centre is used.
func (p *Portal) PassPoint(a, b math.Vec3, margin float32) math.Vec3 {
	return p.PassPointAt(a, b, margin, 0)
}

// PassPointAt is PassPoint on the plane of the opening moved offset along
// Front, one of the values returned by Faces.
func (p *Portal) PassPointAt(a, b math.Vec3, margin, offset float32) math.Vec3 {
	front, right, up := p.axes()
	c := p.Center().Add(front.Scale(offset))
	pl := math.PlaneFromNormal(front, c)
	x, _, ok := pl.IntersectSegment(a, b)
	if !ok {
		x = c
	}
	d := x.Sub(c)
	hx := p.Params.Extent.X - margin
	hy := p.Params.Extent.Y - margin
	if hx < 0 {
		hx = 0
	}
	if hy < 0 {
		hy = 0
	}
	u := math.Clamp(d.Dot(right), -hx, hx)
	v := math.Clamp(d.Dot(up), -hy, hy)
	return c.Add(right.Scale(u)).Add(up.Scale(v))
}
