package geometry

import "github.com/Faultbox/midgard-acoustics/pkg/math"

// Box returns the params of a closed axis-aligned box with outward-facing
// triangles, all using surface.
func Box(lo, hi math.Vec3, surface uint16) Params {
	verts := make([]math.Vec3, 8)
	for i := range verts {
		v := lo
		if i&1 != 0 {
			v.X = hi.X
		}
		if i&2 != 0 {
			v.Y = hi.Y
		}
		if i&4 != 0 {
			v.Z = hi.Z
		}
		verts[i] = v
	}
	faces := [6][4]uint32{
		{0, 2, 6, 4}, // -X
		{1, 3, 7, 5}, // +X
		{0, 1, 5, 4}, // -Y
		{2, 3, 7, 6}, // +Y
		{0, 1, 3, 2}, // -Z
		{4, 5, 7, 6}, // +Z
	}
	center := lo.Add(hi).Scale(0.5)
	tris := make([]Triangle, 0, 12)
	for _, f := range faces {
		fc := verts[f[0]].Add(verts[f[2]]).Scale(0.5)
		out := fc.Sub(center)
		for _, t := range [2][3]uint32{{f[0], f[1], f[2]}, {f[0], f[2], f[3]}} {
			a, b, c := verts[t[0]], verts[t[1]], verts[t[2]]
			if b.Sub(a).Cross(c.Sub(a)).Dot(out) < 0 {
				t[1], t[2] = t[2], t[1]
			}
			tris = append(tris, Triangle{A: t[0], B: t[1], C: t[2], Surface: surface})
		}
	}
	return Params{Vertices: verts, Triangles: tris}
}

// Quad returns the params of a single rectangle c0-c1-c2-c3. Its front face is
// the side from which the corners run counter-clockwise.
func Quad(corners [4]math.Vec3, surface uint16) Params {
	verts := append([]math.Vec3(nil), corners[:]...)
	return Params{
		Vertices: verts,
		Triangles: []Triangle{
			{A: 0, B: 1, C: 2, Surface: surface},
			{A: 0, B: 2, C: 3, Surface: surface},
		},
	}
}

// Merge appends the triangles of b to a, offsetting vertex indices.
func Merge(a, b Params) Params {
	off := uint32(len(a.Vertices))
	a.Vertices = append(a.Vertices, b.Vertices...)
	for _, t := range b.Triangles {
		a.Triangles = append(a.Triangles, Triangle{A: t.A + off, B: t.B + off, C: t.C + off, Surface: t.Surface})
	}
	return a
}
