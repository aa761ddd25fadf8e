package math

import (
	"testing"
)

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Length(t *testing.T) {
	v := Vec3{2, 3, 6}
	if got := v.Length(); got != 7 {
		t.Errorf("Vec3.Length() = %v, want 7", got)
	}
}

func TestVec3Normalize(t *testing.T) {
	n := Vec3{3, 4, 12}.Normalize()
	l := n.Length()
	if l < 0.999 || l > 1.001 {
		t.Errorf("Vec3.Normalize().Length() = %v, want ~1", l)
	}
	if z := (Vec3{}).Normalize(); z != (Vec3{}) {
		t.Errorf("zero vector should normalize to zero, got %v", z)
	}
}

func TestVec3Reflect(t *testing.T) {
	d := Vec3{1, -1, 0}
	got := d.Reflect(Vec3{0, 1, 0})
	want := Vec3{1, 1, 0}
	if got != want {
		t.Errorf("Reflect() = %v, want %v", got, want)
	}
}

func TestAngleBetween(t *testing.T) {
	a := AngleBetween(Vec3{1, 0, 0}, Vec3{0, 0, 1})
	if abs32(a-1.5707964) > 1e-5 {
		t.Errorf("AngleBetween = %v, want pi/2", a)
	}
	if AngleBetween(Vec3{}, Vec3{1, 0, 0}) != 0 {
		t.Error("angle with zero vector should be 0")
	}
}

func TestPlaneMirror(t *testing.T) {
	pl := PlaneFromNormal(Vec3{0, 0, 1}, Vec3{0, 0, 5})
	p := Vec3{1, 2, 1}
	m := pl.Mirror(p)
	if !m.ApproxEqual(Vec3{1, 2, 9}, 1e-5) {
		t.Errorf("Mirror = %v, want (1,2,9)", m)
	}
	if back := pl.Mirror(m); !back.ApproxEqual(p, 1e-5) {
		t.Errorf("double mirror = %v, want %v", back, p)
	}
}

func TestPlaneIntersectSegment(t *testing.T) {
	pl := PlaneFromNormal(Vec3{1, 0, 0}, Vec3{2, 0, 0})
	p, tt, ok := pl.IntersectSegment(Vec3{0, 1, 0}, Vec3{4, 1, 0})
	if !ok {
		t.Fatal("expected intersection")
	}
	if abs32(tt-0.5) > 1e-6 || !p.ApproxEqual(Vec3{2, 1, 0}, 1e-6) {
		t.Errorf("got point %v t=%v", p, tt)
	}
	if _, _, ok := pl.IntersectSegment(Vec3{0, 0, 0}, Vec3{1, 0, 0}); ok {
		t.Error("segment ending before the plane should not intersect")
	}
}

func TestRayIntersectAABB(t *testing.T) {
	box := NewAABB(Vec3{1, -1, -1}, Vec3{3, 1, 1})
	r := Ray{Origin: Vec3{0, 0, 0}, Direction: Vec3{1, 0, 0}}
	tt, hit := r.IntersectAABB(box)
	if !hit || tt != 1 {
		t.Errorf("IntersectAABB = %v, %v; want 1, true", tt, hit)
	}

	inside := Ray{Origin: Vec3{2, 0, 0}, Direction: Vec3{1, 0, 0}}
	tt, hit = inside.IntersectAABB(box)
	if !hit || tt != 1 {
		t.Errorf("inside IntersectAABB = %v, %v; want exit distance 1", tt, hit)
	}

	miss := Ray{Origin: Vec3{0, 5, 0}, Direction: Vec3{1, 0, 0}}
	if _, hit := miss.IntersectAABB(box); hit {
		t.Error("expected miss")
	}
}
