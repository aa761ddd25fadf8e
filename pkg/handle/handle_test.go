package handle

import "testing"

func TestPoolInsertGet(t *testing.T) {
	var p Pool[string]
	a := p.Insert("a")
	b := p.Insert("b")

	if v, ok := p.Get(a); !ok || v != "a" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if v, ok := p.Get(b); !ok || v != "b" {
		t.Errorf("Get(b) = %q, %v", v, ok)
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	if _, ok := p.Get(Handle{}); ok {
		t.Error("zero handle must not resolve")
	}
}

func TestPoolStaleHandle(t *testing.T) {
	var p Pool[int]
	h := p.Insert(1)
	if !p.Remove(h) {
		t.Fatal("Remove of live handle returned false")
	}
	if p.Remove(h) {
		t.Error("second Remove should return false")
	}
	reused := p.Insert(2)
	if reused.Index() != h.Index() {
		t.Errorf("slot should be reused: got %d want %d", reused.Index(), h.Index())
	}
	if _, ok := p.Get(h); ok {
		t.Error("stale handle resolved after slot reuse")
	}
	if v, ok := p.Get(reused); !ok || v != 2 {
		t.Errorf("Get(reused) = %d, %v", v, ok)
	}
}

func TestPoolEachOrder(t *testing.T) {
	var p Pool[int]
	hs := make([]Handle, 5)
	for i := range hs {
		hs[i] = p.Insert(i)
	}
	p.Remove(hs[1])
	p.Remove(hs[3])
	p.Insert(10) // lands in slot 1

	var got []int
	p.Each(func(_ Handle, v int) bool {
		got = append(got, v)
		return true
	})
	want := []int{0, 10, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("Each visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Each visited %v, want %v", got, want)
		}
	}

	p.Clear()
	if p.Len() != 0 {
		t.Errorf("Len after Clear = %d", p.Len())
	}
}
