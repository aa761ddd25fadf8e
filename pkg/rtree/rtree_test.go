package rtree

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"
)

func box(x, y, z, size float32) ([3]float32, [3]float32) {
	return [3]float32{x, y, z}, [3]float32{x + size, y + size, z + size}
}

func everything() ([3]float32, [3]float32) {
	return [3]float32{-1e6, -1e6, -1e6}, [3]float32{1e6, 1e6, 1e6}
}

func fill(t *testing.T, tr *Tree[int], n int) [][2][3]float32 {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	bounds := make([][2][3]float32, n)
	for i := 0; i < n; i++ {
		lo, hi := box(rng.Float32()*100, rng.Float32()*100, rng.Float32()*100, 1+rng.Float32()*3)
		bounds[i] = [2][3]float32{lo, hi}
		if err := tr.Insert(lo, hi, i); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	return bounds
}

func TestTree_RoundTrip(t *testing.T) {
	tr := New[int]()
	const n = 500
	bounds := fill(t, tr, n)

	if tr.Len() != n {
		t.Fatalf("Len() = %d, want %d", tr.Len(), n)
	}
	if tr.Height() < 3 {
		t.Errorf("Height() = %d, expected a multi-level tree", tr.Height())
	}

	lo, hi := everything()
	got := tr.Collect(lo, hi)
	if len(got) != n {
		t.Fatalf("Collect returned %d items, want %d", len(got), n)
	}
	seen := make(map[int]int)
	for _, v := range got {
		seen[v]++
	}
	for i := 0; i < n; i++ {
		if seen[i] != 1 {
			t.Errorf("item %d seen %d times", i, seen[i])
		}
	}

	if !tr.Remove(bounds[42][0], bounds[42][1], 42) {
		t.Fatal("Remove(42) = false")
	}
	for _, v := range tr.Collect(lo, hi) {
		if v == 42 {
			t.Fatal("removed item still returned")
		}
	}
	if tr.Len() != n-1 {
		t.Errorf("Len() = %d after remove, want %d", tr.Len(), n-1)
	}
}

func TestTree_RemoveRequiresExactBounds(t *testing.T) {
	tr := New[int]()
	lo, hi := box(0, 0, 0, 1)
	if err := tr.Insert(lo, hi, 7); err != nil {
		t.Fatal(err)
	}
	lo2, hi2 := box(0, 0, 0, 2)
	if tr.Remove(lo2, hi2, 7) {
		t.Error("Remove with different bounds succeeded")
	}
	if tr.Remove(lo, hi, 8) {
		t.Error("Remove with different payload succeeded")
	}
	if !tr.Remove(lo, hi, 7) {
		t.Error("Remove with exact triple failed")
	}
	if _, ok := tr.Bounds(); ok {
		t.Error("empty tree reports bounds")
	}
}

func TestTree_RemoveAllCondenses(t *testing.T) {
	tr := New[int](WithFanout(4, 2))
	bounds := fill(t, tr, 200)
	rng := rand.New(rand.NewPCG(5, 6))
	order := rng.Perm(len(bounds))
	for k, i := range order {
		if !tr.Remove(bounds[i][0], bounds[i][1], i) {
			t.Fatalf("Remove(%d) failed", i)
		}
		if k%37 == 0 {
			lo, hi := everything()
			if got := len(tr.Collect(lo, hi)); got != tr.Len() {
				t.Fatalf("after %d removals Collect=%d Len=%d", k+1, got, tr.Len())
			}
		}
	}
	if tr.Len() != 0 || tr.Height() != 1 {
		t.Errorf("Len=%d Height=%d after removing everything", tr.Len(), tr.Height())
	}
}

func TestTree_Capacity(t *testing.T) {
	tr := New[int](WithCapacity(3))
	for i := 0; i < 3; i++ {
		lo, hi := box(float32(i), 0, 0, 1)
		if err := tr.Insert(lo, hi, i); err != nil {
			t.Fatal(err)
		}
	}
	lo, hi := box(9, 0, 0, 1)
	if err := tr.Insert(lo, hi, 9); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Insert beyond capacity: err = %v, want ErrCapacity", err)
	}
	all1, all2 := everything()
	if got := tr.Collect(all1, all2); len(got) != 3 {
		t.Errorf("tree changed by failed insert: %v", got)
	}
}

func TestTree_Search(t *testing.T) {
	tr := New[string]()
	items := []struct {
		name string
		x    float32
	}{
		{"a", 0}, {"b", 10}, {"c", 20}, {"d", 30},
	}
	for _, it := range items {
		lo, hi := box(it.x, 0, 0, 1)
		if err := tr.Insert(lo, hi, it.name); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		lo, hi [3]float32
		want   []string
	}{
		{"none", [3]float32{2, 0, 0}, [3]float32{9, 1, 1}, nil},
		{"one", [3]float32{9.5, 0, 0}, [3]float32{10.5, 1, 1}, []string{"b"}},
		{"touching", [3]float32{1, 0, 0}, [3]float32{10, 1, 1}, []string{"a", "b"}},
		{"range", [3]float32{5, 0, 0}, [3]float32{25, 1, 1}, []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Collect(tt.lo, tt.hi)
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestTree_RaySearch(t *testing.T) {
	tr := New[int]()
	// A row of boxes along +X at y=0 and one off-axis box.
	for i := 0; i < 5; i++ {
		lo, hi := box(float32(i*10), -0.5, -0.5, 1)
		if err := tr.Insert(lo, hi, i); err != nil {
			t.Fatal(err)
		}
	}
	lo, hi := box(20, 10, 0, 1)
	if err := tr.Insert(lo, hi, 99); err != nil {
		t.Fatal(err)
	}

	var got []int
	tr.RaySearch([3]float32{-5, 0, 0}, [3]float32{1, 0, 0}, 30, false, func(v int) bool {
		got = append(got, v)
		return true
	})
	sort.Ints(got)
	want := []int{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("RaySearch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RaySearch = %v, want %v", got, want)
		}
	}

	// With leaf bounds skipped the off-axis box shares the single leaf and is reported too.
	var skipped []int
	tr.RaySearch([3]float32{-5, 0, 0}, [3]float32{1, 0, 0}, 30, true, func(v int) bool {
		skipped = append(skipped, v)
		return true
	})
	if len(skipped) < len(got) {
		t.Errorf("skipLeafBounds reported fewer items (%d) than exact search (%d)", len(skipped), len(got))
	}
}

func TestTree_RayNearestSearch(t *testing.T) {
	tr := New[int]()
	xs := []float32{40, 10, 30, 20}
	for i, x := range xs {
		lo, hi := box(x, -1, -1, 2)
		if err := tr.Insert(lo, hi, i); err != nil {
			t.Fatal(err)
		}
	}
	hit := func(i int) (float32, bool) { return xs[i], true }

	item, d, ok := tr.RayNearestSearch([3]float32{0, 0, 0}, [3]float32{1, 0, 0}, 100, hit, nil)
	if !ok || item != 1 || d != 10 {
		t.Errorf("nearest = (%d, %v, %v), want (1, 10, true)", item, d, ok)
	}

	_, _, ok = tr.RayNearestSearch([3]float32{0, 0, 0}, [3]float32{1, 0, 0}, 5, hit, nil)
	if ok {
		t.Error("hit reported beyond maxT")
	}

	_, _, ok = tr.RayNearestSearch([3]float32{0, 5, 0}, [3]float32{1, 0, 0}, 100, hit, nil)
	if ok {
		t.Error("hit reported for a ray missing every box")
	}
}

func TestTree_HalfSpaceSearch(t *testing.T) {
	tr := New[int]()
	for i := 0; i < 10; i++ {
		lo, hi := box(float32(i), 0, 0, 0.5)
		if err := tr.Insert(lo, hi, i); err != nil {
			t.Fatal(err)
		}
	}
	// x >= 4.2 and -x >= -7 (x <= 7).
	planes := []HalfSpace{
		{N: [3]float32{1, 0, 0}, D: 4.2},
		{N: [3]float32{-1, 0, 0}, D: -7},
	}
	var got []int
	tr.HalfSpaceSearch(planes, func(v int) bool {
		got = append(got, v)
		return true
	})
	sort.Ints(got)
	want := []int{4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("HalfSpaceSearch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("HalfSpaceSearch = %v, want %v", got, want)
		}
	}
}
