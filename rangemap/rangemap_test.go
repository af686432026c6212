package rangemap

import "testing"

func TestBoundaryScenario(t *testing.T) {
	m := New()

	if err := m.StoreRange(10, 10, "A"); err != nil {
		t.Fatalf("StoreRange(10,10,A) = %v, want nil", err)
	}
	if err := m.StoreRange(20, 1, "B"); err != nil {
		t.Fatalf("StoreRange(20,1,B) = %v, want nil", err)
	}

	tests := []struct {
		addr  int64
		want  interface{}
		found bool
	}{
		{9, nil, false},
		{10, "A", true},
		{19, "A", true},
		{20, "B", true},
		{21, nil, false},
	}
	for _, tt := range tests {
		got, _, _, ok := m.RetrieveRange(tt.addr)
		if ok != tt.found || got != tt.want {
			t.Errorf("RetrieveRange(%d) = (%v, %v), want (%v, %v)", tt.addr, got, ok, tt.want, tt.found)
		}
	}

	if err := m.StoreRange(19, 2, "C"); err != ErrOverlap {
		t.Errorf("StoreRange(19,2,C) = %v, want ErrOverlap", err)
	}
	if _, _, _, ok := m.RetrieveRange(19); !ok {
		t.Errorf("overlap attempt should have left the map unchanged")
	}
}

func TestEdgeToEdgeAllowed(t *testing.T) {
	m := New()
	if err := m.StoreRange(0, 10, "A"); err != nil {
		t.Fatalf("StoreRange(0,10,A) = %v", err)
	}
	if err := m.StoreRange(10, 5, "B"); err != nil {
		t.Errorf("edge-to-edge StoreRange(10,5,B) = %v, want nil", err)
	}
}

func TestInvalidRange(t *testing.T) {
	m := New()
	if err := m.StoreRange(0, 0, "A"); err != ErrInvalidRange {
		t.Errorf("size 0: got %v, want ErrInvalidRange", err)
	}
	if err := m.StoreRange(0, -1, "A"); err != ErrInvalidRange {
		t.Errorf("negative size: got %v, want ErrInvalidRange", err)
	}
}

func TestClear(t *testing.T) {
	m := New()
	_ = m.StoreRange(0, 5, "A")
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
	if _, _, _, ok := m.RetrieveRange(0); ok {
		t.Errorf("RetrieveRange after Clear should miss")
	}
}

func TestNonOverlapInvariant(t *testing.T) {
	m := New()
	ranges := []struct {
		base, size int64
	}{
		{0, 5}, {5, 5}, {3, 4}, {100, 10}, {95, 10}, {10, 90},
	}
	for _, r := range ranges {
		_ = m.StoreRange(r.base, r.size, r.base)
	}
	// Verify pairwise disjointness of whatever got stored.
	for i := 0; i < m.Len(); i++ {
		_, base1, size1, _ := m.RetrieveRange(int64(m.entries[i].base))
		high1 := base1 + size1 - 1
		for j := i + 1; j < m.Len(); j++ {
			base2 := m.entries[j].base
			high2 := m.entries[j].high
			if base2 <= high1 && base1 <= high2 {
				t.Fatalf("ranges %d and %d overlap", i, j)
			}
		}
	}
}
