// Package rangemap implements an ordered, non-overlapping interval store
// keyed by address range: StoreRange(base, size, value), RetrieveRange(addr).
//
// It is the address-lookup structure the minidump reader uses for the
// module list (address -> owning module) and the memory list (address ->
// owning region), and that the symbol file resolver uses for public
// symbols (address -> nearest preceding public, clamped by the next one).
package rangemap

import (
	"errors"
	"math"
	"sort"
)

// ErrInvalidRange is returned by StoreRange when size is non-positive or
// base+size-1 overflows the signed range of the key space.
var ErrInvalidRange = errors.New("rangemap: invalid range")

// ErrOverlap is returned by StoreRange when the new range overlaps an
// already-stored range.
var ErrOverlap = errors.New("rangemap: overlapping range")

// entry is one stored range: [base, base+size-1], keyed externally by its
// high address.
type entry struct {
	base  int64
	high  int64
	value interface{}
}

// Map is an ordered map from disjoint [base, base+size) ranges to values.
// The zero value is ready to use. Map is not safe for concurrent writers;
// concurrent readers are fine once writes have stopped, matching the
// single-threaded contract of the minidump reader (see package minidump).
type Map struct {
	// entries is kept sorted by high address so RetrieveRange can binary
	// search it; this mirrors the reference's std::map<AddrType, Range>
	// keyed by the high end of each range.
	entries []entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

// StoreRange records that [base, base+size) maps to value. It fails,
// leaving the map unchanged, if size <= 0, if base+size-1 overflows the
// signed int64 range, or if the new range overlaps any existing one.
// Edge-to-edge ranges (prev.high+1 == next.base) are allowed.
func (m *Map) StoreRange(base int64, size int64, value interface{}) error {
	if size <= 0 {
		return ErrInvalidRange
	}

	high, ok := addHigh(base, size)
	if !ok {
		return ErrInvalidRange
	}

	i := m.lowerBound(base)
	if i < len(m.entries) {
		// m.entries[i] is the first stored range whose high address is
		// >= base. It overlaps the new range unless it starts strictly
		// after the new range ends.
		if m.entries[i].base <= high {
			return ErrOverlap
		}
	}

	m.entries = append(m.entries, entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry{base: base, high: high, value: value}
	return nil
}

// RetrieveRange returns the value, base and size of the stored range
// containing addr, and true, or false if no stored range contains addr.
func (m *Map) RetrieveRange(addr int64) (value interface{}, base int64, size int64, ok bool) {
	i := m.lowerBound(addr)
	if i >= len(m.entries) {
		return nil, 0, 0, false
	}
	e := m.entries[i]
	if addr < e.base {
		return nil, 0, 0, false
	}
	return e.value, e.base, e.high - e.base + 1, true
}

// Clear removes every stored range.
func (m *Map) Clear() {
	m.entries = nil
}

// Len reports the number of stored ranges.
func (m *Map) Len() int {
	return len(m.entries)
}

// lowerBound returns the index of the first entry whose high address is
// >= addr, or len(m.entries) if none qualifies.
func (m *Map) lowerBound(addr int64) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].high >= addr
	})
}

// addHigh computes base+size-1 and reports whether that overflows the
// signed int64 range. The reference RangeMap behaves as if its keys were
// signed even when the underlying type is an unsigned address; callers
// that need a wider or narrower key width should clamp base/size before
// calling StoreRange.
func addHigh(base, size int64) (int64, bool) {
	if size > 0 && base > math.MaxInt64-size+1 {
		return 0, false
	}
	high := base + size - 1
	if high < base {
		return 0, false
	}
	return high, true
}
