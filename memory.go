// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "github.com/saferwall/minidump/rangemap"

// memoryDescriptorSize is the fixed on-disk size of one MDMemoryDescriptor.
const memoryDescriptorSize = 16

// MemoryRegion is a contiguous range of process memory captured in the
// minidump. Its backing bytes are read lazily from the file (§4.2).
type MemoryRegion struct {
	Start uint64
	Size  uint32

	r    *reader
	loc  locationDescriptor
	data []byte
}

func newMemoryRegion(r *reader, start uint64, loc locationDescriptor) (*MemoryRegion, error) {
	return &MemoryRegion{Start: start, Size: loc.DataSize, r: r, loc: loc}, nil
}

func (m *MemoryRegion) bytes() ([]byte, error) {
	if m.data != nil {
		return m.data, nil
	}
	data, err := m.r.RawBytes(m.loc.RVA, m.loc.DataSize)
	if err != nil {
		return nil, err
	}
	m.data = data
	return data, nil
}

// Contains reports whether addr falls within this region.
func (m *MemoryRegion) Contains(addr uint64) bool {
	return addr >= m.Start && addr < m.Start+uint64(m.Size)
}

// ReadMemoryAt implements postfix.MemoryReader, reading wordSize bytes
// at addr into buf. It is how the stackwalker's postfix evaluator and
// EBP-chain fallback dereference stack memory (§4.5).
func (m *MemoryRegion) ReadMemoryAt(addr uint64, buf []byte) error {
	if addr < m.Start {
		return ErrOutOfBounds
	}
	offset := addr - m.Start
	if offset+uint64(len(buf)) > uint64(m.Size) {
		return ErrOutOfBounds
	}
	data, err := m.bytes()
	if err != nil {
		return err
	}
	copy(buf, data[offset:offset+uint64(len(buf))])
	return nil
}

// U32At reads a little-endian uint32 at addr within the region.
func (m *MemoryRegion) U32At(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := m.ReadMemoryAt(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// U64At reads a little-endian uint64 at addr within the region.
func (m *MemoryRegion) U64At(addr uint64) (uint64, error) {
	var buf [8]byte
	if err := m.ReadMemoryAt(addr, buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// MemoryList is the parsed MemoryList stream: the captured regions
// indexed by address range so the walker can find the region backing
// an arbitrary stack address (§3, §4.4).
type MemoryList struct {
	regions []*MemoryRegion
	ranges  *rangemap.Map
}

// Regions returns the captured regions in file order.
func (l *MemoryList) Regions() []*MemoryRegion { return l.regions }

// RegionForAddress returns the region containing addr, if any.
func (l *MemoryList) RegionForAddress(addr uint64) (*MemoryRegion, bool) {
	v, _, _, ok := l.ranges.RetrieveRange(int64(addr))
	if !ok {
		return nil, false
	}
	return v.(*MemoryRegion), true
}

// parseMemoryList parses the MemoryList stream located at loc,
// verifying its declared size and rejecting overlapping regions (§3's
// "non-overlapping" invariant, enforced the same way module ranges are).
func parseMemoryList(md *Minidump, loc locationDescriptor) (*MemoryList, error) {
	r := md.r
	count, err := r.U32(loc.RVA)
	if err != nil {
		return nil, err
	}
	expected := uint64(4) + uint64(count)*uint64(memoryDescriptorSize)
	if uint64(loc.DataSize) != expected {
		return nil, ErrSizeMismatch
	}
	if err := r.bounds64(loc.RVA+4, uint64(count)*uint64(memoryDescriptorSize)); err != nil {
		return nil, err
	}

	list := &MemoryList{
		regions: make([]*MemoryRegion, 0, count),
		ranges:  rangemap.New(),
	}

	offset := loc.RVA + 4
	for i := uint32(0); i < count; i++ {
		start, err := r.U64(offset)
		if err != nil {
			return nil, err
		}
		dataSize, err := r.U32(offset + 8)
		if err != nil {
			return nil, err
		}
		rva, err := r.U32(offset + 12)
		if err != nil {
			return nil, err
		}

		region, err := newMemoryRegion(r, start, locationDescriptor{DataSize: dataSize, RVA: rva})
		if err != nil {
			return nil, err
		}
		if dataSize > 0 {
			if err := list.ranges.StoreRange(int64(start), int64(dataSize), region); err != nil {
				return nil, ErrOverlappingRange
			}
		}
		list.regions = append(list.regions, region)
		offset += memoryDescriptorSize
	}

	return list, nil
}
