// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "github.com/saferwall/minidump/rangemap"

// moduleRawSize is the fixed on-disk size of one MDRawModule record:
// BaseOfImage(8) + SizeOfImage(4) + CheckSum(4) + TimeDateStamp(4) +
// ModuleNameRva(4) + VersionInfo(52, 13 x u32) + CvRecord loc(8) +
// MiscRecord loc(8) + Reserved0(8) + Reserved1(8).
const moduleRawSize = 8 + 4 + 4 + 4 + 4 + 52 + 8 + 8 + 8 + 8

// Module is one entry of the ModuleList stream (§3): a base address,
// size, and lazily-resolved name and debug identity.
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	CheckSum      uint32
	TimeDateStamp uint32

	nameRVA uint32
	cvLoc   locationDescriptor

	md *Minidump

	name  *string
	debug *DebugInfo
}

// Name returns the module's file name, reading it from the string
// table on first access.
func (m *Module) Name() (string, error) {
	if m.name != nil {
		return *m.name, nil
	}
	name, err := m.md.r.ReadString(m.nameRVA)
	if err != nil {
		return "", err
	}
	m.name = &name
	return name, nil
}

// DebugInfo returns the module's CodeView-derived debug identity,
// parsing it from the CvRecord on first access. An unknown CodeView
// signature yields a zero-value DebugInfo rather than an error, since
// a module's debug identity being unresolvable must not prevent the
// rest of the minidump from being processed (§4.3).
func (m *Module) DebugInfo() (DebugInfo, error) {
	if m.debug != nil {
		return *m.debug, nil
	}
	info, err := parseCodeView(m.md.r, m.cvLoc)
	if err != nil && err != ErrUnknownCodeView {
		return DebugInfo{}, err
	}
	m.debug = &info
	return info, nil
}

// Base returns the module's load address, satisfying stackwalk.ModuleInfo.
func (m *Module) Base() uint64 { return m.BaseOfImage }

// DebugName returns the module's file name, or "" if it can't be read.
// The walker uses this (rather than a bare error-returning accessor) as
// both a display name and a symbol-cache key.
func (m *Module) DebugName() string {
	name, err := m.Name()
	if err != nil {
		return ""
	}
	return name
}

// DebugFileName returns the module's CodeView debug file name (the PDB
// base name), or "" if unavailable.
func (m *Module) DebugFileName() string {
	info, err := m.DebugInfo()
	if err != nil {
		return ""
	}
	return info.PDBFileName
}

// DebugIdentifier returns the module's CodeView-derived identifier
// string, or "" if unavailable.
func (m *Module) DebugIdentifier() string {
	info, err := m.DebugInfo()
	if err != nil {
		return ""
	}
	return info.Identifier
}

// ModuleList is the parsed ModuleList stream: modules indexed by
// address range for GetModuleForAddress lookups during stack walking
// (§4.4, grounded in the teacher's RVA-indexed section/import lookups).
type ModuleList struct {
	modules []*Module
	ranges  *rangemap.Map
}

// Modules returns the modules in file order.
func (l *ModuleList) Modules() []*Module { return l.modules }

// ModuleForAddress returns the module whose image range contains addr,
// if any.
func (l *ModuleList) ModuleForAddress(addr uint64) (*Module, bool) {
	v, _, _, ok := l.ranges.RetrieveRange(int64(addr))
	if !ok {
		return nil, false
	}
	return v.(*Module), true
}

// parseModuleList parses the ModuleList stream located at loc,
// verifying its declared size against sizeof(u32) + count*moduleRawSize
// and rejecting modules whose image ranges overlap (§4.2, §3).
func parseModuleList(md *Minidump, loc locationDescriptor) (*ModuleList, error) {
	r := md.r
	count, err := r.U32(loc.RVA)
	if err != nil {
		return nil, err
	}
	expected := uint64(4) + uint64(count)*uint64(moduleRawSize)
	if uint64(loc.DataSize) != expected {
		return nil, ErrSizeMismatch
	}
	if err := r.bounds64(loc.RVA+4, uint64(count)*uint64(moduleRawSize)); err != nil {
		return nil, err
	}

	list := &ModuleList{
		modules: make([]*Module, 0, count),
		ranges:  rangemap.New(),
	}

	offset := loc.RVA + 4
	for i := uint32(0); i < count; i++ {
		mod, err := parseModule(md, offset)
		if err != nil {
			return nil, err
		}
		if mod.SizeOfImage > 0 {
			if err := list.ranges.StoreRange(int64(mod.BaseOfImage), int64(mod.SizeOfImage), mod); err != nil {
				return nil, ErrOverlappingRange
			}
		}
		list.modules = append(list.modules, mod)
		offset += moduleRawSize
	}

	return list, nil
}

func parseModule(md *Minidump, offset uint32) (*Module, error) {
	r := md.r

	base, err := r.U64(offset)
	if err != nil {
		return nil, err
	}
	size, err := r.U32(offset + 8)
	if err != nil {
		return nil, err
	}
	checksum, err := r.U32(offset + 12)
	if err != nil {
		return nil, err
	}
	timeDateStamp, err := r.U32(offset + 16)
	if err != nil {
		return nil, err
	}
	nameRVA, err := r.U32(offset + 20)
	if err != nil {
		return nil, err
	}

	// VersionInfo (52 bytes) is skipped: neither the resolver nor the
	// walker consults it.
	cvOffset := offset + 20 + 4 + 52
	cvDataSize, err := r.U32(cvOffset)
	if err != nil {
		return nil, err
	}
	cvRVA, err := r.U32(cvOffset + 4)
	if err != nil {
		return nil, err
	}

	return &Module{
		BaseOfImage:   base,
		SizeOfImage:   size,
		CheckSum:      checksum,
		TimeDateStamp: timeDateStamp,
		nameRVA:       nameRVA,
		cvLoc:         locationDescriptor{DataSize: cvDataSize, RVA: cvRVA},
		md:            md,
	}, nil
}
