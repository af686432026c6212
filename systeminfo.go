// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// systemInfoSize is the fixed on-disk size of the SystemInfo stream:
// ProcessorArchitecture(2) + ProcessorLevel(2) + ProcessorRevision(2) +
// NumberOfProcessors(1) + ProductType(1) + MajorVersion(4) +
// MinorVersion(4) + BuildNumber(4) + PlatformId(4) + CSDVersionRva(4) +
// SuiteMask(2) + Reserved2(2) + CPU info union(24).
const systemInfoSize = 2 + 2 + 2 + 1 + 1 + 4 + 4 + 4 + 4 + 4 + 2 + 2 + 24

// Processor architecture tags (MD_CPU_ARCHITECTURE_*), used to resolve
// the expected Context variant independent of the context_flags tag
// carried by each thread's own saved registers (§4.2 cross-check).
const (
	archX86   uint16 = 0
	archPPC   uint16 = 3
	archOther uint16 = 0xffff
)

// SystemInfo is the parsed SystemInfo stream (§3): the producing
// machine's CPU and OS identity.
type SystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            uint32
	CSDVersion            string
}

// CPUType maps the stream's processor architecture tag to the
// stackwalker's CPUType, defaulting to CPUUnknown for anything this
// reader doesn't recognize.
func (s *SystemInfo) CPUType() CPUType {
	switch s.ProcessorArchitecture {
	case archX86:
		return CPUX86
	case archPPC:
		return CPUPPC
	default:
		return CPUUnknown
	}
}

// parseSystemInfo parses the SystemInfo stream located at loc.
func parseSystemInfo(md *Minidump, loc locationDescriptor) (*SystemInfo, error) {
	if loc.DataSize != systemInfoSize {
		return nil, ErrSizeMismatch
	}
	r := md.r

	arch, err := r.U16(loc.RVA)
	if err != nil {
		return nil, err
	}
	level, err := r.U16(loc.RVA + 2)
	if err != nil {
		return nil, err
	}
	revision, err := r.U16(loc.RVA + 4)
	if err != nil {
		return nil, err
	}
	numProcessors, err := r.U8(loc.RVA + 6)
	if err != nil {
		return nil, err
	}
	productType, err := r.U8(loc.RVA + 7)
	if err != nil {
		return nil, err
	}
	majorVersion, err := r.U32(loc.RVA + 8)
	if err != nil {
		return nil, err
	}
	minorVersion, err := r.U32(loc.RVA + 12)
	if err != nil {
		return nil, err
	}
	buildNumber, err := r.U32(loc.RVA + 16)
	if err != nil {
		return nil, err
	}
	platformID, err := r.U32(loc.RVA + 20)
	if err != nil {
		return nil, err
	}
	csdVersionRVA, err := r.U32(loc.RVA + 24)
	if err != nil {
		return nil, err
	}

	var csdVersion string
	if csdVersionRVA != 0 {
		csdVersion, err = r.ReadString(csdVersionRVA)
		if err != nil {
			return nil, err
		}
	}

	return &SystemInfo{
		ProcessorArchitecture: arch,
		ProcessorLevel:        level,
		ProcessorRevision:     revision,
		NumberOfProcessors:    numProcessors,
		ProductType:           productType,
		MajorVersion:          majorVersion,
		MinorVersion:          minorVersion,
		BuildNumber:           buildNumber,
		PlatformID:            platformID,
		CSDVersion:            csdVersion,
	}, nil
}
