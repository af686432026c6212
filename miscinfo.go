// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// miscInfoBaseSize is the fixed size of the MDRawMiscInfo base fields:
// SizeOfInfo(4) + Flags1(4) + ProcessId(4) + ProcessCreateTime(4) +
// ProcessUserTime(4) + ProcessKernelTime(4).
const miscInfoBaseSize = 24

// miscInfoExtendedSize is the size of the optional processor-frequency
// extension (ProcessorMaxMhz, ProcessorCurrentMhz, ProcessorMhzLimit,
// ProcessorMaxIdleState, ProcessorCurrentIdleState, each u32).
const miscInfoExtendedSize = 20

// MiscInfo is the parsed MiscInfo stream (§3): process identity and
// timing, with an optional processor-frequency extension gated on the
// stream's declared size (§4.2).
type MiscInfo struct {
	ProcessID         uint32
	ProcessCreateTime uint32
	ProcessUserTime   uint32
	ProcessKernelTime uint32

	HasProcessorPower        bool
	ProcessorMaxMhz          uint32
	ProcessorCurrentMhz      uint32
	ProcessorMhzLimit        uint32
	ProcessorMaxIdleState    uint32
	ProcessorCurrentIdleState uint32
}

// parseMiscInfo parses the MiscInfo stream located at loc. The stream
// always carries at least the base fields; the extended
// processor-frequency block is present only when the stream's declared
// size is large enough to hold it.
func parseMiscInfo(md *Minidump, loc locationDescriptor) (*MiscInfo, error) {
	if loc.DataSize < miscInfoBaseSize {
		return nil, ErrSizeMismatch
	}
	r := md.r

	// flags1 at +4 is not consulted: this reader infers which optional
	// fields are present from the declared size rather than the flag
	// bits, matching how callers that only have a truncated capture
	// still get the base fields.
	processID, err := r.U32(loc.RVA + 8)
	if err != nil {
		return nil, err
	}
	createTime, err := r.U32(loc.RVA + 12)
	if err != nil {
		return nil, err
	}
	userTime, err := r.U32(loc.RVA + 16)
	if err != nil {
		return nil, err
	}
	kernelTime, err := r.U32(loc.RVA + 20)
	if err != nil {
		return nil, err
	}

	info := &MiscInfo{
		ProcessID:         processID,
		ProcessCreateTime: createTime,
		ProcessUserTime:   userTime,
		ProcessKernelTime: kernelTime,
	}

	if loc.DataSize >= miscInfoBaseSize+miscInfoExtendedSize {
		extOffset := loc.RVA + miscInfoBaseSize
		maxMhz, err := r.U32(extOffset)
		if err != nil {
			return nil, err
		}
		curMhz, err := r.U32(extOffset + 4)
		if err != nil {
			return nil, err
		}
		mhzLimit, err := r.U32(extOffset + 8)
		if err != nil {
			return nil, err
		}
		maxIdle, err := r.U32(extOffset + 12)
		if err != nil {
			return nil, err
		}
		curIdle, err := r.U32(extOffset + 16)
		if err != nil {
			return nil, err
		}

		info.HasProcessorPower = true
		info.ProcessorMaxMhz = maxMhz
		info.ProcessorCurrentMhz = curMhz
		info.ProcessorMhzLimit = mhzLimit
		info.ProcessorMaxIdleState = maxIdle
		info.ProcessorCurrentIdleState = curIdle
	}

	return info, nil
}
