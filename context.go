// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// CPU-type tags carried in the high bits of a context's context_flags.
// A context's low bits additionally select which register groups (e.g.
// "full", "floating point") are present; this reader always requires
// the full register set, matching §4.2's "allocate the matching
// fixed-size register block".
const (
	cpuX86 uint32 = 0x00010000
	cpuPPC uint32 = 0x20000000

	cpuTypeMask uint32 = 0xffff0000
)

// CPUType identifies which variant a Context holds.
type CPUType uint32

// Recognized CPU types. Other values surface as CPUUnknown, for which
// Context.InstructionPointer fails with ErrUnsupportedCPU.
const (
	CPUUnknown CPUType = iota
	CPUX86
	CPUPPC
)

// RegsX86 mirrors MDRawContextX86: the subset of IA-32 CONTEXT that the
// minidump carries for a thread or exception. FloatSave and
// ExtendedRegisters are raw, never-swapped byte blobs (§4.2).
type RegsX86 struct {
	ContextFlags uint32

	DR0, DR1, DR2, DR3, DR6, DR7 uint32

	FloatSave [112]byte // MDRawFloatingSaveArea, opaque

	GS, FS, ES, DS                 uint32
	EDI, ESI, EBX, EDX, ECX, EAX   uint32
	EBP, EIP, CS, EFlags, ESP, SS uint32

	ExtendedRegisters [512]byte // opaque FPU/SSE state
}

const x86ContextSize = 4 + 6*4 + 112 + 4*4 + 6*4 + 6*4 + 512 // 716

// RegsPPC mirrors a reduced MDRawContextPPC: enough of the general and
// special-purpose register file to name a PC, but not the vector/FP
// state the walker never consults (§9: "PPC is read but not walked").
type RegsPPC struct {
	ContextFlags uint32
	SRR0         uint32 // program counter
	SRR1         uint32
	GPR          [32]uint32
	CR           uint32
	XER          uint32
	LR           uint32
	CTR          uint32
	MQ           uint32
	VRSave       uint32

	FPUAndVectorState [780]byte // opaque: fpr[32] + fpscr + vector state
}

const ppcContextSize = 4 + 4 + 4 + 32*4 + 4*6 + 780

// Context is the tagged union described in §9's design notes: one CPU
// type tag and exactly one populated register variant.
type Context struct {
	CPU CPUType
	X86 *RegsX86
	PPC *RegsPPC
}

// InstructionPointer returns the context's program counter, used to
// build frame 0 (§4.5 GetContextFrame).
func (c *Context) InstructionPointer() (uint64, error) {
	switch c.CPU {
	case CPUX86:
		return uint64(c.X86.EIP), nil
	case CPUPPC:
		return uint64(c.PPC.SRR0), nil
	default:
		return 0, ErrUnsupportedCPU
	}
}

// parseContext reads a Context at offset, whose declared size is size.
// It reads context_flags first to identify the CPU type, then the
// matching fixed-size register block, cross-checking against
// systemCPU when systemCPU is not CPUUnknown (§4.2: "cross-check the
// architecture against the minidump's system-info CPU").
func parseContext(r *reader, offset, size uint32, systemCPU CPUType) (*Context, error) {
	flags, err := r.U32(offset)
	if err != nil {
		return nil, err
	}
	cpuTag := flags & cpuTypeMask

	switch cpuTag {
	case cpuX86:
		if size < x86ContextSize {
			return nil, ErrSizeMismatch
		}
		if systemCPU != CPUUnknown && systemCPU != CPUX86 {
			return nil, ErrUnsupportedCPU
		}
		regs, err := parseRegsX86(r, offset)
		if err != nil {
			return nil, err
		}
		return &Context{CPU: CPUX86, X86: regs}, nil

	case cpuPPC:
		if size < ppcContextSize {
			return nil, ErrSizeMismatch
		}
		if systemCPU != CPUUnknown && systemCPU != CPUPPC {
			return nil, ErrUnsupportedCPU
		}
		regs, err := parseRegsPPC(r, offset)
		if err != nil {
			return nil, err
		}
		return &Context{CPU: CPUPPC, PPC: regs}, nil

	default:
		return nil, ErrUnsupportedCPU
	}
}

func parseRegsX86(r *reader, base uint32) (*RegsX86, error) {
	regs := &RegsX86{}
	off := base

	u32 := func() (uint32, error) {
		v, err := r.U32(off)
		off += 4
		return v, err
	}

	var err error
	if regs.ContextFlags, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR0, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR1, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR2, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR3, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR6, err = u32(); err != nil {
		return nil, err
	}
	if regs.DR7, err = u32(); err != nil {
		return nil, err
	}

	floatSave, err := r.RawBytes(off, 112)
	if err != nil {
		return nil, err
	}
	copy(regs.FloatSave[:], floatSave)
	off += 112

	for _, field := range []*uint32{&regs.GS, &regs.FS, &regs.ES, &regs.DS,
		&regs.EDI, &regs.ESI, &regs.EBX, &regs.EDX, &regs.ECX, &regs.EAX,
		&regs.EBP, &regs.EIP, &regs.CS, &regs.EFlags, &regs.ESP, &regs.SS} {
		v, err := u32()
		if err != nil {
			return nil, err
		}
		*field = v
	}

	ext, err := r.RawBytes(off, 512)
	if err != nil {
		return nil, err
	}
	copy(regs.ExtendedRegisters[:], ext)

	return regs, nil
}

func parseRegsPPC(r *reader, base uint32) (*RegsPPC, error) {
	regs := &RegsPPC{}
	off := base

	u32 := func() (uint32, error) {
		v, err := r.U32(off)
		off += 4
		return v, err
	}

	var err error
	if regs.ContextFlags, err = u32(); err != nil {
		return nil, err
	}
	if regs.SRR0, err = u32(); err != nil {
		return nil, err
	}
	if regs.SRR1, err = u32(); err != nil {
		return nil, err
	}
	for i := range regs.GPR {
		if regs.GPR[i], err = u32(); err != nil {
			return nil, err
		}
	}
	if regs.CR, err = u32(); err != nil {
		return nil, err
	}
	if regs.XER, err = u32(); err != nil {
		return nil, err
	}
	if regs.LR, err = u32(); err != nil {
		return nil, err
	}
	if regs.CTR, err = u32(); err != nil {
		return nil, err
	}
	if regs.MQ, err = u32(); err != nil {
		return nil, err
	}
	if regs.VRSave, err = u32(); err != nil {
		return nil, err
	}

	rest, err := r.RawBytes(off, 780)
	if err != nil {
		return nil, err
	}
	copy(regs.FPUAndVectorState[:], rest)

	return regs, nil
}
