// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// exceptionStreamSize is the fixed on-disk size of the Exception
// stream: ThreadId(4) + alignment(4) + ExceptionRecord(152) +
// ThreadContext locationDescriptor(8).
const exceptionStreamSize = 4 + 4 + 152 + 8

// exceptionRecordMaxParams is the fixed arity of MDException's
// ExceptionInformation array.
const exceptionRecordMaxParams = 15

// Exception is the parsed Exception stream (§3): which thread raised
// the fault, the raw exception code/flags, the faulting address, and
// the context captured at the instant of the fault.
type Exception struct {
	ThreadID uint32

	ExceptionCode     uint32
	ExceptionFlags    uint32
	ExceptionAddress  uint64
	NumberParameters  uint32
	ExceptionInfo     [exceptionRecordMaxParams]uint64

	contextLoc locationDescriptor
	md         *Minidump
	context    *Context
}

// Context returns the CPU context captured at the moment of the
// exception, reading and caching it on first access. This is frame 0
// of the crashing thread's walk (§4.5).
func (e *Exception) Context() (*Context, error) {
	if e.context != nil {
		return e.context, nil
	}
	ctx, err := parseContext(e.md.r, e.contextLoc.RVA, e.contextLoc.DataSize, e.md.systemCPU())
	if err != nil {
		return nil, err
	}
	e.context = ctx
	return e.context, nil
}

// parseException parses the Exception stream located at loc.
func parseException(md *Minidump, loc locationDescriptor) (*Exception, error) {
	if loc.DataSize != exceptionStreamSize {
		return nil, ErrSizeMismatch
	}
	r := md.r

	threadID, err := r.U32(loc.RVA)
	if err != nil {
		return nil, err
	}

	recordOffset := loc.RVA + 8
	code, err := r.U32(recordOffset)
	if err != nil {
		return nil, err
	}
	flags, err := r.U32(recordOffset + 4)
	if err != nil {
		return nil, err
	}
	// recordOffset+8: chained ExceptionRecord pointer (u64), unused here.
	address, err := r.U64(recordOffset + 16)
	if err != nil {
		return nil, err
	}
	numParams, err := r.U32(recordOffset + 24)
	if err != nil {
		return nil, err
	}
	if numParams > exceptionRecordMaxParams {
		numParams = exceptionRecordMaxParams
	}

	var info [exceptionRecordMaxParams]uint64
	paramsOffset := recordOffset + 32 // +4 alignment padding before the array
	for i := uint32(0); i < exceptionRecordMaxParams; i++ {
		v, err := r.U64(paramsOffset + i*8)
		if err != nil {
			return nil, err
		}
		info[i] = v
	}

	ctxLocOffset := loc.RVA + 8 + 152
	ctxDataSize, err := r.U32(ctxLocOffset)
	if err != nil {
		return nil, err
	}
	ctxRVA, err := r.U32(ctxLocOffset + 4)
	if err != nil {
		return nil, err
	}

	return &Exception{
		ThreadID:         threadID,
		ExceptionCode:    code,
		ExceptionFlags:   flags,
		ExceptionAddress: address,
		NumberParameters: numParams,
		ExceptionInfo:    info,
		contextLoc:       locationDescriptor{DataSize: ctxDataSize, RVA: ctxRVA},
		md:               md,
	}, nil
}
