// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// threadRawSize is the fixed on-disk size of one MDRawThread record:
// ThreadId(4) + SuspendCount(4) + PriorityClass(4) + Priority(4) +
// Teb(8) + Stack memoryDescriptor(16) + ThreadContext locationDescriptor(8).
const threadRawSize = 4 + 4 + 4 + 4 + 8 + 16 + 8

// Thread is one entry of the ThreadList stream (§3). Its MemoryRegion
// and Context are materialized lazily on first access, mirroring the
// minidump reader's "parse the fixed record eagerly, resolve payloads
// lazily" design (§4.2).
type Thread struct {
	ThreadID      uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	TEB           uint64

	stackStart uint64
	stackMem   locationDescriptor
	contextLoc locationDescriptor

	md *Minidump

	memory  *MemoryRegion
	context *Context
}

// Stack returns the thread's stack memory region, reading and caching
// it from the minidump file on first call.
func (t *Thread) Stack() (*MemoryRegion, error) {
	if t.memory != nil {
		return t.memory, nil
	}
	region, err := newMemoryRegion(t.md.r, t.stackStart, t.stackMem)
	if err != nil {
		return nil, err
	}
	t.memory = region
	return t.memory, nil
}

// Context returns the thread's saved CPU context, reading and caching
// it from the minidump file on first call.
func (t *Thread) Context() (*Context, error) {
	if t.context != nil {
		return t.context, nil
	}
	ctx, err := parseContext(t.md.r, t.contextLoc.RVA, t.contextLoc.DataSize, t.md.systemCPU())
	if err != nil {
		return nil, err
	}
	t.context = ctx
	return t.context, nil
}

// ThreadList is the parsed ThreadList stream: an ordered sequence of
// Thread plus a thread-id index (§3: "keys unique").
type ThreadList struct {
	threads []*Thread
	byID    map[uint32]int
}

// Threads returns the threads in file order.
func (l *ThreadList) Threads() []*Thread { return l.threads }

// ByID returns the thread with the given id, if any.
func (l *ThreadList) ByID(id uint32) (*Thread, bool) {
	i, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	return l.threads[i], true
}

// parseThreadList parses the ThreadList stream located at loc. §4.2
// requires every stream parser to verify the declared size exactly
// matches the fixed-or-computed expected size: here, sizeof(u32) plus
// count * threadRawSize.
func parseThreadList(md *Minidump, loc locationDescriptor) (*ThreadList, error) {
	r := md.r
	count, err := r.U32(loc.RVA)
	if err != nil {
		return nil, err
	}
	expected := uint64(4) + uint64(count)*uint64(threadRawSize)
	if uint64(loc.DataSize) != expected {
		return nil, ErrSizeMismatch
	}
	if err := r.bounds64(loc.RVA+4, uint64(count)*uint64(threadRawSize)); err != nil {
		return nil, err
	}

	list := &ThreadList{
		threads: make([]*Thread, 0, count),
		byID:    make(map[uint32]int, count),
	}

	offset := loc.RVA + 4
	for i := uint32(0); i < count; i++ {
		th, err := parseThread(md, offset)
		if err != nil {
			return nil, err
		}
		if _, exists := list.byID[th.ThreadID]; exists {
			return nil, ErrDuplicateThreadID
		}
		list.byID[th.ThreadID] = len(list.threads)
		list.threads = append(list.threads, th)
		offset += threadRawSize
	}

	return list, nil
}

func parseThread(md *Minidump, offset uint32) (*Thread, error) {
	r := md.r

	threadID, err := r.U32(offset)
	if err != nil {
		return nil, err
	}
	suspendCount, err := r.U32(offset + 4)
	if err != nil {
		return nil, err
	}
	priorityClass, err := r.U32(offset + 8)
	if err != nil {
		return nil, err
	}
	priority, err := r.U32(offset + 12)
	if err != nil {
		return nil, err
	}
	teb, err := r.U64(offset + 16)
	if err != nil {
		return nil, err
	}

	stackStart, err := r.U64(offset + 24)
	if err != nil {
		return nil, err
	}
	stackDataSize, err := r.U32(offset + 32)
	if err != nil {
		return nil, err
	}
	stackRVA, err := r.U32(offset + 36)
	if err != nil {
		return nil, err
	}

	ctxDataSize, err := r.U32(offset + 40)
	if err != nil {
		return nil, err
	}
	ctxRVA, err := r.U32(offset + 44)
	if err != nil {
		return nil, err
	}

	return &Thread{
		ThreadID:      threadID,
		SuspendCount:  suspendCount,
		PriorityClass: priorityClass,
		Priority:      priority,
		TEB:           teb,
		stackStart:    stackStart,
		stackMem:      locationDescriptor{DataSize: stackDataSize, RVA: stackRVA},
		contextLoc:    locationDescriptor{DataSize: ctxDataSize, RVA: ctxRVA},
		md:            md,
	}, nil
}
