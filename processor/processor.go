// Package processor is the thin façade tying the minidump reader, the
// text symbol resolver, and the stackwalker together: Process opens a
// minidump, picks the thread to walk, and returns its annotated call
// stack.
package processor

import (
	"errors"

	"github.com/saferwall/minidump"
	"github.com/saferwall/minidump/stackwalk"
	"github.com/saferwall/minidump/symfile"
)

// ErrUnsupportedCPU is returned when the crashing thread's context is
// not x86; the in-tree walker only implements x86 (§9).
var ErrUnsupportedCPU = errors.New("processor: unsupported CPU architecture")

// ErrNoThreads is returned when the minidump's thread list is empty,
// leaving nothing to walk even as a thread-0 fallback, and when the
// thread list has no thread with the id the Exception stream names.
var ErrNoThreads = errors.New("processor: minidump has no threads")

// CallStack is the result of walking one thread.
type CallStack struct {
	ThreadID uint32
	Frames   []stackwalk.StackFrame
}

// Process opens the minidump at path, walks the thread named by its
// Exception stream (or thread 0 when no exception was recorded,
// mirroring the reference processor's fallback), and returns the
// annotated call stack.
func Process(path string, supplier stackwalk.SymbolSupplier) (*CallStack, error) {
	md, err := minidump.Open(path)
	if err != nil {
		return nil, err
	}
	defer md.Close()

	threads, err := md.GetThreadList()
	if err != nil {
		return nil, err
	}
	modules, err := md.GetModuleList()
	if err != nil {
		return nil, err
	}

	thread, ctx, err := pickCrashingThread(md, threads)
	if err != nil {
		return nil, err
	}

	if ctx.CPU != minidump.CPUX86 {
		return nil, ErrUnsupportedCPU
	}

	stack, err := thread.Stack()
	if err != nil {
		return nil, err
	}

	resolver := symfile.NewResolver(nil)
	walker := stackwalk.NewWalker(resolver, supplier, &moduleLookup{modules}, stack)

	x86 := ctx.X86
	start := stackwalk.X86Context{
		EIP: x86.EIP, ESP: x86.ESP, EBP: x86.EBP,
		EBX: x86.EBX, ESI: x86.ESI, EDI: x86.EDI,
	}

	return &CallStack{
		ThreadID: thread.ThreadID,
		Frames:   walker.WalkX86(start),
	}, nil
}

// pickCrashingThread resolves the thread to walk and its starting
// context: the Exception stream's thread and saved context when
// present, otherwise thread id 0 (or the first thread if id 0 is
// absent) and that thread's own saved context.
func pickCrashingThread(md *minidump.Minidump, threads *minidump.ThreadList) (*minidump.Thread, *minidump.Context, error) {
	exc, err := md.GetException()
	if err != nil && !errors.Is(err, minidump.ErrStreamNotFound) {
		return nil, nil, err
	}
	if err == nil {
		thread, ok := threads.ByID(exc.ThreadID)
		if !ok {
			return nil, nil, ErrNoThreads
		}
		ctx, err := exc.Context()
		if err != nil {
			return nil, nil, err
		}
		return thread, ctx, nil
	}

	all := threads.Threads()
	if len(all) == 0 {
		return nil, nil, ErrNoThreads
	}
	thread, ok := threads.ByID(0)
	if !ok {
		thread = all[0]
	}
	ctx, err := thread.Context()
	if err != nil {
		return nil, nil, err
	}
	return thread, ctx, nil
}

// moduleLookup adapts *minidump.ModuleList to stackwalk.ModuleLookup:
// the concrete *minidump.Module return type of ModuleForAddress must be
// widened to the stackwalk.ModuleInfo interface it satisfies.
type moduleLookup struct {
	list *minidump.ModuleList
}

func (m *moduleLookup) ModuleForAddress(addr uint64) (stackwalk.ModuleInfo, bool) {
	mod, ok := m.list.ModuleForAddress(addr)
	if !ok {
		return nil, false
	}
	return mod, true
}
