// Package stackwalk drives frame-by-frame unwinding for a crashed
// thread: given a starting CPU context, the thread's stack memory, a
// module list, and a symbol supplier, it produces an ordered call
// stack beginning with the innermost (crashing) frame. Only x86 is
// implemented: WalkX86 builds frame 0 from the starting context and
// computes each caller's registers with callerContext.
package stackwalk

import (
	"errors"

	"github.com/saferwall/minidump/postfix"
	"github.com/saferwall/minidump/symfile"
)

// Errors returned while walking.
var (
	// ErrUnsupportedCPU is returned when the context's architecture has
	// no walker implementation (PPC is read but not walked).
	ErrUnsupportedCPU = errors.New("stackwalk: unsupported CPU architecture")
)

// StackFrame is one resolved frame of a call stack (§3).
type StackFrame struct {
	Instruction uint64

	ModuleBase uint64
	ModuleName string

	FunctionName string
	FunctionBase uint64

	SourceFile string
	SourceLine uint32 // 1-based; zero means unavailable

	Info *StackFrameInfo
}

// StackFrameInfo mirrors the STACK WIN fields relevant to unwinding,
// surfaced alongside each frame for callers that want the raw data.
type StackFrameInfo struct {
	PrologueSize         uint32
	EpilogueSize         uint32
	ParamSize            uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	HasProgramString     bool
	ProgramString        string
}

func frameInfoFrom(fi *symfile.FrameInfo) *StackFrameInfo {
	if fi == nil {
		return nil
	}
	return &StackFrameInfo{
		PrologueSize:         fi.PrologueSize,
		EpilogueSize:         fi.EpilogueSize,
		ParamSize:            fi.ParamSize,
		SavedRegisterSize:    fi.SavedRegisterSize,
		LocalSize:            fi.LocalSize,
		MaxStackSize:         fi.MaxStackSize,
		AllocatesBasePointer: fi.AllocatesBasePointer,
		HasProgramString:     fi.HasProgramString,
		ProgramString:        fi.ProgramString,
	}
}

// MemoryReader is the stack memory a walker reads through: a crashed
// thread's captured stack region, or a test double. It is also a
// postfix.MemoryReader, since the x86 walker hands it directly to the
// postfix evaluator.
type MemoryReader interface {
	postfix.MemoryReader
	U32At(addr uint64) (uint32, error)
	Contains(addr uint64) bool
}

// ModuleLookup resolves an instruction address to its owning module,
// mirroring minidump.ModuleList.ModuleForAddress without importing the
// minidump package directly (kept decoupled so stackwalk can be tested
// against fakes, per the teacher's interface-seam style).
type ModuleLookup interface {
	ModuleForAddress(addr uint64) (mod ModuleInfo, ok bool)
}

// ModuleInfo is the subset of minidump.Module the walker needs.
type ModuleInfo interface {
	Base() uint64
	DebugName() string
}

// SymbolSupplier resolves a module to the path of its symbol file, or
// "" if none is available (§4.6). The core invokes it at most once per
// distinct module.
type SymbolSupplier interface {
	GetSymbolFile(mod ModuleInfo) string
}

// X86Context is the register set WalkX86 and callerContext
// operate on. It is a plain struct rather than an interface so the
// postfix dictionary can be seeded and read back without reflection.
type X86Context struct {
	EIP, ESP, EBP uint32
	EBX, ESI, EDI uint32
}

// Walker drives the unwind template. It holds the resolver used to
// look up symbols per module, caching which modules have had their
// symbols loaded already (§4.5 "fetch symbols... cached per module").
type Walker struct {
	Resolver *symfile.Resolver
	Supplier SymbolSupplier
	Modules  ModuleLookup
	Memory   MemoryReader

	loaded map[string]bool
}

// NewWalker returns a ready-to-use Walker.
func NewWalker(resolver *symfile.Resolver, supplier SymbolSupplier, modules ModuleLookup, memory MemoryReader) *Walker {
	return &Walker{
		Resolver: resolver,
		Supplier: supplier,
		Modules:  modules,
		Memory:   memory,
		loaded:   make(map[string]bool),
	}
}

// WalkX86 walks a crashed thread starting from ctx, returning the
// frames collected before a termination condition was hit. Termination
// is never an error: a partial stack is a normal result (§4.5).
func (w *Walker) WalkX86(ctx X86Context) []StackFrame {
	var frames []StackFrame

	instruction := uint64(ctx.EIP)
	esp := ctx.ESP
	first := true

	for {
		if !first && instruction == 0 {
			break
		}

		frame := w.resolveFrame(instruction)
		frames = append(frames, frame)

		next, ok := w.callerContext(ctx, frame.Info)
		if !ok {
			break
		}
		if next.EIP == 0 {
			break
		}
		if next.ESP <= esp {
			break
		}

		esp = next.ESP
		ctx = next
		instruction = uint64(ctx.EIP)
		first = false
	}

	return frames
}

// resolveFrame finds instruction's module (if any), loads its symbols
// on first reference, and fills in function/line/frame-info.
func (w *Walker) resolveFrame(instruction uint64) StackFrame {
	frame := StackFrame{Instruction: instruction}

	mod, ok := w.Modules.ModuleForAddress(instruction)
	if !ok {
		return frame
	}
	frame.ModuleBase = mod.Base()
	frame.ModuleName = mod.DebugName()

	moduleID := mod.DebugName()
	if !w.loaded[moduleID] && !w.Resolver.HasModule(moduleID) {
		w.loadSymbols(moduleID, mod)
	}
	w.loaded[moduleID] = true

	if !w.Resolver.HasModule(moduleID) {
		return frame
	}

	rva := instruction - mod.Base()
	info, err := w.Resolver.FillSourceLineInfo(moduleID, rva)
	if err != nil {
		return frame
	}

	frame.FunctionName = info.FunctionName
	frame.FunctionBase = mod.Base() + info.FunctionBase
	frame.SourceFile = info.SourceFileName
	frame.SourceLine = info.SourceLine
	frame.Info = frameInfoFrom(info.Frame)

	return frame
}

func (w *Walker) loadSymbols(moduleID string, mod ModuleInfo) {
	if w.Supplier == nil {
		return
	}
	path := w.Supplier.GetSymbolFile(mod)
	if path == "" {
		return
	}
	src, err := openSymbolFile(path)
	if err != nil {
		return
	}
	defer src.Close()
	_ = w.Resolver.LoadModule(moduleID, src)
}

// callerContext computes the caller's registers from the current
// frame, preferring the STACK WIN postfix program when one is
// available and falling back to the EBP-chain convention otherwise
// (§4.5).
func (w *Walker) callerContext(cur X86Context, info *StackFrameInfo) (X86Context, bool) {
	if info != nil && info.HasProgramString {
		return w.callerFromProgram(cur, info)
	}
	return w.callerFromEBPChain(cur)
}

func (w *Walker) callerFromProgram(cur X86Context, info *StackFrameInfo) (X86Context, bool) {
	dict := postfix.Dictionary{
		"$eip": uint64(cur.EIP),
		"$esp": uint64(cur.ESP),
		"$ebp": uint64(cur.EBP),
		"$ebx": uint64(cur.EBX),
		"$esi": uint64(cur.ESI),
		"$edi": uint64(cur.EDI),
		".cbSavedRegs":  uint64(info.SavedRegisterSize),
		".cbParams":     uint64(info.ParamSize),
		".raSearchStart": uint64(cur.ESP),
	}

	eval := postfix.New(4, w.Memory)
	if _, err := eval.Evaluate(info.ProgramString, dict); err != nil {
		return X86Context{}, false
	}

	next := X86Context{
		EIP: uint32(dict["$eip"]),
		ESP: uint32(dict["$esp"]),
		EBP: uint32(dict["$ebp"]),
		EBX: uint32(dict["$ebx"]),
		ESI: uint32(dict["$esi"]),
		EDI: uint32(dict["$edi"]),
	}
	return next, true
}

func (w *Walker) callerFromEBPChain(cur X86Context) (X86Context, bool) {
	if cur.EBP == 0 {
		return X86Context{}, false
	}
	eip, err := w.Memory.U32At(uint64(cur.EBP) + 4)
	if err != nil {
		return X86Context{}, false
	}
	ebp, err := w.Memory.U32At(uint64(cur.EBP))
	if err != nil {
		return X86Context{}, false
	}
	esp := cur.EBP + 8

	return X86Context{EIP: eip, ESP: esp, EBP: ebp}, true
}
