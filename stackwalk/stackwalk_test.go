package stackwalk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/saferwall/minidump/symfile"
)

// mapMemory backs a small, explicit set of stack addresses; any other
// address is "outside the stack region" and fails.
type mapMemory struct {
	words map[uint64]uint32
}

func (m *mapMemory) Contains(addr uint64) bool {
	_, ok := m.words[addr]
	return ok
}

func (m *mapMemory) U32At(addr uint64) (uint32, error) {
	v, ok := m.words[addr]
	if !ok {
		return 0, errors.New("out of bounds")
	}
	return v, nil
}

func (m *mapMemory) ReadMemoryAt(addr uint64, buf []byte) error {
	if len(buf) != 4 {
		return errors.New("unsupported read size")
	}
	v, ok := m.words[addr]
	if !ok {
		return errors.New("out of bounds")
	}
	binary.LittleEndian.PutUint32(buf, v)
	return nil
}

// succMemory treats the value at address a as a+1, matching the memory
// model used by the postfix evaluator's own test scenarios.
type succMemory struct{}

func (succMemory) Contains(uint64) bool { return true }

func (succMemory) U32At(addr uint64) (uint32, error) { return uint32(addr + 1), nil }

func (succMemory) ReadMemoryAt(addr uint64, buf []byte) error {
	v := addr + 1
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return nil
}

type noModules struct{}

func (noModules) ModuleForAddress(uint64) (ModuleInfo, bool) { return nil, false }

func newTestWalker(mem MemoryReader) *Walker {
	return NewWalker(symfile.NewResolver(nil), nil, noModules{}, mem)
}

func TestCallerFromEBPChain(t *testing.T) {
	mem := &mapMemory{words: map[uint64]uint32{
		0x1004: 0x1008,   // *(ebp) -> saved ebp
		0x1008: 0x402000, // *(ebp+4) -> return address
	}}
	w := newTestWalker(mem)

	next, ok := w.callerFromEBPChain(X86Context{EIP: 0x401000, ESP: 0x1000, EBP: 0x1004})
	if !ok {
		t.Fatalf("callerFromEBPChain failed")
	}
	if next.EIP != 0x402000 || next.EBP != 0x1008 || next.ESP != 0x100c {
		t.Fatalf("got %+v, want eip=0x402000 ebp=0x1008 esp=0x100c", next)
	}
}

func TestCallerFromEBPChainZeroEBPFails(t *testing.T) {
	w := newTestWalker(&mapMemory{words: map[uint64]uint32{}})
	_, ok := w.callerFromEBPChain(X86Context{EIP: 0x401000, ESP: 0x1000, EBP: 0})
	if ok {
		t.Fatalf("expected failure with a zero frame pointer")
	}
}

// TestCallerFromProgramMSVCEpilogue reproduces the documented MSVC
// epilogue scenario through the walker's postfix path instead of
// calling the evaluator directly.
func TestCallerFromProgramMSVCEpilogue(t *testing.T) {
	w := newTestWalker(succMemory{})

	cur := X86Context{EIP: 0x10000000, ESP: 0xbfff0000, EBP: 0xbfff0010}
	info := &StackFrameInfo{
		HasProgramString: true,
		SavedRegisterSize: 4,
		ParamSize:          4,
		ProgramString: "$T0 $ebp = $eip $T0 4 + ^ = $ebp $T0 ^ = $esp $T0 8 + = " +
			"$L $T0 .cbSavedRegs - = $P $T0 8 + .cbParams + =",
	}

	next, ok := w.callerFromProgram(cur, info)
	if !ok {
		t.Fatalf("callerFromProgram failed")
	}
	if next.EIP != 0xbfff0015 {
		t.Fatalf("got eip %#x, want 0xbfff0015", next.EIP)
	}
	if next.EBP != 0xbfff0011 {
		t.Fatalf("got ebp %#x, want 0xbfff0011", next.EBP)
	}
	if next.ESP != 0xbfff0018 {
		t.Fatalf("got esp %#x, want 0xbfff0018", next.ESP)
	}
}

func TestCallerFromProgramFailureIsNonFatal(t *testing.T) {
	w := newTestWalker(&mapMemory{words: map[uint64]uint32{}})
	info := &StackFrameInfo{HasProgramString: true, ProgramString: "bogus token stream"}
	_, ok := w.callerFromProgram(X86Context{}, info)
	if ok {
		t.Fatalf("expected a malformed program to fail")
	}
}

func TestWalkX86TerminatesOnZeroEIP(t *testing.T) {
	mem := &mapMemory{words: map[uint64]uint32{
		0x1004: 0x1008,   // frame 0's *(ebp)
		0x1008: 0x402000, // frame 0's *(ebp+4): return address into frame 1
		// frame 1's *(ebp+4) is 0 (its *(ebp) is 0x402000 above): the
		// zero return address terminates the walk.
		0x100c: 0,
	}}
	w := newTestWalker(mem)

	frames := w.WalkX86(X86Context{EIP: 0x401000, ESP: 0x1000, EBP: 0x1004})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Instruction != 0x401000 {
		t.Fatalf("frame 0 instruction = %#x, want 0x401000", frames[0].Instruction)
	}
	if frames[1].Instruction != 0x402000 {
		t.Fatalf("frame 1 instruction = %#x, want 0x402000", frames[1].Instruction)
	}
}

func TestWalkX86TerminatesOnNonIncreasingESP(t *testing.T) {
	// ebp+8 (the next esp, 0x1008) is not strictly greater than the
	// starting esp (0x2000): the walk must stop after frame 0.
	mem := &mapMemory{words: map[uint64]uint32{
		0x1000: 0x1000,
		0x1004: 0x402000,
	}}
	w := newTestWalker(mem)

	frames := w.WalkX86(X86Context{EIP: 0x401000, ESP: 0x2000, EBP: 0x1000})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (walk should stop when esp doesn't increase)", len(frames))
	}
}

type fakeModule struct {
	base, size          uint64
	name, dbgFile, dbgID string
}

func (m fakeModule) Base() uint64          { return m.base }
func (m fakeModule) DebugName() string     { return m.name }
func (m fakeModule) DebugFileName() string { return m.dbgFile }
func (m fakeModule) DebugIdentifier() string { return m.dbgID }

type fakeModuleLookup struct {
	modules []fakeModule
}

func (l *fakeModuleLookup) ModuleForAddress(addr uint64) (ModuleInfo, bool) {
	for _, m := range l.modules {
		if addr >= m.base && addr < m.base+m.size {
			return m, true
		}
	}
	return nil, false
}

func TestResolveFrameUsesPreloadedModuleSymbols(t *testing.T) {
	resolver := symfile.NewResolver(nil)
	symText := "MODULE windows x86 ABCD123 app.exe\n" +
		"FILE 1 app.cc\n" +
		"FUNC 1000 200 0 CrashFunction\n" +
		"1000 50 44 1\n"
	if err := resolver.LoadModule("app.exe", bytes.NewReader([]byte(symText))); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	lookup := &fakeModuleLookup{modules: []fakeModule{
		{base: 0x400000, size: 0x10000, name: "app.exe"},
	}}

	w := NewWalker(resolver, nil, lookup, &mapMemory{})
	frame := w.resolveFrame(0x400000 + 0x1000)

	if frame.ModuleName != "app.exe" {
		t.Fatalf("got module name %q, want app.exe", frame.ModuleName)
	}
	if frame.FunctionName != "CrashFunction" {
		t.Fatalf("got function %q, want CrashFunction", frame.FunctionName)
	}
	if frame.SourceLine != 44 {
		t.Fatalf("got line %d, want 44", frame.SourceLine)
	}
}

func TestResolveFrameUnknownModuleYieldsBareFrame(t *testing.T) {
	w := newTestWalker(&mapMemory{})
	frame := w.resolveFrame(0xdeadbeef)
	if frame.ModuleName != "" || frame.FunctionName != "" {
		t.Fatalf("got %+v, want an unresolved frame", frame)
	}
}

func TestSimpleSymbolSupplierPath(t *testing.T) {
	mod := fakeModule{base: 0x400000, name: "app.exe", dbgFile: "APP.PDB", dbgID: "ABCDEF123"}
	s := &SimpleSymbolSupplier{Root: "/symbols"}
	got := s.GetSymbolFile(mod)
	want := "/symbols/APP.PDB/ABCDEF123/APP.sym"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSimpleSymbolSupplierNoDebugInfo(t *testing.T) {
	mod := fakeModule{base: 0x400000, name: "app.exe"}
	s := &SimpleSymbolSupplier{Root: "/symbols"}
	if got := s.GetSymbolFile(mod); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}
