package symfile

import (
	"strings"
	"testing"
)

func TestFillSourceLineInfoFunctionHit(t *testing.T) {
	src := "MODULE windows x86 ABCDEF1234 test.pdb\n" +
		"FILE 1 file1_1.cc\n" +
		"FUNC 1000 200 0 Function1_1\n" +
		"1000 50 44 1\n"

	r := NewResolver(nil)
	if err := r.LoadModule("mod1", strings.NewReader(src)); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}

	info, err := r.FillSourceLineInfo("mod1", 0x1000)
	if err != nil {
		t.Fatalf("FillSourceLineInfo() error = %v", err)
	}
	if info.FunctionName != "Function1_1" || info.SourceFileName != "file1_1.cc" || info.SourceLine != 44 {
		t.Errorf("info = %+v, want Function1_1/file1_1.cc/44", info)
	}

	miss, err := r.FillSourceLineInfo("mod1", 0x800)
	if err != nil {
		t.Fatalf("FillSourceLineInfo() error = %v", err)
	}
	if miss.FunctionName != "" || miss.SourceFileName != "" || miss.SourceLine != 0 {
		t.Errorf("miss = %+v, want all empty", miss)
	}
}

func TestFillSourceLineInfoPublicFallback(t *testing.T) {
	src := "PUBLIC 2000 0 PublicFunc\n" +
		"PUBLIC 3000 0 NextPublic\n"

	r := NewResolver(nil)
	if err := r.LoadModule("mod1", strings.NewReader(src)); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}

	info, _ := r.FillSourceLineInfo("mod1", 0x2500)
	if info.FunctionName != "PublicFunc" || info.HasLine {
		t.Errorf("info = %+v, want PublicFunc with no line", info)
	}

	info2, _ := r.FillSourceLineInfo("mod1", 0x3000)
	if info2.FunctionName != "NextPublic" {
		t.Errorf("info2 = %+v, want NextPublic", info2)
	}
}

func TestLoadModuleRejectsDuplicate(t *testing.T) {
	r := NewResolver(nil)
	if err := r.LoadModule("mod1", strings.NewReader("PUBLIC 1 0 f\n")); err != nil {
		t.Fatalf("first LoadModule() error = %v", err)
	}
	if err := r.LoadModule("mod1", strings.NewReader("PUBLIC 1 0 g\n")); err != ErrDuplicateModule {
		t.Errorf("LoadModule() error = %v, want ErrDuplicateModule", err)
	}
}

func TestLoadModuleMalformedLeavesNoState(t *testing.T) {
	r := NewResolver(nil)
	src := "FUNC zz 10 0 Bad\n"
	if err := r.LoadModule("mod1", strings.NewReader(src)); err == nil {
		t.Fatal("expected malformed FUNC to fail")
	}
	if r.HasModule("mod1") {
		t.Error("module should not be registered after a failed load")
	}
}

func TestStackWinProgramString(t *testing.T) {
	src := "FUNC 1000 10 0 F\n" +
		"STACK WIN 4 1000 10 1 1 4 4 0 8 1 $eip $ebp 4 + ^ =\n"
	r := NewResolver(nil)
	if err := r.LoadModule("mod1", strings.NewReader(src)); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}
	info, _ := r.FillSourceLineInfo("mod1", 0x1004)
	if info.Frame == nil || !info.Frame.HasProgramString {
		t.Fatalf("info.Frame = %+v, want a program string", info.Frame)
	}
	if info.Frame.ProgramString != "$eip $ebp 4 + ^ =" {
		t.Errorf("ProgramString = %q", info.Frame.ProgramString)
	}
}

func TestStackWinAllocatesBasePointer(t *testing.T) {
	src := "STACK WIN 4 2000 10 1 1 4 4 0 8 0 1\n"
	r := NewResolver(nil)
	if err := r.LoadModule("mod1", strings.NewReader(src)); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}
	info, _ := r.FillSourceLineInfo("mod1", 0x2004)
	if info.Frame == nil || info.Frame.HasProgramString || !info.Frame.AllocatesBasePointer {
		t.Errorf("Frame = %+v, want allocates-base-pointer true", info.Frame)
	}
}
