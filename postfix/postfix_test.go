package postfix

import (
	"reflect"
	"testing"
)

// succMemory implements MemoryReader such that the value at address a is
// a+1, matching the fixture used by the reference evaluator's tests.
type succMemory struct{ wordSize int }

func (m succMemory) ReadMemoryAt(addr uint64, buf []byte) error {
	v := addr + 1
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return nil
}

func TestEvaluateBasicArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		ok   bool
	}{
		{"$rAdd 2 2 + =", true},
		{"$rAdd $rAdd 2 + =", true},
		{"$rAdd 2 $rAdd + =", true},
		{"99", false},
		{"$rAdd2 2 2 + =", true},
		{"$rAdd2\t2\n2 + =", true},
		{"$rAdd2 2 2 + = ", true},
		{" $rAdd2 2 2 + =", true},
		{"$rAdd2  2 2 +   =", true},
		{"$T0 2 = +", false},
		{"2 + =", false},
		{"2 +", false},
		{"+", false},
		{"^", false},
		{"=", false},
		{"2 =", false},
		{"2 2 + =", false},
		{"2 2 =", false},
		{"k 2 =", false},
		{"2", false},
		{"2 2 +", false},
		{"$rAdd", false},
		{"0 $T1 0 0 + =", false},
		{"$T2 $T2 2 + =", false},
		{"$rMul 9 6 * =", true},
		{"$rSub 9 6 - =", true},
		{"$rDivQ 9 6 / =", true},
		{"$rDivM 9 6 % =", true},
		{"$rDeref 9 ^ =", true},
	}

	e := New(4, succMemory{})
	dict := Dictionary{"k": 1}

	for _, tt := range tests {
		_, err := e.Evaluate(tt.expr, dict)
		if (err == nil) != tt.ok {
			t.Errorf("Evaluate(%q) err = %v, want ok=%v", tt.expr, err, tt.ok)
		}
	}

	want := map[string]uint64{
		"$rAdd":   8,
		"$rAdd2":  4,
		"$rMul":   54,
		"$rSub":   3,
		"$rDivQ":  1,
		"$rDivM":  3,
		"$rDeref": 10,
	}
	for k, v := range want {
		if dict[k] != v {
			t.Errorf("dict[%q] = %#x, want %#x", k, dict[k], v)
		}
	}
}

func TestEvaluateMSVCEpilogue(t *testing.T) {
	dict := Dictionary{
		"$ebp":          0xbfff0010,
		"$eip":          0x10000000,
		"$esp":          0xbfff0000,
		".cbSavedRegs":  4,
		".cbParams":     4,
	}
	expr := "$T0 $ebp = $eip $T0 4 + ^ = $ebp $T0 ^ = $esp $T0 8 + = " +
		"$L $T0 .cbSavedRegs - = $P $T0 8 + .cbParams + ="

	e := New(4, succMemory{})
	assigned, err := e.Evaluate(expr, dict)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	want := Dictionary{
		"$ebp":          0xbfff0011,
		"$eip":          0xbfff0015,
		"$esp":          0xbfff0018,
		".cbSavedRegs":  4,
		".cbParams":     4,
		"$T0":           0xbfff0010,
		"$L":            0xbfff000c,
		"$P":            0xbfff001c,
	}
	if !reflect.DeepEqual(dict, want) {
		t.Errorf("dict after Evaluate = %#v, want %#v", dict, want)
	}

	wantAssigned := []string{"$T0", "$eip", "$ebp", "$esp", "$L", "$P"}
	if !reflect.DeepEqual(assigned, wantAssigned) {
		t.Errorf("assigned = %v, want %v", assigned, wantAssigned)
	}
}

func TestEvaluateDereferenceFailsWithoutMemory(t *testing.T) {
	e := New(4, nil)
	dict := Dictionary{}
	if _, err := e.Evaluate("4 ^", dict); err != ErrDereferenceFault {
		t.Errorf("Evaluate() error = %v, want ErrDereferenceFault", err)
	}
}

func TestEvaluateHexLiteral(t *testing.T) {
	e := New(4, succMemory{})
	dict := Dictionary{}
	if _, err := e.Evaluate("$a 0x10 1 + =", dict); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if dict["$a"] != 0x11 {
		t.Errorf("dict[$a] = %#x, want 0x11", dict["$a"])
	}
}
