package symfile

import "bytes"

// Fuzz drives LoadModule with arbitrary bytes, the same text-format
// entry point minidump's own fuzz.go exercises for the binary reader.
func Fuzz(data []byte) int {
	r := NewResolver(nil)
	if err := r.LoadModule("fuzz", bytes.NewReader(data)); err != nil {
		return 0
	}
	return 1
}
