package minidump

// Fuzz is the go-fuzz entry point exercising the minidump reader:
// header, directory, and every stream parser reachable from a
// directory entry. It never touches the filesystem, matching the
// teacher's fuzz.go which fuzzes parsing in isolation from mmap.
func Fuzz(data []byte) int {
	md, err := NewFromBytes(data)
	if err != nil {
		return 0
	}

	md.GetThreadList()
	md.GetModuleList()
	md.GetMemoryList()
	md.GetException()
	md.GetSystemInfo()
	md.GetMiscInfo()

	return 1
}
