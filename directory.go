// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// Stream type tags recognized by the reader (§6.1). Unrecognized stream
// types are still catalogued in the directory but have no typed getter.
const (
	streamUnused             uint32 = 0
	streamThreadList         uint32 = 3
	streamModuleList         uint32 = 4
	streamMemoryList         uint32 = 5
	streamException          uint32 = 6
	streamSystemInfo         uint32 = 7
	streamMiscInfo           uint32 = 15
)

// singletonStreamTypes lists the stream types that §3 requires to
// appear at most once in a conforming minidump.
var singletonStreamTypes = map[uint32]bool{
	streamThreadList: true,
	streamModuleList: true,
	streamMemoryList: true,
	streamException:  true,
	streamSystemInfo: true,
	streamMiscInfo:   true,
}

// locationDescriptor is MDLocationDescriptor: a (size, rva) pair used
// throughout the format to point at a variable-length payload.
type locationDescriptor struct {
	DataSize uint32
	RVA      uint32
}

// memoryDescriptor is MDMemoryDescriptor: a base address plus the
// location of the bytes backing it.
type memoryDescriptor struct {
	StartOfMemoryRange uint64
	Memory             locationDescriptor
}

// directoryEntrySize is the fixed on-disk size of one directory entry.
const directoryEntrySize = 12

// directoryEntry is one entry of the stream directory (§6.1).
type directoryEntry struct {
	StreamType uint32
	Location   locationDescriptor
}

// readDirectory parses stream_count directory entries starting at rva,
// byte-swapping each field per the reader's resolved order, and returns
// them in file order.
func readDirectory(r *reader, rva uint32, count uint32) ([]directoryEntry, error) {
	if err := r.bounds64(rva, uint64(count)*uint64(directoryEntrySize)); err != nil {
		return nil, err
	}
	entries := make([]directoryEntry, count)
	offset := rva
	for i := uint32(0); i < count; i++ {
		streamType, err := r.U32(offset)
		if err != nil {
			return nil, err
		}
		dataSize, err := r.U32(offset + 4)
		if err != nil {
			return nil, err
		}
		entryRVA, err := r.U32(offset + 8)
		if err != nil {
			return nil, err
		}
		entries[i] = directoryEntry{
			StreamType: streamType,
			Location:   locationDescriptor{DataSize: dataSize, RVA: entryRVA},
		}
		offset += directoryEntrySize
	}
	return entries, nil
}

// buildStreamIndex maps each recognized singleton stream type to the
// index of its (unique) directory entry, failing on duplicates per §4.2.
// Unrecognized stream types are not indexed here; last-wins duplicates
// among them are tolerated implicitly since only the index map is
// consulted by the typed getters.
func buildStreamIndex(entries []directoryEntry) (map[uint32]int, error) {
	index := make(map[uint32]int)
	for i, e := range entries {
		if !singletonStreamTypes[e.StreamType] {
			continue
		}
		if _, exists := index[e.StreamType]; exists {
			return nil, ErrDuplicateStream
		}
		index[e.StreamType] = i
	}
	return index, nil
}
