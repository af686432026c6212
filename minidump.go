// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// Minidump is a parsed minidump file: the header and directory are
// read eagerly at Read time, then each stream is parsed lazily and
// cached on first access through the corresponding Get method (§4.2).
type Minidump struct {
	data mmap.MMap
	raw  []byte
	r    *reader

	header    rawHeader
	entries   []directoryEntry
	streamIdx map[uint32]int

	file *os.File

	threadList *ThreadList
	moduleList *ModuleList
	memoryList *MemoryList
	exception  *Exception
	sysInfo    *SystemInfo
	miscInfo   *MiscInfo

	sysInfoLoaded bool
}

// Open mmaps the file at path and parses its header and stream
// directory. The caller must call Close when done.
func Open(path string) (*Minidump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	md, err := newFromData(m, []byte(m))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	md.file = f
	md.data = m
	return md, nil
}

// NewFromBytes parses a minidump already resident in memory, without
// any file or mmap involved. This is the entry point fuzz.go drives.
func NewFromBytes(data []byte) (*Minidump, error) {
	return newFromData(nil, data)
}

func newFromData(mapped mmap.MMap, data []byte) (*Minidump, error) {
	header, order, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	r := newReader(data, order)
	entries, err := readDirectory(r, header.StreamDirectoryRVA, header.StreamCount)
	if err != nil {
		return nil, err
	}
	streamIdx, err := buildStreamIndex(entries)
	if err != nil {
		return nil, err
	}

	return &Minidump{
		data:      mapped,
		raw:       data,
		r:         r,
		header:    header,
		entries:   entries,
		streamIdx: streamIdx,
	}, nil
}

// Close unmaps and closes the underlying file, if Open was used.
func (md *Minidump) Close() error {
	if md.data != nil {
		if err := md.data.Unmap(); err != nil {
			return err
		}
	}
	if md.file != nil {
		return md.file.Close()
	}
	return nil
}

func (md *Minidump) locationFor(streamType uint32) (locationDescriptor, error) {
	i, ok := md.streamIdx[streamType]
	if !ok {
		return locationDescriptor{}, ErrStreamNotFound
	}
	return md.entries[i].Location, nil
}

// systemCPU returns the CPU type declared by the SystemInfo stream, or
// CPUUnknown if the minidump carries none (contexts are then trusted
// on their own context_flags tag alone).
func (md *Minidump) systemCPU() CPUType {
	if !md.sysInfoLoaded {
		info, err := md.GetSystemInfo()
		md.sysInfoLoaded = true
		if err == nil {
			md.sysInfo = info
		}
	}
	if md.sysInfo == nil {
		return CPUUnknown
	}
	return md.sysInfo.CPUType()
}

// GetThreadList returns the parsed ThreadList stream, caching it on
// first access.
func (md *Minidump) GetThreadList() (*ThreadList, error) {
	if md.threadList != nil {
		return md.threadList, nil
	}
	loc, err := md.locationFor(streamThreadList)
	if err != nil {
		return nil, err
	}
	list, err := parseThreadList(md, loc)
	if err != nil {
		return nil, err
	}
	md.threadList = list
	return list, nil
}

// GetModuleList returns the parsed ModuleList stream, caching it on
// first access.
func (md *Minidump) GetModuleList() (*ModuleList, error) {
	if md.moduleList != nil {
		return md.moduleList, nil
	}
	loc, err := md.locationFor(streamModuleList)
	if err != nil {
		return nil, err
	}
	list, err := parseModuleList(md, loc)
	if err != nil {
		return nil, err
	}
	md.moduleList = list
	return list, nil
}

// GetMemoryList returns the parsed MemoryList stream, caching it on
// first access.
func (md *Minidump) GetMemoryList() (*MemoryList, error) {
	if md.memoryList != nil {
		return md.memoryList, nil
	}
	loc, err := md.locationFor(streamMemoryList)
	if err != nil {
		return nil, err
	}
	list, err := parseMemoryList(md, loc)
	if err != nil {
		return nil, err
	}
	md.memoryList = list
	return list, nil
}

// GetException returns the parsed Exception stream, caching it on
// first access. Not every minidump records an exception: one taken by
// an external tool (e.g. a periodic snapshot) has none, and callers
// get ErrStreamNotFound.
func (md *Minidump) GetException() (*Exception, error) {
	if md.exception != nil {
		return md.exception, nil
	}
	loc, err := md.locationFor(streamException)
	if err != nil {
		return nil, err
	}
	exc, err := parseException(md, loc)
	if err != nil {
		return nil, err
	}
	md.exception = exc
	return exc, nil
}

// GetSystemInfo returns the parsed SystemInfo stream, caching it on
// first access.
func (md *Minidump) GetSystemInfo() (*SystemInfo, error) {
	if md.sysInfo != nil {
		return md.sysInfo, nil
	}
	loc, err := md.locationFor(streamSystemInfo)
	if err != nil {
		return nil, err
	}
	info, err := parseSystemInfo(md, loc)
	if err != nil {
		return nil, err
	}
	md.sysInfo = info
	return info, nil
}

// GetMiscInfo returns the parsed MiscInfo stream, caching it on first
// access.
func (md *Minidump) GetMiscInfo() (*MiscInfo, error) {
	if md.miscInfo != nil {
		return md.miscInfo, nil
	}
	loc, err := md.locationFor(streamMiscInfo)
	if err != nil {
		return nil, err
	}
	info, err := parseMiscInfo(md, loc)
	if err != nil {
		return nil, err
	}
	md.miscInfo = info
	return info, nil
}
