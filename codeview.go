// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "bytes"

// CodeView record signatures (§4.3): PDB70 carries a 16-byte GUID and
// an age, the older PDB20 carries a 4-byte signature and age.
const (
	codeViewPDB70Signature uint32 = 0x53445352 // 'RSDS'
	codeViewPDB20Signature uint32 = 0x3031424e // 'NB10'
)

// DebugInfo is the resolved debug identity of a module: the name the
// symbol file is expected to be published under, and the identifier
// string that names the exact build (§4.3, grounded in the teacher's
// debug.go CodeView handling).
type DebugInfo struct {
	PDBFileName string
	Identifier  string // hex GUID+age (PDB70) or hex signature+age (PDB20)
	Age         uint32
}

// parseCodeView reads a module's CvRecord payload and derives a
// DebugInfo from it. An unrecognized signature is non-fatal: callers
// degrade to a DebugInfo with empty fields rather than failing the
// whole module (§4.3 "must not abort module parsing").
func parseCodeView(r *reader, loc locationDescriptor) (DebugInfo, error) {
	if loc.DataSize == 0 {
		return DebugInfo{}, nil
	}
	sig, err := r.U32(loc.RVA)
	if err != nil {
		return DebugInfo{}, err
	}

	switch sig {
	case codeViewPDB70Signature:
		return parseCodeViewPDB70(r, loc)
	case codeViewPDB20Signature:
		return parseCodeViewPDB20(r, loc)
	default:
		return DebugInfo{}, ErrUnknownCodeView
	}
}

// parseCodeViewPDB70 decodes the RSDS record: signature(4) + GUID(16)
// + age(4) + NUL-terminated PDB path.
func parseCodeViewPDB70(r *reader, loc locationDescriptor) (DebugInfo, error) {
	guid, err := r.RawBytes(loc.RVA+4, 16)
	if err != nil {
		return DebugInfo{}, err
	}
	age, err := r.U32(loc.RVA + 20)
	if err != nil {
		return DebugInfo{}, err
	}
	path, err := readNulTerminated(r, loc.RVA+24, loc.DataSize-24)
	if err != nil {
		return DebugInfo{}, err
	}

	id := formatGUIDAge(guid, age)
	return DebugInfo{
		PDBFileName: baseName(path),
		Identifier:  id,
		Age:         age,
	}, nil
}

// parseCodeViewPDB20 decodes the NB10 record: signature(4) + offset(4)
// + timestamp(4) + age(4) + NUL-terminated PDB path.
func parseCodeViewPDB20(r *reader, loc locationDescriptor) (DebugInfo, error) {
	timestamp, err := r.U32(loc.RVA + 8)
	if err != nil {
		return DebugInfo{}, err
	}
	age, err := r.U32(loc.RVA + 12)
	if err != nil {
		return DebugInfo{}, err
	}
	path, err := readNulTerminated(r, loc.RVA+16, loc.DataSize-16)
	if err != nil {
		return DebugInfo{}, err
	}

	return DebugInfo{
		PDBFileName: baseName(path),
		Identifier:  formatTimestampAge(timestamp, age),
		Age:         age,
	}, nil
}

func readNulTerminated(r *reader, offset, maxLen uint32) (string, error) {
	raw, err := r.RawBytes(offset, maxLen)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || raw[len(raw)-1] != 0 {
		return "", ErrUnterminatedPath
	}
	idx := bytes.IndexByte(raw, 0)
	return string(raw[:idx]), nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '\\' || path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

const hexDigits = "0123456789ABCDEF"

func formatGUIDAge(guid []byte, age uint32) string {
	buf := make([]byte, 0, 33+8)
	for _, b := range guid {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0xf])
	}
	buf = appendHexUpper(buf, age)
	return string(buf)
}

func formatTimestampAge(timestamp, age uint32) string {
	buf := appendHexUpper(nil, timestamp)
	buf = appendHexUpper(buf, age)
	return string(buf)
}

func appendHexUpper(buf []byte, v uint32) []byte {
	for shift := 28; shift >= 0; shift -= 4 {
		buf = append(buf, hexDigits[(v>>uint(shift))&0xf])
	}
	return buf
}
