// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import (
	"encoding/binary"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// swapU16 reverses the byte order of v. Swapping twice is the identity,
// which is exactly the "swap idempotence" property §8 asks readers to
// preserve.
func swapU16(v uint16) uint16 { return v<<8 | v>>8 }

// swapU32 reverses the byte order of v.
func swapU32(v uint32) uint32 {
	return v<<24 | (v&0x0000ff00)<<8 | (v&0x00ff0000)>>8 | v>>24
}

// swapU64 reverses the byte order of v.
func swapU64(v uint64) uint64 {
	return uint64(swapU32(uint32(v)))<<32 | uint64(swapU32(uint32(v>>32)))
}

// reader is a swap-aware, bounds-checked cursor over a minidump's raw
// bytes. native reports whether the file's byte order matches the host
// (in which case reads never swap); every numeric field read through it
// is byte-swapped when native is false. Reserved fields and raw byte
// arrays (FPU/extended-register areas) are read with RawBytes instead,
// which never swaps.
type reader struct {
	data   []byte
	native bool
}

func newReader(data []byte, order binary.ByteOrder) *reader {
	return &reader{data: data, native: order == binary.LittleEndian}
}

func (r *reader) bounds(offset, size uint32) error {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(r.data)) {
		return ErrOutOfBounds
	}
	return nil
}

// bounds64 is bounds for a 64-bit element count, used to validate a
// record count against the remaining file extent before it is used to
// size an allocation: count*elemSize alone can overflow uint32, and an
// attacker-controlled count must never reach make() unchecked (§1
// "strict bounds checks against adversarial input").
func (r *reader) bounds64(offset uint32, size uint64) error {
	end := uint64(offset) + size
	if end > uint64(len(r.data)) {
		return ErrOutOfBounds
	}
	return nil
}

// U8 reads one byte at offset; there is nothing to swap.
func (r *reader) U8(offset uint32) (uint8, error) {
	if err := r.bounds(offset, 1); err != nil {
		return 0, err
	}
	return r.data[offset], nil
}

// U16 reads a swap-aware uint16 at offset.
func (r *reader) U16(offset uint32) (uint16, error) {
	if err := r.bounds(offset, 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[offset:])
	if !r.native {
		v = swapU16(v)
	}
	return v, nil
}

// U32 reads a swap-aware uint32 at offset.
func (r *reader) U32(offset uint32) (uint32, error) {
	if err := r.bounds(offset, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[offset:])
	if !r.native {
		v = swapU32(v)
	}
	return v, nil
}

// U64 reads a swap-aware uint64 at offset.
func (r *reader) U64(offset uint32) (uint64, error) {
	if err := r.bounds(offset, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[offset:])
	if !r.native {
		v = swapU64(v)
	}
	return v, nil
}

// RawBytes returns a bounds-checked slice of raw, never-swapped bytes.
func (r *reader) RawBytes(offset, size uint32) ([]byte, error) {
	if err := r.bounds(offset, size); err != nil {
		return nil, err
	}
	return r.data[offset : offset+size], nil
}

// ReadString decodes a minidump wide string at rva: a u32 byte-length
// prefix followed by that many bytes of UTF-16 code units. §4.2 requires
// rejecting odd lengths outright, then validating the surrogate-pair
// rules from the GLOSSARY before decoding to UTF-8.
func (r *reader) ReadString(rva uint32) (string, error) {
	length, err := r.U32(rva)
	if err != nil {
		return "", err
	}
	if length%2 != 0 {
		return "", ErrInvalidString
	}
	raw, err := r.RawBytes(rva+4, length)
	if err != nil {
		return "", err
	}

	units := make([]uint16, length/2)
	for i := range units {
		u := binary.LittleEndian.Uint16(raw[i*2:])
		if !r.native {
			u = swapU16(u)
		}
		units[i] = u
	}
	if err := validateUTF16(units); err != nil {
		return "", err
	}

	return decodeUTF16LE(units)
}

// validateUTF16 enforces the GLOSSARY's surrogate-pair rules: a lone low
// surrogate, a high surrogate at end-of-input, or a high surrogate
// followed by a non-low code unit are all malformed.
func validateUTF16(units []uint16) error {
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u >= 0xdc00 && u <= 0xdfff:
			return ErrInvalidString
		case u >= 0xd800 && u <= 0xdbff:
			if i+1 >= len(units) {
				return ErrInvalidString
			}
			next := units[i+1]
			if next < 0xdc00 || next > 0xdfff {
				return ErrInvalidString
			}
			i++
		}
	}
	return nil
}

// decodeUTF16LE converts a validated UTF-16LE code-unit sequence to
// UTF-8 using the same decoder family (golang.org/x/text/encoding/
// unicode) the teacher uses for wide strings elsewhere in the codebase.
func decodeUTF16LE(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(raw)
	if err != nil && err != io.EOF {
		return "", ErrInvalidString
	}
	return string(out), nil
}
