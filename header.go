// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

import "encoding/binary"

const (
	// headerSignature is the fixed 'MDMP' magic a header must carry,
	// native-endian on the producer.
	headerSignature uint32 = 0x504d444d

	// headerVersionMask carries the low 16 bits of MDRawHeader.Version
	// that every conforming minidump must present.
	headerVersionMask uint32 = 0x0000a793

	// headerSize is the fixed, 32-byte on-disk size of rawHeader.
	headerSize = 32
)

// rawHeader is the 32-byte on-disk minidump header (§6.1).
type rawHeader struct {
	Signature          uint32
	Version            uint32
	StreamCount        uint32
	StreamDirectoryRVA uint32
	Checksum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

// parseHeader reads rawHeader from data (which must be at least
// headerSize bytes) and determines whether the file's byte order is
// swapped relative to the host. It returns the decoded header, the
// resolved byte order, and any error.
func parseHeader(data []byte) (rawHeader, binary.ByteOrder, error) {
	if len(data) < headerSize {
		return rawHeader{}, nil, ErrOutOfBounds
	}

	// Try little-endian first: every minidump producer on record writes
	// little-endian, so the mismatch path below only fires on a
	// synthetic or deliberately cross-endian file.
	order := binary.ByteOrder(binary.LittleEndian)
	sig := order.Uint32(data[0:4])
	if sig != headerSignature {
		order = binary.BigEndian
		sig = order.Uint32(data[0:4])
		if sig != headerSignature {
			return rawHeader{}, nil, ErrSignatureMismatch
		}
	}

	h := rawHeader{
		Signature:          sig,
		Version:            order.Uint32(data[4:8]),
		StreamCount:        order.Uint32(data[8:12]),
		StreamDirectoryRVA: order.Uint32(data[12:16]),
		Checksum:           order.Uint32(data[16:20]),
		TimeDateStamp:      order.Uint32(data[20:24]),
		Flags:              order.Uint64(data[24:32]),
	}

	if h.Version&0x0000ffff != headerVersionMask {
		return rawHeader{}, nil, ErrVersionMismatch
	}

	return h, order, nil
}
