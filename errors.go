// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package minidump decodes the Windows-originated minidump container
// format: a header, a directory of typed streams, and per-stream
// payloads referenced by relative virtual addresses (RVAs) from file
// start. See the thread, module, memory, exception, systeminfo and
// miscinfo streams for the pieces the stackwalker and symbol resolver
// need.
package minidump

import "errors"

// Sentinel errors returned by the reader. Parse-time errors invalidate
// only the stream object being parsed; a Minidump that failed to parse
// one stream may still serve previously parsed streams.
var (
	// ErrSignatureMismatch is returned when neither byte order of the
	// header signature matches the expected magic.
	ErrSignatureMismatch = errors.New("minidump: header signature mismatch")

	// ErrVersionMismatch is returned when the header's version field
	// doesn't carry the expected low 16 bits.
	ErrVersionMismatch = errors.New("minidump: header version mismatch")

	// ErrOutOfBounds is returned whenever a read would cross the end of
	// the file, or a declared size/offset pair would overflow.
	ErrOutOfBounds = errors.New("minidump: read out of bounds")

	// ErrSizeMismatch is returned when a stream's declared data_size
	// doesn't match the size its type requires.
	ErrSizeMismatch = errors.New("minidump: stream size mismatch")

	// ErrStreamNotFound is returned by a stream getter when the
	// directory has no entry of the requested type.
	ErrStreamNotFound = errors.New("minidump: stream not found")

	// ErrDuplicateStream is returned by Read when a singleton stream
	// type appears more than once in the directory.
	ErrDuplicateStream = errors.New("minidump: duplicate singleton stream")

	// ErrDuplicateThreadID is returned when two threads in the thread
	// list share an ID.
	ErrDuplicateThreadID = errors.New("minidump: duplicate thread id")

	// ErrOverlappingRange is returned when two modules or two memory
	// regions claim overlapping address ranges.
	ErrOverlappingRange = errors.New("minidump: overlapping range")

	// ErrInvalidString is returned when a length-prefixed UTF-16 string
	// has an odd byte length or fails to decode (see the GLOSSARY entry
	// for UTF-16 and its surrogate-pair rules).
	ErrInvalidString = errors.New("minidump: invalid UTF-16 string")

	// ErrUnterminatedPath is returned when a CodeView record's trailing
	// NUL-terminated path is missing its terminator.
	ErrUnterminatedPath = errors.New("minidump: unterminated CodeView path")

	// ErrUnsupportedCPU is returned when the stackwalker has no
	// implementation for a context's CPU type.
	ErrUnsupportedCPU = errors.New("minidump: unsupported CPU architecture")

	// ErrUnknownCodeView is returned when a CodeView record's signature
	// matches neither PDB70 nor PDB20; it is non-fatal and degrades the
	// debug filename to "not found".
	ErrUnknownCodeView = errors.New("minidump: unknown CodeView signature")
)
