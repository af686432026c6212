// Package symfile loads the portable text symbol format (MODULE/FILE/
// FUNC/line/PUBLIC/STACK WIN records) produced by the out-of-scope
// symbol dumpers and answers address -> (function, file, line,
// frame-info) queries for the stackwalker.
package symfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/saferwall/minidump/log"
	"github.com/saferwall/minidump/rangemap"
)

// Errors returned while loading or querying a module's symbols.
var (
	ErrDuplicateModule = errors.New("symfile: module already loaded")
	ErrMalformedLine    = errors.New("symfile: malformed record")
	ErrModuleNotFound   = errors.New("symfile: module not loaded")
)

// Function is a FUNC record: a named range of instructions, optionally
// broken into per-address line records.
type Function struct {
	Name      string
	Address   uint64
	Size      uint64
	ParamSize uint32

	lines *rangemap.Map // addr -> *Line
}

// Line is one line record nested under a Function.
type Line struct {
	Address    uint64
	Size       uint64
	LineNumber uint32
	FileID     uint32
}

// Public is a PUBLIC record: a named address with no line information.
type Public struct {
	Name      string
	Address   uint64
	ParamSize uint32
}

// FrameInfo is a STACK WIN record, consumed by the stackwalker to choose
// between postfix-program unwinding and the frame-pointer fallback.
type FrameInfo struct {
	PrologueSize         uint32
	EpilogueSize         uint32
	ParamSize            uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	HasProgramString     bool
	ProgramString        string
}

// Module holds one symbol file's indexes, built by LoadModule.
type Module struct {
	ID   string
	Name string

	files     map[uint32]string
	functions *rangemap.Map // addr -> *Function
	publics   *rangemap.Map // addr -> *Public, clamped to the next public
	frames    *rangemap.Map // addr -> *FrameInfo

	// publicAddrs retains insertion order so publics can be clamped to
	// "the next public" once loading finishes (see clampPublics).
	publicAddrs []uint64
}

func newModule(id, name string) *Module {
	return &Module{
		ID:        id,
		Name:      name,
		files:     make(map[uint32]string),
		functions: rangemap.New(),
		publics:   rangemap.New(),
		frames:    rangemap.New(),
	}
}

// LineInfo is the answer to a FillSourceLineInfo query.
type LineInfo struct {
	FunctionName   string
	FunctionBase   uint64
	SourceFileName string
	SourceLine     uint32
	HasLine        bool
	Frame          *FrameInfo
}

// Resolver loads and caches per-module Symbols and answers frame
// queries. A Resolver is safe for concurrent reads once all LoadModule
// calls have returned; concurrent LoadModule calls are not supported,
// matching §5's "module cache is write-once per module id".
type Resolver struct {
	modules map[string]*Module
	logger  *log.Helper
}

// Options configures a Resolver.
type Options struct {
	Logger log.Logger
}

// NewResolver returns a ready-to-use Resolver.
func NewResolver(opts *Options) *Resolver {
	var logger log.Logger
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	} else {
		logger = log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError))
	}
	return &Resolver{
		modules: make(map[string]*Module),
		logger:  log.NewHelper(logger),
	}
}

// HasModule reports whether moduleID has already been loaded.
func (r *Resolver) HasModule(moduleID string) bool {
	_, ok := r.modules[moduleID]
	return ok
}

// LoadModule parses a text symbol stream and indexes it under moduleID.
// A module that fails to parse leaves no partial state: on error, the
// module is not registered.
func (r *Resolver) LoadModule(moduleID string, src io.Reader) error {
	if r.HasModule(moduleID) {
		return ErrDuplicateModule
	}

	mod := newModule(moduleID, moduleID)
	if err := parseInto(mod, src); err != nil {
		r.logger.Errorf("load module %s: %v", moduleID, err)
		return err
	}
	mod.clampPublics()
	r.modules[moduleID] = mod
	return nil
}

// FillSourceLineInfo resolves instruction (a module-relative RVA) within
// moduleID, following §4.4's three independent steps: function+line,
// else public symbol, and frame info looked up separately either way.
func (r *Resolver) FillSourceLineInfo(moduleID string, instruction uint64) (LineInfo, error) {
	mod, ok := r.modules[moduleID]
	if !ok {
		return LineInfo{}, ErrModuleNotFound
	}
	return mod.fillSourceLineInfo(instruction), nil
}

func (m *Module) fillSourceLineInfo(instruction uint64) LineInfo {
	var info LineInfo

	if v, base, _, ok := m.functions.RetrieveRange(int64(instruction)); ok {
		fn := v.(*Function)
		info.FunctionName = fn.Name
		info.FunctionBase = uint64(base)
		if lv, lbase, _, lok := fn.lines.RetrieveRange(int64(instruction)); lok {
			line := lv.(*Line)
			_ = lbase
			info.SourceLine = line.LineNumber
			info.SourceFileName = m.files[line.FileID]
			info.HasLine = true
		}
	} else if v, base, _, ok := m.publics.RetrieveRange(int64(instruction)); ok {
		pub := v.(*Public)
		info.FunctionName = pub.Name
		info.FunctionBase = uint64(base)
	}

	if v, _, _, ok := m.frames.RetrieveRange(int64(instruction)); ok {
		info.Frame = v.(*FrameInfo)
	}

	return info
}

// clampPublics re-derives each public symbol's effective range as
// [addr, nextPublic) once every PUBLIC record has been seen, per §4.4's
// "RangeMap of public symbols clamped by the next public".
func (m *Module) clampPublics() {
	if len(m.publicAddrs) == 0 {
		return
	}
	type rec struct {
		addr uint64
		pub  *Public
	}
	var recs []rec
	for _, addr := range m.publicAddrs {
		v, _, _, ok := m.publics.RetrieveRange(int64(addr))
		if !ok {
			continue
		}
		recs = append(recs, rec{addr: addr, pub: v.(*Public)})
	}
	m.publics.Clear()
	for i, r := range recs {
		size := int64(1) << 40 // effectively "to infinity"
		if i+1 < len(recs) {
			size = int64(recs[i+1].addr) - int64(r.addr)
			if size <= 0 {
				continue
			}
		}
		_ = m.publics.StoreRange(int64(r.addr), size, r.pub)
	}
}

func parseHex(tok string) (uint64, error) {
	return strconv.ParseUint(tok, 16, 64)
}

func parseDec(tok string) (uint64, error) {
	return strconv.ParseUint(tok, 10, 64)
}

// parseInto streams src line by line, dispatching on the leading keyword
// per §6.2. Unknown keywords are ignored; any malformed known record
// fails the whole load.
func parseInto(m *Module, src io.Reader) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *Function

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "MODULE":
			// MODULE <os> <arch> <id> <name> -- informational only.
			if len(fields) >= 5 {
				m.Name = strings.Join(fields[4:], " ")
			}

		case "FILE":
			if len(fields) < 3 {
				return fmt.Errorf("%w: FILE record: %q", ErrMalformedLine, line)
			}
			id, err := parseDec(fields[1])
			if err != nil {
				return fmt.Errorf("%w: FILE id: %q", ErrMalformedLine, line)
			}
			m.files[uint32(id)] = strings.Join(fields[2:], " ")

		case "FUNC":
			if len(fields) < 4 {
				return fmt.Errorf("%w: FUNC record: %q", ErrMalformedLine, line)
			}
			addr, err1 := parseHex(fields[1])
			size, err2 := parseHex(fields[2])
			paramSize, err3 := parseHex(fields[3])
			if err1 != nil || err2 != nil || err3 != nil {
				return fmt.Errorf("%w: FUNC fields: %q", ErrMalformedLine, line)
			}
			fn := &Function{
				Name:      strings.Join(fields[4:], " "),
				Address:   addr,
				Size:      size,
				ParamSize: uint32(paramSize),
				lines:     rangemap.New(),
			}
			if size > 0 {
				if err := m.functions.StoreRange(int64(addr), int64(size), fn); err != nil {
					return fmt.Errorf("%w: overlapping FUNC at %x", ErrMalformedLine, addr)
				}
			}
			current = fn

		case "PUBLIC":
			if len(fields) < 3 {
				return fmt.Errorf("%w: PUBLIC record: %q", ErrMalformedLine, line)
			}
			addr, err1 := parseHex(fields[1])
			paramSize, err2 := parseHex(fields[2])
			if err1 != nil || err2 != nil {
				return fmt.Errorf("%w: PUBLIC fields: %q", ErrMalformedLine, line)
			}
			pub := &Public{
				Name:      strings.Join(fields[3:], " "),
				Address:   addr,
				ParamSize: uint32(paramSize),
			}
			// Tentatively store as a one-byte range; clampPublics widens
			// it once every public has been seen.
			_ = m.publics.StoreRange(int64(addr), 1, pub)
			m.publicAddrs = append(m.publicAddrs, addr)
			current = nil

		case "STACK":
			if len(fields) < 3 || fields[1] != "WIN" {
				// Only STACK WIN is part of this format; anything else
				// (e.g. a future STACK CFI) is ignored rather than failed.
				continue
			}
			fi, addr, size, err := parseStackWin(fields)
			if err != nil {
				return err
			}
			if size > 0 {
				_ = m.frames.StoreRange(int64(addr), int64(size), fi)
			}

		default:
			if isLineRecord(fields) {
				if current == nil {
					return fmt.Errorf("%w: line record without FUNC: %q", ErrMalformedLine, line)
				}
				addr, err1 := parseHex(fields[0])
				size, err2 := parseHex(fields[1])
				lineNo, err3 := parseDec(fields[2])
				fileID, err4 := parseDec(fields[3])
				if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
					return fmt.Errorf("%w: line record: %q", ErrMalformedLine, line)
				}
				ln := &Line{Address: addr, Size: size, LineNumber: uint32(lineNo), FileID: uint32(fileID)}
				if size > 0 {
					if err := current.lines.StoreRange(int64(addr), int64(size), ln); err != nil {
						return fmt.Errorf("%w: overlapping line at %x", ErrMalformedLine, addr)
					}
				}
			}
			// Any other unrecognized keyword is silently ignored.
		}
	}
	return scanner.Err()
}

// isLineRecord reports whether fields looks like "<addr> <size> <line>
// <file-id>" rather than an unrecognized keyword line.
// isLineRecord reports whether fields looks like a <addr> <size> <line>
// <file-id> record rather than an unrecognized keyword that happens to
// have four whitespace-separated fields (§6.2 "Unknown keywords are
// ignored"): its first field must parse as the hex address a line
// record always starts with.
func isLineRecord(fields []string) bool {
	if len(fields) != 4 {
		return false
	}
	_, err := parseHex(fields[0])
	return err == nil
}

// parseStackWin parses:
//
//	STACK WIN <type> <rva> <code-size> <prolog> <epilog> <params>
//	          <saved-regs> <locals> <max-stack> <has-program> <tail...>
//
// where <tail> is the postfix program string (possibly multiple
// whitespace-separated tokens) when has-program is 1, or a single 0/1
// "uses base pointer" flag otherwise.
func parseStackWin(fields []string) (*FrameInfo, uint64, uint64, error) {
	const minFields = 13 // STACK WIN type rva size prolog epilog params savedregs locals maxstack hasprog tail
	if len(fields) < minFields {
		return nil, 0, 0, fmt.Errorf("%w: STACK WIN record", ErrMalformedLine)
	}

	hexFields := fields[3:11] // rva codeSize prolog epilog params savedregs locals maxstack
	vals := make([]uint64, len(hexFields))
	for i, f := range hexFields {
		v, err := parseHex(f)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: STACK WIN field %d: %q", ErrMalformedLine, i, f)
		}
		vals[i] = v
	}
	rva, codeSize := vals[0], vals[1]

	hasProgram, err := parseDec(fields[11])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: STACK WIN has-program flag", ErrMalformedLine)
	}

	fi := &FrameInfo{
		PrologueSize:      uint32(vals[2]),
		EpilogueSize:      uint32(vals[3]),
		ParamSize:         uint32(vals[4]),
		SavedRegisterSize: uint32(vals[5]),
		LocalSize:         uint32(vals[6]),
		MaxStackSize:      uint32(vals[7]),
	}

	rest := strings.Join(fields[12:], " ")
	if hasProgram == 1 {
		fi.HasProgramString = true
		fi.ProgramString = rest
	} else {
		fi.AllocatesBasePointer = rest == "1"
	}

	return fi, rva, codeSize, nil
}
