package boundary

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/resource"
)

// Handle is an opaque reference to a boundary object. The zero Handle is
// never issued.
type Handle = resource.Handle

// Status is the outcome of a boundary operation.
type Status uint32

const (
	StatusOK    Status = 1
	StatusError Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "status(invalid)"
	}
}

// ByteArray carries text across the boundary. It is validated once, when
// converted to a string.
type ByteArray []byte

// Text returns s as a ByteArray.
func Text(s string) ByteArray {
	return ByteArray(s)
}

func (a ByteArray) text(what string) (string, error) {
	if a == nil {
		return "", errors.NilPointer(errors.PhaseBoundary, what)
	}
	if !utf8.Valid(a) {
		return "", errors.InvalidUTF8(errors.PhaseBoundary, what, a)
	}
	return string(a), nil
}

// CompilationOptionsSize is the encoded size of CompilationOptions.
const CompilationOptionsSize = 24

// CompilationOptions selects the instrumentation applied by
// InstantiateWithOptions. Its binary layout is little-endian:
//
//	0   u64 gas_limit
//	8   u64 unmetered_locals
//	16  u8  opcode_trace
//	17  u8  metering
//	18  u8  runtime_breakpoints
//	19  5 bytes padding
type CompilationOptions struct {
	GasLimit           uint64
	UnmeteredLocals    uint64
	OpcodeTrace        bool
	Metering           bool
	RuntimeBreakpoints bool
}

// MarshalBinary encodes o in its fixed layout.
func (o CompilationOptions) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CompilationOptionsSize)
	binary.LittleEndian.PutUint64(buf[0:], o.GasLimit)
	binary.LittleEndian.PutUint64(buf[8:], o.UnmeteredLocals)
	buf[16] = boolByte(o.OpcodeTrace)
	buf[17] = boolByte(o.Metering)
	buf[18] = boolByte(o.RuntimeBreakpoints)
	return buf, nil
}

// UnmarshalBinary decodes the fixed layout. Flag bytes other than 0 or 1
// are rejected.
func (o *CompilationOptions) UnmarshalBinary(data []byte) error {
	if len(data) != CompilationOptionsSize {
		return errors.New(errors.PhaseBoundary, errors.KindInvalidInput).
			Detail("compilation options: want %d bytes, got %d", CompilationOptionsSize, len(data)).Build()
	}
	var flags [3]bool
	for i := range flags {
		switch data[16+i] {
		case 0:
		case 1:
			flags[i] = true
		default:
			return errors.New(errors.PhaseBoundary, errors.KindInvalidInput).
				Path("compilation options", flagNames[i]).
				Detail("flag byte %#x is not a bool", data[16+i]).Build()
		}
	}
	*o = CompilationOptions{
		GasLimit:           binary.LittleEndian.Uint64(data[0:]),
		UnmeteredLocals:    binary.LittleEndian.Uint64(data[8:]),
		OpcodeTrace:        flags[0],
		Metering:           flags[1],
		RuntimeBreakpoints: flags[2],
	}
	return nil
}

var flagNames = [3]string{"opcode_trace", "metering", "runtime_breakpoints"}

// Middleware converts o into a middleware configuration. Every field value
// is accepted as is.
func (o CompilationOptions) Middleware() middleware.Config {
	return middleware.Config{
		GasLimit:           o.GasLimit,
		UnmeteredLocals:    o.UnmeteredLocals,
		OpcodeTrace:        o.OpcodeTrace,
		Metering:           o.Metering,
		RuntimeBreakpoints: o.RuntimeBreakpoints,
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
