// Package value implements the tagged numeric values exchanged with
// instances, and their fixed-layout wire form.
package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
)

// Kind identifies the payload of a Value. The numeric values are the wire
// tags and must not change.
type Kind uint32

const (
	KindI32 Kind = iota
	KindI64
	KindF32
	KindF64
	// KindV128 is recognized so it can be rejected with a reported error.
	KindV128
)

func (k Kind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	default:
		return "kind(" + strconv.FormatUint(uint64(k), 10) + ")"
	}
}

// Supported reports whether values of this kind can be marshalled.
func (k Kind) Supported() bool {
	return k <= KindF64
}

// Value is a tagged 32/64-bit integer or float. Floats are held as their
// IEEE-754 bits so NaN payloads survive every conversion.
type Value struct {
	bits uint64
	kind Kind
}

// I32 returns an i32 value.
func I32(v int32) Value { return Value{kind: KindI32, bits: uint64(uint32(v))} }

// I64 returns an i64 value.
func I64(v int64) Value { return Value{kind: KindI64, bits: uint64(v)} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{kind: KindF32, bits: uint64(math.Float32bits(v))} }

// F64 returns an f64 value.
func F64(v float64) Value { return Value{kind: KindF64, bits: math.Float64bits(v)} }

// FromBits builds a value of kind k from its raw runtime representation.
func FromBits(k Kind, bits uint64) (Value, error) {
	switch k {
	case KindI32, KindF32:
		return Value{kind: k, bits: bits & math.MaxUint32}, nil
	case KindI64, KindF64:
		return Value{kind: k, bits: bits}, nil
	default:
		return Value{}, unsupported(k)
	}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Bits returns the value in the runtime's uint64 stack representation.
func (v Value) Bits() uint64 { return v.bits }

// I32 returns the payload as int32.
func (v Value) I32() int32 { return int32(uint32(v.bits)) }

// I64 returns the payload as int64.
func (v Value) I64() int64 { return int64(v.bits) }

// F32 returns the payload as float32.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }

// F64 returns the payload as float64.
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return "i32:" + strconv.FormatInt(int64(v.I32()), 10)
	case KindI64:
		return "i64:" + strconv.FormatInt(v.I64(), 10)
	case KindF32:
		return "f32:" + strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case KindF64:
		return "f64:" + strconv.FormatFloat(v.F64(), 'g', -1, 64)
	default:
		return v.kind.String()
	}
}

// Parse reads a value written as "kind:literal", e.g. "i32:-7" or "f64:2.5".
// A bare integer is taken as i32.
func Parse(s string) (Value, error) {
	kind, lit, found := strings.Cut(s, ":")
	if !found {
		kind, lit = "i32", s
	}
	bad := func(err error) (Value, error) {
		return Value{}, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Detail("parse %q", s).Cause(err).Build()
	}
	switch kind {
	case "i32":
		n, err := strconv.ParseInt(lit, 0, 32)
		if err != nil {
			return bad(err)
		}
		return I32(int32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return bad(err)
		}
		return I64(n), nil
	case "f32":
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return bad(err)
		}
		return F32(float32(f)), nil
	case "f64":
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return bad(err)
		}
		return F64(f), nil
	default:
		return bad(fmt.Errorf("unknown kind %q", kind))
	}
}

// KindOf maps a runtime value type to a Kind.
func KindOf(t api.ValueType) (Kind, error) {
	switch t {
	case api.ValueTypeI32:
		return KindI32, nil
	case api.ValueTypeI64:
		return KindI64, nil
	case api.ValueTypeF32:
		return KindF32, nil
	case api.ValueTypeF64:
		return KindF64, nil
	case valueTypeV128:
		return KindV128, unsupported(KindV128)
	default:
		return 0, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Detail("value type %s", api.ValueTypeName(t)).Value(t).Build()
	}
}

// ValueType maps a Kind to the runtime value type.
func (k Kind) ValueType() (api.ValueType, error) {
	switch k {
	case KindI32:
		return api.ValueTypeI32, nil
	case KindI64:
		return api.ValueTypeI64, nil
	case KindF32:
		return api.ValueTypeF32, nil
	case KindF64:
		return api.ValueTypeF64, nil
	default:
		return 0, unsupported(k)
	}
}

// Decode converts a raw runtime result of type t into a Value.
func Decode(t api.ValueType, bits uint64) (Value, error) {
	k, err := KindOf(t)
	if err != nil {
		return Value{}, err
	}
	return FromBits(k, bits)
}

// KindsOf maps a runtime signature to Kinds.
func KindsOf(types []api.ValueType) ([]Kind, error) {
	kinds := make([]Kind, len(types))
	for i, t := range types {
		k, err := KindOf(t)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}

// ValueTypes maps Kinds to runtime value types.
func ValueTypes(kinds []Kind) ([]api.ValueType, error) {
	types := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		t, err := k.ValueType()
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

// valueTypeV128 is the binary encoding of v128; the runtime API exposes no
// constant for it.
const valueTypeV128 api.ValueType = 0x7b

func unsupported(k Kind) *errors.Error {
	return errors.New(errors.PhaseMarshal, errors.KindUnsupported).
		Detail("%s values cannot be marshalled", k).Value(k).Build()
}

// Wire is the boundary layout of a Value: a 4-byte tag, 4 bytes of
// padding, then an 8-byte payload. 32-bit payloads occupy the low half.
type Wire struct {
	Tag     uint32
	_       uint32
	Payload uint64
}

// WireSize is the encoded size of a Wire.
const WireSize = 16

// ToWire converts a value to its boundary layout.
func (v Value) ToWire() Wire {
	return Wire{Tag: uint32(v.kind), Payload: v.bits}
}

// FromWire converts a boundary record back into a Value.
func FromWire(w Wire) (Value, error) {
	return FromBits(Kind(w.Tag), w.Payload)
}

// MarshalBinary encodes w little-endian into WireSize bytes.
func (w Wire) MarshalBinary() ([]byte, error) {
	return w.AppendBinary(make([]byte, 0, WireSize))
}

// AppendBinary appends the little-endian encoding of w to b.
func (w Wire) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, w.Tag)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return binary.LittleEndian.AppendUint64(b, w.Payload), nil
}

// UnmarshalBinary decodes a WireSize record.
func (w *Wire) UnmarshalBinary(data []byte) error {
	if len(data) != WireSize {
		return errors.InvalidInput(errors.PhaseMarshal,
			fmt.Sprintf("wire value must be %d bytes, got %d", WireSize, len(data)))
	}
	w.Tag = binary.LittleEndian.Uint32(data[0:4])
	w.Payload = binary.LittleEndian.Uint64(data[8:16])
	return nil
}
