package wasm

import (
	"encoding/binary"
	"math"
)

// Code assembles an encoded instruction stream.
type Code struct {
	buf []byte
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.buf
}

// Len returns the number of encoded bytes.
func (c *Code) Len() int {
	return len(c.buf)
}

// Raw appends already-encoded instructions.
func (c *Code) Raw(b []byte) *Code {
	c.buf = append(c.buf, b...)
	return c
}

// Op appends an instruction without immediates.
func (c *Code) Op(op byte) *Code {
	c.buf = append(c.buf, op)
	return c
}

// End appends the end opcode.
func (c *Code) End() *Code {
	return c.Op(OpEnd)
}

// Block opens a block, loop or if with the empty block type.
func (c *Code) Block(op byte) *Code {
	c.buf = append(c.buf, op, BlockTypeVoid)
	return c
}

// BlockResult opens a block, loop or if yielding a single value.
func (c *Code) BlockResult(op byte, result ValType) *Code {
	c.buf = append(c.buf, op, byte(result))
	return c
}

func (c *Code) index(op byte, idx uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, uint64(idx))
	return c
}

// Br appends br to the given label depth.
func (c *Code) Br(depth uint32) *Code { return c.index(OpBr, depth) }

// BrIf appends br_if to the given label depth.
func (c *Code) BrIf(depth uint32) *Code { return c.index(OpBrIf, depth) }

// Call appends a direct call.
func (c *Code) Call(funcIdx uint32) *Code { return c.index(OpCall, funcIdx) }

// LocalGet appends local.get.
func (c *Code) LocalGet(idx uint32) *Code { return c.index(OpLocalGet, idx) }

// LocalSet appends local.set.
func (c *Code) LocalSet(idx uint32) *Code { return c.index(OpLocalSet, idx) }

// LocalTee appends local.tee.
func (c *Code) LocalTee(idx uint32) *Code { return c.index(OpLocalTee, idx) }

// GlobalGet appends global.get.
func (c *Code) GlobalGet(idx uint32) *Code { return c.index(OpGlobalGet, idx) }

// GlobalSet appends global.set.
func (c *Code) GlobalSet(idx uint32) *Code { return c.index(OpGlobalSet, idx) }

// Mem appends a load or store with its memarg.
func (c *Code) Mem(op byte, align, offset uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, uint64(align))
	c.buf = AppendULEB128(c.buf, uint64(offset))
	return c
}

// I32Const appends i32.const.
func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, OpI32Const)
	c.buf = AppendSLEB128(c.buf, int64(v))
	return c
}

// I64Const appends i64.const.
func (c *Code) I64Const(v int64) *Code {
	c.buf = append(c.buf, OpI64Const)
	c.buf = AppendSLEB128(c.buf, v)
	return c
}

// F32Const appends f32.const.
func (c *Code) F32Const(v float32) *Code {
	c.buf = append(c.buf, OpF32Const)
	c.buf = binary.LittleEndian.AppendUint32(c.buf, math.Float32bits(v))
	return c
}

// F64Const appends f64.const.
func (c *Code) F64Const(v float64) *Code {
	c.buf = append(c.buf, OpF64Const)
	c.buf = binary.LittleEndian.AppendUint64(c.buf, math.Float64bits(v))
	return c
}

// ConstExpr returns a constant initializer of type t holding bits. Reference
// types always initialize to null.
func ConstExpr(t ValType, bits uint64) []byte {
	var c Code
	switch t {
	case ValI32:
		c.I32Const(int32(uint32(bits)))
	case ValI64:
		c.I64Const(int64(bits))
	case ValF32:
		c.F32Const(math.Float32frombits(uint32(bits)))
	case ValF64:
		c.F64Const(math.Float64frombits(bits))
	case ValFuncRef, ValExternRef:
		c.buf = append(c.buf, OpRefNull, byte(t))
	default:
		return nil
	}
	return c.End().Bytes()
}
