package wasm

import (
	"fmt"
	"strings"
)

// Control and variable opcodes.
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
	OpLocalGet           byte = 0x20
	OpLocalSet           byte = 0x21
	OpLocalTee           byte = 0x22
	OpGlobalGet          byte = 0x23
	OpGlobalSet          byte = 0x24
	OpTableGet           byte = 0x25
	OpTableSet           byte = 0x26
)

// Memory and constant opcodes.
const (
	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpI64Store32 byte = 0x3E
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
	OpI32Const   byte = 0x41
	OpI64Const   byte = 0x42
	OpF32Const   byte = 0x43
	OpF64Const   byte = 0x44
)

// Numeric opcodes referenced by instrumentation and tests.
const (
	OpI32Eqz  byte = 0x45
	OpI32Add  byte = 0x6A
	OpI32Sub  byte = 0x6B
	OpI32Mul  byte = 0x6C
	OpI32DivS byte = 0x6D
	OpI32DivU byte = 0x6E
	OpI32RemS byte = 0x6F
	OpI32RemU byte = 0x70
	OpI64GtU  byte = 0x56
	OpI64Add  byte = 0x7C
	OpI64Mul  byte = 0x7E
	OpI64DivS byte = 0x7F
	OpI64DivU byte = 0x80
	OpI64RemS byte = 0x81
	OpI64RemU byte = 0x82
	OpF32Add  byte = 0x92
	OpF32Div  byte = 0x95
	OpF64Add  byte = 0xA0
	OpF64Mul  byte = 0xA2
	OpF64Div  byte = 0xA3
	OpF64Sqrt byte = 0x9F
	OpF32Sqrt byte = 0x91
)

// Reference and prefixed opcodes.
const (
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpRefEq        byte = 0xD3
	OpRefAsNonNull byte = 0xD4
	OpBrOnNull     byte = 0xD5
	OpBrOnNonNull  byte = 0xD6
	OpPrefixGC     byte = 0xFB
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// 0xFC sub-opcodes with immediates.
const (
	MiscMemoryInit    uint32 = 8
	MiscDataDrop      uint32 = 9
	MiscMemoryCopy    uint32 = 10
	MiscMemoryFill    uint32 = 11
	MiscTableInit     uint32 = 12
	MiscElemDrop      uint32 = 13
	MiscTableCopy     uint32 = 14
	MiscTableGrow     uint32 = 15
	MiscTableSize     uint32 = 16
	MiscTableFill     uint32 = 17
	MiscMemoryDiscard uint32 = 18
)

// Instruction locates one instruction inside an encoded body. Immediates
// are skipped, not decoded: Code[Offset:Offset+Len] is the full encoding.
type Instruction struct {
	Offset int
	Len    int
	Sub    uint32 // sub-opcode for prefixed instructions
	Opcode byte
}

// IsPrefixed reports whether the instruction carries a sub-opcode.
func (i Instruction) IsPrefixed() bool {
	return i.Opcode >= OpPrefixGC
}

// Name returns the text-format mnemonic of the instruction.
func (i Instruction) Name() string {
	return OpcodeName(i.Opcode, i.Sub)
}

// DecodeInstructions splits a function body (or constant expression) into
// instructions. The final end is included.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := newReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.len() > 0 {
		ins, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, ins)
	}
	return instrs, nil
}

func decodeInstruction(r *reader) (Instruction, error) {
	start := r.pos
	op, err := r.readByte()
	if err != nil {
		return Instruction{}, err
	}
	ins := Instruction{Opcode: op, Offset: start}

	switch {
	case op == OpBlock || op == OpLoop || op == OpIf || op == OpTry:
		_, err = r.readS64()
	case op == OpTryTable:
		err = skipTryTable(r)
	case op == OpCatch || op == OpThrow || op == OpRethrow || op == OpDelegate ||
		op == OpBr || op == OpBrIf || op == OpCall || op == OpReturnCall ||
		op == OpCallRef || op == OpReturnCallRef ||
		op == OpBrOnNull || op == OpBrOnNonNull || op == OpRefFunc ||
		(op >= OpLocalGet && op <= OpTableSet) ||
		op == OpMemorySize || op == OpMemoryGrow:
		_, err = r.readU32()
	case op == OpBrTable:
		err = skipBrTable(r)
	case op == OpCallIndirect || op == OpReturnCallIndirect:
		if _, err = r.readU32(); err == nil {
			_, err = r.readU32()
		}
	case op == OpSelectType:
		err = skipSelectTypes(r)
	case op >= OpI32Load && op <= OpI64Store32:
		err = skipMemArg(r)
	case op == OpI32Const || op == OpI64Const || op == OpRefNull:
		_, err = r.readS64()
	case op == OpF32Const:
		err = r.skip(4)
	case op == OpF64Const:
		err = r.skip(8)
	case op == OpPrefixMisc:
		ins.Sub, err = skipMisc(r)
	case op == OpPrefixSIMD:
		ins.Sub, err = skipSIMD(r)
	case op == OpPrefixAtomic:
		ins.Sub, err = skipAtomic(r)
	case op == OpPrefixGC:
		return Instruction{}, fmt.Errorf("opcode 0x%02x at %d: %w", op, start, ErrUnsupported)
	case isPlainOpcode(op):
	default:
		return Instruction{}, fmt.Errorf("unknown opcode: 0x%02x at %d", op, start)
	}
	if err != nil {
		return Instruction{}, fmt.Errorf("opcode 0x%02x at %d: %w", op, start, err)
	}
	ins.Len = r.pos - start
	return ins, nil
}

func isPlainOpcode(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpThrowRef, OpEnd, OpReturn, OpCatchAll,
		OpDrop, OpSelect, OpRefIsNull, OpRefEq, OpRefAsNonNull:
		return true
	}
	return op >= OpI32Eqz && op <= 0xC4
}

func skipMemArg(r *reader) error {
	align, err := r.readU32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		if _, err := r.readU32(); err != nil {
			return err
		}
	}
	_, err = r.readU64()
	return err
}

func skipBrTable(r *reader) error {
	n, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i <= n; i++ {
		if _, err := r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipTryTable(r *reader) error {
	if _, err := r.readS64(); err != nil {
		return err
	}
	n, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		// catch and catch_ref carry a tag index
		if kind < 2 {
			if _, err := r.readU32(); err != nil {
				return err
			}
		}
		if _, err := r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipSelectTypes(r *reader) error {
	n, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		b, err := r.readByte()
		if err != nil {
			return err
		}
		if b == 0x63 || b == 0x64 {
			if _, err := r.readS64(); err != nil {
				return err
			}
		}
	}
	return nil
}

func skipMisc(r *reader) (uint32, error) {
	sub, err := r.readU32()
	if err != nil {
		return 0, err
	}
	operands := 0
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7:
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		operands = 2
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize,
		MiscTableFill, MiscMemoryDiscard:
		operands = 1
	default:
		return sub, fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", sub)
	}
	for i := 0; i < operands; i++ {
		if _, err := r.readU32(); err != nil {
			return sub, err
		}
	}
	return sub, nil
}

func skipSIMD(r *reader) (uint32, error) {
	sub, err := r.readU32()
	if err != nil {
		return 0, err
	}
	switch {
	case sub <= 11 || sub == 92 || sub == 93:
		err = skipMemArg(r)
	case sub == 12 || sub == 13:
		err = r.skip(16)
	case sub >= 21 && sub <= 34:
		err = r.skip(1)
	case sub >= 84 && sub <= 91:
		if err = skipMemArg(r); err == nil {
			err = r.skip(1)
		}
	}
	return sub, err
}

func skipAtomic(r *reader) (uint32, error) {
	sub, err := r.readU32()
	if err != nil {
		return 0, err
	}
	if sub == 0x03 {
		return sub, r.skip(1)
	}
	return sub, skipMemArg(r)
}

var opcodeNames [256]string

func init() {
	named := map[byte]string{
		OpUnreachable: "unreachable", OpNop: "nop", OpBlock: "block", OpLoop: "loop",
		OpIf: "if", OpElse: "else", OpTry: "try", OpCatch: "catch", OpThrow: "throw",
		OpRethrow: "rethrow", OpThrowRef: "throw_ref", OpEnd: "end", OpBr: "br",
		OpBrIf: "br_if", OpBrTable: "br_table", OpReturn: "return", OpCall: "call",
		OpCallIndirect: "call_indirect", OpReturnCall: "return_call",
		OpReturnCallIndirect: "return_call_indirect", OpCallRef: "call_ref",
		OpReturnCallRef: "return_call_ref", OpDelegate: "delegate", OpCatchAll: "catch_all",
		OpDrop: "drop", OpSelect: "select", OpSelectType: "select", OpTryTable: "try_table",
		OpLocalGet: "local.get", OpLocalSet: "local.set", OpLocalTee: "local.tee",
		OpGlobalGet: "global.get", OpGlobalSet: "global.set", OpTableGet: "table.get",
		OpTableSet: "table.set", OpMemorySize: "memory.size", OpMemoryGrow: "memory.grow",
		OpI32Const: "i32.const", OpI64Const: "i64.const", OpF32Const: "f32.const",
		OpF64Const: "f64.const", OpRefNull: "ref.null", OpRefIsNull: "ref.is_null",
		OpRefFunc: "ref.func", OpRefEq: "ref.eq", OpRefAsNonNull: "ref.as_non_null",
		OpBrOnNull: "br_on_null", OpBrOnNonNull: "br_on_non_null",
	}
	for op, name := range named {
		opcodeNames[op] = name
	}
	seq := func(first byte, names string) {
		for i, name := range strings.Fields(names) {
			opcodeNames[int(first)+i] = name
		}
	}
	seq(OpI32Load, `i32.load i64.load f32.load f64.load i32.load8_s i32.load8_u i32.load16_s
		i32.load16_u i64.load8_s i64.load8_u i64.load16_s i64.load16_u i64.load32_s i64.load32_u
		i32.store i64.store f32.store f64.store i32.store8 i32.store16 i64.store8 i64.store16 i64.store32`)
	seq(OpI32Eqz, `i32.eqz i32.eq i32.ne i32.lt_s i32.lt_u i32.gt_s i32.gt_u i32.le_s i32.le_u i32.ge_s i32.ge_u
		i64.eqz i64.eq i64.ne i64.lt_s i64.lt_u i64.gt_s i64.gt_u i64.le_s i64.le_u i64.ge_s i64.ge_u
		f32.eq f32.ne f32.lt f32.gt f32.le f32.ge f64.eq f64.ne f64.lt f64.gt f64.le f64.ge
		i32.clz i32.ctz i32.popcnt i32.add i32.sub i32.mul i32.div_s i32.div_u i32.rem_s i32.rem_u
		i32.and i32.or i32.xor i32.shl i32.shr_s i32.shr_u i32.rotl i32.rotr
		i64.clz i64.ctz i64.popcnt i64.add i64.sub i64.mul i64.div_s i64.div_u i64.rem_s i64.rem_u
		i64.and i64.or i64.xor i64.shl i64.shr_s i64.shr_u i64.rotl i64.rotr
		f32.abs f32.neg f32.ceil f32.floor f32.trunc f32.nearest f32.sqrt
		f32.add f32.sub f32.mul f32.div f32.min f32.max f32.copysign
		f64.abs f64.neg f64.ceil f64.floor f64.trunc f64.nearest f64.sqrt
		f64.add f64.sub f64.mul f64.div f64.min f64.max f64.copysign
		i32.wrap_i64 i32.trunc_f32_s i32.trunc_f32_u i32.trunc_f64_s i32.trunc_f64_u
		i64.extend_i32_s i64.extend_i32_u i64.trunc_f32_s i64.trunc_f32_u i64.trunc_f64_s i64.trunc_f64_u
		f32.convert_i32_s f32.convert_i32_u f32.convert_i64_s f32.convert_i64_u f32.demote_f64
		f64.convert_i32_s f64.convert_i32_u f64.convert_i64_s f64.convert_i64_u f64.promote_f32
		i32.reinterpret_f32 i64.reinterpret_f64 f32.reinterpret_i32 f64.reinterpret_i64
		i32.extend8_s i32.extend16_s i64.extend8_s i64.extend16_s i64.extend32_s`)
}

var miscNames = strings.Fields(`i32.trunc_sat_f32_s i32.trunc_sat_f32_u i32.trunc_sat_f64_s
	i32.trunc_sat_f64_u i64.trunc_sat_f32_s i64.trunc_sat_f32_u i64.trunc_sat_f64_s i64.trunc_sat_f64_u
	memory.init data.drop memory.copy memory.fill table.init elem.drop table.copy
	table.grow table.size table.fill memory.discard`)

// OpcodeName returns the text-format mnemonic for an opcode, or a hex
// rendering when the opcode has no registered name.
func OpcodeName(op byte, sub uint32) string {
	switch op {
	case OpPrefixMisc:
		if int(sub) < len(miscNames) {
			return miscNames[sub]
		}
		return fmt.Sprintf("0xfc %d", sub)
	case OpPrefixSIMD:
		return fmt.Sprintf("simd %d", sub)
	case OpPrefixAtomic:
		return fmt.Sprintf("atomic %d", sub)
	case OpPrefixGC:
		return fmt.Sprintf("gc %d", sub)
	}
	if name := opcodeNames[op]; name != "" {
		return name
	}
	return fmt.Sprintf("0x%02x", op)
}
