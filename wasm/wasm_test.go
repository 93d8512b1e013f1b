package wasm

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func sampleModule() *Module {
	var add Code
	add.LocalGet(0).LocalGet(1).Op(OpI32Add).End()

	var loop Code
	loop.Block(OpLoop).
		LocalGet(0).I32Const(1).Op(OpI32Sub).LocalTee(0).
		BrIf(0).
		End().
		GlobalGet(0).End()

	maxPages := uint64(2)
	return &Module{
		Types: []FuncType{
			{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}},
			{Params: []ValType{ValI32}, Results: []ValType{ValI64}},
		},
		Imports: []Import{
			{Module: "env", Name: "log", Desc: ImportDesc{Kind: KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "mem", Desc: ImportDesc{Kind: KindMemory, Memory: &Limits{Min: 1, Max: &maxPages}}},
		},
		Funcs:   []uint32{0, 1},
		Globals: []Global{{Type: GlobalType{ValType: ValI64, Mutable: true}, Init: ConstExpr(ValI64, 7)}},
		Exports: []Export{
			{Name: "add", Kind: KindFunc, Idx: 1},
			{Name: "count", Kind: KindFunc, Idx: 2},
			{Name: "g", Kind: KindGlobal, Idx: 0},
		},
		Code: []FuncBody{
			{Code: add.Bytes()},
			{Locals: []LocalEntry{{Count: 3, ValType: ValI64}}, Code: loop.Bytes()},
		},
		CustomSections: []CustomSection{{Name: "meta", Data: []byte{1, 2, 3}}},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	src := sampleModule()
	bin := src.Encode()

	m, err := ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if len(m.Types) != 2 || !reflect.DeepEqual(m.Types[0], src.Types[0]) {
		t.Errorf("types = %+v", m.Types)
	}
	if len(m.Imports) != 2 {
		t.Fatalf("imports = %d, want 2", len(m.Imports))
	}
	mem := m.Imports[1].Desc.Memory
	if mem == nil || mem.Min != 1 || mem.Max == nil || *mem.Max != 2 {
		t.Errorf("memory import limits = %+v", mem)
	}
	if got := m.NumImportedFuncs(); got != 1 {
		t.Errorf("NumImportedFuncs = %d", got)
	}
	for i, e := range src.Exports {
		if m.Exports[i] != e {
			t.Errorf("export %d = %+v, want %+v", i, m.Exports[i], e)
		}
	}
	if !bytes.Equal(m.Globals[0].Init, src.Globals[0].Init) {
		t.Errorf("global init = %x", m.Globals[0].Init)
	}
	if m.Code[1].NumLocals() != 3 {
		t.Errorf("NumLocals = %d", m.Code[1].NumLocals())
	}
	if !bytes.Equal(m.Code[1].Code, src.Code[1].Code) {
		t.Errorf("body changed across round trip")
	}
	if len(m.CustomSections) != 1 || m.CustomSections[0].Name != "meta" {
		t.Errorf("custom sections = %+v", m.CustomSections)
	}

	if again := m.Encode(); !bytes.Equal(again, bin) {
		t.Error("re-encoding a parsed module is not stable")
	}
}

func TestFuncTypeOf(t *testing.T) {
	m := sampleModule()

	ft, ok := m.FuncTypeOf(0)
	if !ok || !reflect.DeepEqual(ft, m.Types[0]) {
		t.Errorf("imported func type = %+v, %v", ft, ok)
	}
	ft, ok = m.FuncTypeOf(2)
	if !ok || !reflect.DeepEqual(ft, m.Types[1]) {
		t.Errorf("defined func type = %+v, %v", ft, ok)
	}
	if _, ok := m.FuncTypeOf(9); ok {
		t.Error("out of range index resolved")
	}
}

func TestParseModuleErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 1, 0, 0, 0}, ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 2, 0, 0, 0}, ErrInvalidVersion},
		{"gc type", append((&Module{}).Encode(), SectionType, 2, 1, 0x5f), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModule(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("truncated", func(t *testing.T) {
		bin := sampleModule().Encode()
		if _, err := ParseModule(bin[:len(bin)-4]); err == nil {
			t.Error("expected error for truncated module")
		}
	})

	t.Run("out of order", func(t *testing.T) {
		bin := (&Module{}).Encode()
		bin = append(bin, SectionExport, 1, 0, SectionType, 1, 0)
		if _, err := ParseModule(bin); err == nil {
			t.Error("expected ordering error")
		}
	})
}

func TestDecodeInstructions(t *testing.T) {
	var c Code
	c.Block(OpBlock).
		I64Const(-1).
		Op(OpDrop).
		Raw([]byte{OpBrTable, 2, 0, 1, 0}).
		Raw([]byte{0x28, 0x02, 0x10}).
		Raw([]byte{OpPrefixMisc, 0x0a, 0x00, 0x00}).
		Raw(append([]byte{OpPrefixSIMD, 0x0c}, make([]byte, 16)...)).
		Raw([]byte{OpPrefixSIMD, 0x15, 0x03}).
		F64Const(1.5).
		End().
		End()

	instrs, err := DecodeInstructions(c.Bytes())
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}

	want := []struct {
		name string
		len  int
	}{
		{"block", 2},
		{"i64.const", 2},
		{"drop", 1},
		{"br_table", 5},
		{"i32.load", 3},
		{"memory.copy", 4},
		{"simd 12", 18},
		{"simd 21", 3},
		{"f64.const", 9},
		{"end", 1},
		{"end", 1},
	}
	if len(instrs) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(instrs), len(want))
	}
	offset := 0
	for i, w := range want {
		if instrs[i].Name() != w.name || instrs[i].Len != w.len || instrs[i].Offset != offset {
			t.Errorf("instr %d = %s len %d off %d, want %s len %d off %d",
				i, instrs[i].Name(), instrs[i].Len, instrs[i].Offset, w.name, w.len, offset)
		}
		offset += w.len
	}
}

func TestDecodeInstructionsErrors(t *testing.T) {
	if _, err := DecodeInstructions([]byte{0xC5}); err == nil {
		t.Error("unknown opcode accepted")
	}
	if _, err := DecodeInstructions([]byte{OpPrefixGC, 0x00}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("gc prefix err = %v", err)
	}
	if _, err := DecodeInstructions([]byte{OpI32Const}); err == nil {
		t.Error("truncated immediate accepted")
	}
}

func TestLEB128(t *testing.T) {
	unsigned := []uint64{0, 1, 127, 128, 624485, 1<<32 - 1, 1<<64 - 1}
	for _, v := range unsigned {
		buf := AppendULEB128(nil, v)
		got, n, err := ReadULEB128(buf)
		if err != nil || got != v || n != len(buf) {
			t.Errorf("unsigned %d: got %d, n=%d, err=%v", v, got, n, err)
		}
	}

	signed := []int64{0, -1, 63, -64, 64, -65, -123456, 1<<63 - 1, -1 << 63}
	for _, v := range signed {
		buf := AppendSLEB128(nil, v)
		got, n, err := ReadSLEB128(buf)
		if err != nil || got != v || n != len(buf) {
			t.Errorf("signed %d: got %d, n=%d, err=%v", v, got, n, err)
		}
	}

	if got := AppendULEB128(nil, 624485); !bytes.Equal(got, []byte{0xe5, 0x8e, 0x26}) {
		t.Errorf("624485 encoded as %x", got)
	}
	if _, _, err := ReadULEB128(bytes.Repeat([]byte{0xff}, 11)); !errors.Is(err, ErrOverflow) {
		t.Errorf("overflow err = %v", err)
	}
}

func TestOpcodeName(t *testing.T) {
	tests := []struct {
		op   byte
		sub  uint32
		want string
	}{
		{OpI64GtU, 0, "i64.gt_u"},
		{0xC4, 0, "i64.extend32_s"},
		{0x3E, 0, "i64.store32"},
		{OpPrefixMisc, MiscMemoryFill, "memory.fill"},
		{0xC5, 0, "0xc5"},
	}
	for _, tt := range tests {
		if got := OpcodeName(tt.op, tt.sub); got != tt.want {
			t.Errorf("OpcodeName(0x%02x, %d) = %q, want %q", tt.op, tt.sub, got, tt.want)
		}
	}
}
