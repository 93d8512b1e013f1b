package wasm

import (
	"errors"
	"fmt"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrUnsupported    = errors.New("unsupported encoding")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := newReader(data)

	magic, err := r.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for r.len() > 0 {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}
		size, err := r.readU32()
		if err != nil {
			return nil, r.wrap(err)
		}
		body, err := r.readBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}

		sr := newReader(body)
		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			var idx uint32
			idx, err = sr.readU32()
			m.Start = &idx
		case SectionElement:
			m.Elements = body
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			m.Data = body
		case SectionDataCount:
			m.DataCount = body
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
		}
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(id), err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func sectionOrder(id byte) int {
	switch id {
	case SectionDataCount:
		return int(SectionElement) + 1
	case SectionCode, SectionData:
		return int(id) + 2
	default:
		return int(id)
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	default:
		return "unknown"
	}
}

func parseCustomSection(r *reader, m *Module) error {
	name, err := r.readName()
	if err != nil {
		return err
	}
	rest, _ := r.readBytes(r.len())
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func parseTypeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.readByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupported)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *reader) ([]ValType, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, n)
	for i := range types {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		types[i], err = checkValType(b)
		if err != nil {
			return nil, err
		}
	}
	return types, nil
}

func checkValType(b byte) (ValType, error) {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return ValType(b), nil
	}
	return 0, fmt.Errorf("value type 0x%02x: %w", b, ErrUnsupported)
}

func parseImportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, err := r.readName()
		if err != nil {
			return err
		}
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		desc := ImportDesc{Kind: kind}
		switch kind {
		case KindFunc:
			desc.TypeIdx, err = r.readU32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			desc.Table = &t
		case KindMemory:
			var l Limits
			l, err = readLimits(r)
			desc.Memory = &l
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			desc.Global = &g
		default:
			return fmt.Errorf("import %s.%s: kind 0x%02x: %w", mod, name, kind, ErrUnsupported)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, Import{Module: mod, Name: name, Desc: desc})
	}
	return nil
}

func parseFunctionSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
	}
	return nil
}

func parseMemorySection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, l)
	}
	return nil
}

func parseGlobalSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseCodeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.readU32()
		if err != nil {
			return err
		}
		raw, err := r.readBytes(int(size))
		if err != nil {
			return fmt.Errorf("func %d: %w", i, err)
		}
		br := newReader(raw)
		groups, err := br.readU32()
		if err != nil {
			return err
		}
		locals := make([]LocalEntry, 0, groups)
		for j := uint32(0); j < groups; j++ {
			n, err := br.readU32()
			if err != nil {
				return err
			}
			b, err := br.readByte()
			if err != nil {
				return err
			}
			vt, err := checkValType(b)
			if err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: vt})
		}
		code, _ := br.readBytes(br.len())
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
	}
	return nil
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.readByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax|LimitsShared|LimitsMemory64 {
		return Limits{}, fmt.Errorf("limits flags 0x%02x: %w", flags, ErrUnsupported)
	}
	l := Limits{Flags: flags}
	if l.Min, err = r.readU64(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.readU64()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > maxVal {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, maxVal)
		}
		l.Max = &maxVal
	}
	return l, nil
}

func readTableType(r *reader) (TableType, error) {
	b, err := r.readByte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(b) != ValFuncRef && ValType(b) != ValExternRef {
		return TableType{}, fmt.Errorf("table element type 0x%02x: %w", b, ErrUnsupported)
	}
	l, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(b), Limits: l}, nil
}

func readGlobalType(r *reader) (GlobalType, error) {
	b, err := r.readByte()
	if err != nil {
		return GlobalType{}, err
	}
	vt, err := checkValType(b)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.readByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr returns a constant expression up to and including its end.
func readInitExpr(r *reader) ([]byte, error) {
	start := r.pos
	for {
		ins, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		if ins.Opcode == OpEnd {
			return r.data[start:r.pos], nil
		}
	}
}
