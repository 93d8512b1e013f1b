package wasm

import "encoding/binary"

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, FuncTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec = AppendULEB128(sec, uint64(imp.Desc.TypeIdx))
			case KindTable:
				sec = appendTableType(sec, *imp.Desc.Table)
			case KindMemory:
				sec = appendLimits(sec, *imp.Desc.Memory)
			case KindGlobal:
				sec = appendGlobalType(sec, *imp.Desc.Global)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec = AppendULEB128(sec, uint64(idx))
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Tables) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Tables)))
		for _, t := range m.Tables {
			sec = appendTableType(sec, t)
		}
		out = appendSection(out, SectionTable, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Memories)))
		for _, l := range m.Memories {
			sec = appendLimits(sec, l)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Globals)))
		for _, g := range m.Globals {
			sec = appendGlobalType(sec, g.Type)
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Exports)))
		for _, e := range m.Exports {
			sec = appendName(sec, e.Name)
			sec = append(sec, e.Kind)
			sec = AppendULEB128(sec, uint64(e.Idx))
		}
		out = appendSection(out, SectionExport, sec)
	}

	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendULEB128(nil, uint64(*m.Start)))
	}

	if m.Elements != nil {
		out = appendSection(out, SectionElement, m.Elements)
	}

	if m.DataCount != nil {
		out = appendSection(out, SectionDataCount, m.DataCount)
	}

	if len(m.Code) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Code)))
		for _, body := range m.Code {
			fn := AppendULEB128(nil, uint64(len(body.Locals)))
			for _, l := range body.Locals {
				fn = AppendULEB128(fn, uint64(l.Count))
				fn = append(fn, byte(l.ValType))
			}
			fn = append(fn, body.Code...)
			sec = AppendULEB128(sec, uint64(len(fn)))
			sec = append(sec, fn...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if m.Data != nil {
		out = appendSection(out, SectionData, m.Data)
	}

	for _, cs := range m.CustomSections {
		sec := appendName(nil, cs.Name)
		sec = append(sec, cs.Data...)
		out = appendSection(out, SectionCustom, sec)
	}

	return out
}

func appendSection(out []byte, id byte, data []byte) []byte {
	out = append(out, id)
	out = AppendULEB128(out, uint64(len(data)))
	return append(out, data...)
}

func appendValTypes(buf []byte, types []ValType) []byte {
	buf = AppendULEB128(buf, uint64(len(types)))
	for _, t := range types {
		buf = append(buf, byte(t))
	}
	return buf
}

func appendLimits(buf []byte, l Limits) []byte {
	flags := l.Flags &^ LimitsHasMax
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	buf = append(buf, flags)
	buf = AppendULEB128(buf, l.Min)
	if l.Max != nil {
		buf = AppendULEB128(buf, *l.Max)
	}
	return buf
}

func appendTableType(buf []byte, t TableType) []byte {
	buf = append(buf, byte(t.ElemType))
	return appendLimits(buf, t.Limits)
}

func appendGlobalType(buf []byte, g GlobalType) []byte {
	buf = append(buf, byte(g.ValType))
	if g.Mutable {
		return append(buf, 1)
	}
	return append(buf, 0)
}
