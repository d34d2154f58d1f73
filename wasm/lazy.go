package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/gowasm/wasmkit/internal/xlog"
	"github.com/gowasm/wasmkit/wasm/internal/binary"
)

// ErrIteratorDone is returned by a lazy section reader's Next method once
// every item in the section vector has been yielded.
var ErrIteratorDone = errors.New("wasm: no more items in section")

// RawSection is one undecoded section as it appears on the wire: an ID, its
// byte offset within the module (for error reporting), and its payload.
type RawSection struct {
	ID     byte
	Offset int
	Data   []byte
}

// LazyModule streams a module's sections without eagerly decoding any of
// them. Callers pull sections one at a time with NextSection, and decode
// only the ones they care about via the typed *SectionReader constructors
// below — the code section in particular can be walked one function body
// at a time without ever materializing the rest of the module.
type LazyModule struct {
	r         *binary.Reader
	lastOrder int
}

// NewLazyModule validates the header (magic + version) and returns a
// streaming reader positioned at the first section.
func NewLazyModule(data []byte) (*LazyModule, error) {
	r := binary.NewReader(bytes.NewReader(data))
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}
	return &LazyModule{r: r}, nil
}

// NextSection reads the next section header and payload, enforcing
// canonical section ordering (custom sections are exempt), and returns
// ErrIteratorDone once the input is exhausted.
func (lm *LazyModule) NextSection() (*RawSection, error) {
	offset := lm.r.Position()
	sectionID, err := lm.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrIteratorDone
		}
		return nil, lm.r.WrapError("section header", err)
	}

	if sectionID != SectionCustom {
		order := sectionOrder(sectionID)
		if order <= lm.lastOrder {
			return nil, newError(ErrKindSectionOutOfOrder, offset, fmt.Sprintf("section %d appears out of order", sectionID))
		}
		lm.lastOrder = order
	}

	size, err := lm.r.ReadU32()
	if err != nil {
		return nil, lm.r.WrapError("section size", err)
	}
	data, err := lm.r.ReadBytes(int(size))
	if err != nil {
		return nil, lm.r.WrapError("section data", err)
	}
	xlog.L().Debug("section read",
		zap.Int("id", int(sectionID)),
		zap.Int("offset", offset),
		zap.Int("size", len(data)),
	)
	return &RawSection{ID: sectionID, Offset: offset, Data: data}, nil
}

// TypeSectionReader lazily decodes type section entries one at a time.
type TypeSectionReader struct {
	r         *binary.Reader
	remaining uint32
}

// NewTypeSectionReader wraps a raw type section for one-at-a-time reads.
func NewTypeSectionReader(s *RawSection) (*TypeSectionReader, error) {
	r := binary.NewReader(bytes.NewReader(s.Data))
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &TypeSectionReader{r: r, remaining: count}, nil
}

// Len reports how many entries remain unread.
func (it *TypeSectionReader) Len() int { return int(it.remaining) }

// Next decodes the next type definition, returning ErrIteratorDone when
// the vector is exhausted. GC composite forms (struct/array/rec/sub) are
// surfaced via TypeDef; the plain function-type shorthand also populates
// the Func field directly for callers that only care about func types.
func (it *TypeSectionReader) Next() (TypeDef, error) {
	if it.remaining == 0 {
		return TypeDef{}, ErrIteratorDone
	}
	it.remaining--

	form, err := it.r.ReadByte()
	if err != nil {
		return TypeDef{}, err
	}
	switch form {
	case FuncTypeByte:
		ft, err := readFuncType(it.r)
		if err != nil {
			return TypeDef{}, err
		}
		return TypeDef{Kind: TypeDefKindFunc, Func: &ft}, nil
	case RecTypeByte:
		recCount, err := it.r.ReadU32()
		if err != nil {
			return TypeDef{}, err
		}
		rec := RecType{Types: make([]SubType, recCount)}
		for i := uint32(0); i < recCount; i++ {
			sub, err := readSubType(it.r)
			if err != nil {
				return TypeDef{}, err
			}
			rec.Types[i] = sub
		}
		return TypeDef{Kind: TypeDefKindRec, Rec: &rec}, nil
	case SubTypeByte, SubFinalByte:
		sub, err := readSubTypeWithPrefix(it.r, form)
		if err != nil {
			return TypeDef{}, err
		}
		return TypeDef{Kind: TypeDefKindSub, Sub: &sub}, nil
	case StructTypeByte:
		st, err := readStructType(it.r)
		if err != nil {
			return TypeDef{}, err
		}
		sub := SubType{Final: true, CompType: CompType{Kind: CompKindStruct, Struct: &st}}
		return TypeDef{Kind: TypeDefKindSub, Sub: &sub}, nil
	case ArrayTypeByte:
		at, err := readArrayType(it.r)
		if err != nil {
			return TypeDef{}, err
		}
		sub := SubType{Final: true, CompType: CompType{Kind: CompKindArray, Array: &at}}
		return TypeDef{Kind: TypeDefKindSub, Sub: &sub}, nil
	default:
		return TypeDef{}, fmt.Errorf("unsupported type form 0x%02x", form)
	}
}

// ImportSectionReader lazily decodes import entries one at a time.
type ImportSectionReader struct {
	r         *binary.Reader
	remaining uint32
}

func NewImportSectionReader(s *RawSection) (*ImportSectionReader, error) {
	r := binary.NewReader(bytes.NewReader(s.Data))
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &ImportSectionReader{r: r, remaining: count}, nil
}

func (it *ImportSectionReader) Len() int { return int(it.remaining) }

func (it *ImportSectionReader) Next() (Import, error) {
	if it.remaining == 0 {
		return Import{}, ErrIteratorDone
	}
	it.remaining--

	module, err := it.r.ReadName()
	if err != nil {
		return Import{}, err
	}
	name, err := it.r.ReadName()
	if err != nil {
		return Import{}, err
	}
	kind, err := it.r.ReadByte()
	if err != nil {
		return Import{}, err
	}
	imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
	switch kind {
	case KindFunc:
		imp.Desc.TypeIdx, err = it.r.ReadU32()
	case KindTable:
		var table TableType
		table, err = readTableType(it.r)
		imp.Desc.Table = &table
	case KindMemory:
		var mem MemoryType
		mem, err = readMemoryType(it.r)
		imp.Desc.Memory = &mem
	case KindGlobal:
		var g GlobalType
		g, err = readGlobalType(it.r)
		imp.Desc.Global = &g
	case KindTag:
		var tag TagType
		tag, err = readTagType(it.r)
		imp.Desc.Tag = &tag
	default:
		return Import{}, fmt.Errorf("unknown import kind: %d", kind)
	}
	if err != nil {
		return Import{}, err
	}
	return imp, nil
}

// CodeSectionReader lazily yields raw function bodies without decoding
// their instruction streams; call DecodeInstructions (or a funcChecker via
// Module.CheckFunctionBody on a fully-parsed module) on the returned
// FuncBody only for the functions that are actually needed. This is the
// entry point for resumable, streaming validation of very large modules.
type CodeSectionReader struct {
	r         *binary.Reader
	remaining uint32
}

func NewCodeSectionReader(s *RawSection) (*CodeSectionReader, error) {
	r := binary.NewReader(bytes.NewReader(s.Data))
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &CodeSectionReader{r: r, remaining: count}, nil
}

func (it *CodeSectionReader) Len() int { return int(it.remaining) }

// Next reads the next function body's raw bytes (locals already decoded,
// code left as an opaque slice) without decoding its instructions.
func (it *CodeSectionReader) Next() (FuncBody, error) {
	if it.remaining == 0 {
		return FuncBody{}, ErrIteratorDone
	}
	it.remaining--

	bodySize, err := it.r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	bodyData, err := it.r.ReadBytes(int(bodySize))
	if err != nil {
		return FuncBody{}, err
	}

	br := binary.NewReader(bytes.NewReader(bodyData))
	localCount, err := br.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	var locals []LocalEntry
	for i := uint32(0); i < localCount; i++ {
		n, err := br.ReadU32()
		if err != nil {
			return FuncBody{}, err
		}
		t, err := br.ReadByte()
		if err != nil {
			return FuncBody{}, err
		}
		entry := LocalEntry{Count: n, ValType: ValType(t)}
		if t == byte(ValRefNull) || t == byte(ValRef) {
			heapType, err := ReadLEB128s64(br)
			if err != nil {
				return FuncBody{}, err
			}
			entry.ExtType = &ExtValType{
				Kind:    ExtValKindRef,
				ValType: ValType(t),
				RefType: RefType{Nullable: t == byte(ValRefNull), HeapType: heapType},
			}
		}
		locals = append(locals, entry)
	}
	code, err := br.ReadRemaining()
	if err != nil {
		return FuncBody{}, err
	}
	return FuncBody{Locals: locals, Code: code}, nil
}

// ExportSectionReader lazily decodes export entries one at a time.
type ExportSectionReader struct {
	r         *binary.Reader
	remaining uint32
}

func NewExportSectionReader(s *RawSection) (*ExportSectionReader, error) {
	r := binary.NewReader(bytes.NewReader(s.Data))
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &ExportSectionReader{r: r, remaining: count}, nil
}

func (it *ExportSectionReader) Len() int { return int(it.remaining) }

func (it *ExportSectionReader) Next() (Export, error) {
	if it.remaining == 0 {
		return Export{}, ErrIteratorDone
	}
	it.remaining--

	name, err := it.r.ReadName()
	if err != nil {
		return Export{}, err
	}
	kind, err := it.r.ReadByte()
	if err != nil {
		return Export{}, err
	}
	if kind > KindTag {
		return Export{}, fmt.Errorf("invalid export kind: 0x%02x", kind)
	}
	idx, err := it.r.ReadU32()
	if err != nil {
		return Export{}, err
	}
	return Export{Name: name, Kind: kind, Idx: idx}, nil
}

// NameSubsection identifies one subsection of a "name" custom section.
type NameSubsection byte

const (
	NameSubsectionModule   NameSubsection = 0
	NameSubsectionFunction NameSubsection = 1
	NameSubsectionLocal    NameSubsection = 2
)

// NameMap associates an index with a name, as used by all three name
// custom-section subsections.
type NameMap struct {
	Idx  uint32
	Name string
}

// ModuleNames holds the decoded contents of a name custom section: the
// module's own name (if present), its functions' names, and per-function
// local names. Subsections must appear in strictly ascending ID order,
// matching every other vector-of-subsections format the binary encoding
// uses elsewhere.
type ModuleNames struct {
	ModuleName    string
	HasModuleName bool
	FunctionNames []NameMap
	LocalNames    map[uint32][]NameMap
}

// ParseNameSection decodes a "name" custom section's payload.
func ParseNameSection(data []byte) (*ModuleNames, error) {
	r := binary.NewReader(bytes.NewReader(data))
	out := &ModuleNames{LocalNames: make(map[uint32][]NameMap)}
	lastID := -1

	for {
		id, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if int(id) <= lastID {
			return nil, newError(ErrKindSectionOutOfOrder, r.Position(), "name subsections must be strictly ascending")
		}
		lastID = int(id)

		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		sr := binary.NewReader(bytes.NewReader(payload))

		switch NameSubsection(id) {
		case NameSubsectionModule:
			name, err := sr.ReadName()
			if err != nil {
				return nil, err
			}
			out.ModuleName = name
			out.HasModuleName = true
		case NameSubsectionFunction:
			names, err := readNameMap(sr)
			if err != nil {
				return nil, err
			}
			out.FunctionNames = names
		case NameSubsectionLocal:
			count, err := sr.ReadU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				funcIdx, err := sr.ReadU32()
				if err != nil {
					return nil, err
				}
				names, err := readNameMap(sr)
				if err != nil {
					return nil, err
				}
				out.LocalNames[funcIdx] = names
			}
		default:
			// Unknown subsections are skipped, matching custom
			// section tolerance elsewhere in the format.
		}
	}
	return out, nil
}

func readNameMap(r *binary.Reader) ([]NameMap, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]NameMap, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		out[i] = NameMap{Idx: idx, Name: name}
	}
	return out, nil
}
