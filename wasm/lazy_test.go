package wasm_test

import (
	"errors"
	"testing"

	"github.com/gowasm/wasmkit/wasm"
)

func TestLazyModule_WalksSections(t *testing.T) {
	m := &wasm.Module{
		Types:    []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{
			{Code: bodyOf(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 7}})},
		},
	}
	data := m.Encode()

	lm, err := wasm.NewLazyModule(data)
	if err != nil {
		t.Fatalf("NewLazyModule: %v", err)
	}

	var ids []byte
	for {
		s, err := lm.NextSection()
		if errors.Is(err, wasm.ErrIteratorDone) {
			break
		}
		if err != nil {
			t.Fatalf("NextSection: %v", err)
		}
		ids = append(ids, s.ID)
	}

	want := []byte{wasm.SectionType, wasm.SectionFunction, wasm.SectionMemory, wasm.SectionCode}
	if len(ids) != len(want) {
		t.Fatalf("got sections %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("section %d: got id %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestLazyModule_RejectsBadHeader(t *testing.T) {
	if _, err := wasm.NewLazyModule([]byte{0, 0, 0, 0, 1, 0, 0, 0}); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestTypeSectionReader(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Results: []wasm.ValType{wasm.ValI64}},
		},
	}
	data := m.Encode()

	lm, err := wasm.NewLazyModule(data)
	if err != nil {
		t.Fatalf("NewLazyModule: %v", err)
	}
	s, err := lm.NextSection()
	if err != nil {
		t.Fatalf("NextSection: %v", err)
	}
	if s.ID != wasm.SectionType {
		t.Fatalf("expected type section, got id %d", s.ID)
	}

	it, err := wasm.NewTypeSectionReader(s)
	if err != nil {
		t.Fatalf("NewTypeSectionReader: %v", err)
	}
	if it.Len() != 2 {
		t.Fatalf("expected 2 types, got %d", it.Len())
	}

	first, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.Kind != wasm.TypeDefKindFunc || len(first.Func.Params) != 1 {
		t.Errorf("unexpected first type: %+v", first)
	}

	if _, err := it.Next(); err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if _, err := it.Next(); !errors.Is(err, wasm.ErrIteratorDone) {
		t.Fatalf("expected ErrIteratorDone, got %v", err)
	}
}

func TestCodeSectionReader(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0, 0},
		Code: []wasm.FuncBody{
			{Code: bodyOf(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}})},
			{Code: bodyOf(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 2}})},
		},
	}
	data := m.Encode()

	lm, err := wasm.NewLazyModule(data)
	if err != nil {
		t.Fatalf("NewLazyModule: %v", err)
	}
	var codeSection *wasm.RawSection
	for {
		s, err := lm.NextSection()
		if errors.Is(err, wasm.ErrIteratorDone) {
			t.Fatal("code section not found")
		}
		if err != nil {
			t.Fatalf("NextSection: %v", err)
		}
		if s.ID == wasm.SectionCode {
			codeSection = s
			break
		}
	}

	it, err := wasm.NewCodeSectionReader(codeSection)
	if err != nil {
		t.Fatalf("NewCodeSectionReader: %v", err)
	}
	if it.Len() != 2 {
		t.Fatalf("expected 2 bodies, got %d", it.Len())
	}
	for i := 0; i < 2; i++ {
		body, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			t.Fatalf("DecodeInstructions: %v", err)
		}
		if len(instrs) != 2 { // i32.const, end
			t.Errorf("body %d: expected 2 instructions, got %d", i, len(instrs))
		}
	}
	if _, err := it.Next(); !errors.Is(err, wasm.ErrIteratorDone) {
		t.Fatalf("expected ErrIteratorDone, got %v", err)
	}
}

func TestParseNameSection(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(wasm.NameSubsectionModule))
	moduleNamePayload := append([]byte{4}, []byte("test")...)
	buf = append(buf, byte(len(moduleNamePayload)))
	buf = append(buf, moduleNamePayload...)

	buf = append(buf, byte(wasm.NameSubsectionFunction))
	fnPayload := []byte{
		1,         // count
		0,         // func idx 0
		3, 'f', 'o', 'o',
	}
	buf = append(buf, byte(len(fnPayload)))
	buf = append(buf, fnPayload...)

	names, err := wasm.ParseNameSection(buf)
	if err != nil {
		t.Fatalf("ParseNameSection: %v", err)
	}
	if !names.HasModuleName || names.ModuleName != "test" {
		t.Errorf("unexpected module name: %+v", names)
	}
	if len(names.FunctionNames) != 1 || names.FunctionNames[0].Name != "foo" {
		t.Errorf("unexpected function names: %+v", names.FunctionNames)
	}
}

func TestParseNameSection_RejectsOutOfOrderSubsections(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(wasm.NameSubsectionFunction), 1, 0)
	buf = append(buf, byte(wasm.NameSubsectionModule), 1, 0)

	if _, err := wasm.ParseNameSection(buf); err == nil {
		t.Error("expected error for out-of-order name subsections")
	}
}
