package token

import "github.com/gowasm/wasmkit/wat/internal/opcode"

// Kind classifies a recognized keyword so callers know which opcode table
// (if any) to consult for its payload.
type Kind int

const (
	KindStructural Kind = iota // module, func, param, block, i32 (as a valtype), ...
	KindSimple                 // opcode.Lookup
	KindMemory                 // opcode.LookupMemory
	KindPrefixed               // opcode.LookupPrefixed
)

// structuralKeywords are the non-opcode reserved words the grammar matches
// on literally (module/func/type headers, block forms, value types, and the
// handful of parameterized keywords like offset=/align= and the nan payload
// spellings). The parser still switches on these by string; the trie exists
// so that membership and opcode-vs-structural classification is one lookup
// instead of a chain of map probes.
var structuralKeywords = []string{
	"module", "func", "param", "result", "local", "global",
	"memory", "table", "elem", "data", "start", "import", "export",
	"type", "mut", "field", "rec", "sub", "struct", "array", "final",
	"block", "loop", "if", "then", "else", "end", "declare", "item",
	"offset", "offset=", "align=",
	"i32", "i64", "f32", "f64", "v128",
	"funcref", "externref", "anyref", "eqref", "i31ref", "nullref",
	"structref", "arrayref", "nullfuncref", "nullexternref", "exnref",
	"nan:canonical", "nan:arithmetic", "inf", "nan",
	"shared", "catch", "catch_all", "delegate", "tag",
}

// legacyAliases maps pre-2020 opcode spellings (still accepted on read, per
// the Open Question decision in DESIGN.md) to their canonical modern name.
// Covers the truncation/saturating-truncation forms (`i32.trunc_s/f32`,
// `i32.trunc_s:sat/f32`, and their i64/u counterparts) and the other
// slash-spelled conversions (extend, wrap, convert, demote, promote,
// reinterpret); the writer only ever emits the modern form.
var legacyAliases = map[string]string{
	"i32.trunc_s/f32": "i32.trunc_f32_s",
	"i32.trunc_u/f32": "i32.trunc_f32_u",
	"i32.trunc_s/f64": "i32.trunc_f64_s",
	"i32.trunc_u/f64": "i32.trunc_f64_u",
	"i64.trunc_s/f32": "i64.trunc_f32_s",
	"i64.trunc_u/f32": "i64.trunc_f32_u",
	"i64.trunc_s/f64": "i64.trunc_f64_s",
	"i64.trunc_u/f64": "i64.trunc_f64_u",

	"i32.trunc_s:sat/f32": "i32.trunc_sat_f32_s",
	"i32.trunc_u:sat/f32": "i32.trunc_sat_f32_u",
	"i32.trunc_s:sat/f64": "i32.trunc_sat_f64_s",
	"i32.trunc_u:sat/f64": "i32.trunc_sat_f64_u",
	"i64.trunc_s:sat/f32": "i64.trunc_sat_f32_s",
	"i64.trunc_u:sat/f32": "i64.trunc_sat_f32_u",
	"i64.trunc_s:sat/f64": "i64.trunc_sat_f64_s",
	"i64.trunc_u:sat/f64": "i64.trunc_sat_f64_u",

	"i64.extend_s/i32": "i64.extend_i32_s",
	"i64.extend_u/i32": "i64.extend_i32_u",

	"i32.wrap/i64":        "i32.wrap_i64",
	"f32.convert_s/i32":   "f32.convert_i32_s",
	"f32.convert_u/i32":   "f32.convert_i32_u",
	"f32.convert_s/i64":   "f32.convert_i64_s",
	"f32.convert_u/i64":   "f32.convert_i64_u",
	"f64.convert_s/i32":   "f64.convert_i32_s",
	"f64.convert_u/i32":   "f64.convert_i32_u",
	"f64.convert_s/i64":   "f64.convert_i64_s",
	"f64.convert_u/i64":   "f64.convert_i64_u",
	"f32.demote/f64":      "f32.demote_f64",
	"f64.promote/f32":     "f64.promote_f32",
	"i32.reinterpret/f32": "i32.reinterpret_f32",
	"i64.reinterpret/f64": "i64.reinterpret_f64",
	"f32.reinterpret/i32": "f32.reinterpret_i32",
	"f64.reinterpret/i64": "f64.reinterpret_i64",
}

func opcodeNames() map[string]Kind {
	names := make(map[string]Kind, 256)
	for name := range opcode.Table() {
		names[name] = KindSimple
	}
	for name := range opcode.MemoryTable() {
		names[name] = KindMemory
	}
	for name := range opcode.PrefixedTable() {
		names[name] = KindPrefixed
	}
	return names
}
