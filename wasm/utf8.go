package wasm

import "github.com/gowasm/wasmkit/wasm/internal/binary"

// IsValidUTF8 reports whether data is well-formed UTF-8 per the exact
// byte-range boundary table required of WebAssembly names (§8 of the
// project's name-validation property): overlong encodings, lone
// continuation bytes, surrogate halves, and bytes above U+10FFFF's leading
// byte 0xF4 are all rejected, not merely "decodes to a replacement rune" as
// a lenient decoder would allow.
func IsValidUTF8(data []byte) bool {
	return binary.IsValidUTF8(data)
}
