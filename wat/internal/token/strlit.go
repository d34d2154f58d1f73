package token

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DecodeStringLiteral turns the raw contents of a lexed string token (the
// bytes between the quotes, escapes untouched) into the byte sequence the
// format actually denotes. Supported escapes: \n \t \r \\ \' \" \xx (a two
// hex digit raw byte) and \u{XXXXXX} (a Unicode scalar value, UTF-8
// encoded).
//
// \xx escapes are emitted as-is: a data segment built from them is allowed
// to be arbitrary non-UTF-8 bytes, so this function never validates or
// normalizes them. \u{...} escapes are different: they're spelled as
// Unicode scalar values, so a literal built only from \u{...} (and plain
// source characters) is normalized to NFC once fully decoded, the same
// canonical form two differently-composed but equivalent $name identifiers
// would share. A literal containing any \xx escape skips normalization
// entirely, since at that point the result isn't guaranteed to be text.
func DecodeStringLiteral(raw string) (string, error) {
	var buf strings.Builder
	hasUnicodeEscape := false
	hasRawByteEscape := false

	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			buf.WriteRune(r)
			continue
		}
		if i+1 >= len(runes) {
			return "", fmt.Errorf("string literal ends with a bare backslash")
		}
		i++
		switch runes[i] {
		case 'n':
			buf.WriteByte('\n')
		case 't':
			buf.WriteByte('\t')
		case 'r':
			buf.WriteByte('\r')
		case '\\':
			buf.WriteByte('\\')
		case '\'':
			buf.WriteByte('\'')
		case '"':
			buf.WriteByte('"')
		case 'u':
			if i+1 >= len(runes) || runes[i+1] != '{' {
				return "", fmt.Errorf("malformed \\u escape: expected '{'")
			}
			end := i + 2
			for end < len(runes) && runes[end] != '}' {
				end++
			}
			if end >= len(runes) {
				return "", fmt.Errorf("malformed \\u escape: missing '}'")
			}
			hex := string(runes[i+2 : end])
			v, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				return "", fmt.Errorf("malformed \\u escape %q: %w", hex, err)
			}
			buf.WriteRune(rune(v))
			hasUnicodeEscape = true
			i = end
		default:
			if i+1 >= len(runes) {
				return "", fmt.Errorf("malformed escape \\%c at end of literal", runes[i])
			}
			hex := string(runes[i : i+2])
			b, err := strconv.ParseUint(hex, 16, 8)
			if err != nil {
				return "", fmt.Errorf("unknown escape \\%s", hex)
			}
			buf.WriteByte(byte(b))
			hasRawByteEscape = true
			i++
		}
	}

	decoded := buf.String()
	if hasUnicodeEscape && !hasRawByteEscape {
		decoded = norm.NFC.String(decoded)
	}
	return decoded, nil
}
