package binary

// IsValidUTF8 reports whether data is well-formed UTF-8 per the exact
// byte-range table in the Unicode standard (rejecting overlong encodings,
// surrogate halves, and code points above U+10FFFF), rather than merely
// "decodes to some rune" as a naive decoder might accept.
//
// Leading byte ranges and the second/third/fourth byte ranges they require:
//
//	00-7F            (no continuation)
//	C2-DF  80-BF
//	E0     A0-BF 80-BF
//	E1-EC  80-BF 80-BF
//	ED     80-9F 80-BF
//	EE-EF  80-BF 80-BF
//	F0     90-BF 80-BF 80-BF
//	F1-F3  80-BF 80-BF 80-BF
//	F4     80-8F 80-BF 80-BF
//
// C0, C1, and F5-FF never appear in valid UTF-8; 80-BF never appear as a
// leading byte.
func IsValidUTF8(data []byte) bool {
	i := 0
	n := len(data)
	for i < n {
		b0 := data[i]
		switch {
		case b0 < 0x80:
			i++
		case b0 >= 0xC2 && b0 <= 0xDF:
			if !has(data, i, 1) || !inRange(data[i+1], 0x80, 0xBF) {
				return false
			}
			i += 2
		case b0 == 0xE0:
			if !has(data, i, 2) || !inRange(data[i+1], 0xA0, 0xBF) || !inRange(data[i+2], 0x80, 0xBF) {
				return false
			}
			i += 3
		case (b0 >= 0xE1 && b0 <= 0xEC) || (b0 >= 0xEE && b0 <= 0xEF):
			if !has(data, i, 2) || !inRange(data[i+1], 0x80, 0xBF) || !inRange(data[i+2], 0x80, 0xBF) {
				return false
			}
			i += 3
		case b0 == 0xED:
			if !has(data, i, 2) || !inRange(data[i+1], 0x80, 0x9F) || !inRange(data[i+2], 0x80, 0xBF) {
				return false
			}
			i += 3
		case b0 == 0xF0:
			if !has(data, i, 3) || !inRange(data[i+1], 0x90, 0xBF) || !inRange(data[i+2], 0x80, 0xBF) || !inRange(data[i+3], 0x80, 0xBF) {
				return false
			}
			i += 4
		case b0 >= 0xF1 && b0 <= 0xF3:
			if !has(data, i, 3) || !inRange(data[i+1], 0x80, 0xBF) || !inRange(data[i+2], 0x80, 0xBF) || !inRange(data[i+3], 0x80, 0xBF) {
				return false
			}
			i += 4
		case b0 == 0xF4:
			if !has(data, i, 3) || !inRange(data[i+1], 0x80, 0x8F) || !inRange(data[i+2], 0x80, 0xBF) || !inRange(data[i+3], 0x80, 0xBF) {
				return false
			}
			i += 4
		default:
			return false
		}
	}
	return true
}

func has(data []byte, i, extra int) bool {
	return i+extra < len(data)
}

func inRange(b, low, high byte) bool {
	return b >= low && b <= high
}
