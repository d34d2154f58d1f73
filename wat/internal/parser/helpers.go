package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gowasm/wasmkit/wat/internal/token"
)

func (p *Parser) parseU32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	s := strings.ReplaceAll(t.Value, "_", "")
	val, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", t.Value)
	}
	return uint32(val), nil
}

func (p *Parser) parseF32() (float32, error) {
	t := p.next()
	if t == nil {
		return 0, fmt.Errorf("unexpected end of input")
	}
	if t.Type == token.Ident {
		switch t.Value {
		case "nan", "+nan":
			return float32(math.NaN()), nil
		case "inf", "+inf":
			return float32(math.Inf(1)), nil
		case "-inf":
			return float32(math.Inf(-1)), nil
		case "-nan":
			return float32(math.Float32frombits(0xFFC00000)), nil
		}
		if strings.HasPrefix(t.Value, "nan:") || strings.HasPrefix(t.Value, "+nan:") {
			return float32(math.NaN()), nil
		}
		if strings.HasPrefix(t.Value, "-nan:") {
			return float32(math.Float32frombits(0xFFC00000)), nil
		}
	}
	if t.Type != token.Number {
		return 0, fmt.Errorf("expected float, got %q", t.Value)
	}
	val, err := strconv.ParseFloat(t.Value, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid f32: %s", t.Value)
	}
	return float32(val), nil
}

func (p *Parser) parseF64() (float64, error) {
	t := p.next()
	if t == nil {
		return 0, fmt.Errorf("unexpected end of input")
	}
	if t.Type == token.Ident {
		switch t.Value {
		case "nan", "+nan":
			return math.NaN(), nil
		case "inf", "+inf":
			return math.Inf(1), nil
		case "-inf":
			return math.Inf(-1), nil
		case "-nan":
			return math.Float64frombits(0xFFF8000000000000), nil
		}
		if strings.HasPrefix(t.Value, "nan:") || strings.HasPrefix(t.Value, "+nan:") {
			return math.NaN(), nil
		}
		if strings.HasPrefix(t.Value, "-nan:") {
			return math.Float64frombits(0xFFF8000000000000), nil
		}
	}
	if t.Type != token.Number {
		return 0, fmt.Errorf("expected float, got %q", t.Value)
	}
	val, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid f64: %s", t.Value)
	}
	return val, nil
}

// DecodeStringLiteral decodes a lexed string token's raw contents into the
// byte sequence it denotes, delegating escape handling to the token package
// (which NFC-normalizes the decoded literal when it contains a \u{...}
// escape and no \xx escape). On a malformed escape it returns the raw token
// contents unchanged, escapes included, since callers here don't surface
// parse errors from this helper.
func DecodeStringLiteral(s string) []byte {
	decoded, err := token.DecodeStringLiteral(s)
	if err != nil {
		return []byte(s)
	}
	return []byte(decoded)
}
