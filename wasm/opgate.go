package wasm

// opcodeFeatureGate reports the feature a top-level opcode byte requires, if
// any. The GC, SIMD and atomic prefix families gate on the prefix byte
// itself; their sub-opcodes are checked in finer detail by
// CheckFunctionBody (Pass 2), which already has the decoded immediate in
// hand. The misc prefix (0xFC) is not gated here. Returns ok=false for
// opcodes with no feature requirement (the MVP core, always decodable).
func opcodeFeatureGate(op byte) (feature string, enabled func(FeatureSet) bool, ok bool) {
	switch op {
	case OpTry, OpCatch, OpRethrow, OpDelegate, OpCatchAll, OpThrowRef, OpTryTable, OpThrow:
		return "exceptions", func(fs FeatureSet) bool { return fs.Exceptions }, true
	case OpReturnCall, OpReturnCallIndirect:
		return "tail-call", func(fs FeatureSet) bool { return fs.TailCall }, true
	case OpCallRef, OpReturnCallRef, OpRefAsNonNull, OpBrOnNull, OpBrOnNonNull:
		return "function-references", func(fs FeatureSet) bool { return fs.FunctionReferences }, true
	case OpRefEq:
		return "gc", func(fs FeatureSet) bool { return fs.GC }, true
	case OpRefNull, OpRefIsNull, OpRefFunc:
		return "reference-types", func(fs FeatureSet) bool { return fs.ReferenceTypes }, true
	case OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return "sign-extension", func(fs FeatureSet) bool { return fs.SignExtension }, true
	case OpPrefixGC:
		return "gc", func(fs FeatureSet) bool { return fs.GC }, true
	case OpPrefixSIMD:
		return "simd", func(fs FeatureSet) bool { return fs.SIMD }, true
	case OpPrefixAtomic:
		return "threads", func(fs FeatureSet) bool { return fs.Threads }, true
	}
	return "", nil, false
}

// DecodeInstructionsWithFeatures decodes code the same way DecodeInstructions
// does, then rejects any instruction whose opcode belongs to a proposal not
// enabled in features. Misc-prefixed (0xFC) sub-opcodes (saturating
// truncation and bulk-memory/table ops) pass through here unchecked; they
// are feature-checked by name inside CheckFunctionBody, which sees the
// decoded sub-opcode rather than the prefix byte alone.
func DecodeInstructionsWithFeatures(code []byte, features FeatureSet) ([]Instruction, error) {
	instrs, err := DecodeInstructions(code)
	if err != nil {
		return nil, err
	}
	for _, instr := range instrs {
		if feature, enabled, ok := opcodeFeatureGate(instr.Opcode); ok {
			if !enabled(features) {
				return nil, &Error{
					Kind:    ErrKindFeatureDisabled,
					Message: "feature " + feature + " is disabled, required by opcode 0x" + hexByte(instr.Opcode),
				}
			}
		}
	}
	return instrs, nil
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xF]})
}
