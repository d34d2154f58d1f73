package wasm

// FeatureSet is the configuration of WebAssembly proposals enabled for a
// given decode or validate call. Opcode and flag tables consult it rather
// than branching on build tags, so a single binary can decode modules under
// different feature configurations at runtime.
type FeatureSet struct {
	MutableGlobals        bool
	SaturatingFloatToInt  bool
	SignExtension         bool
	ReferenceTypes        bool
	BulkMemory            bool
	MultiValue            bool
	TailCall              bool
	SIMD                  bool
	Threads               bool
	Exceptions            bool
	FunctionReferences    bool
	Memory64              bool
	MultiMemory           bool
	GC                    bool
}

// DefaultFeatures returns the feature set matching the WebAssembly 2.0 core
// specification: reference types, bulk memory, multi-value, sign-extension,
// and saturating truncation are all standardized and on by default; the
// remaining proposals (threads, tail-call, exceptions, function references,
// memory64, multi-memory, GC) are opt-in.
func DefaultFeatures() FeatureSet {
	return FeatureSet{
		MutableGlobals:       true,
		SaturatingFloatToInt: true,
		SignExtension:        true,
		ReferenceTypes:       true,
		BulkMemory:           true,
		MultiValue:           true,
	}
}

// AllFeatures returns a feature set with every proposal enabled, useful for
// tests and tools that want to accept any construct the decoder knows about.
func AllFeatures() FeatureSet {
	return FeatureSet{
		MutableGlobals:       true,
		SaturatingFloatToInt: true,
		SignExtension:        true,
		ReferenceTypes:       true,
		BulkMemory:           true,
		MultiValue:           true,
		TailCall:             true,
		SIMD:                 true,
		Threads:              true,
		Exceptions:           true,
		FunctionReferences:   true,
		Memory64:             true,
		MultiMemory:          true,
		GC:                   true,
	}
}

// Require returns a FeatureDisabled error naming construct if enabled is false.
func (fs FeatureSet) Require(enabled bool, feature, construct string) error {
	if enabled {
		return nil
	}
	return &Error{
		Kind:    ErrKindFeatureDisabled,
		Message: "feature " + feature + " is disabled, required by " + construct,
	}
}
