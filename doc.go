// Package wasmkit provides a Go implementation of the WebAssembly binary and
// text formats: lazy binary decoding, a two-pass validator, and a WAT text
// compiler.
//
// # Architecture Overview
//
// The library is organized into two format packages plus supporting
// infrastructure:
//
//	wasmkit/              Root package, this documentation only
//	├── wasm/             Binary format: lazy section decoding, instruction
//	│                     decoding/encoding, the two-pass validator
//	├── wat/              WAT text format: lexer, parser, compiler to binary
//	└── internal/xlog     Shared logging accessor (zap, no-op by default)
//
// # Quick Start
//
// Decode a binary module lazily, section by section:
//
//	lm, err := wasm.NewLazyModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    sec, err := lm.NextSection()
//	    if errors.Is(err, wasm.ErrIteratorDone) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("section %d: %d bytes\n", sec.ID, len(sec.Data))
//	}
//
// Or parse the whole module at once and validate it:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// Compile WAT text to binary:
//
//	bin, err := wat.Compile(`(module
//		(func (export "add") (param i32 i32) (result i32)
//			(i32.add (local.get 0) (local.get 1)))
//	)`)
//
// # Feature Gating
//
// The instruction decoder (wasm.DecodeInstructionsWithFeatures) and the
// validator (Module.ValidateWithFeatures, Module.CheckFunctionBody) accept a
// wasm.FeatureSet controlling which post-MVP proposals (reference types, bulk
// memory, SIMD, threads, exceptions, tail calls, function references, GC,
// ...) are accepted. wasm.ParseModule and wasm.NewLazyModule take no
// FeatureSet.
// Decoding an opcode whose feature is disabled fails with
// wasm.ErrKindFeatureDisabled before validation ever sees it.
//
// # Thread Safety
//
// wasm.Module carries no mutable shared state once constructed and is safe
// for concurrent reads. A wasm.LazyModule advances its own read cursor in
// NextSection and is not safe for concurrent use. internal/xlog's package
// logger is guarded by a mutex and may be reconfigured from any goroutine.
package wasmkit
