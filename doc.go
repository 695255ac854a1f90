// Package audparity verifies behavioral parity between two builds of the
// Aud audio-measurement file-I/O module.
//
// The original vendor build and its rebuilt clone expose the same C ABI:
// roughly 29 exported entry points, 19 file-format codes, and 560-byte
// property records, only partially documented. This library binds both
// builds, drives them through the same probe battery over a generated
// corpus of measurement files, and compares what each observed.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	audparity/           Root package with the Backend and Memory seam interfaces
//	├── abi/             Recovered ABI surface: entry names, status codes, constants
//	├── binding/         Capability-aware module binding over wazero
//	├── handshake/       Three-phase authentication emulator
//	├── format/          File-format code registry and path resolver
//	├── codec/           560-byte property-record codec
//	├── coverage/        Five-dimension coverage ledger with canonical export
//	├── probe/           Exercise driver: the probe battery
//	├── parity/          Outcome comparator and verdict policy
//	├── corpus/          Edge-case corpus generator
//	├── store/           Run-history persistence
//	├── report/          Results document and terminal summary
//	├── errors/          Structured error types for debugging
//	└── modtest/         Scripted and reference backends for tests
//
// # Quick Start
//
// Bind a rebuilt module and exercise it over a corpus:
//
//	be, err := binding.Load(ctx, binding.Config{
//	    Path:      "rebuilt.wasm",
//	    Label:     "rebuilt",
//	    CorpusDir: dir,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mod := binding.NewModule(be)
//	defer mod.Close(ctx)
//
//	led := probe.NewLedger()
//	results, err := probe.Exercise(ctx, mod, probe.Battery{
//	    Dir:    dir,
//	    Files:  manifest.Files,
//	    Ledger: led,
//	})
//
// Compare against the original build's results:
//
//	verdicts := parity.CompareAll(origResults, results, parity.Policy{})
//	for _, v := range verdicts {
//	    fmt.Println(v.File, v.Verdict.Class)
//	}
//
// # Capability Maps
//
// The ABI is partially recovered, and either build may omit entry points.
// Binding records what a build actually exports and never treats an absent
// entry as fatal: probes consult Supports before each call and record the
// gap instead of failing the run.
//
// # Divergence Policy
//
// The original build refuses to run outside its host container and answers
// status -28 (context required). The comparator treats "original needs its
// host, rebuilt succeeded" as an expected divergence, provided the rebuilt
// side passes sanity bounds. All other disagreements are mismatches.
//
// # Thread Safety
//
// The coverage ledger is safe for concurrent use. A bound module is NOT
// thread-safe and should be driven by a single goroutine, or access must be
// synchronized.
package audparity
