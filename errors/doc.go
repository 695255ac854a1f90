// Package errors provides structured error types for the parity verifier.
//
// Errors are categorized by Phase (where in the pipeline the error occurred)
// and Kind (error category). The Error type includes rich context: the ABI
// entry point involved, the corpus file, a field path, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindTrap).
//		Entry("Aud_GetChannelDataDoubles").
//		File("silence_16bit.wav").
//		Detail("guest fault during sample read").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.EntryAbsent("Aud_GetString")
//	err := errors.Trap("Aud_InitDll", cause)
//
// Negative status codes returned by the module across the ABI are data, not
// errors: probes record them in their results. Only transport failures
// (absent entries, traps, allocation faults) surface as Go errors.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
