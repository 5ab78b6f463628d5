// Package errors provides structured error types for the CLI metadata codec.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the metadata table, token, byte offset and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTables, errors.KindOutOfBounds).
//		Table("TypeDef").
//		Token(0x02000005).
//		Detail("field list start past end of Field table").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Malformed(errors.PhaseImage, "bad metadata signature 0x%08x", sig)
//	err := errors.Truncated(errors.PhaseHeap, offset, 4, 2)
//
// Structural corruption is KindMalformed, KindTruncated or KindOutOfBounds.
// Recognized-but-unimplemented constructs are KindUnsupported. Optional data
// that is simply absent is never an error.
//
// All errors implement the standard error interface and support errors.Is/As.
// The package-level sentinels (ErrMalformed, ErrTruncated, ...) match on Kind alone.
package errors
