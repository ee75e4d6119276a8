// Package verify provides validation functions for region allocator state.
//
// # Overview
//
// The allocator panics with an invariant violation the moment it notices
// corruption on one of its own paths. The functions here run the same checks,
// and some broader ones, as plain error-returning walks so tests and tools can
// inspect state at any quiescent point.
//
// Validation categories:
//   - Domain: cache membership, no released or empty regions listed
//   - Region: counters, free-list length, tags of every frame in the block
//   - Extents: ordered, disjoint, non-empty, inside the bank
//   - Tags: every tagged frame belongs to a live region containing it
//
// # Quick Start
//
//	if err := verify.AllInvariants(alloc.Arena(), alloc.Banks(), as.Domain(), fc.Domain()); err != nil {
//	    fmt.Printf("Validation failed: %v\n", err)
//	}
//
// # ValidationError
//
// All validation functions return *ValidationError on failure:
//
//	var verr *verify.ValidationError
//	if errors.As(err, &verr) {
//	    fmt.Printf("Type: %s\n", verr.Type)
//	    fmt.Printf("Frame: %d\n", verr.Frame)
//	    fmt.Printf("Details: %v\n", verr.Details)
//	}
//
// Frame is frame.Nil when the failure is not tied to one frame.
package verify
