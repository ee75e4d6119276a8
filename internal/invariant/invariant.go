// Package invariant implements the unrecoverable failure category used by the
// region allocator and the compaction scanner.
//
// A violation means frame bookkeeping has been corrupted or a caller broke its
// contract (freeing a mapped frame, freeing through the wrong region, an extent
// index that no longer covers the allocator's free blocks). Such states are never
// safe to continue past, so Failf panics instead of returning an error. Recoverable
// conditions such as exhaustion are ordinary errors and never go through here.
package invariant

import (
	"errors"
	"fmt"
)

// ErrViolation is the sentinel every *Violation unwraps to.
var ErrViolation = errors.New("invariant violation")

// Violation describes a broken invariant.
type Violation struct {
	Component string // e.g. "region", "extent"
	Message   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: invariant violation: %s", v.Component, v.Message)
}

func (v *Violation) Unwrap() error { return ErrViolation }

// Failf aborts the current operation with a *Violation.
func Failf(component, format string, args ...any) {
	panic(&Violation{Component: component, Message: fmt.Sprintf(format, args...)})
}

// Check calls Failf when cond is false.
func Check(cond bool, component, format string, args ...any) {
	if !cond {
		Failf(component, format, args...)
	}
}

// Catch runs fn and returns the *Violation it panicked with, or nil if fn
// returned normally. Panics that are not violations are re-raised.
func Catch(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if v, ok := r.(*Violation); ok {
			err = v
			return
		}
		panic(r)
	}()
	fn()
	return nil
}
