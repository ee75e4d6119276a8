package region

import "errors"

var (
	// ErrFallback tells the page-requesting owner to take the page directly
	// from the underlying allocator at the order it originally wanted.
	ErrFallback = errors.New("region: fallback to page allocator required")

	// ErrExhausted indicates a region has neither free-list frames nor bump capacity.
	ErrExhausted = errors.New("region: no free frame")
)
