package owner

import "errors"

var (
	// ErrPinned is returned when a pinned page would have to be released.
	ErrPinned = errors.New("owner: page is pinned")

	// ErrNotMapped is returned for a page or frame the owner does not hold.
	ErrNotMapped = errors.New("owner: page not mapped")

	// ErrClosed is returned by operations on a closed owner.
	ErrClosed = errors.New("owner: closed")
)
