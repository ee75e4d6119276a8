package buddy

import "errors"

var (
	// ErrNoMemory indicates no bank can supply a free block of the requested order.
	ErrNoMemory = errors.New("buddy: no free block of requested order")

	// ErrBadOrder indicates an order above the allocator's maximum.
	ErrBadOrder = errors.New("buddy: order exceeds maximum")
)
