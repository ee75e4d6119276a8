package compact

import "errors"

// ErrInvalidMask is returned for a class bitmask with bits other than 0 and 1 set.
var ErrInvalidMask = errors.New("compact: invalid class mask")
