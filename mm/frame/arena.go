package frame

import (
	"fmt"

	"github.com/joshuapare/regionkit/internal/invariant"
	"github.com/joshuapare/regionkit/internal/physmem"
)

// Arena holds the descriptors (and contents, when pageSize > 0) of a contiguous
// frame range.
type Arena struct {
	base     Number
	descs    []Desc
	pageSize int
	data     []byte
	unmap    func() error
}

// New creates an arena for frames [base, base+count). A pageSize of 0 keeps
// descriptors only; Bytes then returns nil and Zero is a no-op.
func New(base Number, count uint64, pageSize int) (*Arena, error) {
	if count == 0 {
		return nil, fmt.Errorf("frame: arena needs at least one frame")
	}
	if pageSize < 0 {
		return nil, fmt.Errorf("frame: negative page size %d", pageSize)
	}
	if uint64(base)+count < uint64(base) {
		return nil, fmt.Errorf("frame: range %d+%d overflows", base, count)
	}
	data, unmap, err := physmem.Map(int(count) * pageSize)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		base:     base,
		descs:    make([]Desc, count),
		pageSize: pageSize,
		data:     data,
		unmap:    unmap,
	}
	for i := range a.descs {
		a.descs[i].next = Nil
	}
	return a, nil
}

// Base returns the first frame number.
func (a *Arena) Base() Number { return a.base }

// Len returns the number of frames.
func (a *Arena) Len() uint64 { return uint64(len(a.descs)) }

// End returns one past the last frame number.
func (a *Arena) End() Number { return a.base + Number(len(a.descs)) }

// PageSize returns bytes per frame (0 when contents are not kept).
func (a *Arena) PageSize() int { return a.pageSize }

// Contains reports whether n lies inside the arena.
func (a *Arena) Contains(n Number) bool {
	return n >= a.base && n < a.End()
}

// Desc returns the descriptor of frame n. An out-of-range frame is a violation.
func (a *Arena) Desc(n Number) *Desc {
	if !a.Contains(n) {
		invariant.Failf("frame", "frame %v outside arena [%d, %d)", n, a.base, a.End())
	}
	return &a.descs[n-a.base]
}

// Bytes returns the contents of frame n, or nil when the arena keeps no contents.
func (a *Arena) Bytes(n Number) []byte {
	if a.pageSize == 0 {
		_ = a.Desc(n)
		return nil
	}
	if !a.Contains(n) {
		invariant.Failf("frame", "frame %v outside arena [%d, %d)", n, a.base, a.End())
	}
	off := int(n-a.base) * a.pageSize
	return a.data[off : off+a.pageSize : off+a.pageSize]
}

// Zero clears the contents of frame n.
func (a *Arena) Zero(n Number) {
	clear(a.Bytes(n))
}

// Close releases the content mapping.
func (a *Arena) Close() error {
	if a.unmap == nil {
		return nil
	}
	err := a.unmap()
	a.unmap = nil
	a.data = nil
	a.pageSize = 0
	return err
}
